package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SDBROWSER_"

// Load builds the configuration from defaults, the YAML file at path, then
// SDBROWSER_* environment variables. An empty path reads DefaultPath when it
// exists. The result is not validated; flags may still change it.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	default:
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SDBROWSER_* variables onto cfg.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		dst.Duration = d
		return nil
	}

	str("SERVER", &cfg.Server.URL)
	str("REPAIR", &cfg.Stream.Repair)
	str("EMIT", &cfg.Stream.Emit)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_OUTPUT", &cfg.Log.Output)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	str("ARCHIVE", &cfg.Archive.Target)
	str("ARCHIVE_REGION", &cfg.Archive.Region)
	str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	str("DEV_ROOT", &cfg.Dev.Root)

	for _, err := range []error{
		num("WS_PORT", &cfg.Server.WSPort),
		num("MAX_BUFFER_BYTES", &cfg.Stream.MaxBufferBytes),
		num("RECONNECT_MAX_ATTEMPTS", &cfg.Reconnect.MaxAttempts),
		dur("TIMEOUT", &cfg.Server.Timeout),
		dur("RECONNECT_DELAY", &cfg.Reconnect.Delay),
		dur("SETTLE", &cfg.Stream.Settle),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
