// Package config loads sdbrowser settings from an optional YAML file,
// SDBROWSER_* environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/retry"
	"github.com/fruitsalade/sdbrowser/pkg/stream"
)

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "sdbrowser.yaml"

// Config represents an sdbrowser.yaml file. Every value is optional.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Stream    StreamConfig    `yaml:"stream"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Dev       DevConfig       `yaml:"dev"`
}

// ServerConfig locates the listing server.
type ServerConfig struct {
	URL     string   `yaml:"url"`     // HTTP origin of the file routes
	WSPort  int      `yaml:"ws_port"` // listing socket port
	Timeout Duration `yaml:"timeout"` // file action timeout
}

// ReconnectConfig is the listing socket reconnect policy.
type ReconnectConfig struct {
	Delay       Duration `yaml:"delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	Jitter      float64  `yaml:"jitter"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// StreamConfig configures listing reassembly.
type StreamConfig struct {
	Repair         string   `yaml:"repair"` // braces, tokens
	Emit           string   `yaml:"emit"`   // deferred, eager
	Settle         Duration `yaml:"settle"`
	MaxBufferBytes int      `yaml:"max_buffer_bytes"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ArchiveConfig configures listing snapshots.
type ArchiveConfig struct {
	// Target is a directory or s3://bucket/prefix. Empty disables archiving.
	Target    string `yaml:"target"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"s3_path_style"`
}

// DevConfig configures the development server.
type DevConfig struct {
	Root       string   `yaml:"root"`
	HTTPAddr   string   `yaml:"http_addr"`
	WSPort     int      `yaml:"ws_port"`
	Framing    string   `yaml:"framing"` // fragments, chunks
	ChunkSize  int      `yaml:"chunk_size"`
	DropBraces int      `yaml:"drop_braces"`
	Watch      Duration `yaml:"watch"` // card poll interval, 0 disables push on change
}

// Duration wraps time.Duration for YAML string parsing (e.g. "3s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "3s" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost",
			WSPort:  protocol.WebSocketPort,
			Timeout: Duration{30 * time.Second},
		},
		Reconnect: ReconnectConfig{
			Delay:      Duration{3 * time.Second},
			Multiplier: 1,
		},
		Stream: StreamConfig{
			Repair: string(stream.RepairBraces),
			Emit:   string(stream.EmitDeferred),
			Settle: Duration{client.DefaultSettle},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Dev: DevConfig{
			Root:      ".",
			HTTPAddr:  ":8080",
			WSPort:    protocol.WebSocketPort,
			Framing:   "fragments",
			ChunkSize: 64,
		},
	}
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url %q: scheme must be http or https", c.Server.URL)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("server.url %q: missing host", c.Server.URL)
	}
	if err := validPort("server.ws_port", c.Server.WSPort); err != nil {
		return err
	}
	if err := validPort("dev.ws_port", c.Dev.WSPort); err != nil {
		return err
	}

	for name, d := range map[string]Duration{
		"server.timeout":      c.Server.Timeout,
		"reconnect.delay":     c.Reconnect.Delay,
		"reconnect.max_delay": c.Reconnect.MaxDelay,
		"stream.settle":       c.Stream.Settle,
		"dev.watch":           c.Dev.Watch,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.Reconnect.Delay.Duration == 0 {
		return fmt.Errorf("reconnect.delay must be positive")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1, got %g", c.Reconnect.Jitter)
	}
	if c.Stream.MaxBufferBytes < 0 {
		return fmt.Errorf("stream.max_buffer_bytes must not be negative, got %d", c.Stream.MaxBufferBytes)
	}
	if _, err := stream.ParseRepairMode(c.Stream.Repair); err != nil {
		return fmt.Errorf("stream.repair: %w", err)
	}
	if _, err := stream.ParseEmitMode(c.Stream.Emit); err != nil {
		return fmt.Errorf("stream.emit: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q: must be json or console", c.Log.Format)
	}
	switch c.Dev.Framing {
	case "fragments", "chunks":
	default:
		return fmt.Errorf("dev.framing %q: must be fragments or chunks", c.Dev.Framing)
	}
	if c.Dev.ChunkSize < 1 {
		return fmt.Errorf("dev.chunk_size must be positive, got %d", c.Dev.ChunkSize)
	}
	if c.Dev.DropBraces < 0 {
		return fmt.Errorf("dev.drop_braces must not be negative, got %d", c.Dev.DropBraces)
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535, got %d", name, port)
	}
	return nil
}

// RetryConfig returns the reconnect policy.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Reconnect.MaxAttempts,
		InitialWait: c.Reconnect.Delay.Duration,
		MaxWait:     c.Reconnect.MaxDelay.Duration,
		Multiplier:  c.Reconnect.Multiplier,
		Jitter:      c.Reconnect.Jitter,
	}
}

// StreamConfig returns the reassembler settings. Call Validate first.
func (c *Config) StreamConfig() stream.Config {
	repair, _ := stream.ParseRepairMode(c.Stream.Repair)
	emit, _ := stream.ParseEmitMode(c.Stream.Emit)
	return stream.Config{
		Repair:         repair,
		Emit:           emit,
		MaxBufferBytes: c.Stream.MaxBufferBytes,
	}
}

// SessionConfig returns listing session settings.
func (c *Config) SessionConfig() client.SessionConfig {
	return client.SessionConfig{
		Origin:    c.Server.URL,
		Port:      c.Server.WSPort,
		Reconnect: c.RetryConfig(),
		Stream:    c.StreamConfig(),
		Settle:    c.Stream.Settle.Duration,
	}
}

// FileConfig returns file client settings.
func (c *Config) FileConfig() client.Config {
	return client.Config{
		BaseURL: c.Server.URL,
		Timeout: c.Server.Timeout.Duration,
	}
}

// LoggingConfig returns logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		OutputPath: c.Log.Output,
	}
}
