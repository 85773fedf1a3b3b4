// Package snapshot archives decoded listings to a local directory or an S3
// bucket, one JSON document per listing.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/models"
)

// timeLayout sorts lexically in time order.
const timeLayout = "20060102T150405.000Z"

// Store archives listings.
type Store interface {
	// Put writes t as the listing observed at at and returns its key.
	Put(ctx context.Context, at time.Time, t *models.Tree) (string, error)
}

// Options configures Open.
type Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// Open returns a Store for target: s3://bucket/prefix for S3, anything else
// is a local directory.
func Open(ctx context.Context, target string, opts Options) (Store, error) {
	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("archive target %q: missing bucket", target)
		}
		return NewS3Store(ctx, S3Config{
			Bucket:    bucket,
			Prefix:    strings.Trim(prefix, "/"),
			Region:    opts.Region,
			Endpoint:  opts.Endpoint,
			PathStyle: opts.PathStyle,
		})
	}
	if target == "" {
		return nil, fmt.Errorf("empty archive target")
	}
	return NewFileStore(target)
}

// Key names the object for a listing observed at at.
func Key(prefix string, at time.Time) string {
	name := "listing-" + at.UTC().Format(timeLayout) + ".json"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func encode(t *models.Tree) ([]byte, error) {
	if t == nil {
		t = &models.Tree{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode listing: %w", err)
	}
	return data, nil
}

// FileStore writes listings into a local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put implements Store. The file appears atomically.
func (s *FileStore) Put(_ context.Context, at time.Time, t *models.Tree) (string, error) {
	key := Key("", at)
	data, err := encode(t)
	if err != nil {
		metrics.RecordSnapshot("file", false)
		return "", err
	}

	dst := filepath.Join(s.dir, key)
	tmp, err := os.CreateTemp(s.dir, ".listing-*")
	if err != nil {
		metrics.RecordSnapshot("file", false)
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		metrics.RecordSnapshot("file", false)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		metrics.RecordSnapshot("file", false)
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		metrics.RecordSnapshot("file", false)
		return "", fmt.Errorf("rename %s: %w", dst, err)
	}

	metrics.RecordSnapshot("file", true)
	logging.Debug("snapshot written", zap.String("path", dst), zap.Int("bytes", len(data)))
	return dst, nil
}
