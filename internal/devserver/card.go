// Package devserver emulates the SD-card web server: a local directory served
// over the listing socket and the HTTP file routes.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrIsDirectory is returned by file operations given a directory.
var ErrIsDirectory = errors.New("is a directory")

// Card is a local directory standing in for the SD card. Names are
// slash-separated paths relative to the card root ("/dir/a.txt").
type Card struct {
	root string
}

// NewCard serves rootDir, which must exist.
func NewCard(rootDir string) (*Card, error) {
	absPath, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("root directory error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absPath)
	}
	return &Card{root: absPath}, nil
}

// Root returns the absolute card directory.
func (c *Card) Root() string {
	return c.root
}

// path maps a card name to a local path. Cleaning against "/" keeps every
// name inside the root.
func (c *Card) path(name string) string {
	return filepath.Join(c.root, filepath.FromSlash(path.Clean("/"+name)))
}

// Exists reports whether name exists.
func (c *Card) Exists(name string) bool {
	_, err := os.Stat(c.path(name))
	return err == nil
}

// Open opens a regular file for reading.
func (c *Card) Open(name string) (*os.File, fs.FileInfo, error) {
	f, err := os.Open(c.path(name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("open %s: %w", name, ErrIsDirectory)
	}
	return f, info, nil
}

// Create opens name for writing, truncating it. The parent must exist.
func (c *Card) Create(name string) (*os.File, error) {
	return os.OpenFile(c.path(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Remove deletes a regular file.
func (c *Card) Remove(name string) error {
	p := c.path(name)
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("remove %s: %w", name, ErrIsDirectory)
	}
	return os.Remove(p)
}

// Mkdir creates one directory. The parent must exist.
func (c *Card) Mkdir(name string) error {
	return os.Mkdir(c.path(name), 0o755)
}

// Rmdir removes an empty directory.
func (c *Card) Rmdir(name string) error {
	p := c.path(name)
	if p == c.root {
		return fmt.Errorf("cannot remove card root")
	}
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("rmdir %s: not a directory", name)
	}
	return os.Remove(p)
}

// Frames returns the listing split the way the firmware sends it: the
// opening, one message per entry or directory opening, separators, closers.
func (c *Card) Frames() ([]string, error) {
	frames := []string{`{"SD":{`}
	if err := c.appendDir(c.root, &frames); err != nil {
		return nil, err
	}
	return append(frames, `}}`), nil
}

func (c *Card) appendDir(dir string, frames *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	first := true
	for _, entry := range entries {
		// Skip hidden files
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if !first {
			*frames = append(*frames, ",")
		}
		first = false

		name, _ := json.Marshal(entry.Name())
		if info.IsDir() {
			*frames = append(*frames, string(name)+": {")
			if err := c.appendDir(filepath.Join(dir, entry.Name()), frames); err != nil {
				return err
			}
			*frames = append(*frames, "}")
			continue
		}

		t := info.ModTime()
		*frames = append(*frames, fmt.Sprintf(
			`%s: {"type": "file", "size": %d, "lastModified": "%d-%d-%d %d:%d:%d"}`,
			name, info.Size(),
			t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()))
	}
	return nil
}
