// Package tree provides shared utilities for working with listing trees.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fruitsalade/sdbrowser/pkg/models"
)

// RootPrefix is the mount name the firmware wraps every listing in.
const RootPrefix = "/SD"

// SkipDir can be returned from a WalkFunc to skip a directory's children.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called for every entry visited by Walk.
type WalkFunc func(path string, e models.Entry) error

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "/" || parentPath == "" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// ParentPath returns the directory part of a path ("/SD/a/b" -> "/SD/a").
func ParentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// StripRootPrefix removes the leading /SD from a listing path so it can be
// used against the server's file routes. An empty result becomes "/".
func StripRootPrefix(path string) string {
	switch {
	case path == RootPrefix:
		return "/"
	case strings.HasPrefix(path, RootPrefix+"/"):
		return strings.TrimPrefix(path, RootPrefix)
	case path == "":
		return "/"
	}
	return path
}

// Walk visits every entry depth-first in listing order.
func Walk(root *models.Tree, fn WalkFunc) error {
	return walk(root, "", fn)
}

func walk(t *models.Tree, parent string, fn WalkFunc) error {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		p := BuildChildPath(parent, e.Name)
		err := fn(p, e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Dir != nil {
			if err := walk(e.Dir, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindByPath resolves a listing path ("/SD/dir/file.txt") in the tree.
func FindByPath(root *models.Tree, path string) (models.Entry, bool) {
	if root == nil {
		return models.Entry{}, false
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	cur := root
	var e models.Entry
	for i, name := range parts {
		var ok bool
		e, ok = cur.Get(name)
		if !ok {
			return models.Entry{}, false
		}
		if i < len(parts)-1 {
			if e.Dir == nil {
				return models.Entry{}, false
			}
			cur = e.Dir
		}
	}
	return e, true
}

// CountNodes counts all entries in a tree, recursively.
func CountNodes(root *models.Tree) int {
	count := 0
	_ = Walk(root, func(string, models.Entry) error {
		count++
		return nil
	})
	return count
}

// Stats summarises a tree.
type Stats struct {
	Files     int
	Dirs      int
	TotalSize int64
}

// Summarize counts files and directories and sums file sizes.
func Summarize(root *models.Tree) Stats {
	var s Stats
	_ = Walk(root, func(_ string, e models.Entry) error {
		if e.File != nil {
			s.Files++
			s.TotalSize += e.File.Size
		} else {
			s.Dirs++
		}
		return nil
	})
	return s
}

// IsEmptyDir reports whether e is a directory with no children. Only empty
// directories can be removed by the server.
func IsEmptyDir(e models.Entry) bool {
	return e.Dir != nil && e.Dir.Len() == 0
}

// Split partitions a directory's children into files and folders, each in
// listing order.
func Split(t *models.Tree) (files, folders []models.Entry) {
	if t == nil {
		return nil, nil
	}
	for _, e := range t.Entries {
		if e.Dir != nil {
			folders = append(folders, e)
		} else {
			files = append(files, e)
		}
	}
	return files, folders
}

// Flatten returns all entries in a flat map keyed by path.
func Flatten(root *models.Tree) map[string]models.Entry {
	result := make(map[string]models.Entry)
	_ = Walk(root, func(p string, e models.Entry) error {
		result[p] = e
		return nil
	})
	return result
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// HumanSize formats a byte count the way the status line shows it:
// "512.00 B", "1.50 KB". Values are divided while strictly above 1024.
func HumanSize(size int64) string {
	v := float64(size)
	unit := 0
	for v > 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[unit])
}
