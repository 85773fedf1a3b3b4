// Package models contains the directory tree types pushed by the listing server.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FileType is the "type" value marking a file descriptor. Descriptors without
// it are still files when they carry a size and no nested objects.
const FileType = "file"

// ErrNotObject is returned when a listing document is not a JSON object.
var ErrNotObject = errors.New("listing is not a JSON object")

// FileInfo describes a regular file in a listing.
type FileInfo struct {
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}

// Entry is one named child of a directory. Exactly one of File and Dir is set.
type Entry struct {
	Name string
	File *FileInfo
	Dir  *Tree
}

// IsDir reports whether the entry is a nested directory.
func (e Entry) IsDir() bool {
	return e.Dir != nil
}

// Tree is a directory listing: entries in the order the server sent them.
// Names are unique within a tree; a repeated name replaces the earlier entry
// in place.
type Tree struct {
	Entries []Entry
}

// Get returns the entry with the given name.
func (t *Tree) Get(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of direct children.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

func (t *Tree) set(e Entry) {
	for i := range t.Entries {
		if t.Entries[i].Name == e.Name {
			t.Entries[i] = e
			return
		}
	}
	t.Entries = append(t.Entries, e)
}

// Parse strictly decodes a complete listing document. Only syntax errors,
// trailing data and a non-object document are rejected. Members whose value
// is neither an object nor recognisable as a file are skipped.
func Parse(data []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

type member struct {
	name string
	raw  json.RawMessage
}

// objectMembers splits a JSON object into its members, in order.
func objectMembers(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNotObject
	}

	var ms []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}
		ms = append(ms, member{name: name, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return ms, nil
}

// UnmarshalJSON decodes an object, keeping member order.
func (t *Tree) UnmarshalJSON(data []byte) error {
	ms, err := objectMembers(data)
	if err != nil {
		return err
	}
	t.Entries = nil
	for _, m := range ms {
		e, ok, err := decodeEntry(m.name, m.raw)
		if err != nil {
			return err
		}
		if ok {
			t.set(e)
		}
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeEntry reports false for values that are not objects.
func decodeEntry(name string, raw json.RawMessage) (Entry, bool, error) {
	if !isObject(raw) {
		return Entry{}, false, nil
	}
	ms, err := objectMembers(raw)
	if err != nil {
		return Entry{}, false, fmt.Errorf("entry %q: %w", name, err)
	}
	if isFile(ms) {
		return Entry{Name: name, File: fileInfo(ms)}, true, nil
	}

	var sub Tree
	if err := sub.UnmarshalJSON(raw); err != nil {
		return Entry{}, false, fmt.Errorf("dir %q: %w", name, err)
	}
	return Entry{Name: name, Dir: &sub}, true, nil
}

// isFile: a "type" of "file", or a "size" member with no object-valued
// members.
func isFile(ms []member) bool {
	hasSize := false
	for _, m := range ms {
		switch {
		case m.name == "type":
			var kind string
			if json.Unmarshal(m.raw, &kind) == nil && kind == FileType {
				return true
			}
		case m.name == "size":
			hasSize = true
		}
	}
	if !hasSize {
		return false
	}
	for _, m := range ms {
		if isObject(m.raw) {
			return false
		}
	}
	return true
}

func fileInfo(ms []member) *FileInfo {
	var fi FileInfo
	for _, m := range ms {
		switch m.name {
		case "size":
			fi.Size = decodeSize(m.raw)
		case "lastModified":
			var s string
			if json.Unmarshal(m.raw, &s) == nil {
				fi.LastModified = s
			} else if v := string(bytes.TrimSpace(m.raw)); v != "null" {
				fi.LastModified = v
			}
		}
	}
	return &fi
}

// decodeSize accepts integers, floats, exponents and numeric strings.
// Anything else is 0. Fractions are truncated.
func decodeSize(raw json.RawMessage) int64 {
	var n json.Number
	var s string
	switch {
	case json.Unmarshal(raw, &n) == nil:
	case json.Unmarshal(raw, &s) == nil:
		n = json.Number(strings.TrimSpace(s))
	default:
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	switch {
	case err != nil || math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

type fileJSON struct {
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}

// MarshalJSON encodes the tree in the server's wire shape, in entry order.
func (t Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		switch {
		case e.File != nil:
			val, err = json.Marshal(fileJSON{Type: FileType, Size: e.File.Size, LastModified: e.File.LastModified})
		case e.Dir != nil:
			val, err = e.Dir.MarshalJSON()
		default:
			val = []byte("{}")
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
