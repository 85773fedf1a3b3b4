package stream

import (
	"bytes"
	"fmt"
)

// RepairMode selects how a truncated buffer is closed off.
type RepairMode string

const (
	// RepairBraces counts every '{' and '}' byte, including ones inside
	// string values. A name containing a brace skews the count.
	RepairBraces RepairMode = "braces"

	// RepairTokens tracks object depth outside string literals and honours
	// backslash escapes.
	RepairTokens RepairMode = "tokens"
)

// ParseRepairMode parses a repair mode name. The empty string selects braces.
func ParseRepairMode(s string) (RepairMode, error) {
	switch RepairMode(s) {
	case "", RepairBraces:
		return RepairBraces, nil
	case RepairTokens:
		return RepairTokens, nil
	}
	return "", fmt.Errorf("invalid repair mode %q (must be braces or tokens)", s)
}

// Repairer forms a repaired candidate from an unparseable buffer. It returns
// false when no candidate can be formed. buf must not be modified.
type Repairer interface {
	Repair(buf []byte) ([]byte, bool)
}

// NewRepairer returns the Repairer for mode.
func NewRepairer(mode RepairMode) Repairer {
	if mode == RepairTokens {
		return TokenRepairer{}
	}
	return BraceRepairer{}
}

// BraceRepairer appends one '}' per unmatched '{'.
type BraceRepairer struct{}

// Repair implements Repairer.
func (BraceRepairer) Repair(buf []byte) ([]byte, bool) {
	open := bytes.Count(buf, []byte{'{'})
	closed := bytes.Count(buf, []byte{'}'})
	if open <= closed {
		return nil, false
	}
	return closeBraces(buf, open-closed), true
}

// TokenRepairer appends one '}' per object left open outside string literals.
// A buffer that ends inside a string, or closes more objects than it opens,
// has no candidate.
type TokenRepairer struct{}

// Repair implements Repairer.
func (TokenRepairer) Repair(buf []byte) ([]byte, bool) {
	depth := 0
	inString := false
	escaped := false

	for _, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, false
			}
		}
	}

	if inString || depth == 0 {
		return nil, false
	}
	return closeBraces(buf, depth), true
}

// closeBraces copies buf and appends n closing braces.
func closeBraces(buf []byte, n int) []byte {
	out := make([]byte, len(buf), len(buf)+n)
	copy(out, buf)
	return append(out, bytes.Repeat([]byte{'}'}, n)...)
}
