package devserver

import (
	"fmt"
	"strings"
)

// Framing selects how a listing is cut into socket messages.
type Framing string

const (
	// FramingFragments sends one message per syntactic fragment, like the firmware.
	FramingFragments Framing = "fragments"
	// FramingChunks concatenates the listing and cuts it every ChunkSize bytes.
	FramingChunks Framing = "chunks"
)

// ParseFraming parses a framing name. The empty string selects fragments.
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case "", FramingFragments:
		return FramingFragments, nil
	case FramingChunks:
		return FramingChunks, nil
	}
	return "", fmt.Errorf("invalid framing %q (must be fragments or chunks)", s)
}

// Shape reframes firmware fragments and drops the last dropBraces closing
// braces to simulate a truncated transfer.
func Shape(frames []string, framing Framing, chunkSize, dropBraces int) []string {
	out := dropClosers(frames, dropBraces)
	if framing != FramingChunks {
		return out
	}

	if chunkSize < 1 {
		chunkSize = 1
	}
	doc := strings.Join(out, "")
	chunks := make([]string, 0, len(doc)/chunkSize+1)
	for len(doc) > chunkSize {
		chunks = append(chunks, doc[:chunkSize])
		doc = doc[chunkSize:]
	}
	if doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}

// dropClosers removes the last n '}' bytes, working back from the final
// frame. Frames left empty are removed.
func dropClosers(frames []string, n int) []string {
	out := append([]string(nil), frames...)
	for i := len(out) - 1; i >= 0 && n > 0; i-- {
		b := []byte(out[i])
		for j := len(b) - 1; j >= 0 && n > 0; j-- {
			if b[j] == '}' {
				b = append(b[:j], b[j+1:]...)
				n--
			}
		}
		out[i] = string(b)
	}

	kept := out[:0]
	for _, f := range out {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return kept
}
