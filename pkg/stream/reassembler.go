// Package stream reassembles directory listings that arrive as arbitrary text
// chunks over the listing socket.
//
// Every chunk is appended to an accumulation buffer and the whole buffer is
// strictly parsed. When that fails and the buffer has unmatched '{', a copy
// with the missing '}' appended is parsed instead. The buffer is cleared only
// when a tree is emitted.
//
// In the default EmitDeferred mode OnChunk alone never renders a repaired
// tree: it is held until Flush, and the next chunk discards it. Use
// EmitEager to render it from OnChunk.
package stream

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// ErrBufferOverflow describes a buffer discarded for exceeding MaxBufferBytes.
// It is logged and reported as a status line, never returned to callers.
var ErrBufferOverflow = errors.New("accumulation buffer overflow")

// EmitMode controls when a tree recovered by repair is emitted.
type EmitMode string

const (
	// EmitEager emits a repaired tree as soon as the chunk that made it
	// parseable arrives.
	EmitEager EmitMode = "eager"

	// EmitDeferred holds a repaired tree as a pending candidate. The next
	// chunk discards it; Flush emits it. The owner calls Flush once the
	// stream has been quiet for a while or the connection has closed.
	EmitDeferred EmitMode = "deferred"
)

// ParseEmitMode parses an emit mode name. The empty string selects deferred.
func ParseEmitMode(s string) (EmitMode, error) {
	switch EmitMode(s) {
	case "", EmitDeferred:
		return EmitDeferred, nil
	case EmitEager:
		return EmitEager, nil
	}
	return "", fmt.Errorf("invalid emit mode %q (must be eager or deferred)", s)
}

// Outcome reports what a single chunk did to the reassembler.
type Outcome int

const (
	// Waiting: nothing parseable yet, buffer kept.
	Waiting Outcome = iota
	// Decoded: the buffer parsed strictly and was emitted.
	Decoded
	// Repaired: the brace-repaired buffer parsed and was emitted.
	Repaired
	// Pending: the brace-repaired buffer parsed and is held until Flush.
	Pending
	// Overflow: the buffer exceeded its cap and was discarded.
	Overflow
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Decoded:
		return "decoded"
	case Repaired:
		return "repaired"
	case Pending:
		return "pending"
	case Overflow:
		return "overflow"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// RenderFunc receives each decoded tree. The tree replaces any prior state.
type RenderFunc func(*models.Tree)

// StatusFunc receives human-readable progress lines.
type StatusFunc func(string)

// Config holds reassembler settings.
type Config struct {
	Repair RepairMode
	Emit   EmitMode

	// MaxBufferBytes discards the buffer once it grows past this size.
	// Zero means unbounded.
	MaxBufferBytes int
}

// Reassembler turns a sequence of raw chunks into discrete decoded trees.
//
// Thread safety: NOT thread-safe. Chunks must be fed from a single goroutine
// in arrival order.
type Reassembler struct {
	cfg      Config
	repairer Repairer
	render   RenderFunc
	status   StatusFunc

	buf        []byte
	pending    *models.Tree
	pendingLen int
}

// New creates a Reassembler. render and status may be nil.
func New(cfg Config, render RenderFunc, status StatusFunc) *Reassembler {
	if cfg.Emit == "" {
		cfg.Emit = EmitDeferred
	}
	if render == nil {
		render = func(*models.Tree) {}
	}
	if status == nil {
		status = func(string) {}
	}
	return &Reassembler{
		cfg:      cfg,
		repairer: NewRepairer(cfg.Repair),
		render:   render,
		status:   status,
	}
}

// OnChunk appends raw to the buffer and tries to decode it.
func (r *Reassembler) OnChunk(raw string) Outcome {
	metrics.RecordChunk(len(raw))
	r.pending = nil
	r.buf = append(r.buf, raw...)
	defer func() { metrics.SetBufferBytes(len(r.buf)) }()

	if r.cfg.MaxBufferBytes > 0 && len(r.buf) > r.cfg.MaxBufferBytes {
		n := len(r.buf)
		r.buf = nil
		metrics.RecordOverflow()
		logging.Warn("discarding buffer",
			zap.Error(ErrBufferOverflow),
			zap.Int("bytes", n),
			zap.Int("max_bytes", r.cfg.MaxBufferBytes))
		r.status(protocol.StatusOverflow(n))
		return Overflow
	}

	if t, err := models.Parse(r.buf); err == nil {
		r.emit(t, len(r.buf), "strict")
		return Decoded
	}

	if candidate, ok := r.repairer.Repair(r.buf); ok {
		if t, err := models.Parse(candidate); err == nil {
			if r.cfg.Emit == EmitEager {
				r.emit(t, len(candidate), "repaired")
				return Repaired
			}
			r.pending = t
			r.pendingLen = len(candidate)
			logging.Debug("repaired candidate held",
				zap.Int("buffer_bytes", len(r.buf)),
				zap.Int("missing_braces", len(candidate)-len(r.buf)))
			r.status(protocol.StatusWaiting(len(r.buf)))
			return Pending
		}
	}

	logging.Debug("waiting for more data", zap.Int("buffer_bytes", len(r.buf)))
	r.status(protocol.StatusWaiting(len(r.buf)))
	return Waiting
}

// Flush emits the pending repaired tree, if any, and clears the buffer.
// It reports whether a tree was emitted.
func (r *Reassembler) Flush() bool {
	if r.pending == nil {
		return false
	}
	t, n := r.pending, r.pendingLen
	r.emit(t, n, "repaired")
	metrics.SetBufferBytes(0)
	return true
}

// HasPending reports whether a repaired tree is waiting for Flush.
func (r *Reassembler) HasPending() bool {
	return r.pending != nil
}

// Buffered returns the number of bytes not yet decoded.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops the buffer and any pending candidate without emitting.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.pending = nil
	r.pendingLen = 0
	metrics.SetBufferBytes(0)
}

func (r *Reassembler) emit(t *models.Tree, n int, path string) {
	r.buf = nil
	r.pending = nil
	r.pendingLen = 0

	entries := tree.CountNodes(t)
	metrics.RecordDecode(path)
	metrics.SetTreeEntries(entries)
	logging.Debug("listing decoded",
		zap.String("path", path),
		zap.Int("bytes", n),
		zap.Int("entries", entries))

	r.status(protocol.StatusDecoded(n))
	r.render(t)
}
