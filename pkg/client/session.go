package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/retry"
	"github.com/fruitsalade/sdbrowser/pkg/stream"
)

// DefaultSettle is how long a deferred repair candidate waits for another
// chunk before it is emitted.
const DefaultSettle = 250 * time.Millisecond

// SessionConfig holds listing session settings.
type SessionConfig struct {
	// Origin is the server's HTTP origin ("http://192.168.1.1"). The socket
	// endpoint is derived from it.
	Origin string
	Port   int

	Reconnect retry.Config
	Stream    stream.Config

	// Settle is the quiet period after which a deferred repair candidate
	// is emitted. Ignored in eager mode.
	Settle time.Duration

	// ListOnConnect sends listFiles every time the socket opens.
	ListOnConnect bool

	Dialer Dialer
}

// Session joins the listing socket to a stream reassembler. Chunks, socket
// events and repair flushes are all handled on the goroutine running Run.
type Session struct {
	socket *Socket
	asm    *stream.Reassembler
	list   bool
}

// NewSession creates a session that reports decoded trees to render and
// progress lines to status. Either callback may be nil.
func NewSession(cfg SessionConfig, render stream.RenderFunc, status stream.StatusFunc) (*Session, error) {
	url, err := protocol.WebSocketURL(cfg.Origin, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("listing endpoint: %w", err)
	}
	if status == nil {
		status = func(string) {}
	}

	s := &Session{
		asm:  stream.New(cfg.Stream, render, status),
		list: cfg.ListOnConnect,
	}

	var idle time.Duration
	if cfg.Stream.Emit != stream.EmitEager {
		idle = cfg.Settle
		if idle <= 0 {
			idle = DefaultSettle
		}
	}

	s.socket = NewSocket(SocketConfig{
		URL:       url,
		Reconnect: cfg.Reconnect,
		IdleAfter: idle,
		Dialer:    cfg.Dialer,
	}, Handler{
		OnOpen:    s.onOpen,
		OnMessage: func(data string) { s.asm.OnChunk(data) },
		OnIdle:    s.flush,
		OnClose:   s.onClose,
		OnStatus:  status,
	})
	return s, nil
}

// URL returns the listing socket endpoint.
func (s *Session) URL() string {
	return s.socket.URL()
}

// State returns the socket state.
func (s *Session) State() State {
	return s.socket.State()
}

// Run serves the session until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.socket.Run(ctx)
}

// RequestListing asks the server to push a listing. It is dropped when the
// socket is not connected.
func (s *Session) RequestListing() error {
	return s.socket.Send(protocol.CommandListFiles)
}

func (s *Session) onOpen() {
	s.asm.Reset()
	if s.list {
		if err := s.RequestListing(); err != nil {
			logging.Warn("listing request failed", zap.Error(err))
		}
	}
}

func (s *Session) flush() {
	s.asm.Flush()
}

// onClose treats a connection cut mid-listing as truncation: a pending
// repaired tree is emitted, anything else is dropped with the connection.
func (s *Session) onClose(err error) {
	s.asm.Flush()
	if n := s.asm.Buffered(); n > 0 {
		logging.Warn("discarding undecoded listing data", zap.Int("bytes", n), zap.Error(err))
	}
	s.asm.Reset()
}

// ListOnce connects, requests a single listing and returns the first tree
// decoded, or ctx's error.
func ListOnce(ctx context.Context, cfg SessionConfig, status stream.StatusFunc) (*models.Tree, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trees := make(chan *models.Tree, 1)
	cfg.ListOnConnect = true
	sess, err := NewSession(cfg, func(t *models.Tree) {
		select {
		case trees <- t:
		default:
		}
		cancel()
	}, status)
	if err != nil {
		return nil, err
	}

	runErr := sess.Run(ctx)
	select {
	case t := <-trees:
		return t, nil
	default:
	}
	return nil, runErr
}
