package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/retry"
)

// State is the listing socket lifecycle state.
type State int32

const (
	// StateConnecting is the initial state and the state while dialing.
	StateConnecting State = iota
	// StateConnected means the socket is open and Send transmits.
	StateConnected
	// StateDisconnected follows every close until the next dial.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrNotConnected is returned by Send when the command was dropped.
var ErrNotConnected = errors.New("socket not connected")

// Conn is the part of *websocket.Conn the socket uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	conn, resp, err := wd.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Handler receives socket events. Every callback runs on the goroutine that
// called Run, one at a time, in arrival order. Nil callbacks are skipped.
type Handler struct {
	OnOpen    func()
	OnMessage func(data string)
	// OnIdle fires once when IdleAfter has passed since the last message.
	OnIdle   func()
	OnClose  func(err error)
	OnState  func(State)
	OnStatus func(msg string)
}

// SocketConfig holds socket settings.
type SocketConfig struct {
	URL       string
	Reconnect retry.Config
	IdleAfter time.Duration // 0 disables OnIdle
	Dialer    Dialer
}

// Socket owns one persistent listing connection and reconnects it forever
// (or until Reconnect.MaxAttempts consecutive failures).
type Socket struct {
	url       string
	reconnect retry.Config
	idleAfter time.Duration
	dialer    Dialer
	h         Handler

	// after is replaced in tests to control reconnect and idle timing.
	after func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	state State
	conn  Conn

	writeMu sync.Mutex
}

type frame struct {
	data []byte
	err  error
}

// NewSocket creates a socket in the connecting state. Nothing is dialled
// until Run.
func NewSocket(cfg SocketConfig, h Handler) *Socket {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Reconnect.InitialWait == 0 {
		cfg.Reconnect = retry.ReconnectConfig()
	}
	return &Socket{
		url:       cfg.URL,
		reconnect: cfg.Reconnect,
		idleAfter: cfg.IdleAfter,
		dialer:    cfg.Dialer,
		h:         h,
		after:     time.After,
		state:     StateConnecting,
	}
}

// URL returns the endpoint the socket dials.
func (s *Socket) URL() string {
	return s.url
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send transmits a text command if the socket is connected. Otherwise the
// command is dropped and ErrNotConnected returned; nothing is queued.
func (s *Socket) Send(command string) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		metrics.RecordCommand(false)
		logging.Debug("command dropped", zap.String("command", command), zap.Stringer("state", state))
		return ErrNotConnected
	}

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte(command))
	s.writeMu.Unlock()
	if err != nil {
		metrics.RecordCommand(false)
		return fmt.Errorf("send %q: %w", command, err)
	}

	metrics.RecordCommand(true)
	logging.Debug("command sent", zap.String("command", command))
	return nil
}

// Run connects and serves the socket until ctx is cancelled, reconnecting
// after every close. It returns ctx.Err() on cancellation and
// retry.ErrAttemptsExhausted if the reconnect policy gives up.
func (s *Socket) Run(ctx context.Context) error {
	failures := 0

	for {
		s.setState(StateConnecting)
		logging.Debug("connecting", zap.String("url", s.url))

		conn, err := s.dialer.Dial(ctx, s.url)
		if err != nil {
			metrics.RecordDial(false)
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return ctx.Err()
			}
			logging.Error("websocket error", zap.String("url", s.url), zap.Error(err))
			failures++
		} else {
			metrics.RecordDial(true)
			failures = 0
			err = s.serve(ctx, conn)
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return ctx.Err()
			}
			failures++
			if s.h.OnClose != nil {
				s.h.OnClose(err)
			}
		}

		s.setState(StateDisconnected)
		s.status(protocol.StatusDisconnected)

		if s.reconnect.Exhausted(failures) {
			logging.Error("giving up on websocket", zap.String("url", s.url), zap.Int("attempts", failures))
			return retry.ErrAttemptsExhausted
		}

		delay := s.reconnect.Delay(failures)
		logging.Info("reconnecting", zap.String("url", s.url), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(delay):
		}
	}
}

// serve runs one connection until it closes or ctx is cancelled.
func (s *Socket) serve(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		close(done)
		conn.Close()
	}()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)
	logging.Info("websocket connected", zap.String("url", s.url))
	s.status(protocol.StatusConnected)
	if s.h.OnOpen != nil {
		s.h.OnOpen()
	}

	frames := make(chan frame)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case frames <- frame{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case f := <-frames:
			if f.err != nil {
				if !websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Error("websocket error", zap.String("url", s.url), zap.Error(f.err))
				}
				logging.Info("websocket closed", zap.String("url", s.url))
				return f.err
			}
			if s.h.OnMessage != nil {
				s.h.OnMessage(string(f.data))
			}
			if s.idleAfter > 0 {
				idle = s.after(s.idleAfter)
			}

		case <-idle:
			idle = nil
			if s.h.OnIdle != nil {
				s.h.OnIdle()
			}
		}
	}
}

func (s *Socket) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	metrics.SetSocketState(int(state))
	if changed && s.h.OnState != nil {
		s.h.OnState(state)
	}
}

func (s *Socket) status(msg string) {
	if s.h.OnStatus != nil {
		s.h.OnStatus(msg)
	}
}
