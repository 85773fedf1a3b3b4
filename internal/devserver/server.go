package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
)

// Options configures how listings are sent.
type Options struct {
	Framing    Framing
	ChunkSize  int
	DropBraces int

	// Watch pushes a fresh listing to every connected client when the card
	// changes, polling at this interval. Zero disables it.
	Watch time.Duration
}

// Server serves a Card over the listing socket and the file routes.
type Server struct {
	card     *Card
	opts     Options
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// wsConn serialises writes to one socket client.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(frames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range frames {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return err
		}
	}
	return nil
}

// New creates a server for card.
func New(card *Card, opts Options) *Server {
	return &Server{
		card: card,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// Listing returns the current card listing cut into socket messages.
func (s *Server) Listing() ([]string, error) {
	frames, err := s.card.Frames()
	if err != nil {
		return nil, fmt.Errorf("list card: %w", err)
	}
	return Shape(frames, s.opts.Framing, s.opts.ChunkSize, s.opts.DropBraces), nil
}

// HTTPHandler returns the file routes, upload handler and /metrics, wrapped
// with logging and metrics middleware.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET "+protocol.FileRoute, s.handleFile)
	mux.HandleFunc("GET "+protocol.DirRoute, s.handleDir)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /", s.handleUpload)

	return logging.Middleware(metrics.Middleware(mux))
}

// WSHandler returns the listing socket endpoint.
func (s *Server) WSHandler() http.Handler {
	return http.HandlerFunc(s.handleSocket)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "sdbrowser dev server\ncard: %s\nlisting socket port: see --ws-port\n", s.card.Root())
}

// params reads and validates name and action the way the firmware does.
func params(w http.ResponseWriter, r *http.Request) (name, action string, ok bool) {
	q := r.URL.Query()
	if !q.Has(protocol.ParamName) || !q.Has(protocol.ParamAction) {
		http.Error(w, protocol.ErrMissingParams, http.StatusBadRequest)
		return "", "", false
	}
	name, action = q.Get(protocol.ParamName), q.Get(protocol.ParamAction)

	if !protocol.ValidName(name) {
		http.Error(w, protocol.ErrInvalidName, http.StatusBadRequest)
		return "", "", false
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name, strings.ToLower(action), true
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	name, action, ok := params(w, r)
	if !ok {
		return
	}
	if !s.card.Exists(name) {
		http.Error(w, protocol.ErrFileNotFound, http.StatusNotFound)
		return
	}

	switch action {
	case protocol.ActionDownload:
		f, info, err := s.card.Open(name)
		if err != nil {
			log.Warn("download failed", zap.String("name", name), zap.Error(err))
			http.Error(w, protocol.ErrFileNotFound, http.StatusNotFound)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)

	case protocol.ActionDelete:
		if err := s.card.Remove(name); err != nil {
			log.Warn("delete failed", zap.String("name", name), zap.Error(err))
			http.Error(w, protocol.ErrDeleteFile, http.StatusInternalServerError)
			return
		}
		log.Info("file deleted", zap.String("name", name))
		io.WriteString(w, protocol.DeletedFilePrefix+name)

	default:
		http.Error(w, protocol.ErrInvalidAction, http.StatusBadRequest)
	}
}

func (s *Server) handleDir(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	name, action, ok := params(w, r)
	if !ok {
		return
	}

	switch action {
	case protocol.ActionCreate:
		if err := s.card.Mkdir(name); err != nil {
			log.Warn("mkdir failed", zap.String("name", name), zap.Error(err))
			http.Error(w, protocol.ErrCreateDir, http.StatusInternalServerError)
			return
		}
		log.Info("dir created", zap.String("name", name))
		io.WriteString(w, protocol.CreatedDirPrefix+name)

	case protocol.ActionDelete:
		if err := s.card.Rmdir(name); err != nil {
			log.Warn("rmdir failed", zap.String("name", name), zap.Error(err))
			http.Error(w, protocol.ErrDeleteDir, http.StatusInternalServerError)
			return
		}
		log.Info("dir deleted", zap.String("name", name))
		io.WriteString(w, protocol.DeletedDirPrefix+name)

	default:
		http.Error(w, protocol.ErrInvalidAction, http.StatusBadRequest)
	}
}

// handleUpload stores the multipart file part at the request path and
// redirects to "/".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	target := r.URL.Path
	if target == "/" || strings.Contains(target, "..") {
		http.Error(w, protocol.ErrInvalidName, http.StatusBadRequest)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var written int64
	found := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if part.FormName() != protocol.FormFile {
			part.Close()
			continue
		}

		f, err := s.card.Create(target)
		if err != nil {
			part.Close()
			log.Warn("upload failed", zap.String("path", target), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		written, err = io.Copy(f, part)
		part.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Warn("upload failed", zap.String("path", target), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		found = true
	}

	if !found {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}

	log.Info("upload complete", zap.String("path", target), zap.Int64("size", written))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsConn{conn: conn}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	logging.Info("socket client connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		conn.Close()
		logging.Info("socket client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage || string(msg) != protocol.CommandListFiles {
			continue
		}
		if err := s.sendListing(c); err != nil {
			logging.Warn("listing send failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) sendListing(c *wsConn) error {
	frames, err := s.Listing()
	if err != nil {
		return err
	}
	if err := c.send(frames); err != nil {
		return err
	}
	metrics.RecordListingServed()
	logging.Debug("listing sent", zap.Int("frames", len(frames)))
	return nil
}

// Broadcast pushes a listing to every connected socket client.
func (s *Server) Broadcast() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := s.sendListing(c); err != nil {
			logging.Warn("listing push failed", zap.Error(err))
		}
	}
}

// Run serves HTTP on httpAddr and the listing socket on wsAddr until ctx is
// cancelled, then shuts both down.
func (s *Server) Run(ctx context.Context, httpAddr, wsAddr string) error {
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	wsLn, err := net.Listen("tcp", wsAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listen websocket: %w", err)
	}
	return s.Serve(ctx, httpLn, wsLn)
}

// Serve is Run on existing listeners.
func (s *Server) Serve(ctx context.Context, httpLn, wsLn net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.HTTPHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	wsServer := &http.Server{Handler: s.WSHandler()}

	if s.opts.Watch > 0 {
		w := NewWatcher(s.card.Root(), s.opts.Watch)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Stop()

		changes := w.Subscribe()
		defer w.Unsubscribe(changes)
		go func() {
			for events := range changes {
				logging.Info("card changed, pushing listing", zap.Int("events", len(events)))
				s.Broadcast()
			}
		}()
	}

	errs := make(chan error, 2)
	go func() {
		logging.Info("http server listening", zap.String("addr", httpLn.Addr().String()), zap.String("card", s.card.Root()))
		errs <- httpServer.Serve(httpLn)
	}()
	go func() {
		logging.Info("listing socket listening", zap.String("addr", wsLn.Addr().String()))
		errs <- wsServer.Serve(wsLn)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	logging.Info("shutting down dev server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http shutdown error", zap.Error(err))
	}
	// Hijacked socket connections are not tracked by Shutdown.
	wsServer.Close()
	s.closeSockets()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *Server) closeSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

// EnsureCard creates dir with a sample file when it does not exist.
func EnsureCard(dir string) error {
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		return err
	}
	logging.Info("creating card directory", zap.String("dir", dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create card directory: %w", err)
	}
	sample := dir + string(os.PathSeparator) + "hello.txt"
	if err := os.WriteFile(sample, []byte("Hello from sdbrowser!\n"), 0o644); err != nil {
		logging.Warn("couldn't create sample file", zap.Error(err))
	}
	return nil
}
