package devserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
)

// Event types.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// Event represents a change on the card.
type Event struct {
	Type string
	Path string
	Dir  bool
}

type entryState struct {
	mtime int64
	size  int64
	dir   bool
}

// Watcher polls the card directory and reports changes to subscribers.
// Directories are tracked too: an empty folder changes the listing.
type Watcher struct {
	root     string
	interval time.Duration

	mu    sync.RWMutex
	state map[string]entryState
	subs  map[chan []Event]struct{}
	done  chan struct{}
	once  sync.Once
}

// NewWatcher creates a watcher over root.
func NewWatcher(root string, interval time.Duration) *Watcher {
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		interval: interval,
		state:    make(map[string]entryState),
		subs:     make(map[chan []Event]struct{}),
		done:     make(chan struct{}),
	}
}

// Start records the initial state and polls until ctx ends or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	state, err := w.scan()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
}

// Subscribe returns a channel receiving each batch of changes.
func (w *Watcher) Subscribe() chan []Event {
	ch := make(chan []Event, 16)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (w *Watcher) Unsubscribe(ch chan []Event) {
	w.mu.Lock()
	if _, ok := w.subs[ch]; ok {
		delete(w.subs, ch)
		close(ch)
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkChanges()
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) scan() (map[string]entryState, error) {
	state := make(map[string]entryState)
	err := filepath.Walk(w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if p == w.root {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(w.root, p)
		state["/"+filepath.ToSlash(rel)] = entryState{
			mtime: info.ModTime().UnixNano(),
			size:  info.Size(),
			dir:   info.IsDir(),
		}
		return nil
	})
	return state, err
}

func (w *Watcher) checkChanges() {
	newState, err := w.scan()
	if err != nil {
		logging.Warn("card scan failed", zap.String("root", w.root), zap.Error(err))
		return
	}

	var events []Event
	w.mu.Lock()
	for p, cur := range newState {
		old, exists := w.state[p]
		switch {
		case !exists:
			events = append(events, Event{Type: EventCreate, Path: p, Dir: cur.dir})
		case !cur.dir && (cur.mtime != old.mtime || cur.size != old.size):
			events = append(events, Event{Type: EventModify, Path: p})
		}
	}
	for p, old := range w.state {
		if _, exists := newState[p]; !exists {
			events = append(events, Event{Type: EventDelete, Path: p, Dir: old.dir})
		}
	}
	w.state = newState
	w.mu.Unlock()

	if len(events) > 0 {
		w.broadcast(events)
	}
}

func (w *Watcher) broadcast(events []Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for ch := range w.subs {
		select {
		case ch <- events:
		default:
			logging.Warn("dropping card changes for slow subscriber", zap.Int("events", len(events)))
		}
	}
}
