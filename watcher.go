package prism

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind describes the type of file change observed.
type ChangeKind uint8

const (
	ChangeWrite  ChangeKind = iota // file content modified
	ChangeCreate                   // new file appeared
	ChangeRemove                   // file deleted
)

// ChangeEvent is one debounced filesystem change. Path is relative to the
// watched root, slash-separated, matching asset cache logical paths.
type ChangeEvent struct {
	Path string
	Kind ChangeKind
}

// Watcher observes an asset directory tree and emits debounced change events.
// A burst of writes to one file inside the debounce window collapses to a
// single event; editors commonly perform several writes per save. Events for
// different paths carry no ordering; events for one path follow write order.
//
// The watcher only notifies; it never decodes. The frame loop drains Events
// once per tick and routes changes to the decode pool.
type Watcher struct {
	root   string
	window time.Duration

	events chan ChangeEvent
	fw     *fsnotify.Watcher
	done   chan struct{}
}

// NewWatcher creates a watcher for the given root directory with the given
// debounce window.
func NewWatcher(root string, window time.Duration) (*Watcher, error) {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:   root,
		window: window,
		events: make(chan ChangeEvent, 64),
		fw:     fw,
		done:   make(chan struct{}),
	}, nil
}

// Events returns the debounced change stream. Drained with non-blocking
// receives; a slow consumer delays delivery but never blocks observation.
func (w *Watcher) Events() <-chan ChangeEvent { return w.events }

// Start registers the root tree and begins observing. Subdirectories present
// at start are watched; directories created later are picked up on their
// create event.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	go w.run(w.fw.Events, w.fw.Errors)
	return nil
}

// Stop closes the watcher. The event channel is closed after in-flight
// pending changes are flushed. The watcher can be recreated and restarted.
func (w *Watcher) Stop() {
	w.fw.Close()
	<-w.done
}

type pendingChange struct {
	kind ChangeKind
	at   time.Time
}

// run is the debounce loop: raw notifications land in a pending map and are
// emitted once the window elapses without further writes to the same path.
// Factored over plain channels so tests can feed synthetic events.
func (w *Watcher) run(raw <-chan fsnotify.Event, errs <-chan error) {
	defer close(w.done)
	defer close(w.events)

	pending := make(map[string]pendingChange)
	ticker := time.NewTicker(w.window / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-raw:
			if !ok {
				// Best-effort flush: the consumer may already be gone, and
				// Stop waits on this loop returning.
				for path, pc := range pending {
					w.tryEmit(path, pc.kind)
					delete(pending, path)
				}
				return
			}
			kind, relevant := classify(event)
			if !relevant {
				continue
			}
			if kind == ChangeCreate {
				// A new directory extends the watch set instead of debouncing.
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					w.fw.Add(event.Name) //nolint:errcheck // best effort
					continue
				}
			}
			// Later kinds win: a write after a create is still a create from
			// the consumer's view, a remove supersedes both.
			prev, have := pending[event.Name]
			if have && kind == ChangeWrite && prev.kind == ChangeCreate {
				kind = ChangeCreate
			}
			pending[event.Name] = pendingChange{kind: kind, at: time.Now()}

		case <-ticker.C:
			now := time.Now()
			for path, pc := range pending {
				if now.Sub(pc.at) >= w.window {
					if !w.tryEmit(path, pc.kind) {
						continue // channel full; retry next tick
					}
					delete(pending, path)
				}
			}

		case _, ok := <-errs:
			if !ok {
				continue
			}
			// Watch errors are non-fatal; the production keeps running.
		}
	}
}

// tryEmit delivers without blocking so the debounce loop keeps observing
// regardless of the consumer.
func (w *Watcher) tryEmit(path string, kind ChangeKind) bool {
	select {
	case w.events <- ChangeEvent{Path: relPath(w.root, path), Kind: kind}:
		return true
	default:
		return false
	}
}

func classify(event fsnotify.Event) (ChangeKind, bool) {
	switch {
	case event.Has(fsnotify.Write):
		return ChangeWrite, true
	case event.Has(fsnotify.Create):
		return ChangeCreate, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return ChangeRemove, true
	default:
		return 0, false
	}
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
