// Package history is the document version-history engine. It keeps one
// timeline, edit counter and set of named snapshots per document name, takes
// automatic checkpoints as the transport reports flushes, and moves the live
// document backward and forward through its checkpoints.
//
// Every operation on a given document name runs under that document's lock,
// so navigation, checkpointing and the encoding of the live document never
// interleave. Different names never share a lock.
package history

import (
	"sync"
	"time"

	"collab-project/cmap"
	"collab-project/crdt"
	"collab-project/metrics"
	"collab-project/models"
	"collab-project/registry"
	"collab-project/timeline"

	"github.com/google/uuid"
)

// Defaults applied by NewEngine to zero or negative Config fields.
const (
	DefaultCheckpointEvery = 5
	DefaultMaxSnapshots    = 20
)

// Config bounds the per-document history.
type Config struct {
	// MaxCheckpoints caps the timeline; the oldest checkpoint is evicted first.
	MaxCheckpoints int
	// CheckpointEvery is the number of reported flushes between automatic
	// checkpoints.
	CheckpointEvery int
	// MaxSnapshots caps the named snapshots kept per document.
	MaxSnapshots int
}

// ChangeNotifier is told when the engine has rewritten a live document, so
// connected clients can be brought up to date.
type ChangeNotifier interface {
	DocumentChanged(name string)
}

type docState struct {
	mu        sync.Mutex
	timeline  *timeline.Timeline
	edits     int
	snapshots []models.NamedSnapshot
}

// Engine owns the history of every document: it checkpoints live documents
// as flushes are reported and rewrites them on navigation. It is safe for
// concurrent use.
type Engine struct {
	docs     *registry.Registry
	codec    crdt.Codec
	states   *cmap.Map[*docState]
	metrics  *metrics.Metrics
	notifier ChangeNotifier
	cfg      Config
	newID    func() string
	now      func() time.Time
}

// NewEngine returns an engine reading and rewriting the live documents held
// by docs through codec.
func NewEngine(docs *registry.Registry, codec crdt.Codec, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.MaxCheckpoints < 1 {
		cfg.MaxCheckpoints = timeline.DefaultMaxCheckpoints
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.MaxSnapshots < 1 {
		cfg.MaxSnapshots = DefaultMaxSnapshots
	}
	return &Engine{
		docs:    docs,
		codec:   codec,
		states:  cmap.New[*docState](),
		metrics: m,
		cfg:     cfg,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		now:     time.Now,
	}
}

// SetNotifier installs the change notifier. Call it once during startup,
// before the engine serves requests.
func (e *Engine) SetNotifier(n ChangeNotifier) {
	e.notifier = n
}

func (e *Engine) state(name string) *docState {
	st, _ := e.states.GetOrCreate(name, func() *docState {
		return &docState{timeline: timeline.New(e.cfg.MaxCheckpoints)}
	})
	return st
}

func (e *Engine) notify(name string) {
	if e.notifier != nil {
		e.notifier.DocumentChanged(name)
	}
}

// Status reports the cursor position for name. Unknown names report an
// empty timeline.
func (e *Engine) Status(name string) models.Status {
	st, ok := e.states.Get(name)
	if !ok {
		return models.Status{CurrentIndex: -1}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.timeline.Status()
}

// Checkpoints lists the timeline of name, oldest first, along with its status.
func (e *Engine) Checkpoints(name string) ([]models.Checkpoint, models.Status) {
	st, ok := e.states.Get(name)
	if !ok {
		return nil, models.Status{CurrentIndex: -1}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.timeline.Checkpoints(), st.timeline.Status()
}

// Edits returns the edit counter for name
func (e *Engine) Edits(name string) int {
	st, ok := e.states.Get(name)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.edits
}
