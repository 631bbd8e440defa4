// Package collab is the WebSocket sync transport. It merges client updates
// into the live documents held by the registry, fans them out to the other
// clients in the same room, and flushes documents to the store after a quiet
// period, reporting each flush to a LifecycleObserver.
package collab

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"collab-project/cmap"
	"collab-project/crdt"
	"collab-project/logger"
	"collab-project/metrics"
	"collab-project/registry"
	"collab-project/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultPersistDebounce = 2 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64

	// MaxMessageSize caps a single client frame in bytes
	MaxMessageSize = 100 << 10
)

// LifecycleObserver is notified after a document has been durably flushed
type LifecycleObserver interface {
	OnDocumentPersisted(name string)
}

type Hub struct {
	docs     *registry.Registry
	codec    crdt.Codec
	repo     repository.DocumentRepositoryInterface
	observer LifecycleObserver
	metrics  *metrics.Metrics
	debounce time.Duration
	rooms    *cmap.Map[*room]
	upgrader websocket.Upgrader
}

func NewHub(docs *registry.Registry, codec crdt.Codec, repo repository.DocumentRepositoryInterface,
	observer LifecycleObserver, m *metrics.Metrics, debounce time.Duration) *Hub {
	if debounce <= 0 {
		debounce = DefaultPersistDebounce
	}
	return &Hub{
		docs:     docs,
		codec:    codec,
		repo:     repo,
		observer: observer,
		metrics:  m,
		debounce: debounce,
		rooms:    cmap.New[*room](),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// room returns the room for name, loading the stored copy of the document
// into a fresh live handle the first time the name is seen.
func (h *Hub) room(name string) *room {
	r, _ := h.rooms.GetOrCreate(name, func() *room {
		return &room{name: name, hub: h, doc: h.docs.GetOrCreate(name), clients: make(map[*client]struct{})}
	})
	r.loadOnce.Do(r.load)
	return r
}

// HandleWebSocket upgrades the request and joins the client to the room
// named by the {document} route variable.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["document"]
	r := h.room(name)

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Logger.Error("Failed to upgrade websocket", zap.String("document", name), zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), peer: uuid.NewString()}
	if err := r.join(c); err != nil {
		logger.Logger.Warn("Failed to join room", zap.String("document", name), zap.Error(err))
		conn.Close()
		return
	}
	h.metrics.ConnectedClients.Inc()
	logger.Logger.Info("Client connected", zap.String("document", name), zap.String("peer", c.peer))

	go c.writePump()
	c.readPump(r)

	r.leave(c)
	h.metrics.ConnectedClients.Dec()
	logger.Logger.Info("Client disconnected", zap.String("document", name), zap.String("peer", c.peer))
}

// DocumentChanged pushes the full state of name to every connected client and
// stores it. The flush is not reported to the observer: the change came from
// history navigation, not from an edit.
func (h *Hub) DocumentChanged(name string) {
	r := h.room(name)
	r.broadcastSync()
	r.flush(false)
}

// Close stops pending flush timers and writes any unflushed document.
func (h *Hub) Close() {
	h.rooms.Range(func(_ string, r *room) bool {
		if r.stopTimer() {
			r.flush(false)
		}
		return true
	})
}

type room struct {
	name     string
	hub      *Hub
	doc      *crdt.Doc
	loadOnce sync.Once

	mu      sync.Mutex
	clients map[*client]struct{}
	timer   *time.Timer

	flushMu sync.Mutex
}

func (r *room) load() {
	if r.doc.Clock() != 0 {
		return
	}
	rec, err := r.hub.repo.GetDocument(r.name)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to load document", zap.String("document", r.name), zap.Error(err))
		return
	}
	if err := r.hub.codec.Apply(r.doc, rec.State); err != nil {
		logger.Logger.Error("Stored document is unreadable", zap.String("document", r.name), zap.Error(err))
		return
	}
	logger.Logger.Info("Loaded document", zap.String("document", r.name))
}

func (r *room) join(c *client) error {
	data, err := json.Marshal(syncMessage(r.doc, c.peer))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
	c.send <- data
	return nil
}

func (r *room) leave(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
}

// apply merges an update from c, relays it and schedules a flush
func (r *room) apply(c *client, msg message) {
	if msg.Type != typeUpdate || msg.Key == "" {
		logger.Logger.Debug("Ignoring message", zap.String("document", r.name), zap.String("type", msg.Type))
		return
	}
	if msg.Clock > crdt.MaxClientClock {
		logger.Logger.Warn("Rejecting update with out-of-range clock",
			zap.String("document", r.name), zap.String("peer", c.peer), zap.Uint64("clock", msg.Clock))
		return
	}
	u := crdt.Update{Key: msg.Key, Register: crdt.Register{
		Value:   msg.Value,
		Clock:   msg.Clock,
		Peer:    c.peer,
		Deleted: msg.Deleted,
	}}
	if !r.doc.Merge(u) {
		return
	}

	data, err := json.Marshal(updateMessage(u))
	if err != nil {
		logger.Logger.Error("Failed to encode update", zap.String("document", r.name), zap.Error(err))
		return
	}
	r.broadcast(data, c)
	r.scheduleFlush()
}

func (r *room) broadcastSync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		data, err := json.Marshal(syncMessage(r.doc, c.peer))
		if err != nil {
			logger.Logger.Error("Failed to encode sync", zap.String("document", r.name), zap.Error(err))
			return
		}
		r.deliver(c, data)
	}
}

func (r *room) broadcast(data []byte, except *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c != except {
			r.deliver(c, data)
		}
	}
}

// deliver queues data for c, dropping c if it is not keeping up. Callers hold r.mu.
func (r *room) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		logger.Logger.Warn("Dropping slow client", zap.String("document", r.name), zap.String("peer", c.peer))
		delete(r.clients, c)
		close(c.send)
	}
}

func (r *room) scheduleFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(r.hub.debounce, func() {
		r.mu.Lock()
		if r.timer != t {
			// superseded by a later schedule
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		r.flush(true)
	})
	r.timer = t
}

// stopTimer cancels a pending flush and reports whether one was pending
func (r *room) stopTimer() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return false
	}
	stopped := r.timer.Stop()
	r.timer = nil
	return stopped
}

// flush writes the document to the store and, when notify is set, reports
// the flush to the observer. A failed write is not reported.
func (r *room) flush(notify bool) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	state, err := r.hub.codec.Encode(r.doc)
	if err == nil {
		err = r.hub.repo.PutDocument(r.name, state)
	}
	if err != nil {
		r.hub.metrics.DocumentFlushes.WithLabelValues(metrics.ResultFailed).Inc()
		logger.Logger.Error("Failed to flush document", zap.String("document", r.name), zap.Error(err))
		return
	}
	r.hub.metrics.DocumentFlushes.WithLabelValues(metrics.ResultOK).Inc()

	if notify && r.hub.observer != nil {
		r.hub.observer.OnDocumentPersisted(r.name)
	}
}
