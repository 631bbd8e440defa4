package collab

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-project/crdt"
	"collab-project/db"
	"collab-project/metrics"
	"collab-project/registry"
	"collab-project/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanObserver struct {
	ch chan string
}

func (o *chanObserver) OnDocumentPersisted(name string) {
	o.ch <- name
}

type testEnv struct {
	hub      *Hub
	docs     *registry.Registry
	repo     *repository.DocumentRepository
	observer *chanObserver
	server   *httptest.Server
}

func newTestEnv(t *testing.T, debounce time.Duration) *testEnv {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)

	docs := registry.New()
	repo := repository.NewDocumentRepository(ldb)
	obs := &chanObserver{ch: make(chan string, 16)}
	hub := NewHub(docs, crdt.JSONCodec{}, repo, obs, metrics.New(prometheus.NewRegistry()), debounce)

	router := mux.NewRouter()
	router.HandleFunc("/collab/{document}", hub.HandleWebSocket)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		ldb.Close()
	})
	return &testEnv{hub: hub, docs: docs, repo: repo, observer: obs, server: srv}
}

func (e *testEnv) dial(t *testing.T, name string) (*websocket.Conn, message) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/collab/" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readMessage(t, conn)
	require.Equal(t, typeSync, hello.Type)
	return conn, hello
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, key, value string, clock uint64) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(message{Type: typeUpdate, Key: key, Value: value, Clock: clock}))
}

func (e *testEnv) waitPersisted(t *testing.T, name string) {
	t.Helper()
	select {
	case got := <-e.observer.ch:
		assert.Equal(t, name, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no flush reported for %s", name)
	}
}

func (e *testEnv) assertNoFlush(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case got := <-e.observer.ch:
		t.Fatalf("unexpected flush reported for %s", got)
	case <-time.After(within):
	}
}

func TestJoin_ReceivesStoredState(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	src := crdt.NewDoc()
	src.Merge(crdt.Update{Key: "body", Register: crdt.Register{Value: "stored", Clock: 1, Peer: "p"}})
	state, err := crdt.JSONCodec{}.Encode(src)
	require.NoError(t, err)
	require.NoError(t, env.repo.PutDocument("notes", state))

	_, hello := env.dial(t, "notes")

	assert.Equal(t, "stored", hello.State["body"].Value)
	assert.NotEmpty(t, hello.Peer)
	v, ok := env.docs.GetOrCreate("notes").Get("body")
	require.True(t, ok)
	assert.Equal(t, "stored", v)
}

func TestUpdate_RelayedAndFlushed(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	a, helloA := env.dial(t, "notes")
	b, _ := env.dial(t, "notes")

	send(t, a, "body", "hi", 1)

	got := readMessage(t, b)
	assert.Equal(t, typeUpdate, got.Type)
	assert.Equal(t, "hi", got.Value)
	assert.Equal(t, helloA.Peer, got.Peer)

	env.waitPersisted(t, "notes")
	rec, err := env.repo.GetDocument("notes")
	require.NoError(t, err)
	assert.Contains(t, string(rec.State), `"hi"`)
}

func TestUpdate_StaleWriteNotRelayed(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	a, _ := env.dial(t, "notes")
	b, _ := env.dial(t, "notes")

	send(t, a, "body", "new", 5)
	send(t, a, "body", "old", 3)
	send(t, a, "title", "T", 6)

	assert.Equal(t, "new", readMessage(t, b).Value)
	assert.Equal(t, "title", readMessage(t, b).Key)
	v, _ := env.docs.GetOrCreate("notes").Get("body")
	assert.Equal(t, "new", v)
}

func TestFlush_DebouncesBursts(t *testing.T) {
	env := newTestEnv(t, 200*time.Millisecond)
	a, _ := env.dial(t, "notes")

	for i := uint64(1); i <= 5; i++ {
		send(t, a, "body", "v", i)
	}

	env.waitPersisted(t, "notes")
	env.assertNoFlush(t, 400*time.Millisecond)
}

func TestDocumentChanged_PushesStateWithoutReportingEdit(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	a, _ := env.dial(t, "notes")

	doc := env.docs.GetOrCreate("notes")
	require.NoError(t, crdt.JSONCodec{}.Apply(doc, []byte(`{"v":1,"content":{"body":"restored"}}`)))
	env.hub.DocumentChanged("notes")

	got := readMessage(t, a)
	assert.Equal(t, typeSync, got.Type)
	assert.Equal(t, "restored", got.State["body"].Value)
	assert.Equal(t, crdt.ServerPeer, got.State["body"].Peer)

	env.assertNoFlush(t, 100*time.Millisecond)
	rec, err := env.repo.GetDocument("notes")
	require.NoError(t, err)
	assert.Contains(t, string(rec.State), "restored")
}

func TestClose_WritesPendingDocuments(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	a, _ := env.dial(t, "notes")
	send(t, a, "body", "unsaved", 1)

	// the flush timer is armed right after the merge
	require.Eventually(t, func() bool {
		r, ok := env.hub.rooms.Get("notes")
		if !ok {
			return false
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.timer != nil
	}, 2*time.Second, 10*time.Millisecond)

	env.hub.Close()

	rec, err := env.repo.GetDocument("notes")
	require.NoError(t, err)
	assert.Contains(t, string(rec.State), "unsaved")
	env.assertNoFlush(t, 50*time.Millisecond)
}

func TestUpdate_OversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	a, _ := env.dial(t, "notes")

	big := strings.Repeat("x", MaxMessageSize+1)
	_ = a.WriteJSON(message{Type: typeUpdate, Key: "body", Value: big, Clock: 1})

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)

	_, ok := env.docs.GetOrCreate("notes").Get("body")
	assert.False(t, ok)
	env.assertNoFlush(t, 100*time.Millisecond)
}

func TestUpdate_OutOfRangeClockIgnored(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	a, _ := env.dial(t, "notes")
	b, _ := env.dial(t, "notes")

	send(t, a, "body", "huge", crdt.MaxClientClock+1)
	send(t, a, "title", "T", 1)

	got := readMessage(t, b)
	assert.Equal(t, "title", got.Key)
	_, ok := env.docs.GetOrCreate("notes").Get("body")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), env.docs.GetOrCreate("notes").Clock())
}

func TestScheduleFlush_SupersededTimerKeepsNewer(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond)
	r := env.hub.room("notes")

	r.scheduleFlush()

	// let the first timer fire and block on the room lock, then install a
	// newer pending flush before releasing it
	r.mu.Lock()
	time.Sleep(50 * time.Millisecond)
	newer := time.AfterFunc(time.Hour, func() {})
	r.timer = newer
	r.mu.Unlock()

	env.assertNoFlush(t, 100*time.Millisecond)
	r.mu.Lock()
	assert.Same(t, newer, r.timer)
	r.mu.Unlock()
	assert.True(t, r.stopTimer())
}
