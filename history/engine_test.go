package history

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"collab-project/crdt"
	"collab-project/metrics"
	"collab-project/models"
	"collab-project/registry"
	"collab-project/timeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCodec wraps the JSON codec and fails on demand
type flakyCodec struct {
	crdt.JSONCodec
	failEncode atomic.Bool
	failApply  atomic.Bool
}

func (c *flakyCodec) Encode(d *crdt.Doc) ([]byte, error) {
	if c.failEncode.Load() {
		return nil, errors.New("encode exploded")
	}
	return c.JSONCodec.Encode(d)
}

func (c *flakyCodec) Apply(d *crdt.Doc, state []byte) error {
	if c.failApply.Load() {
		return crdt.ErrCorruptState
	}
	return c.JSONCodec.Apply(d, state)
}

type recordingNotifier struct {
	mu    sync.Mutex
	names []string
}

func (n *recordingNotifier) DocumentChanged(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, name)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

type fixture struct {
	engine   *Engine
	docs     *registry.Registry
	codec    *flakyCodec
	metrics  *metrics.Metrics
	notifier *recordingNotifier
}

func newFixture(cfg Config) *fixture {
	docs := registry.New()
	codec := &flakyCodec{}
	m := metrics.New(prometheus.NewRegistry())
	e := NewEngine(docs, codec, m, cfg)
	n := &recordingNotifier{}
	e.SetNotifier(n)
	return &fixture{engine: e, docs: docs, codec: codec, metrics: m, notifier: n}
}

func (f *fixture) edit(name, body string) {
	doc := f.docs.GetOrCreate(name)
	doc.Merge(crdt.Update{Key: "body", Register: crdt.Register{Value: body, Clock: doc.Clock() + 1, Peer: "client"}})
}

// checkpoint edits the document and reports one flush, with CheckpointEvery 1
func (f *fixture) checkpoint(name, body string) {
	f.edit(name, body)
	f.engine.OnDocumentPersisted(name)
}

func (f *fixture) body(name string) string {
	v, _ := f.docs.GetOrCreate(name).Get("body")
	return v
}

func abcFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(Config{CheckpointEvery: 1})
	for _, s := range []string{"A", "B", "C"} {
		f.checkpoint("doc", s)
	}
	require.Equal(t, models.Status{CanGoBack: true, CurrentIndex: 2, TotalVersions: 3}, f.engine.Status("doc"))
	return f
}

func TestStatus_UnknownDocument(t *testing.T) {
	f := newFixture(Config{})
	assert.Equal(t, models.Status{CurrentIndex: -1}, f.engine.Status("nope"))

	_, err := f.engine.Back("nope")
	assert.ErrorIs(t, err, timeline.ErrCannotGoBack)
	_, err = f.engine.Forward("nope")
	assert.ErrorIs(t, err, timeline.ErrCannotGoForward)
	status, err := f.engine.Commit("nope")
	assert.ErrorIs(t, err, timeline.ErrNothingToCommit)
	assert.Equal(t, models.Status{CurrentIndex: -1}, status)
	_, err = f.engine.RestoreSnapshot("nope", "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.Zero(t, f.notifier.count())
}

func TestRejectedCalls_DoNotTrackUnknownDocuments(t *testing.T) {
	f := newFixture(Config{})

	f.engine.Back("ghost")
	f.engine.Forward("ghost")
	f.engine.Commit("ghost")
	f.engine.RestoreSnapshot("ghost", "missing")
	f.engine.ClearHistory("ghost")

	assert.Zero(t, f.engine.states.Count())
	assert.Zero(t, f.docs.Count())
}

func TestTrigger_CheckpointsEveryNthFlush(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 3})

	for i := 1; i <= 7; i++ {
		f.edit("doc", fmt.Sprintf("v%d", i))
		f.engine.OnDocumentPersisted("doc")
	}

	cps, status := f.engine.Checkpoints("doc")
	require.Len(t, cps, 2)
	assert.Equal(t, 1, status.CurrentIndex)
	assert.Equal(t, 7, f.engine.Edits("doc"))
	assert.Contains(t, string(cps[0].State), "v3")
	assert.Contains(t, string(cps[1].State), "v6")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CheckpointsCreated))
}

func TestTrigger_EncodeFailureSkipsCheckpoint(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 1})
	f.checkpoint("doc", "A")

	f.codec.failEncode.Store(true)
	assert.NotPanics(t, func() { f.checkpoint("doc", "B") })

	assert.Equal(t, 1, f.engine.Status("doc").TotalVersions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckpointFailures))
}

func TestBack_RewritesLiveDocument(t *testing.T) {
	f := abcFixture(t)

	idx, err := f.engine.Back("doc")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "B", f.body("doc"))

	idx, err = f.engine.Back("doc")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "A", f.body("doc"))

	_, err = f.engine.Back("doc")
	var navErr *timeline.NavigationError
	require.True(t, errors.As(err, &navErr))
	assert.Equal(t, "cannot go back", navErr.Error())
	assert.Equal(t, "A", f.body("doc"))
	assert.Equal(t, 2, f.notifier.count())
}

func TestBackThenForward_RestoresIdenticalState(t *testing.T) {
	f := abcFixture(t)
	_, err := f.engine.Back("doc")
	require.NoError(t, err)

	before, err := f.codec.Encode(f.docs.GetOrCreate("doc"))
	require.NoError(t, err)
	beforeStatus := f.engine.Status("doc")

	_, err = f.engine.Back("doc")
	require.NoError(t, err)
	_, err = f.engine.Forward("doc")
	require.NoError(t, err)

	after, err := f.codec.Encode(f.docs.GetOrCreate("doc"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeStatus, f.engine.Status("doc"))
}

func TestForward_ToTipThenFails(t *testing.T) {
	f := abcFixture(t)
	f.engine.Back("doc")
	f.engine.Back("doc")

	_, err := f.engine.Forward("doc")
	require.NoError(t, err)
	idx, err := f.engine.Forward("doc")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, "C", f.body("doc"))

	_, err = f.engine.Forward("doc")
	assert.ErrorIs(t, err, timeline.ErrCannotGoForward)
}

func TestBack_ApplyFailureLeavesEverythingUnchanged(t *testing.T) {
	f := abcFixture(t)
	f.codec.failApply.Store(true)

	_, err := f.engine.Back("doc")

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.ErrorIs(t, err, crdt.ErrCorruptState)
	assert.Equal(t, 2, f.engine.Status("doc").CurrentIndex)
	assert.Equal(t, "C", f.body("doc"))
	assert.Zero(t, f.notifier.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Navigations.WithLabelValues("back", metrics.ResultFailed)))
}

func TestAutoCheckpoint_InPastTruncatesFuture(t *testing.T) {
	f := abcFixture(t)
	_, err := f.engine.Back("doc")
	require.NoError(t, err)

	f.checkpoint("doc", "D")

	cps, status := f.engine.Checkpoints("doc")
	require.Len(t, cps, 3)
	assert.Equal(t, 2, status.CurrentIndex)
	assert.False(t, status.CanGoForward)
	for _, cp := range cps {
		assert.NotContains(t, string(cp.State), `"C"`)
	}
	assert.Contains(t, string(cps[2].State), `"D"`)
}

func TestCommit_InPast(t *testing.T) {
	f := abcFixture(t)
	f.engine.Back("doc")

	status, err := f.engine.Commit("doc")
	require.NoError(t, err)
	assert.Equal(t, models.Status{CanGoBack: true, CurrentIndex: 1, TotalVersions: 2}, status)
	assert.Equal(t, "B", f.body("doc"))
	assert.Zero(t, f.engine.Edits("doc"))
}

func TestCommit_IdempotentAndResetsCounter(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 2})
	f.checkpoint("doc", "A")
	f.checkpoint("doc", "B")
	f.checkpoint("doc", "C")
	require.Equal(t, 3, f.engine.Edits("doc"))

	first, err := f.engine.Commit("doc")
	require.NoError(t, err)
	second, err := f.engine.Commit("doc")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Zero(t, f.engine.Edits("doc"))

	// counter restarted: the next checkpoint needs two more flushes
	f.checkpoint("doc", "D")
	assert.Equal(t, 1, f.engine.Status("doc").TotalVersions)
	f.checkpoint("doc", "E")
	assert.Equal(t, 2, f.engine.Status("doc").TotalVersions)
}

func TestCommit_ReassertsCheckpointOverUncheckpointedEdits(t *testing.T) {
	f := abcFixture(t)
	f.edit("doc", "draft")

	_, err := f.engine.Commit("doc")
	require.NoError(t, err)
	assert.Equal(t, "C", f.body("doc"))
}

func TestCommit_ApplyFailureKeepsRedoTail(t *testing.T) {
	f := abcFixture(t)
	f.engine.Back("doc")
	f.codec.failApply.Store(true)

	_, err := f.engine.Commit("doc")
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "commit", encErr.Op)
	assert.Equal(t, 3, f.engine.Status("doc").TotalVersions)
}

func TestEviction_CapsTimeline(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 1, MaxCheckpoints: 4})
	for i := 0; i < 10; i++ {
		f.checkpoint("doc", fmt.Sprintf("v%d", i))
	}

	cps, status := f.engine.Checkpoints("doc")
	require.Len(t, cps, 4)
	assert.Equal(t, 3, status.CurrentIndex)
	assert.Contains(t, string(cps[0].State), "v6")
	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.CheckpointsDropped))
}

func TestDocumentsAreIndependent(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 1})
	f.checkpoint("a", "a1")
	f.checkpoint("a", "a2")
	f.checkpoint("b", "b1")

	_, err := f.engine.Back("a")
	require.NoError(t, err)

	assert.Equal(t, "a1", f.body("a"))
	assert.Equal(t, "b1", f.body("b"))
	assert.Equal(t, models.Status{CurrentIndex: 0, TotalVersions: 1}, f.engine.Status("b"))
}

func TestConcurrentOperations_PreserveInvariants(t *testing.T) {
	f := newFixture(Config{CheckpointEvery: 1, MaxCheckpoints: 8})
	names := []string{"x", "y", "z"}

	var wg sync.WaitGroup
	for w := 0; w < 12; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := names[w%len(names)]
			for i := 0; i < 200; i++ {
				switch (w + i) % 5 {
				case 0, 1:
					f.checkpoint(name, fmt.Sprintf("%d-%d", w, i))
				case 2:
					f.engine.Back(name)
				case 3:
					f.engine.Forward(name)
				case 4:
					f.engine.Commit(name)
				}
				f.engine.Status(name)
			}
		}(w)
	}
	wg.Wait()

	for _, name := range names {
		cps, status := f.engine.Checkpoints(name)
		assert.LessOrEqual(t, len(cps), 8)
		assert.Equal(t, len(cps), status.TotalVersions)
		if len(cps) > 0 {
			assert.GreaterOrEqual(t, status.CurrentIndex, 0)
			assert.Less(t, status.CurrentIndex, len(cps))
		}
	}
}
