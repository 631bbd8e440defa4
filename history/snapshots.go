package history

import (
	"strings"

	"collab-project/logger"
	"collab-project/models"

	"go.uber.org/zap"
)

// Named snapshots sit beside the timeline and never move its cursor. Only
// restoring one touches the timeline, by appending its state as a new
// checkpoint.

// CreateSnapshot stores the current live state of name under label
func (e *Engine) CreateSnapshot(name, label string) (models.NamedSnapshot, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return models.NamedSnapshot{}, ErrInvalidSnapshotName
	}

	st := e.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	state, err := e.codec.Encode(e.docs.GetOrCreate(name))
	if err != nil {
		return models.NamedSnapshot{}, &EncodingError{Op: "snapshot", Err: err}
	}

	snap := models.NamedSnapshot{
		ID:        e.newID(),
		Name:      label,
		Timestamp: e.now().UnixMilli(),
		State:     state,
	}
	st.snapshots = append(st.snapshots, snap)
	if over := len(st.snapshots) - e.cfg.MaxSnapshots; over > 0 {
		st.snapshots = append([]models.NamedSnapshot(nil), st.snapshots[over:]...)
	}

	logger.Logger.Info("Created snapshot",
		zap.String("document", name), zap.String("snapshot_id", snap.ID), zap.String("name", label))
	return snap, nil
}

// ListSnapshots returns the named snapshots of name, newest first.
func (e *Engine) ListSnapshots(name string) []models.NamedSnapshot {
	st, ok := e.states.Get(name)
	if !ok {
		return []models.NamedSnapshot{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.NamedSnapshot, 0, len(st.snapshots))
	for i := len(st.snapshots) - 1; i >= 0; i-- {
		out = append(out, st.snapshots[i])
	}
	return out
}

// RestoreSnapshot writes snapshot id into the live document and appends it to
// the timeline, which drops any redo tail exactly as a new edit would. The
// edit counter restarts from zero. It returns the new cursor index.
func (e *Engine) RestoreSnapshot(name, id string) (int, error) {
	idx, err := func() (int, error) {
		st, ok := e.states.Get(name)
		if !ok {
			return unset.Cursor(), ErrSnapshotNotFound
		}
		st.mu.Lock()
		defer st.mu.Unlock()

		var snap *models.NamedSnapshot
		for i := range st.snapshots {
			if st.snapshots[i].ID == id {
				snap = &st.snapshots[i]
				break
			}
		}
		if snap == nil {
			return st.timeline.Cursor(), ErrSnapshotNotFound
		}
		if err := e.codec.Apply(e.docs.GetOrCreate(name), snap.State); err != nil {
			return st.timeline.Cursor(), &EncodingError{Op: "restore", Err: err}
		}

		_, dropped := st.timeline.Append(snap.State)
		st.edits = 0
		e.metrics.CheckpointsCreated.Inc()
		e.metrics.CheckpointsDropped.Add(float64(dropped))
		return st.timeline.Cursor(), nil
	}()

	e.record(name, "restore", err)
	if err != nil {
		return idx, err
	}

	e.notify(name)
	return idx, nil
}

// ClearHistory drops every checkpoint and named snapshot of name and resets
// its edit counter. The live document is not touched.
func (e *Engine) ClearHistory(name string) {
	st, ok := e.states.Get(name)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := st.timeline.Clear()
	st.snapshots = nil
	st.edits = 0
	e.metrics.CheckpointsDropped.Add(float64(dropped))

	logger.Logger.Info("Cleared history", zap.String("document", name), zap.Int("checkpoints", dropped))
}
