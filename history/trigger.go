package history

import (
	"collab-project/logger"

	"go.uber.org/zap"
)

// OnDocumentPersisted counts a flush of name and, on every CheckpointEvery-th
// flush, appends a checkpoint of the live document. It never fails: encoding
// errors are logged and the checkpoint is skipped.
func (e *Engine) OnDocumentPersisted(name string) {
	st := e.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.edits++
	if st.edits%e.cfg.CheckpointEvery != 0 {
		return
	}

	state, err := e.codec.Encode(e.docs.GetOrCreate(name))
	if err != nil {
		e.metrics.CheckpointFailures.Inc()
		logger.Logger.Warn("Skipping automatic checkpoint",
			zap.String("document", name), zap.Int("edits", st.edits), zap.Error(err))
		return
	}

	cp, dropped := st.timeline.Append(state)
	e.metrics.CheckpointsCreated.Inc()
	e.metrics.CheckpointsDropped.Add(float64(dropped))

	logger.Logger.Debug("Automatic checkpoint",
		zap.String("document", name),
		zap.String("checkpoint_id", cp.ID),
		zap.Int("cursor", st.timeline.Cursor()),
		zap.Int("dropped", dropped))
}
