package history

import (
	"errors"

	"collab-project/logger"
	"collab-project/metrics"
	"collab-project/models"
	"collab-project/timeline"

	"go.uber.org/zap"
)

type move func(*timeline.Timeline) (models.Checkpoint, error)

// unset stands in for the timeline of a document the engine has never seen.
// It is only ever read.
var unset = timeline.New(1)

// Back moves name one checkpoint into the past and rewrites the live
// document to match. It returns the new cursor index.
func (e *Engine) Back(name string) (int, error) {
	return e.navigate(name, "back", (*timeline.Timeline).PeekBack, (*timeline.Timeline).StepBack)
}

// Forward moves name one checkpoint toward the tip.
func (e *Engine) Forward(name string) (int, error) {
	return e.navigate(name, "forward", (*timeline.Timeline).PeekForward, (*timeline.Timeline).StepForward)
}

// navigate applies the target checkpoint before moving the cursor, so a codec
// failure leaves both the timeline and the document where they were.
func (e *Engine) navigate(name, op string, peek, step move) (int, error) {
	idx, err := func() (int, error) {
		st, ok := e.states.Get(name)
		if !ok {
			// an unknown document has an empty timeline
			_, err := peek(unset)
			return unset.Cursor(), err
		}
		st.mu.Lock()
		defer st.mu.Unlock()

		target, err := peek(st.timeline)
		if err != nil {
			return st.timeline.Cursor(), err
		}
		if err := e.codec.Apply(e.docs.GetOrCreate(name), target.State); err != nil {
			return st.timeline.Cursor(), &EncodingError{Op: op, Err: err}
		}
		if _, err := step(st.timeline); err != nil {
			return st.timeline.Cursor(), err
		}
		return st.timeline.Cursor(), nil
	}()

	e.record(name, op, err)
	if err != nil {
		return idx, err
	}

	e.notify(name)
	return idx, nil
}

// Commit discards the redo tail of name and resets its edit counter. The
// checkpoint under the cursor is reapplied first, which makes repeated
// commits safe.
func (e *Engine) Commit(name string) (models.Status, error) {
	status, err := func() (models.Status, error) {
		st, ok := e.states.Get(name)
		if !ok {
			return unset.Status(), timeline.ErrNothingToCommit
		}
		st.mu.Lock()
		defer st.mu.Unlock()

		cur, ok := st.timeline.Current()
		if !ok {
			return st.timeline.Status(), timeline.ErrNothingToCommit
		}
		if err := e.codec.Apply(e.docs.GetOrCreate(name), cur.State); err != nil {
			return st.timeline.Status(), &EncodingError{Op: "commit", Err: err}
		}
		dropped, err := st.timeline.Commit()
		if err != nil {
			return st.timeline.Status(), err
		}
		st.edits = 0
		e.metrics.CheckpointsDropped.Add(float64(dropped))
		return st.timeline.Status(), nil
	}()

	e.record(name, "commit", err)
	if err != nil {
		return status, err
	}

	e.notify(name)
	return status, nil
}

func (e *Engine) record(name, op string, err error) {
	var navErr *timeline.NavigationError
	switch {
	case err == nil:
		e.metrics.Navigations.WithLabelValues(op, metrics.ResultOK).Inc()
		logger.Logger.Info("History navigation", zap.String("document", name), zap.String("op", op))
	case errors.As(err, &navErr), errors.Is(err, ErrSnapshotNotFound):
		e.metrics.Navigations.WithLabelValues(op, metrics.ResultRejected).Inc()
		logger.Logger.Debug("History navigation rejected",
			zap.String("document", name), zap.String("op", op), zap.Error(err))
	default:
		e.metrics.Navigations.WithLabelValues(op, metrics.ResultFailed).Inc()
		logger.Logger.Error("History navigation failed",
			zap.String("document", name), zap.String("op", op), zap.Error(err))
	}
}
