// Package timeline implements the bounded, linear checkpoint history kept for
// each document, together with the cursor that marks which checkpoint the
// live document currently reflects.
//
// States:
//
//	EMPTY   no checkpoints, cursor unset (-1)
//	AT_TIP  cursor == len-1
//	IN_PAST 0 <= cursor < len-1
//
// Appending from IN_PAST first drops every checkpoint after the cursor, so the
// history never branches. A Timeline is not safe for concurrent use; callers
// serialize access per document.
package timeline

import (
	"time"

	"collab-project/models"

	"github.com/google/uuid"
)

// DefaultMaxCheckpoints is the capacity used when New is given no usable bound.
const DefaultMaxCheckpoints = 50

// Timeline is the checkpoint history of a single document. The zero value is
// not usable; construct one with New.
type Timeline struct {
	checkpoints []models.Checkpoint
	cursor      int
	max         int
	newID       func() string
	now         func() time.Time
}

// New returns an empty timeline holding at most max checkpoints. A max below
// 1 falls back to DefaultMaxCheckpoints.
func New(max int) *Timeline {
	if max < 1 {
		max = DefaultMaxCheckpoints
	}
	return &Timeline{
		cursor: -1,
		max:    max,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
	}
}

// Append records state as the newest checkpoint and moves the cursor onto it.
// The second return value is the number of checkpoints dropped, either by
// truncating the future or by evicting the oldest entry.
func (t *Timeline) Append(state []byte) (models.Checkpoint, int) {
	dropped := 0
	if t.cursor >= 0 && t.cursor < len(t.checkpoints)-1 {
		dropped = len(t.checkpoints) - (t.cursor + 1)
		t.truncateAfterCursor()
	}

	cp := models.Checkpoint{
		ID:        t.newID(),
		Timestamp: t.now().UnixMilli(),
		State:     append([]byte(nil), state...),
	}
	t.checkpoints = append(t.checkpoints, cp)
	t.cursor = len(t.checkpoints) - 1

	if len(t.checkpoints) > t.max {
		t.checkpoints[0] = models.Checkpoint{}
		t.checkpoints = t.checkpoints[1:]
		if t.cursor > 0 {
			t.cursor--
		}
		dropped++
	}
	return cp, dropped
}

// CanGoBack reports whether an older checkpoint exists before the cursor.
func (t *Timeline) CanGoBack() bool {
	return t.cursor > 0
}

// CanGoForward reports whether the cursor is behind the newest checkpoint.
func (t *Timeline) CanGoForward() bool {
	return t.cursor >= 0 && t.cursor < len(t.checkpoints)-1
}

// PeekBack returns the checkpoint StepBack would move to, without moving.
func (t *Timeline) PeekBack() (models.Checkpoint, error) {
	if !t.CanGoBack() {
		return models.Checkpoint{}, ErrCannotGoBack
	}
	return t.checkpoints[t.cursor-1], nil
}

// PeekForward returns the checkpoint StepForward would move to, without moving.
func (t *Timeline) PeekForward() (models.Checkpoint, error) {
	if !t.CanGoForward() {
		return models.Checkpoint{}, ErrCannotGoForward
	}
	return t.checkpoints[t.cursor+1], nil
}

// StepBack moves the cursor one checkpoint back and returns that checkpoint.
// It fails with ErrCannotGoBack at the oldest checkpoint or when empty.
func (t *Timeline) StepBack() (models.Checkpoint, error) {
	if !t.CanGoBack() {
		return models.Checkpoint{}, ErrCannotGoBack
	}
	t.cursor--
	return t.checkpoints[t.cursor], nil
}

// StepForward moves the cursor one checkpoint forward and returns that
// checkpoint. It fails with ErrCannotGoForward at the tip or when empty.
func (t *Timeline) StepForward() (models.Checkpoint, error) {
	if !t.CanGoForward() {
		return models.Checkpoint{}, ErrCannotGoForward
	}
	t.cursor++
	return t.checkpoints[t.cursor], nil
}

// Commit makes the cursor the new tip by discarding the redo tail. It returns
// the number of checkpoints discarded.
func (t *Timeline) Commit() (int, error) {
	if len(t.checkpoints) == 0 {
		return 0, ErrNothingToCommit
	}
	dropped := len(t.checkpoints) - (t.cursor + 1)
	t.truncateAfterCursor()
	return dropped, nil
}

// Current returns the checkpoint under the cursor
func (t *Timeline) Current() (models.Checkpoint, bool) {
	if t.cursor < 0 {
		return models.Checkpoint{}, false
	}
	return t.checkpoints[t.cursor], true
}

// Clear drops every checkpoint and unsets the cursor.
func (t *Timeline) Clear() int {
	n := len(t.checkpoints)
	t.checkpoints = nil
	t.cursor = -1
	return n
}

// Status summarises the cursor position. An empty timeline reports
// CurrentIndex -1.
func (t *Timeline) Status() models.Status {
	return models.Status{
		CanGoBack:     t.CanGoBack(),
		CanGoForward:  t.CanGoForward(),
		CurrentIndex:  t.cursor,
		TotalVersions: len(t.checkpoints),
	}
}

func (t *Timeline) Len() int    { return len(t.checkpoints) }
func (t *Timeline) Cursor() int { return t.cursor }
func (t *Timeline) Max() int    { return t.max }

// Checkpoints returns a copy of the sequence, oldest first.
func (t *Timeline) Checkpoints() []models.Checkpoint {
	return append([]models.Checkpoint(nil), t.checkpoints...)
}

func (t *Timeline) truncateAfterCursor() {
	for i := t.cursor + 1; i < len(t.checkpoints); i++ {
		t.checkpoints[i] = models.Checkpoint{}
	}
	t.checkpoints = t.checkpoints[:t.cursor+1]
}
