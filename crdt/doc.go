// Package crdt holds the live document type shared by the sync transport and
// the version-history engine, plus the snapshot codec used to checkpoint it.
//
// A Doc is a last-writer-wins register map: every key carries a logical clock
// and the id of the peer that wrote it. Concurrent writes converge by keeping
// the register with the highest (clock, peer) pair.
package crdt

import (
	"math"
	"sync"
)

// ServerPeer is the peer id used for writes made by the server itself,
// e.g. when a checkpoint is restored.
const ServerPeer = "server"

// MaxClientClock is the highest clock a client write may carry. The range
// above it is left to server writes, which must always outrank clients.
const MaxClientClock = math.MaxUint64 >> 1

type Register struct {
	Value   string `json:"value"`
	Clock   uint64 `json:"clock"`
	Peer    string `json:"peer"`
	Deleted bool   `json:"deleted,omitempty"`
}

// wins reports whether r should replace cur.
func (r Register) wins(cur Register) bool {
	if r.Clock != cur.Clock {
		return r.Clock > cur.Clock
	}
	return r.Peer > cur.Peer
}

// Update is a single register write sent by a client
type Update struct {
	Key string `json:"key"`
	Register
}

type Doc struct {
	mu    sync.RWMutex
	regs  map[string]Register
	clock uint64
}

func NewDoc() *Doc {
	return &Doc{regs: make(map[string]Register)}
}

// Merge folds u into the document. It returns false when u lost against the
// register already stored or carries a clock above MaxClientClock, in which
// case nothing changes.
func (d *Doc) Merge(u Update) bool {
	if u.Clock > MaxClientClock {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.regs[u.Key]; ok && !u.Register.wins(cur) {
		return false
	}
	d.regs[u.Key] = u.Register
	if u.Clock > d.clock {
		d.clock = u.Clock
	}
	return true
}

// Get returns the visible value for key
func (d *Doc) Get(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.regs[key]
	if !ok || r.Deleted {
		return "", false
	}
	return r.Value, true
}

// Content returns a copy of every visible key/value pair.
func (d *Doc) Content() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.regs))
	for k, r := range d.regs {
		if !r.Deleted {
			out[k] = r.Value
		}
	}
	return out
}

// Registers returns a copy of the full register state including tombstones,
// which is what a joining client needs to merge correctly.
func (d *Doc) Registers() map[string]Register {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Register, len(d.regs))
	for k, r := range d.regs {
		out[k] = r
	}
	return out
}

// Clock returns the highest logical clock the document has seen.
func (d *Doc) Clock() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock
}

// replace rewrites the document so its visible content equals content.
// Changed keys are written at a clock above anything seen so far, so the
// result wins against every register clients currently hold. The clock
// saturates at math.MaxUint64 instead of wrapping.
func (d *Doc) replace(content map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.clock
	if next < math.MaxUint64 {
		next++
	}
	changed := false
	for k, r := range d.regs {
		if _, keep := content[k]; !keep && !r.Deleted {
			d.regs[k] = Register{Clock: next, Peer: ServerPeer, Deleted: true}
			changed = true
		}
	}
	for k, v := range content {
		if cur, ok := d.regs[k]; ok && !cur.Deleted && cur.Value == v {
			continue
		}
		d.regs[k] = Register{Value: v, Clock: next, Peer: ServerPeer}
		changed = true
	}
	if changed {
		d.clock = next
	}
}
