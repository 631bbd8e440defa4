package registry

import (
	"collab-project/cmap"
	"collab-project/crdt"
	"collab-project/logger"

	"go.uber.org/zap"
)

// Registry owns the single live document handle for each document name.
// Handles are created lazily and live for the lifetime of the process.
type Registry struct {
	docs *cmap.Map[*crdt.Doc]
}

func New() *Registry {
	return &Registry{docs: cmap.New[*crdt.Doc]()}
}

// GetOrCreate returns the live document for name, creating an empty one on
// first use. Safe for concurrent callers; every caller gets the same handle.
func (r *Registry) GetOrCreate(name string) *crdt.Doc {
	doc, created := r.docs.GetOrCreate(name, crdt.NewDoc)
	if created {
		logger.Logger.Debug("Created live document", zap.String("document", name))
	}
	return doc
}

// Lookup returns the live document for name without creating it
func (r *Registry) Lookup(name string) (*crdt.Doc, bool) {
	return r.docs.Get(name)
}

// Count returns the number of live documents
func (r *Registry) Count() int {
	return r.docs.Count()
}
