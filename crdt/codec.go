package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

const snapshotVersion = 1

var ErrCorruptState = errors.New("corrupt document state")

// Codec serializes a document's full state and applies serialized state back
// onto a live document.
type Codec interface {
	Encode(d *Doc) ([]byte, error)
	Apply(d *Doc, state []byte) error
}

type snapshot struct {
	Version int               `json:"v"`
	Content map[string]string `json:"content"`
}

// JSONCodec stores the visible content of a document as JSON. Map keys are
// sorted by encoding/json, so equal content always encodes to equal bytes.
type JSONCodec struct{}

func (JSONCodec) Encode(d *Doc) ([]byte, error) {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Content: d.Content()})
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Apply decodes state completely before touching d, so a corrupt payload
// leaves the document unmodified.
func (JSONCodec) Apply(d *Doc, state []byte) error {
	var s snapshot
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptState, s.Version)
	}
	if s.Content == nil {
		s.Content = map[string]string{}
	}
	d.replace(s.Content)
	return nil
}
