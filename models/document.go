package models

// DocumentRecord is the durable copy of a live document written by the sync
// transport when it flushes
type DocumentRecord struct {
	Name      string `json:"name"`
	State     []byte `json:"state"`      // snapshot codec output
	UpdatedAt int64  `json:"updated_at"` // unix timestamp in ms
}
