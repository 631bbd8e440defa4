package models

type Checkpoint struct {
	ID        string `json:"id"`        // unique id, never reused
	Timestamp int64  `json:"timestamp"` // unix timestamp in ms
	State     []byte `json:"-"`         // serialized document state
}

// Status describes where a document's cursor sits in its timeline
type Status struct {
	CanGoBack     bool `json:"canGoBack"`
	CanGoForward  bool `json:"canGoForward"`
	CurrentIndex  int  `json:"currentIndex"`
	TotalVersions int  `json:"totalVersions"`
}

// NamedSnapshot is a user-labelled copy of a document kept outside the timeline
type NamedSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	State     []byte `json:"-"`
}
