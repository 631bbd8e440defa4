package collab

import "collab-project/crdt"

const (
	typeSync   = "sync"
	typeUpdate = "update"
)

// message is the single frame shape exchanged with clients.
//
//	client -> server  {"type":"update","key":"body","value":"...","clock":7}
//	server -> client  {"type":"sync","peer":"...","clock":7,"state":{...}}
//	server -> client  {"type":"update","key":"body","value":"...","clock":7,"peer":"..."}
type message struct {
	Type    string                   `json:"type"`
	Key     string                   `json:"key,omitempty"`
	Value   string                   `json:"value,omitempty"`
	Clock   uint64                   `json:"clock,omitempty"`
	Peer    string                   `json:"peer,omitempty"`
	Deleted bool                     `json:"deleted,omitempty"`
	State   map[string]crdt.Register `json:"state,omitempty"`
}

func syncMessage(doc *crdt.Doc, peer string) message {
	return message{Type: typeSync, Peer: peer, Clock: doc.Clock(), State: doc.Registers()}
}

func updateMessage(u crdt.Update) message {
	return message{
		Type:    typeUpdate,
		Key:     u.Key,
		Value:   u.Value,
		Clock:   u.Clock,
		Peer:    u.Peer,
		Deleted: u.Deleted,
	}
}
