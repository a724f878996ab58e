package models

import "time"

// Chat message types relayed by the bridge.
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
)

// ChatEvent is a room message received from the chat network.
type ChatEvent struct {
	EventID string
	Sender  string
	RoomID  string
	MsgType string
	Body    string
	// Timestamp is the server-assigned origin time of the event
	Timestamp time.Time
	// OriginLongname and OriginMeshnet are only present on messages a relay
	// produced from radio traffic.
	OriginLongname string
	OriginMeshnet  string
}

// HasProvenance reports whether both provenance fields are set.
func (e ChatEvent) HasProvenance() bool {
	return e.OriginLongname != "" && e.OriginMeshnet != ""
}

// ChatMessage is the outbound room message envelope. The two meshtastic_* field
// names are shared with every other relay deployment and must not change.
type ChatMessage struct {
	MsgType  string `json:"msgtype"`
	Body     string `json:"body"`
	Longname string `json:"meshtastic_longname,omitempty"`
	Meshnet  string `json:"meshtastic_meshnet,omitempty"`
}
