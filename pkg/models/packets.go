package models

import "time"

// PacketKind classifies a decoded radio payload by its application port.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindText
	KindTelemetry
	KindPosition
	KindAdmin
	KindNodeInfo
)

func (k PacketKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTelemetry:
		return "telemetry"
	case KindPosition:
		return "position"
	case KindAdmin:
		return "admin"
	case KindNodeInfo:
		return "nodeinfo"
	default:
		return "unknown"
	}
}

// RadioPacket is a single packet received from the mesh, already decrypted.
type RadioPacket struct {
	// From is the sender node ID in "!xxxxxxxx" form
	From string
	// Channel is the mesh channel index. Only meaningful when HasChannel is set.
	Channel    int
	HasChannel bool
	// Text is the decoded text payload for KindText packets
	Text     string
	Kind     PacketKind
	PacketID uint32
	RxTime   time.Time
}

// ChannelIndex returns the channel the packet belongs to. Plain text packets that
// carry no channel are treated as channel 0.
func (p RadioPacket) ChannelIndex() (int, bool) {
	if p.HasChannel {
		return p.Channel, true
	}
	if p.Kind == KindText {
		return 0, true
	}
	return 0, false
}
