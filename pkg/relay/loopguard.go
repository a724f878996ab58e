package relay

import (
	"strings"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// Drop reasons. These are expected outcomes, not errors.
const (
	ReasonOwnMeshnet        = "own-meshnet"
	ReasonBacklog           = "backlog"
	ReasonSelf              = "self"
	ReasonEmpty             = "empty"
	ReasonUnmappedChannel   = "unmapped-channel"
	ReasonNotText           = "not-text"
	ReasonUnmappedRoom      = "unmapped-room"
	ReasonBroadcastDisabled = "broadcast-disabled"
)

// Verdict is the outcome of a loop guard check.
type Verdict struct {
	Drop   bool
	Reason string
}

var pass = Verdict{}

func drop(reason string) Verdict {
	return Verdict{Drop: true, Reason: reason}
}

// LoopGuard filters events that would echo back into the network they came from,
// replay history, or carry no relayable text.
type LoopGuard struct {
	meshnet   string
	botUserID string
	startTime time.Time
	channels  *ChannelMap
}

func NewLoopGuard(meshnet, botUserID string, startTime time.Time, channels *ChannelMap) *LoopGuard {
	return &LoopGuard{
		meshnet:   meshnet,
		botUserID: botUserID,
		startTime: startTime,
		channels:  channels,
	}
}

// CheckChat applies the chat-side rules. Each rule is evaluated on its own.
func (g *LoopGuard) CheckChat(evt models.ChatEvent) Verdict {
	if evt.OriginMeshnet != "" && evt.OriginMeshnet == g.meshnet {
		return drop(ReasonOwnMeshnet)
	}
	if !evt.Timestamp.After(g.startTime) {
		return drop(ReasonBacklog)
	}
	if evt.Sender == g.botUserID {
		return drop(ReasonSelf)
	}
	if strings.TrimSpace(evt.Body) == "" {
		return drop(ReasonEmpty)
	}
	return pass
}

// CheckRadio applies the radio-side rules.
func (g *LoopGuard) CheckRadio(pkt models.RadioPacket) Verdict {
	channel, ok := pkt.ChannelIndex()
	if ok && !g.channels.HasChannel(channel) {
		return drop(ReasonUnmappedChannel)
	}
	if !ok || pkt.Kind != models.KindText {
		return drop(ReasonNotText)
	}
	if pkt.Text == "" {
		return drop(ReasonEmpty)
	}
	return pass
}
