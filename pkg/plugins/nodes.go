package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
)

const nodesCommand = "!nodes"

// Nodes answers "!nodes" in chat with the node names the relay has learned.
type Nodes struct {
	chat  relay.ChatSender
	nodes NodeLister
}

func NewNodes(chat relay.ChatSender, nodes NodeLister) *Nodes {
	return &Nodes{chat: chat, nodes: nodes}
}

func (p *Nodes) Name() string { return "nodes" }

func (p *Nodes) HandleRadioMessage(context.Context, models.RadioPacket, string, string, string) error {
	return nil
}

func (p *Nodes) HandleChatMessage(ctx context.Context, roomID string, evt models.ChatEvent, _ string) error {
	if evt.HasProvenance() || !isCommand(evt.Body, nodesCommand) {
		return nil
	}
	return p.chat.SendRelay(ctx, roomID, models.ChatMessage{
		MsgType: models.MsgTypeNotice,
		Body:    formatNodes(p.nodes.Snapshot()),
	})
}

func formatNodes(nodes []models.NodeInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Nodes: %d", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(&b, "\n%s %s", n.NodeID, n.GetSafeLongName())
		if n.ShortName != "" {
			fmt.Fprintf(&b, " (%s)", n.ShortName)
		}
	}
	return b.String()
}
