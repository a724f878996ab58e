package plugins

import (
	"context"
	"strings"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
)

const pingCommand = "!ping"

// Ping answers "!ping" with "pong" on the network the command came from.
type Ping struct {
	chat      relay.ChatSender
	radio     relay.RadioSender
	broadcast bool
}

func NewPing(chat relay.ChatSender, radio relay.RadioSender, broadcast bool) *Ping {
	return &Ping{chat: chat, radio: radio, broadcast: broadcast}
}

func (p *Ping) Name() string { return "ping" }

func (p *Ping) HandleRadioMessage(ctx context.Context, pkt models.RadioPacket, _, _, _ string) error {
	if !p.broadcast || !isCommand(pkt.Text, pingCommand) {
		return nil
	}
	channel, _ := pkt.ChannelIndex()
	return p.radio.SendText(ctx, "pong", channel)
}

func (p *Ping) HandleChatMessage(ctx context.Context, roomID string, evt models.ChatEvent, _ string) error {
	if evt.HasProvenance() || !isCommand(evt.Body, pingCommand) {
		return nil
	}
	return p.chat.SendRelay(ctx, roomID, models.ChatMessage{
		MsgType: models.MsgTypeNotice,
		Body:    "pong",
	})
}

func isCommand(text, command string) bool {
	return strings.EqualFold(strings.TrimSpace(text), command)
}
