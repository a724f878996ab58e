package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

type sentChat struct {
	room string
	msg  models.ChatMessage
}

type fakeChat struct{ sent []sentChat }

func (f *fakeChat) SendRelay(_ context.Context, roomID string, msg models.ChatMessage) error {
	f.sent = append(f.sent, sentChat{roomID, msg})
	return nil
}

func (f *fakeChat) DisplayName(_ context.Context, userID string) string { return userID }

type sentRadio struct {
	text    string
	channel int
}

type fakeRadio struct{ sent []sentRadio }

func (f *fakeRadio) SendText(_ context.Context, text string, channel int) error {
	f.sent = append(f.sent, sentRadio{text, channel})
	return nil
}

type staticNodes []models.NodeInfo

func (s staticNodes) Snapshot() []models.NodeInfo { return s }

func TestPing(t *testing.T) {
	chat, radio := &fakeChat{}, &fakeRadio{}
	p := NewPing(chat, radio, true)
	ctx := context.Background()

	require.NoError(t, p.HandleChatMessage(ctx, "!room1", models.ChatEvent{Body: " !PING "}, ""))
	require.NoError(t, p.HandleChatMessage(ctx, "!room1", models.ChatEvent{Body: "ping me"}, ""))
	require.NoError(t, p.HandleChatMessage(ctx, "!room1", models.ChatEvent{
		Body: "!ping", OriginLongname: "Bob", OriginMeshnet: "MeshB",
	}, ""))
	require.Equal(t, []sentChat{{"!room1", models.ChatMessage{MsgType: models.MsgTypeNotice, Body: "pong"}}}, chat.sent)

	require.NoError(t, p.HandleRadioMessage(ctx, models.RadioPacket{
		Kind: models.KindText, Text: "!ping", Channel: 2, HasChannel: true,
	}, "", "", ""))
	require.Equal(t, []sentRadio{{"pong", 2}}, radio.sent)
}

func TestPingRespectsBroadcastSwitch(t *testing.T) {
	radio := &fakeRadio{}
	p := NewPing(&fakeChat{}, radio, false)

	require.NoError(t, p.HandleRadioMessage(context.Background(), models.RadioPacket{Kind: models.KindText, Text: "!ping"}, "", "", ""))
	require.Empty(t, radio.sent)
}

func TestNodes(t *testing.T) {
	chat := &fakeChat{}
	p := NewNodes(chat, staticNodes{
		{NodeID: "!0000abcd", LongName: "Alice", ShortName: "ALI"},
		{NodeID: "!0000beef"},
	})

	require.NoError(t, p.HandleChatMessage(context.Background(), "!room1", models.ChatEvent{Body: "!nodes"}, ""))
	require.NoError(t, p.HandleRadioMessage(context.Background(), models.RadioPacket{Text: "!nodes"}, "", "", ""))

	require.Len(t, chat.sent, 1)
	require.Equal(t, "Nodes: 2\n!0000abcd Alice (ALI)\n!0000beef !0000beef", chat.sent[0].msg.Body)
}

func TestRegistry(t *testing.T) {
	cfg := &config.Configuration{Plugins: map[string]config.PluginConfig{
		"nodes": {Active: true},
		"ping":  {Active: false},
	}}
	active := Registry(cfg, Deps{Chat: &fakeChat{}, Radio: &fakeRadio{}, Nodes: staticNodes{}})
	require.Len(t, active, 1)
	require.Equal(t, "nodes", active[0].Name())

	cfg.Plugins["ping"] = config.PluginConfig{Active: true}
	active = Registry(cfg, Deps{})
	require.Equal(t, "ping", active[0].Name())
	require.Equal(t, "nodes", active[1].Name())
}
