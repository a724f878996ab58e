package hooks

import (
	"testing"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/require"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/auth"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
)

var testChannels = []meshtastic.ChannelDef{{Name: "LongFast"}}

func newTestCodec(t *testing.T, self meshtastic.NodeID) *meshtastic.Codec {
	t.Helper()
	c, err := meshtastic.NewCodec(meshtastic.CodecOptions{
		Root:     "msh/US",
		SelfNode: self,
		HopLimit: 3,
		Channels: testChannels,
	})
	require.NoError(t, err)
	return c
}

func newTestHook(t *testing.T) (*RelayHook, *[]*meshtastic.Decoded) {
	t.Helper()
	hash, salt := auth.GenerateHashAndSalt("secret")
	delivered := &[]*meshtastic.Decoded{}

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	hook := new(RelayHook)
	err := server.AddHook(hook, &RelayHookOptions{
		Server: server,
		Codec:  newTestCodec(t, 0x11111111),
		Root:   "msh/US",
		Users:  []config.BrokerUser{{Username: "radio", PasswordHash: hash, Salt: salt}},
		Deliver: func(d *meshtastic.Decoded) {
			*delivered = append(*delivered, d)
		},
	})
	require.NoError(t, err)
	return hook, delivered
}

func connectPacket(user, pass string) packets.Packet {
	return packets.Packet{Connect: packets.ConnectParams{
		Username: []byte(user),
		Password: []byte(pass),
	}}
}

func TestInitRequiresOptions(t *testing.T) {
	server := mqtt.New(&mqtt.Options{InlineClient: true})
	require.ErrorIs(t, server.AddHook(new(RelayHook), nil), mqtt.ErrInvalidConfigType)
	require.ErrorIs(t, server.AddHook(new(RelayHook), &RelayHookOptions{Server: server}), mqtt.ErrInvalidConfigType)
}

func TestAuthenticateAndTrackClients(t *testing.T) {
	hook, _ := newTestHook(t)

	device := &mqtt.Client{ID: "!deadbeef", Net: mqtt.ClientConnection{Remote: "10.0.0.2:5000"}}
	proxy := &mqtt.Client{ID: "MeshtasticAndroidMqttProxy-!0000abcd"}
	intruder := &mqtt.Client{ID: "intruder"}

	require.True(t, hook.OnConnectAuthenticate(device, connectPacket("radio", "secret")))
	require.True(t, hook.OnConnectAuthenticate(proxy, connectPacket("radio", "secret")))
	require.False(t, hook.OnConnectAuthenticate(intruder, connectPacket("radio", "wrong")))
	require.False(t, hook.OnConnectAuthenticate(intruder, connectPacket("nobody", "secret")))

	clients := hook.GetClients()
	require.Len(t, clients, 2)
	require.Equal(t, "!deadbeef", clients[0].NodeID)
	require.Equal(t, "10.0.0.2:5000", clients[0].Address)
	require.Equal(t, "Android", clients[1].ProxyType)
	require.Equal(t, "!0000abcd", clients[1].NodeID)

	hook.OnDisconnect(device, nil, false)
	require.Len(t, hook.GetClients(), 1)
}

func TestACLCheck(t *testing.T) {
	hook, _ := newTestHook(t)
	device := &mqtt.Client{ID: "!deadbeef"}
	stranger := &mqtt.Client{ID: "stranger"}
	require.True(t, hook.OnConnectAuthenticate(device, connectPacket("radio", "secret")))

	tests := []struct {
		name   string
		client *mqtt.Client
		topic  string
		write  bool
		want   bool
	}{
		{"publish channel", device, "msh/US/2/e/LongFast/!deadbeef", true, true},
		{"subscribe tree", device, "msh/US/2/e/#", false, true},
		{"other root", device, "msh/EU/2/e/LongFast/!deadbeef", true, false},
		{"outside mesh", device, "homeassistant/light", true, false},
		{"will", device, "will", true, true},
		{"unknown client", stranger, "msh/US/2/e/LongFast/!deadbeef", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hook.OnACLCheck(tt.client, tt.topic, tt.write); got != tt.want {
				t.Errorf("OnACLCheck(%s, %v) = %v, want %v", tt.topic, tt.write, got, tt.want)
			}
		})
	}
}

func TestOnPublishDelivers(t *testing.T) {
	hook, delivered := newTestHook(t)
	device := &mqtt.Client{ID: "!22222222"}
	require.True(t, hook.OnConnectAuthenticate(device, connectPacket("radio", "secret")))

	topic, payload, err := newTestCodec(t, 0x22222222).EncodeText("hello mesh", 0)
	require.NoError(t, err)

	pk, err := hook.OnPublish(device, packets.Packet{TopicName: topic, Payload: payload})
	require.NoError(t, err)
	require.Equal(t, topic, pk.TopicName)

	require.Len(t, *delivered, 1)
	got := (*delivered)[0]
	require.Equal(t, "!22222222", got.Packet.From)
	require.Equal(t, "hello mesh", got.Packet.Text)
	require.True(t, got.To.IsBroadcast())
}

func TestOnPublishRejectsGarbage(t *testing.T) {
	hook, delivered := newTestHook(t)
	device := &mqtt.Client{ID: "!22222222"}

	_, err := hook.OnPublish(device, packets.Packet{
		TopicName: "msh/US/2/e/LongFast/!22222222",
		Payload:   []byte{0xff, 0xff, 0xff},
	})
	require.ErrorIs(t, err, packets.ErrRejectPacket)
	require.Empty(t, *delivered)
}

func TestOnPublishIgnoresOtherTraffic(t *testing.T) {
	hook, delivered := newTestHook(t)
	device := &mqtt.Client{ID: "!22222222"}

	_, err := hook.OnPublish(device, packets.Packet{TopicName: "msh/US/2/json/LongFast/!22222222", Payload: []byte("{}")})
	require.NoError(t, err)

	// the relay's own publishes come back through the hook
	topic, payload, err := newTestCodec(t, 0x11111111).EncodeText("echo", 0)
	require.NoError(t, err)
	_, err = hook.OnPublish(device, packets.Packet{TopicName: topic, Payload: payload})
	require.NoError(t, err)

	require.Empty(t, *delivered)
}
