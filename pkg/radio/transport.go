// Package radio connects the relay to the mesh over MQTT, either as a client of an
// existing broker or by hosting a broker radios uplink to.
package radio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

var ErrNotConnected = errors.New("radio transport not connected")

// Transport is a connection to the mesh.
type Transport interface {
	// Start connects and blocks until ctx is cancelled, passing every received
	// broadcast packet to deliver.
	Start(ctx context.Context, deliver func(models.RadioPacket)) error
	SendText(ctx context.Context, text string, channel int) error
	// Nodes returns the node names learned from NODEINFO traffic.
	Nodes() (map[string]models.NodeInfo, error)
}

// inbound turns decoded envelopes into relay packets. Both transports share it.
type inbound struct {
	codec *meshtastic.Codec
	nodes *meshtastic.NodeTable
	log   *slog.Logger
}

func (in *inbound) handle(d *meshtastic.Decoded, deliver func(models.RadioPacket)) {
	if d.User != nil {
		from, _ := meshtastic.ParseNodeID(d.Packet.From)
		in.nodes.Observe(from, d.User)
		in.log.Debug("learned node name", "node", d.Packet.From, "long_name", d.User.LongName, "known", in.nodes.Len())
	}
	if !d.To.IsBroadcast() {
		in.log.Debug("ignoring direct message", "from", d.Packet.From, "to", d.To.String())
		return
	}
	deliver(d.Packet)
}

// decode handles one raw publish, logging anything that did not decode.
func (in *inbound) decode(topic string, payload []byte, deliver func(models.RadioPacket)) {
	d, err := in.codec.Decode(topic, payload)
	if err != nil {
		if errors.Is(err, meshtastic.ErrOwnPacket) || errors.Is(err, meshtastic.ErrNotMeshTopic) {
			return
		}
		in.log.Debug("skipping mesh publish", "topic", topic, "error", err)
		return
	}
	in.handle(d, deliver)
}
