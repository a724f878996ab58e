package meshtastic

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/kabili207/meshtastic-go/core/crypto"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

const bitfieldOkToMQTT = 1

var (
	// Matches Meshtastic channel topics: {root}/2/e/{channel}/{gateway}
	topicRegex = regexp.MustCompile(`^(.+)/2/e/([^/]+)/(![a-f0-9]{8})$`)

	ErrNotMeshTopic   = errors.New("not a meshtastic channel topic")
	ErrOwnPacket      = errors.New("packet originated from this relay")
	ErrUnknownChannel = errors.New("channel not configured")
	ErrNoPacket       = errors.New("service envelope carries no packet")
	ErrMalformed      = errors.New("malformed service envelope")
)

// ChannelDef is a channel name and its base64 PSK, in channel index order.
type ChannelDef struct {
	Name string
	Key  string
}

type CodecOptions struct {
	Root     string
	SelfNode NodeID
	HopLimit int
	Channels []ChannelDef
}

type channelKey struct {
	index int
	name  string
	key   []byte
	hash  uint32
}

// Codec converts between MQTT ServiceEnvelope payloads and relay packets, handling
// channel PSK encryption in both directions.
type Codec struct {
	root     string
	self     NodeID
	hopLimit int
	channels []*channelKey
	byName   map[string]*channelKey

	packetIDCounter uint32
	packetIDLock    sync.Mutex
}

// Decoded is the result of decoding one published envelope.
type Decoded struct {
	Packet  models.RadioPacket
	To      NodeID
	Gateway string
	// User is set for NODEINFO packets.
	User *pb.User
}

func NewCodec(opts CodecOptions) (*Codec, error) {
	c := &Codec{
		root:     opts.Root,
		self:     opts.SelfNode,
		hopLimit: opts.HopLimit,
		byName:   make(map[string]*channelKey),
	}
	for i, ch := range opts.Channels {
		key, err := channelPSK(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, ch.Name, err)
		}
		hash, err := crypto.ChannelHash(ch.Name, key)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, ch.Name, err)
		}
		idx := &channelKey{index: i, name: ch.Name, key: key, hash: hash}
		c.channels = append(c.channels, idx)
		c.byName[ch.Name] = idx
	}
	return c, nil
}

func channelPSK(ch ChannelDef) ([]byte, error) {
	if ch.Key == "" {
		return crypto.DefaultKey, nil
	}
	return crypto.ParseKey(ch.Key)
}

// SubscribeTopic is the MQTT filter covering every configured channel.
func (c *Codec) SubscribeTopic() string {
	return c.root + "/2/e/#"
}

// ChannelTopic is the topic the relay publishes to for a channel.
func (c *Codec) ChannelTopic(channel int) (string, error) {
	if channel < 0 || channel >= len(c.channels) {
		return "", fmt.Errorf("%w: index %d", ErrUnknownChannel, channel)
	}
	return c.root + "/2/e/" + c.channels[channel].name + "/" + c.self.String(), nil
}

// IsMeshTopic reports whether topic belongs to this codec's root.
func (c *Codec) IsMeshTopic(topic string) bool {
	m := topicRegex.FindStringSubmatch(topic)
	return len(m) > 0 && m[1] == c.root
}

// Decode parses and decrypts a ServiceEnvelope published on topic.
func (c *Codec) Decode(topic string, payload []byte) (*Decoded, error) {
	m := topicRegex.FindStringSubmatch(topic)
	if len(m) == 0 || m[1] != c.root {
		return nil, ErrNotMeshTopic
	}
	channelName, gateway := m[2], m[3]
	if gateway == c.self.String() {
		return nil, ErrOwnPacket
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	packet := env.GetPacket()
	if packet == nil {
		return nil, ErrNoPacket
	}
	if NodeID(packet.From) == c.self {
		return nil, ErrOwnPacket
	}

	ch, ok := c.byName[channelName]
	if !ok {
		ch, ok = c.byName[env.GetChannelId()]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelName)
	}

	data := packet.GetDecoded()
	if data == nil {
		var err error
		data, err = crypto.TryDecode(packet, ch.key)
		if err != nil {
			return nil, fmt.Errorf("decrypting packet on %s: %w", ch.name, err)
		}
	}

	rx := time.Now()
	if packet.RxTime != 0 {
		rx = time.Unix(int64(packet.RxTime), 0)
	}
	d := &Decoded{
		Packet: models.RadioPacket{
			From:       NodeID(packet.From).String(),
			Channel:    ch.index,
			HasChannel: true,
			Kind:       kindForPort(data.Portnum),
			PacketID:   packet.Id,
			RxTime:     rx,
		},
		To:      NodeID(packet.To),
		Gateway: gateway,
	}

	switch data.Portnum {
	case pb.PortNum_TEXT_MESSAGE_APP:
		d.Packet.Text = string(data.Payload)
	case pb.PortNum_NODEINFO_APP:
		var user pb.User
		if err := proto.Unmarshal(data.Payload, &user); err == nil {
			d.User = &user
		}
	}
	return d, nil
}

func kindForPort(port pb.PortNum) models.PacketKind {
	switch port {
	case pb.PortNum_TEXT_MESSAGE_APP:
		return models.KindText
	case pb.PortNum_TELEMETRY_APP:
		return models.KindTelemetry
	case pb.PortNum_POSITION_APP:
		return models.KindPosition
	case pb.PortNum_ADMIN_APP:
		return models.KindAdmin
	case pb.PortNum_NODEINFO_APP:
		return models.KindNodeInfo
	default:
		return models.KindUnknown
	}
}

// EncodeText builds an encrypted broadcast text packet for a channel and returns
// the topic and payload to publish.
func (c *Codec) EncodeText(text string, channel int) (string, []byte, error) {
	topic, err := c.ChannelTopic(channel)
	if err != nil {
		return "", nil, err
	}
	ch := c.channels[channel]

	bitfield := uint32(bitfieldOkToMQTT)
	data := pb.Data{
		Portnum:  pb.PortNum_TEXT_MESSAGE_APP,
		Payload:  []byte(text),
		Bitfield: &bitfield,
	}
	rawData, err := proto.Marshal(&data)
	if err != nil {
		return "", nil, fmt.Errorf("marshalling data: %w", err)
	}

	packetID := c.generatePacketID()
	fromNode := uint32(c.self)
	encrypted, err := crypto.XOR(rawData, ch.key, packetID, fromNode)
	if err != nil {
		return "", nil, fmt.Errorf("encrypting packet: %w", err)
	}

	hopStart, hopLimit := c.getHopValues()
	pkt := pb.MeshPacket{
		Id:       packetID,
		To:       uint32(BROADCAST_ID),
		From:     fromNode,
		HopLimit: hopLimit,
		HopStart: hopStart,
		ViaMqtt:  true,
		RxTime:   uint32(time.Now().Unix()),
		Channel:  ch.hash,
		Priority: pb.MeshPacket_DEFAULT,
		Delayed:  pb.MeshPacket_NO_DELAY,
		PayloadVariant: &pb.MeshPacket_Encrypted{
			Encrypted: encrypted,
		},
	}
	env := pb.ServiceEnvelope{
		ChannelId: ch.name,
		GatewayId: c.self.String(),
		Packet:    &pkt,
	}
	rawEnv, err := proto.Marshal(&env)
	if err != nil {
		return "", nil, fmt.Errorf("marshalling service envelope: %w", err)
	}
	return topic, rawEnv, nil
}

// getHopValues returns HopStart and HopLimit for relayed packets. The relay
// consumes one hop.
func (c *Codec) getHopValues() (hopStart, hopLimit uint32) {
	configured := c.hopLimit
	if configured <= 0 {
		configured = 3
	}
	if configured > 7 {
		configured = 7
	}
	hopStart = uint32(configured)
	hopLimit = hopStart - 1
	return
}

func (c *Codec) generatePacketID() uint32 {
	c.packetIDLock.Lock()
	defer c.packetIDLock.Unlock()

	c.packetIDCounter++
	// Mix in some randomness like the firmware does
	c.packetIDCounter = (c.packetIDCounter & 0x3FF) | (uint32(time.Now().UnixNano()&0x3FFFFF) << 10)
	return c.packetIDCounter
}
