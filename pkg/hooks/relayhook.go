package hooks

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

const meshDevicePattern = `^(?:Meshtastic(Android|Apple)MqttProxy-)?(![0-9a-f]{8})$`

var meshDeviceRegex = regexp.MustCompile(meshDevicePattern)

// RelayHookOptions contains configuration settings for the hook.
type RelayHookOptions struct {
	Server *mqtt.Server
	Codec  *meshtastic.Codec
	Users  []config.BrokerUser
	// Root is the topic root radios publish under, e.g. "msh/US".
	Root string
	// Deliver receives every packet that decoded successfully.
	Deliver func(d *meshtastic.Decoded)
}

var _ models.RadioClientLister = (*RelayHook)(nil)

// RelayHook authenticates radios uplinking to the embedded broker and hands their
// channel traffic to the relay.
type RelayHook struct {
	mqtt.HookBase
	config       *RelayHookOptions
	meshFilter   auth.RString
	users        map[string]config.BrokerUser
	knownClients map[string]*models.ClientDetails
	clientLock   sync.RWMutex
}

func (h *RelayHook) ID() string {
	return "relay-hook"
}

func (h *RelayHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnDisconnect,
		mqtt.OnSubscribed,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *RelayHook) Init(cfg any) error {
	opts, ok := cfg.(*RelayHookOptions)
	if !ok || opts == nil {
		return mqtt.ErrInvalidConfigType
	}

	h.config = opts
	if h.config.Server == nil || h.config.Codec == nil || h.config.Deliver == nil {
		return mqtt.ErrInvalidConfigType
	}

	h.meshFilter = auth.RString(h.config.Root + "/2/#")
	h.users = make(map[string]config.BrokerUser, len(h.config.Users))
	for _, u := range h.config.Users {
		h.users[u.Username] = u
	}
	h.knownClients = make(map[string]*models.ClientDetails)
	h.Log.Info("initialised", "users", len(h.users), "filter", string(h.meshFilter))
	return nil
}

// GetClients lists the radios currently connected, ordered by client ID.
func (h *RelayHook) GetClients() []*models.ClientDetails {
	h.clientLock.RLock()
	clients := make([]*models.ClientDetails, 0, len(h.knownClients))
	for _, c := range h.knownClients {
		cd := *c
		clients = append(clients, &cd)
	}
	h.clientLock.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients
}

// OnConnectAuthenticate accepts clients whose credentials match a configured broker user.
func (h *RelayHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	user := string(pk.Connect.Username)
	clientID := cl.ID

	if !h.validateUser(user, string(pk.Connect.Password)) {
		h.Log.Info("client failed authentication check", "username", user, "client", clientID, "remote", cl.Net.Remote)
		return false
	}

	nodeID, proxyType := "", ""
	if matches := meshDeviceRegex.FindStringSubmatch(clientID); matches != nil {
		proxyType = matches[1]
		nodeID = matches[2]
	}
	h.clientLock.Lock()
	h.knownClients[clientID] = &models.ClientDetails{
		UserID:    user,
		ClientID:  clientID,
		NodeID:    nodeID,
		ProxyType: proxyType,
		Address:   cl.Net.Remote,
	}
	h.clientLock.Unlock()
	h.Log.Info("client authenticated", "username", user, "client", clientID, "node", nodeID, "proxy", proxyType)
	return true
}

// OnACLCheck limits clients to the mesh topic tree.
func (h *RelayHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if topic == "will" || topic == "/will" {
		return true
	}
	if !h.meshFilter.FilterMatches(topic) {
		h.Log.Debug("client failed ACL check", "client", cl.ID, "topic", topic, "write", write)
		return false
	}

	h.clientLock.RLock()
	_, ok := h.knownClients[cl.ID]
	h.clientLock.RUnlock()
	if !ok {
		h.Log.Warn("unknown client in ACL check", "client", cl.ID, "topic", topic)
		return false
	}
	return true
}

func (h *RelayHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.clientLock.Lock()
	delete(h.knownClients, cl.ID)
	h.clientLock.Unlock()
	if err != nil {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
	} else {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire)
	}
}

func (h *RelayHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	h.Log.Info(fmt.Sprintf("subscribed qos=%v", reasonCodes), "client", cl.ID, "filters", pk.Filters)
}

// OnPublish decodes channel traffic and forwards it. Payloads in the mesh tree that
// are not service envelopes are rejected.
func (h *RelayHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline || !h.config.Codec.IsMeshTopic(pk.TopicName) {
		return pk, nil
	}

	d, err := h.config.Codec.Decode(pk.TopicName, pk.Payload)
	switch {
	case err == nil:
	case errors.Is(err, meshtastic.ErrMalformed):
		h.Log.Error("received non-mesh payload from client", "client", cl.ID, "topic", pk.TopicName, "error", err)
		return pk, packets.ErrRejectPacket
	case errors.Is(err, meshtastic.ErrOwnPacket):
		return pk, nil
	default:
		h.Log.Debug("skipping packet", "client", cl.ID, "topic", pk.TopicName, "error", err)
		return pk, nil
	}

	if d.User != nil {
		h.updateClientNames(d.Packet.From, d.User.LongName, d.User.ShortName)
	}
	h.config.Deliver(d)
	return pk, nil
}

// updateClientNames copies announced names onto the connected client for nodeID.
func (h *RelayHook) updateClientNames(nodeID, longName, shortName string) {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()
	for _, c := range h.knownClients {
		if c.NodeID == nodeID {
			c.LongName = longName
			c.ShortName = shortName
		}
	}
}
