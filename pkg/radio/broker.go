package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/hooks"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// BrokerTransport hosts an MQTT broker that radios uplink to directly.
type BrokerTransport struct {
	inbound
	settings config.BrokerSettings
	root     string
	server   *mqtt.Server
	hook     *hooks.RelayHook
	deliver  atomic.Pointer[func(models.RadioPacket)]
	running  atomic.Bool
}

func NewBrokerTransport(settings config.BrokerSettings, root string, codec *meshtastic.Codec, logger *slog.Logger) (*BrokerTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &BrokerTransport{
		inbound: inbound{
			codec: codec,
			nodes: meshtastic.NewNodeTable(),
			log:   logger.With("transport", "broker"),
		},
		settings: settings,
		root:     root,
		hook:     new(hooks.RelayHook),
	}

	t.server = mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       logger.With("component", "broker"),
	})
	err := t.server.AddHook(t.hook, &hooks.RelayHookOptions{
		Server:  t.server,
		Codec:   codec,
		Users:   settings.Users,
		Root:    root,
		Deliver: t.onDecoded,
	})
	if err != nil {
		return nil, fmt.Errorf("adding relay hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: settings.ListenAddr})
	if err := t.server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("adding listener on %s: %w", settings.ListenAddr, err)
	}
	return t, nil
}

func (t *BrokerTransport) onDecoded(d *meshtastic.Decoded) {
	deliver := t.deliver.Load()
	if deliver == nil {
		return
	}
	t.handle(d, *deliver)
}

// Start serves radio connections until ctx is cancelled.
func (t *BrokerTransport) Start(ctx context.Context, deliver func(models.RadioPacket)) error {
	t.deliver.Store(&deliver)
	if err := t.server.Serve(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	t.running.Store(true)
	t.log.Info("broker listening", "addr", t.settings.ListenAddr, "root", t.root)

	<-ctx.Done()
	t.running.Store(false)
	if err := t.server.Close(); err != nil {
		t.log.Error("error closing broker", "error", err)
	}
	return nil
}

// SendText publishes an encrypted broadcast text to every subscribed radio.
func (t *BrokerTransport) SendText(ctx context.Context, text string, channel int) error {
	if !t.running.Load() {
		return ErrNotConnected
	}
	topic, payload, err := t.codec.EncodeText(text, channel)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.server.Publish(topic, payload, false, 0); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	t.log.Debug("published text", "topic", topic, "bytes", len(text))
	return nil
}

func (t *BrokerTransport) Nodes() (map[string]models.NodeInfo, error) {
	return t.nodes.Nodes()
}

// Clients exposes the connected radios.
func (t *BrokerTransport) Clients() models.RadioClientLister {
	return t.hook
}
