package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// MQTTTransport joins the mesh through an existing MQTT broker.
type MQTTTransport struct {
	inbound
	settings config.MQTTSettings
	client   paho.Client
	deliver  atomic.Pointer[func(models.RadioPacket)]
}

func NewMQTTTransport(settings config.MQTTSettings, codec *meshtastic.Codec, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &MQTTTransport{
		inbound: inbound{
			codec: codec,
			nodes: meshtastic.NewNodeTable(),
			log:   logger.With("transport", "mqtt"),
		},
		settings: settings,
	}
	t.client = paho.NewClient(t.clientOptions())
	return t
}

func (t *MQTTTransport) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.settings.Server).
		SetClientID(t.settings.ClientID).
		SetUsername(t.settings.Username).
		SetPassword(t.settings.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		// Handlers run in arrival order on paho's router goroutine; deliver
		// only enqueues with a bounded wait.
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(c paho.Client) {
		topic := t.codec.SubscribeTopic()
		token := c.Subscribe(topic, 0, t.onMessage)
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			t.log.Error("subscribe failed", "topic", topic, "error", token.Error())
			return
		}
		t.log.Info("connected to broker", "server", t.settings.Server, "topic", topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.log.Warn("lost broker connection", "server", t.settings.Server, "error", err)
	})
	return opts
}

func (t *MQTTTransport) onMessage(_ paho.Client, msg paho.Message) {
	deliver := t.deliver.Load()
	if deliver == nil {
		return
	}
	t.decode(msg.Topic(), msg.Payload(), *deliver)
}

// Start connects to the broker and blocks until ctx is cancelled. Connection
// failures after the first attempt are retried in the background.
func (t *MQTTTransport) Start(ctx context.Context, deliver func(models.RadioPacket)) error {
	t.deliver.Store(&deliver)

	token := t.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to %s: %w", t.settings.Server, err)
		}
	case <-ctx.Done():
		t.client.Disconnect(0)
		return nil
	}

	<-ctx.Done()
	t.client.Disconnect(250)
	t.log.Info("disconnected from broker")
	return nil
}

// SendText publishes an encrypted broadcast text on channel.
func (t *MQTTTransport) SendText(ctx context.Context, text string, channel int) error {
	if !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	topic, payload, err := t.codec.EncodeText(text, channel)
	if err != nil {
		return err
	}

	token := t.client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	t.log.Debug("published text", "topic", topic, "bytes", len(text))
	return nil
}

func (t *MQTTTransport) Nodes() (map[string]models.NodeInfo, error) {
	return t.nodes.Nodes()
}
