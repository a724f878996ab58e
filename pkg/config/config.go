package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
)

const (
	ConnectionMQTT   = "mqtt"
	ConnectionBroker = "broker"
)

var ErrInvalid = errors.New("invalid configuration")

type Configuration struct {
	Matrix      MatrixSettings          `mapstructure:"matrix"`
	MatrixRooms []RoomDef               `mapstructure:"matrix_rooms"`
	Meshtastic  MeshSettings            `mapstructure:"meshtastic"`
	Relay       RelaySettings           `mapstructure:"relay"`
	Database    DatabaseSettings        `mapstructure:"database"`
	Logging     LoggingSettings         `mapstructure:"logging"`
	Web         WebSettings             `mapstructure:"web"`
	Plugins     map[string]PluginConfig `mapstructure:"plugins"`
}

type MatrixSettings struct {
	Homeserver  string `mapstructure:"homeserver"`
	AccessToken string `mapstructure:"access_token"`
	BotUserID   string `mapstructure:"bot_user_id"`
}

// RoomDef maps a Matrix room ID or alias to a mesh channel index.
type RoomDef struct {
	ID                string `mapstructure:"id"`
	MeshtasticChannel int    `mapstructure:"meshtastic_channel"`
}

type MeshSettings struct {
	// ConnectionType selects the radio transport: "mqtt" connects to an existing
	// broker, "broker" runs an embedded broker radios uplink to.
	ConnectionType   string `mapstructure:"connection_type"`
	MeshnetName      string `mapstructure:"meshnet_name"`
	BroadcastEnabled bool   `mapstructure:"broadcast_enabled"`
	MqttRoot         string `mapstructure:"mqtt_root"`
	// Channels is indexed by mesh channel index: Channels[0] is the primary channel.
	Channels []MeshChannelDef `mapstructure:"channels"`
	SelfNode struct {
		NodeID    meshtastic.NodeID `mapstructure:"node_id"`
		LongName  string            `mapstructure:"long_name"`
		ShortName string            `mapstructure:"short_name"`
	} `mapstructure:"self_node"`
	HopLimit int            `mapstructure:"hop_limit"`
	MQTT     MQTTSettings   `mapstructure:"mqtt"`
	Broker   BrokerSettings `mapstructure:"broker"`
}

type MeshChannelDef struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
}

type MQTTSettings struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

type BrokerSettings struct {
	ListenAddr string       `mapstructure:"listen_addr"`
	Users      []BrokerUser `mapstructure:"users"`
}

// BrokerUser is a radio login for the embedded broker. Generate entries with genpass.
type BrokerUser struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Salt         string `mapstructure:"salt"`
}

type RelaySettings struct {
	MaxMessageBytes     int           `mapstructure:"max_message_bytes"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`
	PluginTimeout       time.Duration `mapstructure:"plugin_timeout"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	SyncRetryDelay      time.Duration `mapstructure:"sync_retry_delay"`
	QueueSize           int           `mapstructure:"queue_size"`
	QueueTimeout        time.Duration `mapstructure:"queue_timeout"`
	ShortLongnameLen    int           `mapstructure:"short_longname_len"`
	ShortMeshnetLen     int           `mapstructure:"short_meshnet_len"`
	ShortDisplayNameLen int           `mapstructure:"short_display_name_len"`
}

type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LoggingSettings struct {
	Level string `mapstructure:"level"`
}

type WebSettings struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type PluginConfig struct {
	Active bool `mapstructure:"active"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("meshtastic.connection_type", ConnectionMQTT)
	v.SetDefault("meshtastic.broadcast_enabled", false)
	v.SetDefault("meshtastic.mqtt_root", "msh/US")
	v.SetDefault("meshtastic.hop_limit", 3)
	v.SetDefault("meshtastic.mqtt.client_id", "meshtastic-matrix-relay")
	v.SetDefault("meshtastic.broker.listen_addr", ":1883")
	v.SetDefault("relay.max_message_bytes", 227)
	v.SetDefault("relay.send_timeout", 500*time.Millisecond)
	v.SetDefault("relay.plugin_timeout", 2*time.Second)
	v.SetDefault("relay.refresh_interval", 60*time.Second)
	v.SetDefault("relay.sync_retry_delay", 60*time.Second)
	v.SetDefault("relay.queue_size", 64)
	v.SetDefault("relay.queue_timeout", 500*time.Millisecond)
	v.SetDefault("relay.short_longname_len", 3)
	v.SetDefault("relay.short_meshnet_len", 5)
	v.SetDefault("relay.short_display_name_len", 5)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "meshtastic.sqlite")
	v.SetDefault("logging.level", "info")
	v.SetDefault("web.listen_addr", "")
}

// Load reads the configuration file at path. Values may be overridden with
// RELAY_ prefixed environment variables, e.g. RELAY_MATRIX_ACCESS_TOKEN.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Configuration
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		nodeIDHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func nodeIDHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(meshtastic.NodeID(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		return meshtastic.ParseNodeID(data.(string))
	}
}

// Validate checks the invariants the relay depends on.
func (c *Configuration) Validate() error {
	var errs []error
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("matrix.access_token is required"))
	}
	if c.Matrix.BotUserID == "" {
		errs = append(errs, errors.New("matrix.bot_user_id is required"))
	}
	if c.Meshtastic.MeshnetName == "" {
		errs = append(errs, errors.New("meshtastic.meshnet_name is required"))
	}
	switch c.Meshtastic.ConnectionType {
	case ConnectionMQTT:
		if c.Meshtastic.MQTT.Server == "" {
			errs = append(errs, errors.New("meshtastic.mqtt.server is required for mqtt connections"))
		}
	case ConnectionBroker:
	default:
		errs = append(errs, fmt.Errorf("unknown meshtastic.connection_type %q", c.Meshtastic.ConnectionType))
	}
	if c.Meshtastic.SelfNode.NodeID == 0 || c.Meshtastic.SelfNode.NodeID.IsBroadcast() {
		errs = append(errs, errors.New("meshtastic.self_node.node_id must be a unicast node id"))
	}
	if len(c.Meshtastic.Channels) == 0 {
		errs = append(errs, errors.New("meshtastic.channels must list at least the primary channel"))
	}

	seen := make(map[string]bool, len(c.MatrixRooms))
	for i, room := range c.MatrixRooms {
		if room.ID == "" {
			errs = append(errs, fmt.Errorf("matrix_rooms[%d].id is required", i))
			continue
		}
		if seen[room.ID] {
			errs = append(errs, fmt.Errorf("matrix_rooms[%d]: room %s is mapped more than once", i, room.ID))
		}
		seen[room.ID] = true
		if room.MeshtasticChannel < 0 || room.MeshtasticChannel >= len(c.Meshtastic.Channels) {
			errs = append(errs, fmt.Errorf("matrix_rooms[%d]: channel %d is not in meshtastic.channels", i, room.MeshtasticChannel))
		}
	}

	if c.Relay.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("relay.max_message_bytes must be positive"))
	}
	if c.Relay.SendTimeout <= 0 {
		errs = append(errs, errors.New("relay.send_timeout must be positive"))
	}
	if c.Relay.PluginTimeout < 0 {
		errs = append(errs, errors.New("relay.plugin_timeout must not be negative"))
	}
	if c.Relay.QueueSize <= 0 {
		errs = append(errs, errors.New("relay.queue_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PluginActive reports whether the named plugin is switched on.
func (c *Configuration) PluginActive(name string) bool {
	p, ok := c.Plugins[name]
	return ok && p.Active
}
