package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/matrix"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/meshtastic"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/plugins"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/radio"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/routes"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to the configuration file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("relay exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		opts := *slogcolor.DefaultOptions
		opts.Level = level
		return slog.New(slogcolor.NewHandler(os.Stderr, &opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newZerolog builds the logger handed to mautrix, at the same level as slog.
func newZerolog(level string) zerolog.Logger {
	zl, err := zerolog.ParseLevel(level)
	if err != nil || zl == zerolog.NoLevel {
		zl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		Level(zl).
		With().Timestamp().Str("component", "mautrix").
		Logger()
}

func channelDefs(cfg *config.Configuration) []meshtastic.ChannelDef {
	defs := make([]meshtastic.ChannelDef, len(cfg.Meshtastic.Channels))
	for i, ch := range cfg.Meshtastic.Channels {
		defs[i] = meshtastic.ChannelDef{Name: ch.Name, Key: ch.Key}
	}
	return defs
}

// newTransport picks the radio transport. The client lister is only available
// when the relay hosts the broker.
func newTransport(cfg *config.Configuration, codec *meshtastic.Codec, logger *slog.Logger) (radio.Transport, models.RadioClientLister, error) {
	switch cfg.Meshtastic.ConnectionType {
	case config.ConnectionBroker:
		t, err := radio.NewBrokerTransport(cfg.Meshtastic.Broker, cfg.Meshtastic.MqttRoot, codec, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Clients(), nil
	default:
		return radio.NewMQTTTransport(cfg.Meshtastic.MQTT, codec, logger), nil, nil
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startTime := time.Now()

	stores, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer stores.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(reg)

	identity := relay.NewIdentityResolver(stores.NodeNames, logger.With("component", "identity"), metrics)
	if err := identity.Load(); err != nil {
		return err
	}

	self := cfg.Meshtastic.SelfNode
	codec, err := meshtastic.NewCodec(meshtastic.CodecOptions{
		Root:     cfg.Meshtastic.MqttRoot,
		SelfNode: self.NodeID,
		HopLimit: cfg.Meshtastic.HopLimit,
		Channels: channelDefs(cfg),
	})
	if err != nil {
		return fmt.Errorf("configuring channels: %w", err)
	}
	transport, clients, err := newTransport(cfg, codec, logger)
	if err != nil {
		return err
	}
	logger.Info("radio configured",
		"connection", cfg.Meshtastic.ConnectionType,
		"node", self.NodeID.String(),
		"long_name", self.LongName,
		"short_name", self.ShortName,
		"meshnet", cfg.Meshtastic.MeshnetName,
		"broadcast", cfg.Meshtastic.BroadcastEnabled)

	mx, err := matrix.NewClient(cfg.Matrix, cfg.Relay.SyncRetryDelay, logger, newZerolog(cfg.Logging.Level))
	if err != nil {
		return err
	}
	if err := mx.Verify(ctx); err != nil {
		return err
	}
	aliases, err := mx.JoinRooms(ctx, cfg.MatrixRooms)
	if err != nil {
		return err
	}
	channels := relay.NewChannelMap(cfg.MatrixRooms, aliases)

	notifier := routes.NewRelayNotifier()
	pipeline := relay.NewPipeline(logger.With("component", "plugins"), metrics, cfg.Relay.PluginTimeout,
		plugins.Registry(cfg, plugins.Deps{
			Chat:             mx,
			Radio:            transport,
			Nodes:            identity,
			Logger:           logger,
			BroadcastEnabled: cfg.Meshtastic.BroadcastEnabled,
		})...)

	router := relay.NewRouter(relay.Options{
		MeshnetName:         cfg.Meshtastic.MeshnetName,
		BotUserID:           cfg.Matrix.BotUserID,
		BroadcastEnabled:    cfg.Meshtastic.BroadcastEnabled,
		MaxMessageBytes:     cfg.Relay.MaxMessageBytes,
		SendTimeout:         cfg.Relay.SendTimeout,
		QueueSize:           cfg.Relay.QueueSize,
		QueueTimeout:        cfg.Relay.QueueTimeout,
		ShortLongnameLen:    cfg.Relay.ShortLongnameLen,
		ShortMeshnetLen:     cfg.Relay.ShortMeshnetLen,
		ShortDisplayNameLen: cfg.Relay.ShortDisplayNameLen,
		StartTime:           startTime,
	}, relay.Deps{
		Channels: channels,
		Identity: identity,
		Plugins:  pipeline,
		Chat:     mx,
		Radio:    transport,
		Metrics:  metrics,
		Logger:   logger.With("component", "router"),
		Observer: notifier,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(ctx)
	})
	g.Go(func() error {
		identity.Run(ctx, transport, cfg.Relay.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		return transport.Start(ctx, func(pkt models.RadioPacket) {
			if err := router.SubmitRadio(pkt); err != nil {
				logger.Warn("dropping radio packet", "from", pkt.From, "error", err)
			}
		})
	})
	g.Go(func() error {
		deliver := func(evt models.ChatEvent) {
			if err := router.SubmitChat(evt); err != nil {
				logger.Warn("dropping chat event", "room", evt.RoomID, "event", evt.EventID, "error", err)
			}
		}
		refresh := func() {
			if err := identity.RefreshFrom(transport); err != nil {
				logger.Error("identity refresh failed, keeping cached names", "error", err)
			}
		}
		return mx.Run(ctx, deliver, refresh)
	})
	if cfg.Web.ListenAddr != "" {
		status := &routes.StatusRouter{
			Identity: identity,
			Channels: channels,
			Clients:  clients,
			Notifier: notifier,
			Gatherer: reg,
		}
		g.Go(func() error {
			return status.ListenAndServe(ctx, cfg.Web.ListenAddr)
		})
	}

	logger.Info("relay started", "rooms", len(channels.Mappings()), "plugins", pipeline.Names())
	err = g.Wait()
	logger.Info("relay stopped")
	return err
}
