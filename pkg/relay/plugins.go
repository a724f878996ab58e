package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// Plugin observes relayed traffic in both directions. Plugins may send messages of
// their own but cannot stop the relay from delivering the original.
type Plugin interface {
	Name() string
	HandleRadioMessage(ctx context.Context, pkt models.RadioPacket, formatted, longname, meshnet string) error
	HandleChatMessage(ctx context.Context, roomID string, evt models.ChatEvent, formatted string) error
}

// DefaultPluginTimeout bounds a single plugin call when no timeout is given.
const DefaultPluginTimeout = 2 * time.Second

// Pipeline runs plugins in registration order. A failing, panicking or hung
// plugin is logged and skipped.
type Pipeline struct {
	plugins []Plugin
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

func NewPipeline(logger *slog.Logger, metrics *Metrics, timeout time.Duration, plugins ...Plugin) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultPluginTimeout
	}
	return &Pipeline{
		plugins: plugins,
		timeout: timeout,
		log:     logger,
		metrics: metrics,
	}
}

func (p *Pipeline) DispatchRadio(ctx context.Context, pkt models.RadioPacket, formatted, longname, meshnet string) {
	for _, pl := range p.plugins {
		p.invoke(ctx, pl, DirectionRadioToChat, func(ctx context.Context) error {
			return pl.HandleRadioMessage(ctx, pkt, formatted, longname, meshnet)
		})
	}
}

func (p *Pipeline) DispatchChat(ctx context.Context, roomID string, evt models.ChatEvent, formatted string) {
	for _, pl := range p.plugins {
		p.invoke(ctx, pl, DirectionChatToRadio, func(ctx context.Context) error {
			return pl.HandleChatMessage(ctx, roomID, evt, formatted)
		})
	}
}

func (p *Pipeline) invoke(ctx context.Context, pl Plugin, direction string, fn func(ctx context.Context) error) {
	err := callBounded(ctx, p.timeout, fn)
	switch {
	case err == nil:
		return
	case errors.Is(err, errPanicked):
		p.log.Error("plugin panicked", "plugin", pl.Name(), "direction", direction, "error", err)
	case errors.Is(err, context.DeadlineExceeded):
		p.log.Error("plugin timed out", "plugin", pl.Name(), "direction", direction, "timeout", p.timeout)
	default:
		p.log.Error("plugin failed", "plugin", pl.Name(), "direction", direction, "error", err)
	}
	p.metrics.PluginFailed(pl.Name())
}

// Names lists the registered plugins in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.plugins))
	for i, pl := range p.plugins {
		names[i] = pl.Name()
	}
	return names
}
