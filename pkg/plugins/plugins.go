// Package plugins holds the relay's built-in plugins.
package plugins

import (
	"log/slog"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
)

// NodeLister lists the identities the relay knows about.
type NodeLister interface {
	Snapshot() []models.NodeInfo
}

// Deps are the services plugins may use to reply.
type Deps struct {
	Chat   relay.ChatSender
	Radio  relay.RadioSender
	Nodes  NodeLister
	Logger *slog.Logger
	// BroadcastEnabled gates replies sent to the mesh.
	BroadcastEnabled bool
}

// Registry builds the active plugins in a fixed order.
func Registry(cfg *config.Configuration, deps Deps) []relay.Plugin {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	all := []relay.Plugin{
		NewPing(deps.Chat, deps.Radio, deps.BroadcastEnabled),
		NewNodes(deps.Chat, deps.Nodes),
	}

	var active []relay.Plugin
	for _, p := range all {
		if cfg.PluginActive(p.Name()) {
			active = append(active, p)
			deps.Logger.Info("plugin enabled", "plugin", p.Name())
		}
	}
	return active
}
