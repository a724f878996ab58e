package relay

import (
	"slices"
	"sort"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
)

// ChannelMap associates mesh channel indices with chat rooms. It is built once
// and never modified.
type ChannelMap struct {
	byChannel map[int][]string
	byRoom    map[string]int
}

// NewChannelMap indexes the configured room mappings. Entries whose ID appears in
// aliases (alias -> room ID) are stored under the resolved room ID. When a room is
// mapped twice the first mapping wins.
func NewChannelMap(rooms []config.RoomDef, aliases map[string]string) *ChannelMap {
	m := &ChannelMap{
		byChannel: make(map[int][]string),
		byRoom:    make(map[string]int),
	}
	for _, r := range rooms {
		id := r.ID
		if resolved, ok := aliases[id]; ok && resolved != "" {
			id = resolved
		}
		if _, dup := m.byRoom[id]; dup {
			continue
		}
		m.byRoom[id] = r.MeshtasticChannel
		m.byChannel[r.MeshtasticChannel] = append(m.byChannel[r.MeshtasticChannel], id)
	}
	return m
}

// RoomsForChannel returns every room mapped to channel, in configuration order.
func (m *ChannelMap) RoomsForChannel(channel int) []string {
	return slices.Clone(m.byChannel[channel])
}

func (m *ChannelMap) ChannelForRoom(roomID string) (int, bool) {
	ch, ok := m.byRoom[roomID]
	return ch, ok
}

// HasChannel reports whether any room is mapped to channel.
func (m *ChannelMap) HasChannel(channel int) bool {
	return len(m.byChannel[channel]) > 0
}

// Mappings returns room ID -> channel for every mapping.
func (m *ChannelMap) Mappings() map[string]int {
	out := make(map[string]int, len(m.byRoom))
	for k, v := range m.byRoom {
		out[k] = v
	}
	return out
}

// Rooms lists every mapped room ID, sorted.
func (m *ChannelMap) Rooms() []string {
	rooms := make([]string, 0, len(m.byRoom))
	for room := range m.byRoom {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Channels lists every channel with at least one room, ascending.
func (m *ChannelMap) Channels() []int {
	channels := make([]int, 0, len(m.byChannel))
	for ch := range m.byChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	return channels
}
