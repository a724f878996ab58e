package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
)

func TestChannelMapLookups(t *testing.T) {
	rooms := []config.RoomDef{
		{ID: "!a:example.org", MeshtasticChannel: 0},
		{ID: "!b:example.org", MeshtasticChannel: 0},
		{ID: "#ops:example.org", MeshtasticChannel: 2},
		{ID: "!a:example.org", MeshtasticChannel: 3},
	}
	m := NewChannelMap(rooms, map[string]string{"#ops:example.org": "!ops:example.org"})

	require.Equal(t, []string{"!a:example.org", "!b:example.org"}, m.RoomsForChannel(0))
	require.Equal(t, []string{"!ops:example.org"}, m.RoomsForChannel(2))
	require.Empty(t, m.RoomsForChannel(1))
	require.Empty(t, m.RoomsForChannel(3), "duplicate room keeps its first mapping")

	ch, ok := m.ChannelForRoom("!ops:example.org")
	require.True(t, ok)
	require.Equal(t, 2, ch)

	_, ok = m.ChannelForRoom("#ops:example.org")
	require.False(t, ok)
	_, ok = m.ChannelForRoom("!unknown:example.org")
	require.False(t, ok)

	require.True(t, m.HasChannel(0))
	require.False(t, m.HasChannel(5))
	require.Len(t, m.Mappings(), 3)
	require.Equal(t, []string{"!a:example.org", "!b:example.org", "!ops:example.org"}, m.Rooms())
	require.Equal(t, []int{0, 2}, m.Channels())
}

func TestChannelMapReturnsCopies(t *testing.T) {
	m := NewChannelMap([]config.RoomDef{{ID: "!a:example.org", MeshtasticChannel: 0}}, nil)
	rooms := m.RoomsForChannel(0)
	rooms[0] = "!changed"
	require.Equal(t, []string{"!a:example.org"}, m.RoomsForChannel(0))
}
