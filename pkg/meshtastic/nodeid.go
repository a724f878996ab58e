package meshtastic

import (
	"fmt"
	"strconv"
	"strings"
)

// BROADCAST_ID is the destination used for channel-wide packets.
const BROADCAST_ID = 0xFFFFFFFF

// NodeID is a Meshtastic node number. Its canonical text form is "!" followed by
// eight lowercase hex digits.
type NodeID uint32

func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// IsBroadcast reports whether the ID is the broadcast address.
func (n NodeID) IsBroadcast() bool {
	return uint32(n) == BROADCAST_ID
}

// ParseNodeID accepts "!deadbeef", "deadbeef", "0xdeadbeef" or a decimal node number.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty node id")
	}
	var hex string
	switch {
	case strings.HasPrefix(s, "!"):
		hex = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		hex = s[2:]
	}
	if hex != "" {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", s, err)
		}
		return NodeID(v), nil
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return NodeID(v), nil
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeID(v), nil
}
