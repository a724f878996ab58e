package meshtastic

import (
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// NodeTable tracks the names nodes announce in NODEINFO packets.
type NodeTable struct {
	mu    sync.RWMutex
	nodes map[string]models.NodeInfo
	now   func() time.Time
}

func NewNodeTable() *NodeTable {
	return &NodeTable{
		nodes: make(map[string]models.NodeInfo),
		now:   time.Now,
	}
}

// Observe records the user announced by from. The announced ID wins when present,
// since a NODEINFO may be relayed on behalf of another node.
func (t *NodeTable) Observe(from NodeID, user *pb.User) {
	if user == nil {
		return
	}
	id := user.Id
	if id == "" {
		id = from.String()
	}
	t.mu.Lock()
	t.nodes[id] = models.NodeInfo{
		NodeID:        id,
		LongName:      user.LongName,
		ShortName:     user.ShortName,
		LastRefreshed: t.now(),
	}
	t.mu.Unlock()
}

// Nodes returns a copy of the table.
func (t *NodeTable) Nodes() (map[string]models.NodeInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.NodeInfo, len(t.nodes))
	for k, v := range t.nodes {
		out[k] = v
	}
	return out, nil
}

func (t *NodeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
