package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

// NodeSource supplies a snapshot of the nodes currently known to the radio side.
type NodeSource interface {
	Nodes() (map[string]models.NodeInfo, error)
}

// NodeStore persists node names across restarts.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID string) (*models.NodeInfo, error)
	SaveNodes(nodes []models.NodeInfo) error
	GetAllNodes() ([]*models.NodeInfo, error)
}

// IdentityResolver maps node IDs to long names. Reads are served from memory;
// refreshes compute their changes without holding the lock and apply them in one
// short critical section.
type IdentityResolver struct {
	mu          sync.RWMutex
	names       map[string]models.NodeInfo
	lastRefresh time.Time

	store         NodeStore
	lookupTimeout time.Duration
	log           *slog.Logger
	metrics       *Metrics
	now           func() time.Time
}

// DefaultLookupTimeout bounds a single store lookup on a cache miss.
const DefaultLookupTimeout = 200 * time.Millisecond

func NewIdentityResolver(store NodeStore, logger *slog.Logger, metrics *Metrics) *IdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{
		names:         make(map[string]models.NodeInfo),
		store:         store,
		lookupTimeout: DefaultLookupTimeout,
		log:           logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Load primes the cache from the store.
func (r *IdentityResolver) Load() error {
	if r.store == nil {
		return nil
	}
	nodes, err := r.store.GetAllNodes()
	if err != nil {
		return fmt.Errorf("loading node names: %w", err)
	}
	r.mu.Lock()
	for _, n := range nodes {
		if n != nil && n.LongName != "" {
			r.names[n.NodeID] = *n
		}
	}
	count := len(r.names)
	r.mu.Unlock()
	r.metrics.IdentityEntries(count)
	r.log.Debug("loaded node names", "count", count)
	return nil
}

// Resolve returns the long name for nodeID, or nodeID itself when none is known.
// A cache miss consults the store for at most the lookup timeout.
func (r *IdentityResolver) Resolve(ctx context.Context, nodeID string) string {
	r.mu.RLock()
	n, ok := r.names[nodeID]
	r.mu.RUnlock()
	if ok && n.LongName != "" {
		return n.LongName
	}

	if r.store != nil {
		var stored *models.NodeInfo
		err := callBounded(ctx, r.lookupTimeout, func(ctx context.Context) error {
			n, err := r.store.GetNode(ctx, nodeID)
			stored = n
			return err
		})
		if err != nil {
			r.log.Warn("node name lookup failed", "node", nodeID, "error", err)
		} else if stored != nil && stored.LongName != "" {
			r.mu.Lock()
			if _, exists := r.names[nodeID]; !exists {
				r.names[nodeID] = *stored
			}
			r.mu.Unlock()
			return stored.LongName
		}
	}
	return nodeID
}

// Refresh merges a node table snapshot into the cache. Entries without a long name
// are ignored and nothing is ever removed. Changed entries are persisted first;
// if that fails the cache is left exactly as it was.
func (r *IdentityResolver) Refresh(snapshot map[string]models.NodeInfo) error {
	now := r.now()

	r.mu.RLock()
	var changed []models.NodeInfo
	for id, n := range snapshot {
		if n.LongName == "" {
			continue
		}
		if n.NodeID == "" {
			n.NodeID = id
		}
		old, ok := r.names[n.NodeID]
		if ok && old.LongName == n.LongName && old.ShortName == n.ShortName {
			continue
		}
		n.LastRefreshed = now
		changed = append(changed, n)
	}
	r.mu.RUnlock()

	if len(changed) > 0 && r.store != nil {
		if err := r.store.SaveNodes(changed); err != nil {
			r.metrics.RefreshFailed()
			return fmt.Errorf("persisting %d node names: %w", len(changed), err)
		}
	}

	r.mu.Lock()
	for _, n := range changed {
		r.names[n.NodeID] = n
	}
	r.lastRefresh = now
	count := len(r.names)
	r.mu.Unlock()

	r.metrics.IdentityEntries(count)
	if len(changed) > 0 {
		r.log.Debug("refreshed node names", "changed", len(changed), "total", count)
	}
	return nil
}

// RefreshFrom pulls a snapshot from source and merges it.
func (r *IdentityResolver) RefreshFrom(source NodeSource) error {
	snapshot, err := source.Nodes()
	if err != nil {
		r.metrics.RefreshFailed()
		return fmt.Errorf("reading node table: %w", err)
	}
	return r.Refresh(snapshot)
}

// Run refreshes from source every interval until ctx is cancelled.
func (r *IdentityResolver) Run(ctx context.Context, source NodeSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RefreshFrom(source); err != nil {
			r.log.Error("identity refresh failed, keeping cached names", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns the cached identities ordered by node ID.
func (r *IdentityResolver) Snapshot() []models.NodeInfo {
	r.mu.RLock()
	out := make([]models.NodeInfo, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (r *IdentityResolver) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}
