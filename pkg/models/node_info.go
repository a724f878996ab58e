package models

import "time"

// NodeInfo is a cached node identity: the node ID and the names it announced.
type NodeInfo struct {
	NodeID        string    `db:"node_id" json:"node_id"`
	LongName      string    `db:"long_name" json:"long_name"`
	ShortName     string    `db:"short_name" json:"short_name"`
	LastRefreshed time.Time `db:"last_refreshed" json:"last_refreshed"`
}

// GetSafeLongName returns the long name, falling back to the node ID.
func (n *NodeInfo) GetSafeLongName() string {
	if n.LongName != "" {
		return n.LongName
	}
	return n.NodeID
}
