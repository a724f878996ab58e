package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

var selectNodeNames = `SELECT node_id, long_name, short_name, last_refreshed FROM node_names`

// NodeNameStore persists the node ID to name mapping learned from the mesh.
type NodeNameStore interface {
	GetNode(ctx context.Context, nodeID string) (*models.NodeInfo, error)
	SaveNodes(nodes []models.NodeInfo) error
	GetAllNodes() ([]*models.NodeInfo, error)
}

type sqlNodeNameStore struct {
	db *sqlx.DB
}

// NewNodeNameDB creates a node name store on an open connection.
func NewNodeNameDB(dbconn *sqlx.DB) NodeNameStore {
	return &sqlNodeNameStore{db: dbconn}
}

func (s *sqlNodeNameStore) GetNode(ctx context.Context, nodeID string) (*models.NodeInfo, error) {
	query := s.db.Rebind(selectNodeNames + " WHERE node_id = ?;")
	var node models.NodeInfo
	err := s.db.GetContext(ctx, &node, query, nodeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// SaveNodes upserts nodes in a single transaction. Either every node is written
// or none is.
func (s *sqlNodeNameStore) SaveNodes(nodes []models.NodeInfo) error {
	if len(nodes) == 0 {
		return nil
	}
	stmt := `
	INSERT INTO node_names (node_id, long_name, short_name, last_refreshed)
	VALUES (:node_id, :long_name, :short_name, :last_refreshed)
	ON CONFLICT (node_id)
	DO UPDATE SET
		long_name = excluded.long_name,
		short_name = excluded.short_name,
		last_refreshed = excluded.last_refreshed
	;`

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	for i := range nodes {
		if _, err := tx.NamedExec(stmt, &nodes[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("saving node %s: %w", nodes[i].NodeID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlNodeNameStore) GetAllNodes() ([]*models.NodeInfo, error) {
	query := selectNodeNames + " ORDER BY node_id;"
	nodes := []*models.NodeInfo{}
	err := s.db.Select(&nodes, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
