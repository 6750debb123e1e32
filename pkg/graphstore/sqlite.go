// Package graphstore persists the knowledge graph as typed nodes and edges.
// The SQLite implementation is the durable default; Memory backs tests.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/liliang-cn/cognify/pkg/domain"
)

const propDatasetID = "dataset_id"

// Store implements domain.GraphStore over SQLite.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize graph tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT,
			dataset_id TEXT,
			props TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			dataset_id TEXT,
			props TEXT,
			PRIMARY KEY (source_id, target_id, type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_dataset ON nodes (dataset_id);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_id);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddNodes(ctx context.Context, nodes []domain.GraphNode) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add nodes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, n := range nodes {
		props, err := json.Marshal(n.Props)
		if err != nil {
			return 0, fmt.Errorf("encode node props: %w", err)
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes WHERE id = ?`, n.ID.String()).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("add nodes: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (id, type, name, dataset_id, props) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET type = excluded.type, name = excluded.name,
				dataset_id = excluded.dataset_id, props = excluded.props`,
			n.ID.String(), n.Type, n.Name, datasetOf(n.Props), string(props))
		if err != nil {
			return 0, fmt.Errorf("upsert node %s: %w", n.ID, err)
		}
		if exists == 0 {
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add nodes: %w", err)
	}
	return created, nil
}

func (s *Store) AddEdges(ctx context.Context, edges []domain.GraphEdge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add edges: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, e := range edges {
		var endpoints int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM nodes WHERE id IN (?, ?)`,
			e.SourceID.String(), e.TargetID.String()).Scan(&endpoints)
		if err != nil {
			return 0, fmt.Errorf("add edges: %w", err)
		}
		want := 2
		if e.SourceID == e.TargetID {
			want = 1
		}
		if endpoints < want {
			return 0, fmt.Errorf("%w: edge %s -[%s]-> %s references a missing node",
				domain.ErrIntegrity, e.SourceID, e.Type, e.TargetID)
		}

		props, err := json.Marshal(e.Props)
		if err != nil {
			return 0, fmt.Errorf("encode edge props: %w", err)
		}
		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM edges WHERE source_id = ? AND target_id = ? AND type = ?`,
			e.SourceID.String(), e.TargetID.String(), e.Type).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("add edges: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO edges (source_id, target_id, type, dataset_id, props) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (source_id, target_id, type) DO UPDATE SET
				dataset_id = excluded.dataset_id, props = excluded.props`,
			e.SourceID.String(), e.TargetID.String(), e.Type, datasetOf(e.Props), string(props))
		if err != nil {
			return 0, fmt.Errorf("upsert edge: %w", err)
		}
		if exists == 0 {
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add edges: %w", err)
	}
	return created, nil
}

func (s *Store) QueryNodesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.GraphNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, name, props FROM nodes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// QueryNeighbors walks edges breadth first from id, returning every edge
// reached within depth hops.
func (s *Store) QueryNeighbors(ctx context.Context, id uuid.UUID, depth int) ([]domain.GraphEdge, error) {
	if depth <= 0 {
		depth = 1
	}
	visited := map[uuid.UUID]struct{}{id: {}}
	seen := map[string]struct{}{}
	frontier := []uuid.UUID{id}

	var out []domain.GraphEdge
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(frontier)), ",")
		args := make([]any, 0, len(frontier)*2)
		for _, f := range frontier {
			args = append(args, f.String())
		}
		for _, f := range frontier {
			args = append(args, f.String())
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT source_id, target_id, type, props FROM edges
			 WHERE source_id IN (`+placeholders+`) OR target_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query neighbors: %w", err)
		}

		var next []uuid.UUID
		for rows.Next() {
			e, err := scanEdge(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			key := e.SourceID.String() + "\x00" + e.TargetID.String() + "\x00" + e.Type
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e)
			for _, nid := range []uuid.UUID{e.SourceID, e.TargetID} {
				if _, ok := visited[nid]; !ok {
					visited[nid] = struct{}{}
					next = append(next, nid)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}
	return out, nil
}

func (s *Store) DeleteSubgraph(ctx context.Context, datasetID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete subgraph: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ds := datasetID.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE dataset_id = ?`, ds); err != nil {
		return fmt.Errorf("delete subgraph edges: %w", err)
	}
	// Edges whose endpoints vanish with the dataset's nodes go too.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE source_id IN (SELECT id FROM nodes WHERE dataset_id = ?)
			OR target_id IN (SELECT id FROM nodes WHERE dataset_id = ?)`, ds, ds); err != nil {
		return fmt.Errorf("delete subgraph edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE dataset_id = ?`, ds); err != nil {
		return fmt.Errorf("delete subgraph nodes: %w", err)
	}
	return tx.Commit()
}

func scanNode(rows *sql.Rows) (domain.GraphNode, error) {
	var n domain.GraphNode
	var id string
	var props sql.NullString
	if err := rows.Scan(&id, &n.Type, &n.Name, &props); err != nil {
		return n, fmt.Errorf("scan node: %w", err)
	}
	n.ID = uuid.MustParse(id)
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &n.Props); err != nil {
			return n, fmt.Errorf("decode node props: %w", err)
		}
	}
	return n, nil
}

func scanEdge(rows *sql.Rows) (domain.GraphEdge, error) {
	var e domain.GraphEdge
	var src, tgt string
	var props sql.NullString
	if err := rows.Scan(&src, &tgt, &e.Type, &props); err != nil {
		return e, fmt.Errorf("scan edge: %w", err)
	}
	e.SourceID = uuid.MustParse(src)
	e.TargetID = uuid.MustParse(tgt)
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &e.Props); err != nil {
			return e, fmt.Errorf("decode edge props: %w", err)
		}
	}
	return e, nil
}

func datasetOf(props map[string]any) string {
	if props == nil {
		return ""
	}
	if v, ok := props[propDatasetID]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if id, ok := v.(uuid.UUID); ok {
			return id.String()
		}
	}
	return ""
}

var _ domain.GraphStore = (*Store)(nil)
