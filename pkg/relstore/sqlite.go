// Package relstore is the SQLite-backed system of record for datasets, data
// rows, pipeline runs and query history.
package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// Store implements domain.RelationalStore over a single SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path) // modernc.org/sqlite registers as "sqlite"
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (tenant_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS data (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT,
			content_hash TEXT NOT NULL,
			mime TEXT,
			source_path TEXT,
			token_count INTEGER DEFAULT 0,
			pipeline_status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (tenant_id, content_hash)
		);`,
		`CREATE TABLE IF NOT EXISTS dataset_data (
			dataset_id TEXT NOT NULL,
			data_id TEXT NOT NULL,
			PRIMARY KEY (dataset_id, data_id),
			FOREIGN KEY (dataset_id) REFERENCES datasets (id) ON DELETE CASCADE,
			FOREIGN KEY (data_id) REFERENCES data (id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			stages TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			error TEXT,
			warnings TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS queries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			tenant_id TEXT NOT NULL,
			query TEXT NOT NULL,
			answer TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_data_tenant_hash ON data (tenant_id, content_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_dataset ON pipeline_runs (dataset_id, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_queries_session ON queries (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateDataset(ctx context.Context, ds domain.Dataset) error {
	if ds.Name == "" {
		return fmt.Errorf("%w: dataset name is required", domain.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, tenant_id, owner_id, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		ds.ID.String(), ds.TenantID.String(), ds.OwnerID.String(), ds.Name, ds.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: dataset %q already exists for tenant", domain.ErrValidation, ds.Name)
		}
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

func (s *Store) GetDataset(ctx context.Context, tenantID, id uuid.UUID) (domain.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, owner_id, name, created_at FROM datasets WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())

	var ds domain.Dataset
	var dsID, tenant, owner, createdAt string
	if err := row.Scan(&dsID, &tenant, &owner, &ds.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Dataset{}, fmt.Errorf("%w: dataset %s", domain.ErrNotFound, id)
		}
		return domain.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	ds.ID = uuid.MustParse(dsID)
	ds.TenantID = uuid.MustParse(tenant)
	ds.OwnerID = uuid.MustParse(owner)
	ds.CreatedAt = parseTime(createdAt)
	return ds, nil
}

func (s *Store) DeleteDataset(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM datasets WHERE tenant_id = ? AND id = ?`, tenantID.String(), id.String())
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: dataset %s", domain.ErrNotFound, id)
	}
	// Data rows referenced by no remaining dataset are orphans.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM data WHERE tenant_id = ? AND id NOT IN (SELECT data_id FROM dataset_data)`,
		tenantID.String())
	if err != nil {
		return fmt.Errorf("delete orphaned data: %w", err)
	}
	return nil
}

func (s *Store) PersistData(ctx context.Context, d domain.Data) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist data: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO data (id, tenant_id, name, content_hash, mime, source_path, token_count, pipeline_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, content_hash) DO UPDATE SET
			pipeline_status = excluded.pipeline_status,
			token_count = excluded.token_count`,
		d.ID.String(), d.TenantID.String(), d.Name, d.ContentHash, d.MIME, d.SourcePath,
		d.TokenCount, string(d.PipelineStatus), d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist data: %w", err)
	}

	for _, dsID := range d.DatasetIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO dataset_data (dataset_id, data_id) VALUES (?, ?)`,
			dsID.String(), d.ID.String())
		if err != nil {
			return fmt.Errorf("link data to dataset: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) DedupData(ctx context.Context, tenantID uuid.UUID, contentHash string) (uuid.UUID, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM data WHERE tenant_id = ? AND content_hash = ?`,
		tenantID.String(), contentHash)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("dedup data: %w", err)
	}
	return uuid.MustParse(id), nil
}

func (s *Store) ListData(ctx context.Context, tenantID, datasetID uuid.UUID) ([]domain.Data, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.tenant_id, d.name, d.content_hash, d.mime, d.source_path, d.token_count, d.pipeline_status, d.created_at
		 FROM data d JOIN dataset_data dd ON dd.data_id = d.id
		 WHERE d.tenant_id = ? AND dd.dataset_id = ?
		 ORDER BY d.created_at`,
		tenantID.String(), datasetID.String())
	if err != nil {
		return nil, fmt.Errorf("list data: %w", err)
	}
	defer rows.Close()

	var out []domain.Data
	for rows.Next() {
		var d domain.Data
		var id, tenant, status, createdAt string
		if err := rows.Scan(&id, &tenant, &d.Name, &d.ContentHash, &d.MIME, &d.SourcePath, &d.TokenCount, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan data: %w", err)
		}
		d.ID = uuid.MustParse(id)
		d.TenantID = uuid.MustParse(tenant)
		d.DatasetIDs = []uuid.UUID{datasetID}
		d.PipelineStatus = domain.PipelineStatus(status)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDataStatus(ctx context.Context, id uuid.UUID, status domain.PipelineStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data SET pipeline_status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("update data status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: data %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	stages, warnings, err := marshalRunFields(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, dataset_id, user_id, status, stages, started_at, ended_at, error, warnings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.DatasetID.String(), run.UserID.String(), string(run.Status),
		stages, run.StartedAt.UTC().Format(time.RFC3339Nano), endedAt(run), run.Error, warnings)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	stages, warnings, err := marshalRunFields(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, stages = ?, ended_at = ?, error = ?, warnings = ? WHERE id = ?`,
		string(run.Status), stages, endedAt(run), run.Error, warnings, run.ID.String())
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, run.ID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset_id, user_id, status, stages, started_at, ended_at, error, warnings
		 FROM pipeline_runs WHERE id = ?`, id.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, datasetID uuid.UUID) ([]*domain.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, user_id, status, stages, started_at, ended_at, error, warnings
		 FROM pipeline_runs WHERE dataset_id = ? ORDER BY started_at DESC`, datasetID.String())
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) SaveQuery(ctx context.Context, sessionID string, tenantID uuid.UUID, query, answer string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (session_id, tenant_id, query, answer, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, tenantID.String(), query, answer, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save query: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var id, dataset, user, status, startedAt string
	var stages, warnings, errMsg, ended sql.NullString
	if err := row.Scan(&id, &dataset, &user, &status, &stages, &startedAt, &ended, &errMsg, &warnings); err != nil {
		return nil, err
	}
	run.ID = uuid.MustParse(id)
	run.DatasetID = uuid.MustParse(dataset)
	run.UserID = uuid.MustParse(user)
	run.Status = domain.RunStatus(status)
	run.StartedAt = parseTime(startedAt)
	run.Error = errMsg.String
	if ended.Valid && ended.String != "" {
		t := parseTime(ended.String)
		run.EndedAt = &t
	}
	if stages.Valid && stages.String != "" {
		if err := json.Unmarshal([]byte(stages.String), &run.Stages); err != nil {
			return nil, fmt.Errorf("decode stages: %w", err)
		}
	}
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &run.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}
	return &run, nil
}

func marshalRunFields(run *domain.PipelineRun) (stages, warnings string, err error) {
	sb, err := json.Marshal(run.Stages)
	if err != nil {
		return "", "", fmt.Errorf("encode stages: %w", err)
	}
	wb, err := json.Marshal(run.Warnings)
	if err != nil {
		return "", "", fmt.Errorf("encode warnings: %w", err)
	}
	return string(sb), string(wb), nil
}

func endedAt(run *domain.PipelineRun) any {
	if run.EndedAt == nil {
		return nil
	}
	return run.EndedAt.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

var _ domain.RelationalStore = (*Store)(nil)
