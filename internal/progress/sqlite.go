package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"content-pipeline-service/internal/entity"
)

// SQLite implements Store on a single local file, for CLI-style runs on
// one host. Assumes one orchestration run per entity key at a time; the
// upsert path has no cross-process locking.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS progress (
  run_id TEXT NOT NULL,
  entity_key TEXT NOT NULL,
  stage TEXT NOT NULL,
  status TEXT NOT NULL,
  artifacts TEXT,
  reason TEXT,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (run_id, entity_key, stage)
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const sqliteUpsertQ = `
INSERT INTO progress (run_id, entity_key, stage, status, artifacts, reason, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, entity_key, stage)
DO UPDATE SET status = excluded.status,
              artifacts = excluded.artifacts,
              reason = excluded.reason,
              updated_at = excluded.updated_at;
`

func (s *SQLite) upsert(ctx context.Context, runID, entityKey string, stage entity.Stage, status entity.ProgressStatus, artifacts any, reason any) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertQ,
		runID, entityKey, string(stage), string(status), artifacts, reason, time.Now().UnixMilli())
	return err
}

func (s *SQLite) MarkInFlight(ctx context.Context, runID, entityKey string, stage entity.Stage) error {
	return s.upsert(ctx, runID, entityKey, stage, entity.ProgressInFlight, nil, nil)
}

func (s *SQLite) MarkDone(ctx context.Context, runID, entityKey string, stage entity.Stage, artifacts []entity.ArtifactRef) error {
	data, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	return s.upsert(ctx, runID, entityKey, stage, entity.ProgressDone, string(data), nil)
}

func (s *SQLite) MarkFailed(ctx context.Context, runID, entityKey string, stage entity.Stage, reason string) error {
	return s.upsert(ctx, runID, entityKey, stage, entity.ProgressFailed, nil, reason)
}

func (s *SQLite) IsDone(ctx context.Context, runID, entityKey string, stage entity.Stage) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status FROM progress WHERE run_id=? AND entity_key=? AND stage=?`,
		runID, entityKey, string(stage))

	var status string
	err := row.Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == string(entity.ProgressDone), nil
}

func (s *SQLite) Get(ctx context.Context, runID, entityKey string, stage entity.Stage) (entity.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, artifacts, reason, updated_at FROM progress WHERE run_id=? AND entity_key=? AND stage=?`,
		runID, entityKey, string(stage))

	var (
		status    string
		artifacts sql.NullString
		reason    sql.NullString
		updatedMs int64
	)
	err := row.Scan(&status, &artifacts, &reason, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ProgressRecord{}, ErrNotFound
	}
	if err != nil {
		return entity.ProgressRecord{}, err
	}

	rec := entity.ProgressRecord{
		RunID:       runID,
		EntityKey:   entityKey,
		Stage:       stage,
		Status:      entity.ProgressStatus(status),
		LastUpdated: time.UnixMilli(updatedMs),
	}
	if artifacts.Valid && artifacts.String != "" {
		if err := json.Unmarshal([]byte(artifacts.String), &rec.Artifacts); err != nil {
			return entity.ProgressRecord{}, err
		}
	}
	if reason.Valid {
		rec.Reason = reason.String
	}
	return rec, nil
}

func (s *SQLite) Pending(ctx context.Context, runID string, stage entity.Stage, entityKeys []string, retryFailed bool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_key, status FROM progress WHERE run_id=? AND stage=?`,
		runID, string(stage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settled := make(map[string]string)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, err
		}
		settled[key] = status
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return filterPending(entityKeys, settled, retryFailed), nil
}
