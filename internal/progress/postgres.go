package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-pipeline-service/internal/entity"
)

// Postgres implements Store on a pgx pool. One row per (run, entity,
// stage); upserts keep the write path single-statement so a crash leaves
// at most one unit unaccounted for.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const upsertQ = `
INSERT INTO progress (run_id, entity_key, stage, status, artifacts, reason, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (run_id, entity_key, stage)
DO UPDATE SET status = EXCLUDED.status,
              artifacts = EXCLUDED.artifacts,
              reason = EXCLUDED.reason,
              updated_at = now();
`

func (p *Postgres) MarkInFlight(ctx context.Context, runID, entityKey string, stage entity.Stage) error {
	_, err := p.pool.Exec(ctx, upsertQ, runID, entityKey, string(stage), string(entity.ProgressInFlight), nil, nil)
	return err
}

func (p *Postgres) MarkDone(ctx context.Context, runID, entityKey string, stage entity.Stage, artifacts []entity.ArtifactRef) error {
	data, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, upsertQ, runID, entityKey, string(stage), string(entity.ProgressDone), data, nil)
	return err
}

func (p *Postgres) MarkFailed(ctx context.Context, runID, entityKey string, stage entity.Stage, reason string) error {
	_, err := p.pool.Exec(ctx, upsertQ, runID, entityKey, string(stage), string(entity.ProgressFailed), nil, reason)
	return err
}

func (p *Postgres) IsDone(ctx context.Context, runID, entityKey string, stage entity.Stage) (bool, error) {
	const q = `SELECT status FROM progress WHERE run_id=$1 AND entity_key=$2 AND stage=$3;`
	var status string
	err := p.pool.QueryRow(ctx, q, runID, entityKey, string(stage)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == string(entity.ProgressDone), nil
}

func (p *Postgres) Get(ctx context.Context, runID, entityKey string, stage entity.Stage) (entity.ProgressRecord, error) {
	const q = `
SELECT status, artifacts, reason, updated_at
FROM progress WHERE run_id=$1 AND entity_key=$2 AND stage=$3;`

	var (
		status    string
		artifacts []byte
		reason    *string
		updatedAt time.Time
	)
	err := p.pool.QueryRow(ctx, q, runID, entityKey, string(stage)).Scan(&status, &artifacts, &reason, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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
		LastUpdated: updatedAt,
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &rec.Artifacts); err != nil {
			return entity.ProgressRecord{}, err
		}
	}
	if reason != nil {
		rec.Reason = *reason
	}
	return rec, nil
}

func (p *Postgres) Pending(ctx context.Context, runID string, stage entity.Stage, entityKeys []string, retryFailed bool) ([]string, error) {
	const q = `SELECT entity_key, status FROM progress WHERE run_id=$1 AND stage=$2;`

	rows, err := p.pool.Query(ctx, q, runID, string(stage))
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

// filterPending is shared between backends: done is always skipped,
// failed is skipped only when the caller's policy says so.
func filterPending(entityKeys []string, settled map[string]string, retryFailed bool) []string {
	out := make([]string, 0, len(entityKeys))
	for _, key := range entityKeys {
		switch settled[key] {
		case string(entity.ProgressDone):
			continue
		case string(entity.ProgressFailed):
			if !retryFailed {
				continue
			}
		}
		out = append(out, key)
	}
	return out
}
