package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-pipeline-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, templateID string, stage entity.Stage, priority int, params json.RawMessage, units []entity.Unit) (uuid.UUID, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	rawUnits, err := json.Marshal(units)
	if err != nil {
		return uuid.Nil, err
	}

	const q = `
INSERT INTO runs (template_id, stage, status, priority, params, units)
VALUES ($1, $2, 'pending', $3, $4, $5)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, templateID, string(stage), priority, params, rawUnits).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	const q = `
SELECT id, template_id, stage, status, priority, params, units, summary, error, created_at, updated_at
FROM runs
WHERE id = $1;
`

	var (
		run        entity.Run
		stageText  string
		statusText string
		params     []byte
		rawUnits   []byte
		summary    []byte
		errText    *string
		createdAt  time.Time
		updatedAt  time.Time
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&run.ID,
		&run.TemplateID,
		&stageText,
		&statusText,
		&run.Priority,
		&params,
		&rawUnits,
		&summary, // NULL => nil
		&errText, // NULL => nil
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	run.Stage = entity.Stage(stageText)
	run.Status = entity.RunStatus(statusText)
	run.Params = json.RawMessage(params)
	if len(rawUnits) > 0 {
		if err := json.Unmarshal(rawUnits, &run.Units); err != nil {
			return nil, err
		}
	}
	if summary != nil {
		run.Summary = json.RawMessage(summary)
	}
	run.Error = errText
	run.CreatedAt = createdAt
	run.UpdatedAt = updatedAt

	return &run, nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.RunStatus) error {
	const q = `UPDATE runs SET status=$2, updated_at=now() WHERE id=$1;`

	tag, err := r.pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSummaryDone stores the terminal summary. A run with failed units is
// still status=done: по-юнитные неудачи живут в summary и progress,
// status=error оставлен для падения самого оркестратора.
func (r *RunRepository) SetSummaryDone(ctx context.Context, id uuid.UUID, summary json.RawMessage) error {
	if len(summary) == 0 {
		summary = json.RawMessage(`{}`)
	}
	const q = `UPDATE runs SET status='done', summary=$2, error=NULL, updated_at=now() WHERE id=$1;`

	tag, err := r.pool.Exec(ctx, q, id, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepository) SetError(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE runs SET status='error', error=$2, updated_at=now() WHERE id=$1;`

	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
