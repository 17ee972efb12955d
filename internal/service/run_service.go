package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/template"
)

// Порт репозитория (реализация: postgresql.RunRepository)
type RunRepository interface {
	Create(ctx context.Context, templateID string, stage entity.Stage, priority int, params json.RawMessage, units []entity.Unit) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
}

// Маленький порт очереди только для постановки прогонов.
type RunQueue interface {
	Enqueue(ctx context.Context, runID string, priority int) error
}

type RunService struct {
	repo      RunRepository
	queue     RunQueue
	templates *template.Registry
}

func NewRunService(repo RunRepository, queue RunQueue, templates *template.Registry) *RunService {
	return &RunService{repo: repo, queue: queue, templates: templates}
}

type CreateRunRequest struct {
	TemplateID string
	Stage      entity.Stage
	Priority   int
	Params     map[string]any
	Units      []entity.Unit
}

var validStages = map[entity.Stage]bool{
	entity.StageSwap:    true,
	entity.StageEnhance: true,
	entity.StageRender:  true,
}

// CreateRun validates everything locally before anything is persisted or
// enqueued: a bad template, parameter or unit list never reaches Redis,
// let alone an external worker.
func (s *RunService) CreateRun(ctx context.Context, req CreateRunRequest) (uuid.UUID, error) {
	if !validStages[req.Stage] {
		return uuid.Nil, fmt.Errorf("unknown stage %q", req.Stage)
	}
	if len(req.Units) == 0 {
		return uuid.Nil, errors.New("at least one unit is required")
	}

	tpl, err := s.templates.Get(req.TemplateID)
	if err != nil {
		return uuid.Nil, err
	}

	seen := make(map[string]bool, len(req.Units))
	for i, u := range req.Units {
		if u.EntityKey == "" {
			return uuid.Nil, fmt.Errorf("unit %d: empty entity key", i)
		}
		if seen[u.EntityKey] {
			return uuid.Nil, fmt.Errorf("duplicate entity key %q", u.EntityKey)
		}
		seen[u.EntityKey] = true
		if tpl.RequiresInputImage && len(u.Inputs) == 0 {
			return uuid.Nil, fmt.Errorf("unit %q: template %s requires an input image", u.EntityKey, tpl.ID)
		}
	}

	// разрешаем параметры здесь же, чтобы 400 прилетал сразу, а не из воркера
	if _, err := s.templates.Validate(req.TemplateID, req.Params); err != nil {
		return uuid.Nil, err
	}

	rawParams, err := json.Marshal(req.Params)
	if err != nil {
		return uuid.Nil, err
	}

	priority := req.Priority
	if priority < 0 || priority > 2 {
		priority = 1 // normal
	}

	id, err := s.repo.Create(ctx, req.TemplateID, req.Stage, priority, rawParams, req.Units)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.queue.Enqueue(ctx, id.String(), priority); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	return s.repo.GetByID(ctx, id)
}
