package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/service"
	"content-pipeline-service/internal/template"
)

const serviceTemplates = `{
  "templates": [{
    "id": "faceswap_pair",
    "requires_input_image": true,
    "parameters": [
      {"name": "strength", "kind": "float", "min": 0, "max": 1, "default": 0.8}
    ]
  }]
}`

type fakeRepo struct {
	createCalled int
	lastTemplate string
	lastStage    entity.Stage
	lastPriority int
	lastParams   json.RawMessage
	lastUnits    []entity.Unit

	createID  uuid.UUID
	createErr error
}

func (r *fakeRepo) Create(ctx context.Context, templateID string, stage entity.Stage, priority int, params json.RawMessage, units []entity.Unit) (uuid.UUID, error) {
	r.createCalled++
	r.lastTemplate = templateID
	r.lastStage = stage
	r.lastPriority = priority
	r.lastParams = params
	r.lastUnits = units
	if r.createErr != nil {
		return uuid.Nil, r.createErr
	}
	return r.createID, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	return nil, nil
}

type fakeQueue struct {
	enqueuedIDs        []string
	enqueuedPriorities []int
	enqueueErr         error
}

func (q *fakeQueue) Enqueue(ctx context.Context, runID string, priority int) error {
	q.enqueuedIDs = append(q.enqueuedIDs, runID)
	q.enqueuedPriorities = append(q.enqueuedPriorities, priority)
	return q.enqueueErr
}

func newService(t *testing.T, repo *fakeRepo, queue *fakeQueue) *service.RunService {
	t.Helper()
	reg, err := template.Parse([]byte(serviceTemplates))
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	return service.NewRunService(repo, queue, reg)
}

func validRequest() service.CreateRunRequest {
	return service.CreateRunRequest{
		TemplateID: "faceswap_pair",
		Stage:      entity.StageSwap,
		Priority:   2,
		Params:     map[string]any{"strength": 0.5},
		Units: []entity.Unit{
			{EntityKey: "pair-1", Inputs: []entity.ArtifactRef{{URL: "https://s3.local/a.png"}}},
		},
	}
}

func TestRunService_CreateRun_PriorityPropagates(t *testing.T) {
	ctx := context.Background()
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")

	repo := &fakeRepo{createID: id}
	queue := &fakeQueue{}
	svc := newService(t, repo, queue)

	_, err := svc.CreateRun(ctx, validRequest())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if repo.lastPriority != 2 {
		t.Fatalf("expected repo priority=2, got %d", repo.lastPriority)
	}
	if len(queue.enqueuedPriorities) != 1 || queue.enqueuedPriorities[0] != 2 {
		t.Fatalf("expected enqueue priority=2, got %#v", queue.enqueuedPriorities)
	}
	if queue.enqueuedIDs[0] != id.String() {
		t.Fatalf("expected enqueued run id %s, got %s", id, queue.enqueuedIDs[0])
	}
}

func TestRunService_CreateRun_PriorityClampedToNormal(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{createID: uuid.MustParse("77777777-7777-7777-7777-777777777777")}
	queue := &fakeQueue{}
	svc := newService(t, repo, queue)

	req := validRequest()
	req.Priority = 999 // invalid
	if _, err := svc.CreateRun(ctx, req); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if repo.lastPriority != 1 {
		t.Fatalf("expected repo priority=1 (clamped), got %d", repo.lastPriority)
	}
}

func TestRunService_CreateRun_InvalidParamsNeverReachRepoOrQueue(t *testing.T) {
	repo := &fakeRepo{createID: uuid.New()}
	queue := &fakeQueue{}
	svc := newService(t, repo, queue)

	req := validRequest()
	req.Params = map[string]any{"strength": 5.0} // above max 1

	_, err := svc.CreateRun(context.Background(), req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if repo.createCalled != 0 {
		t.Fatal("invalid params must not be persisted")
	}
	if len(queue.enqueuedIDs) != 0 {
		t.Fatal("invalid params must not be enqueued")
	}
}

func TestRunService_CreateRun_UnknownTemplate(t *testing.T) {
	svc := newService(t, &fakeRepo{}, &fakeQueue{})

	req := validRequest()
	req.TemplateID = "nope"

	_, err := svc.CreateRun(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "unknown template") {
		t.Fatalf("expected unknown template error, got %v", err)
	}
}

func TestRunService_CreateRun_RequiresInputImage(t *testing.T) {
	svc := newService(t, &fakeRepo{}, &fakeQueue{})

	req := validRequest()
	req.Units = []entity.Unit{{EntityKey: "pair-1"}} // без входных артефактов

	_, err := svc.CreateRun(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "input image") {
		t.Fatalf("expected input image error, got %v", err)
	}
}

func TestRunService_CreateRun_DuplicateEntityKeys(t *testing.T) {
	svc := newService(t, &fakeRepo{}, &fakeQueue{})

	req := validRequest()
	req.Units = append(req.Units, req.Units[0])

	_, err := svc.CreateRun(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
