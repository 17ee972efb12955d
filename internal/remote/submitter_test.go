package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/remote"
)

func swapDescriptor(key string) entity.JobDescriptor {
	return entity.JobDescriptor{
		TemplateID: "faceswap_pair",
		Params:     map[string]any{},
		InputArtifacts: []entity.ArtifactRef{
			{URL: "https://store.local/target.png"},
			{URL: "https://store.local/face.png"},
		},
		IdempotencyKey: key,
	}
}

func TestSubmit_AttachesIdempotencyKeyAndReturnsHandle(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/faceswap" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "ext-1"})
	}))
	defer srv.Close()

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, srv.Client(), 3, time.Millisecond)

	h, err := s.Submit(context.Background(), swapDescriptor("key-123"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if h.ExternalID != "ext-1" || h.Kind != entity.KindFaceSwap {
		t.Fatalf("unexpected handle: %#v", h)
	}
	if gotBody["requestId"] != "key-123" {
		t.Fatalf("expected requestId=key-123 in submit body, got %#v", gotBody)
	}
	if gotBody["newFace"] != "https://store.local/face.png" {
		t.Fatalf("expected flat newFace field, got %#v", gotBody)
	}
}

func TestSubmit_4xxIsRejectedAndNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad face", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, srv.Client(), 3, time.Millisecond)

	_, err := s.Submit(context.Background(), swapDescriptor("k"))
	var se *remote.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if se.Transient {
		t.Fatal("4xx must not be classified transient")
	}
	if se.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", se.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("rejected submit must not be retried, got %d calls", calls)
	}
}

func TestSubmit_5xxIsTransientAndRetriedUpToBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, srv.Client(), 3, time.Millisecond)

	_, err := s.Submit(context.Background(), swapDescriptor("k"))
	var se *remote.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if !se.Transient {
		t.Fatal("5xx must be classified transient")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestSubmit_TransientRecoversOnSecondAttempt(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "ext-2"})
	}))
	defer srv.Close()

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, srv.Client(), 3, time.Millisecond)

	h, err := s.Submit(context.Background(), swapDescriptor("k"))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if h.ExternalID != "ext-2" {
		t.Fatalf("unexpected handle: %#v", h)
	}
}

// Worker double that honors idempotency keys: a duplicate requestId maps
// to the already-created job instead of a second billable one.
func TestSubmit_DuplicateIdempotencyKeyCreatesOneJob(t *testing.T) {
	var (
		mu      sync.Mutex
		jobs    = map[string]string{} // requestId -> jobId
		created int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RequestID string `json:"requestId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		id, ok := jobs[body.RequestID]
		if !ok {
			created++
			id = "ext-unique"
			jobs[body.RequestID] = id
		}
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": id})
	}))
	defer srv.Close()

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, srv.Client(), 3, time.Millisecond)

	h1, err := s.Submit(context.Background(), swapDescriptor("same-key"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// retry builds a fresh descriptor sharing the same key
	h2, err := s.Submit(context.Background(), swapDescriptor("same-key"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if created != 1 {
		t.Fatalf("expected exactly one billable job, got %d", created)
	}
	if h1.ExternalID != h2.ExternalID {
		t.Fatalf("expected collapsed handles, got %s vs %s", h1.ExternalID, h2.ExternalID)
	}
}

func TestSubmit_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // порт закрыт — любой вызов упадёт

	s := remote.NewSubmitter(&remote.FaceSwap{BaseURL: srv.URL}, &http.Client{Timeout: time.Second}, 2, time.Millisecond)

	_, err := s.Submit(context.Background(), swapDescriptor("k"))
	var se *remote.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if !se.Transient {
		t.Fatal("network failure must be classified transient")
	}
}
