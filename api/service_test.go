package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/damir5/kosarica-sub003/chassis/queue"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

func newTestService() (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore(nil)
	return NewService(queue.NewClient(store)), store
}

func post(t *testing.T, svc *Service, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, svc *Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func TestScheduleAndFetch(t *testing.T) {
	svc, _ := newTestService()

	rec := post(t, svc, "/api/v1/tasks", `{"type":"ingestion","payload":{"chain":"spar"},"priority":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(created["id"]); err != nil {
		t.Fatalf("bad id %q", created["id"])
	}

	rec = get(t, svc, "/api/v1/tasks/"+created["id"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	var task storage.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.TaskType != "ingestion" || task.Priority != 5 || task.Status != storage.StatusPending {
		t.Errorf("unexpected snapshot: %+v", task)
	}
}

func TestScheduleValidation(t *testing.T) {
	svc, _ := newTestService()

	if rec := post(t, svc, "/api/v1/tasks", `{"payload":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing type: status %d", rec.Code)
	}
	if rec := post(t, svc, "/api/v1/tasks", `{"type":"x","priority":42}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad priority: status %d", rec.Code)
	}
	if rec := post(t, svc, "/api/v1/tasks", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status %d", rec.Code)
	}
}

func TestGetErrors(t *testing.T) {
	svc, _ := newTestService()

	if rec := get(t, svc, "/api/v1/tasks/not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d", rec.Code)
	}
	if rec := get(t, svc, "/api/v1/tasks/"+uuid.New().String()); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status %d", rec.Code)
	}
}

func TestCancel(t *testing.T) {
	svc, store := newTestService()
	id, err := store.Schedule(context.Background(), storage.TaskSpec{TaskType: "ingestion"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rec := post(t, svc, "/api/v1/tasks/"+id.String()+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d, body %s", rec.Code, rec.Body)
	}
	// Cancelled tasks are terminal, a second cancel conflicts.
	rec = post(t, svc, "/api/v1/tasks/"+id.String()+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel: status %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService()
	if rec := get(t, svc, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
