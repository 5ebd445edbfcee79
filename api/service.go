package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/queue"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

// Service - the HTTP scheduling surface. Only scheduling, snapshots and
// administrative cancel live here; task execution stays with the workers.
type Service struct {
	client *queue.Client
	router *mux.Router
}

// NewService ...
func NewService(client *queue.Client) *Service {
	svc := &Service{
		client: client,
		router: mux.NewRouter(),
	}
	svc.router.HandleFunc("/api/v1/tasks", svc.handleSchedule).Methods(http.MethodPost)
	svc.router.HandleFunc("/api/v1/tasks/{id}", svc.handleGet).Methods(http.MethodGet)
	svc.router.HandleFunc("/api/v1/tasks/{id}/cancel", svc.handleCancel).Methods(http.MethodPost)
	svc.router.HandleFunc("/healthz", svc.handleHealth).Methods(http.MethodGet)
	return svc
}

// Router ...
func (svc *Service) Router() http.Handler {
	return svc.router
}

type scheduleRequest struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     *int            `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	MaxRetries   *int            `json:"max_retries"`
}

func (svc *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	var opts []queue.ScheduleOption
	if req.Priority != nil {
		opts = append(opts, queue.WithPriority(*req.Priority))
	}
	if req.ScheduledFor != nil {
		opts = append(opts, queue.WithScheduledFor(*req.ScheduledFor))
	}
	if req.MaxRetries != nil {
		opts = append(opts, queue.WithMaxRetries(*req.MaxRetries))
	}
	var payload interface{}
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	id, err := svc.client.Schedule(r.Context(), req.Type, payload, opts...)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPriority) || errors.Is(err, storage.ErrEmptyTaskType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.WithFields(log.Fields{
			"event": "schedule_failed",
			"type":  req.Type,
		}).Error(err)
		writeError(w, http.StatusInternalServerError, "could not schedule task")
		return
	}
	log.WithFields(log.Fields{
		"event":  "task_scheduled",
		"taskID": id,
		"type":   req.Type,
	}).Info("task scheduled")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (svc *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := svc.client.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		log.WithFields(log.Fields{
			"event":  "get_task_failed",
			"taskID": id,
		}).Error(err)
		writeError(w, http.StatusInternalServerError, "could not load task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (svc *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	ok, err := svc.client.Cancel(r.Context(), id)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "cancel_failed",
			"taskID": id,
		}).Error(err)
		writeError(w, http.StatusInternalServerError, "could not cancel task")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "task is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(storage.StatusCancelled)})
}

func (svc *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithFields(log.Fields{
			"event": "response_encode_failed",
		}).Error(err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
