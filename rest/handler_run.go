package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

type startRunRequest struct {
	IdempotencyKey string         `json:"idempotencyKey"`
	StartNodeId    string         `json:"startNodeId,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
}

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	workflowId := mux.Vars(r)["id"]
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed run request")
		return
	}
	run, err := s.runs.StartOrResume(r.Context(), execution.StartRequest{
		WorkflowID:     workflowId,
		IdempotencyKey: req.IdempotencyKey,
		StartNodeID:    req.StartNodeId,
		Input:          req.Input,
	})
	if err != nil {
		if errors.Is(err, execution.ErrInvalidRequest) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("error running workflow", zap.String("workflow", workflowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error running workflow")
		return
	}
	respondOK(w, run)
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	run, err := s.runs.Get(r.Context(), key)
	if err != nil {
		respondStorageError(w, err, key)
		return
	}
	respondOK(w, run)
}

func (s *Server) HandleGetRunLogs(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, err := s.runs.Get(r.Context(), key); err != nil {
		respondStorageError(w, err, key)
		return
	}
	logs, err := s.runs.Logs(r.Context(), key)
	if err != nil {
		respondStorageError(w, err, key)
		return
	}
	respondOK(w, map[string]any{"idempotencyKey": key, "logs": logs})
}

func (s *Server) HandleRedriveRun(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	run, err := s.runs.Redrive(r.Context(), key)
	if err != nil {
		respondStorageError(w, err, key)
		return
	}
	respondOK(w, run)
}

func respondStorageError(w http.ResponseWriter, err error, key string) {
	if persistence.IsNotFound(err) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.Error("error reading run", zap.String("idempotencyKey", key), zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "error reading run")
}
