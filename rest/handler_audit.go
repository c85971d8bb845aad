package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eduflow/audit"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

type retryRequest struct {
	Source    string   `json:"source"`
	SourceIds []string `json:"sourceIds"`
}

func (s *Server) HandleRetryActivity(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	activityId := mux.Vars(r)["id"]
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed retry request")
		return
	}
	audits, err := s.retries.Retry(r.Context(), activityId, req.Source, req.SourceIds)
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrUnknownSource):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case persistence.IsNotFound(err):
			respondWithError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error("error retrying activity", zap.String("activityLogId", activityId), zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "error retrying activity")
		}
		return
	}
	respondOK(w, map[string]any{"activityLogId": activityId, "audits": audits})
}
