package rest

import (
	"encoding/json"
	"net/http"

	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/trigger"
	"go.uber.org/zap"
)

// HandleEvent starts the matching runs inline. With ?async=true the event
// is queued on the dispatcher pool instead and 202 is returned.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var ev trigger.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if len(ev.Name) == 0 || len(ev.InstituteId) == 0 {
		respondWithError(w, http.StatusBadRequest, "eventName and instituteId are required")
		return
	}
	if r.URL.Query().Get("async") == "true" {
		if err := s.dispatcher.Enqueue(ev); err != nil {
			logger.Error("error queueing event", zap.String("event", ev.Name), zap.Error(err))
			respondWithError(w, http.StatusServiceUnavailable, "event queue full")
			return
		}
		respondWithJSON(w, http.StatusAccepted, map[string]any{"queued": true})
		return
	}
	runs, err := s.dispatcher.Fire(r.Context(), ev)
	if err != nil {
		logger.Error("error consuming event", zap.String("event", ev.Name), zap.String("institute", ev.InstituteId), zap.Error(err))
		if len(runs) == 0 {
			respondWithError(w, http.StatusInternalServerError, "error consuming event")
			return
		}
		respondOK(w, map[string]any{"runs": runs, "error": err.Error()})
		return
	}
	respondOK(w, map[string]any{"runs": runs})
}
