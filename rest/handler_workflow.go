package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var bundle model.WorkflowBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow bundle")
		return
	}
	if err := graph.ValidateBundle(bundle); err != nil {
		var verr graph.ValidationError
		if errors.As(err, &verr) {
			respondWithJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid workflow", "problems": verr.Problems})
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(bundle.Workflow.Status) == 0 {
		bundle.Workflow.Status = model.ACTIVE
	}
	if err := s.graphs.SaveBundle(r.Context(), bundle); err != nil {
		logger.Error("error saving workflow", zap.String("workflow", bundle.Workflow.Id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving workflow")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"workflowId": bundle.Workflow.Id})
}

func (s *Server) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	workflowId := mux.Vars(r)["id"]
	g, err := s.graphs.Load(r.Context(), workflowId)
	if err != nil {
		if graph.IsGraphNotFound(err) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Error("error loading workflow graph", zap.String("workflow", workflowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading workflow")
		return
	}
	entry := g.Graph.Entry
	if start := r.URL.Query().Get("startNodeId"); len(start) > 0 {
		entry = start
	}
	respondOK(w, map[string]any{
		"workflowId": workflowId,
		"steps":      s.interpreter.Plan(entry, g.Graph.Nodes),
	})
}
