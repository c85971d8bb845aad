package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eduflow/audit"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/trigger"
	"go.opencensus.io/plugin/ochttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port        int
	graphs      *graph.Store
	runs        *execution.Coordinator
	dispatcher  *trigger.Dispatcher
	interpreter *interpreter.Interpreter
	retries     *audit.Coordinator
}

func NewServer(httpPort int, graphs *graph.Store, runs *execution.Coordinator, dispatcher *trigger.Dispatcher,
	interp *interpreter.Interpreter, retries *audit.Coordinator) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:        httpPort,
		graphs:      graphs,
		runs:        runs,
		dispatcher:  dispatcher,
		interpreter: interp,
		retries:     retries,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflows", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/plan", s.HandleGetPlan).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/runs", s.HandleStartRun).Methods(http.MethodPost)

	router.HandleFunc("/runs/{key}", s.HandleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{key}/logs", s.HandleGetRunLogs).Methods(http.MethodGet)
	router.HandleFunc("/runs/{key}/redrive", s.HandleRedriveRun).Methods(http.MethodPost)

	router.HandleFunc("/events", s.HandleEvent).Methods(http.MethodPost)

	router.HandleFunc("/activity-logs/{id}/retry", s.HandleRetryActivity).Methods(http.MethodPost)

	router.Use(loggingMiddleware)
	s.Handler = &ochttp.Handler{Handler: router}
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
