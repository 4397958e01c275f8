// Package api exposes the operator surface over HTTP. Every handler is a
// thin translation layer into the orchestrator; no orchestration logic
// lives here.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/orchestrator"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// Server routes operator requests into the orchestrator
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics http.Handler
	router  *mux.Router
}

// NewServer builds the router. metrics may be nil when the Prometheus
// endpoint is disabled.
func NewServer(orch *orchestrator.Orchestrator, metrics http.Handler) *Server {
	s := &Server{orch: orch, metrics: metrics, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/experiments", s.handleCreateExperiment).Methods(http.MethodPost)
	s.router.HandleFunc("/experiments", s.handleListExperiments).Methods(http.MethodGet)
	s.router.HandleFunc("/experiments/{id}", s.handleGetExperiment).Methods(http.MethodGet)
	s.router.HandleFunc("/experiments/{id}", s.handleUpdateExperiment).Methods(http.MethodPut)
	s.router.HandleFunc("/experiments/{id}", s.handleDeleteExperiment).Methods(http.MethodDelete)
	s.router.HandleFunc("/experiments/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	s.router.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	s.router.HandleFunc("/executions/{id}/stop", s.handleStopExecution).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Errorf("[API]: Response encoding failed, err: %v", err)
		}
	}
}

// writeError maps orchestrator error codes onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	reason, code := cerrors.GetRootCauseAndErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case cerrors.ErrorTypeExperimentNotFound, cerrors.ErrorTypeExecutionNotFound:
		status = http.StatusNotFound
	case cerrors.ErrorTypeInvalidState:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: reason, Code: string(code)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var def types.Experiment
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid experiment payload: " + err.Error()})
		return
	}
	exp, err := s.orch.CreateExperiment(def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListExperiments())
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.orch.GetExperiment(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var def types.Experiment
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid experiment payload: " + err.Error()})
		return
	}
	exp, err := s.orch.UpdateExperiment(mux.Vars(r)["id"], def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteExperiment(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.RunExperiment(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	experimentID := r.URL.Query().Get("experiment")
	writeJSON(w, http.StatusOK, s.orch.ListExecutions(experimentID))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.GetExecution(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleStopExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopExecution(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
