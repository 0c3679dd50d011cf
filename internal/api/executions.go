package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gettakaro/fcagent/internal/journal"
	"github.com/gettakaro/fcagent/internal/model"
	"github.com/gettakaro/fcagent/internal/wire"
)

const maxListLimit = 1000

type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Count      int                `json:"count"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Journal.Enabled() {
		s.writeError(w, http.StatusNotFound, "journal_disabled", "execution journal is disabled")
		return
	}

	limit := journal.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, wire.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	// terminal filters the listed window to entries whose child did or did
	// not run to termination.
	var terminal *bool
	if v := r.URL.Query().Get("terminal"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, wire.CodeInvalidRequest, "terminal must be a boolean")
			return
		}
		terminal = &b
	}

	execs, err := s.cfg.Journal.Store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, wire.CodeInternal, "failed to list executions")
		return
	}
	if terminal != nil {
		execs = slices.DeleteFunc(execs, func(e *model.Execution) bool {
			return e.Terminal() != *terminal
		})
	}
	s.writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: execs, Count: len(execs)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Journal.Enabled() {
		s.writeError(w, http.StatusNotFound, "journal_disabled", "execution journal is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := model.IDTime(id); err != nil {
		s.writeError(w, http.StatusBadRequest, wire.CodeInvalidRequest, "malformed execution id")
		return
	}
	exec, err := s.cfg.Journal.Store.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, wire.CodeInternal, "failed to get execution")
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}
