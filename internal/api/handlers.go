package api

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/flowmeta/internal/brand"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/scheduler"
)

const (
	defaultArchiveLimit = 100
	maxArchiveLimit     = 1000
)

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	recs := s.flows.Records()
	slices.SortFunc(recs, func(a, b flowtable.Record) int { return cmp.Compare(a.Ref, b.Ref) })
	WriteJSON(w, http.StatusOK, map[string]any{
		"count": len(recs),
		"flows": recs,
	})
}

func (s *Server) handleFlowsSize(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"size": s.flows.Size()})
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	ref, err := flowtable.ParseReference(mux.Vars(r)["ref"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid flow reference", err.Error())
		return
	}
	rec, ok := s.flows.Get(ref)
	if !ok {
		WriteError(w, http.StatusNotFound, "flow not found", ref.String())
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if s.identities == nil {
		WriteError(w, http.StatusNotFound, "identity store not enabled")
		return
	}
	entries := s.identities.All()
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":      len(entries),
		"identities": entries,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		WriteError(w, http.StatusNotFound, "archive not enabled")
		return
	}

	limit := defaultArchiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	flows, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("archive query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "archive query failed", err.Error())
		return
	}
	total, err := s.archive.Count(r.Context())
	if err != nil {
		s.logger.Error("archive count failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "archive query failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"flows": flows,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		WriteError(w, http.StatusNotFound, "scheduler not enabled")
		return
	}
	tasks := s.tasks.GetStatus()
	slices.SortFunc(tasks, func(a, b scheduler.TaskStatus) int { return cmp.Compare(a.ID, b.ID) })
	WriteJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": brand.Version,
		"uptime":  s.clock.Since(s.startTime).Round(time.Second).String(),
		"flows":   s.flows.Size(),
	})
}
