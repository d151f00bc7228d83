package api

import (
	"net/http"
	"strconv"

	"github.com/larkov/casambi-bridge/internal/audit"
)

// handleListCommands returns paginated command audit entries with optional filters.
//
// Query parameters:
//   - network: filter by network ID
//   - unit: filter by unit ID (requires network in practice, but not enforced)
//   - outcome: filter by outcome (sent, rejected, transmit_failed)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "command audit not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Network: q.Get("network"),
		Outcome: q.Get("outcome"),
	}

	if v := q.Get("unit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "unit must be an integer")
			return
		}
		filter.Unit = &n
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit entries", "error", err)
		writeInternalError(w, "failed to list command audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
