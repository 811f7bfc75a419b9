package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-persist/internal/audit"
)

// handleListAudit returns paginated transaction audit entries.
//
// Query parameters:
//   - action: commit or rollback
//   - tx_id: a single transaction
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		TxID:   q.Get("tx_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, name+" must be an integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if errors.Is(err, audit.ErrInvalidAction) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "action must be commit or rollback")
		return
	}
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
