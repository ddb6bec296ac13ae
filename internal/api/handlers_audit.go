package api

import (
	"net/http"
	"time"

	"github.com/org/healthgate/internal/storage"
)

// AuditQueryHandler handles GET /v1/audit
func (s *Server) AuditQueryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paginationParams(r)
	filter := storage.AuditFilter{
		ActorSubject: q.Get("actor"),
		Action:       q.Get("action"),
		PatientID:    q.Get("patient_id"),
		Limit:        limit,
		Offset:       offset,
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		filter.Since = &t
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", entries)
}
