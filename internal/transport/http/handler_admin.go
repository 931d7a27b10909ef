package httptransport

import (
	"net/http"

	"turing-study/internal/study"

	"github.com/go-chi/chi/v5"
)

type AdminHandlers struct {
	coord *study.Coordinator
}

func NewAdminHandlers(coord *study.Coordinator) *AdminHandlers {
	return &AdminHandlers{coord: coord}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.coord.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, map[string]any{"ok": true, "db": "up", "study_mode": h.coord.Mode()})
	}
}

func (h *AdminHandlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.coord.Status(r.Context())
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *AdminHandlers) ResearcherData() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.coord.ResearcherData(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}
