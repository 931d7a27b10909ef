package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/presence"
	"turing-study/internal/study"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter mounts the participant API, the researcher endpoints and, when
// mcp is non-nil, the MCP tool server.
func NewRouter(cfg config.ServerConfig, coord *study.Coordinator, engine *conversation.Engine, typing *presence.Tracker, mcp http.Handler) *chi.Mux {
	sessions := NewSessionHandlers(coord, engine, typing)
	admin := NewAdminHandlers(coord)
	// Request and response bodies of the writes researchers audit.
	capture := BodyCaptureMiddleware(4096)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", admin.Health())

	if mcp != nil {
		r.Group(func(r chi.Router) {
			r.Use(APILogMiddleware())
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
			})
			r.Method(http.MethodPost, "/mcp", mcp)
			r.Method(http.MethodGet, "/mcp", mcp)
			r.Method(http.MethodDelete, "/mcp", mcp)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/status", admin.Status())

		r.Post("/roles", sessions.AssignRole())
		r.With(capture).Post("/abandonment", sessions.Abandonment())
		r.With(capture).Post("/partner-dropped", sessions.PartnerDropped())
		r.Post("/timeouts", sessions.RecordTimeout())
		r.Post("/finalize-no-session", sessions.FinalizeNoSession())
		r.Post("/ui-events", sessions.LogUIEvent())

		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/", sessions.SessionStatus())
			r.Post("/initialize", sessions.Initialize())
			r.Post("/waiting-room", sessions.JoinWaitingRoom())
			r.Get("/match", sessions.MatchStatus())
			r.With(capture).Post("/turns", sessions.SubmitTurn())
			r.Get("/partner-message", sessions.PartnerMessage())
			r.Post("/typing", sessions.SignalTyping())
			r.Get("/partner-typing", sessions.PartnerTyping())
			r.Post("/network-delay", sessions.NetworkDelay())
			r.Post("/conversation-start", sessions.ConversationStart())
			r.With(capture).Post("/ratings", sessions.SubmitRating())
			r.With(capture).Post("/comments", sessions.SubmitComment())
			r.With(capture).Post("/final-comment", sessions.SubmitFinalComment())
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Get("/sessions/{session_id}", admin.ResearcherData())
			r.Get("/debug/vars", expvar.Handler().ServeHTTP)
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
