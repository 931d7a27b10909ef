package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"turing-study/internal/config"
	"turing-study/internal/conversation"
	"turing-study/internal/presence"

	"github.com/go-chi/chi/v5"
	"github.com/samber/do/v2"
)

func TestSetupDIWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
	cfg, err := config.LoadApp()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	injector := setupDI(cfg)

	if _, err := do.Invoke[*conversation.Engine](injector); err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := do.Invoke[*presence.Tracker](injector); err != nil {
		t.Fatalf("tracker: %v", err)
	}
	router, err := do.Invoke[*chi.Mux](injector)
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d body=%s", rec.Code, rec.Body.String())
	}
}
