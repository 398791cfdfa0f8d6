package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/history"
	"github.com/ziadkadry99/tracegraph/internal/metrics"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

func setupServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	st := store.New(database)
	eval, err := coverage.NewEvaluator("")
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	engine := coverage.NewEngine(st, eval, coverage.WithCache(coverage.NewMemoryCache(time.Minute)), coverage.WithMetrics(rec))
	svc := compliance.New(st, engine, history.NewStore(database), compliance.WithMetrics(rec))
	return New(cfg, svc, reg, nil)
}

func TestHealthCheck(t *testing.T) {
	srv := setupServer(t, Config{Port: 0})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	if body["graph_version"] != float64(0) {
		t.Errorf("expected graph_version 0, got %v", body["graph_version"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := setupServer(t, Config{Port: 0, AllowAll: true})

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestAPIMountedAndMetricsExposed(t *testing.T) {
	srv := setupServer(t, Config{})

	body := strings.NewReader(`{"id":"CC6.1","kind":"control","framework_id":"SOC2"}`)
	req := httptest.NewRequest("POST", "/api/artifacts", body)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create artifact: status %d, body %s", w.Code, w.Body)
	}

	req = httptest.NewRequest("GET", "/metrics", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `tracegraph_commands_total{code="ok",command="create_artifact"} 1`) {
		t.Errorf("metrics output missing command counter:\n%s", w.Body)
	}
}
