package compliance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := setupService(t)
	r := chi.NewRouter()
	RegisterRoutes(r, svc)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(ActorHeader, "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, w, &body)
	return body["code"]
}

func TestArtifactRoutes(t *testing.T) {
	h := setupRouter(t)

	w := do(t, h, http.MethodPost, "/api/artifacts", map[string]any{"id": "CC6.1", "kind": "control"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("control without framework: status = %d, want 422", w.Code)
	}
	if code := errorCode(t, w); code != "missing_framework" {
		t.Errorf("code = %q, want missing_framework", code)
	}

	w = do(t, h, http.MethodPost, "/api/artifacts", map[string]any{"id": "CC6.1", "kind": "control", "framework_id": "SOC2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodPost, "/api/artifacts", map[string]any{"id": "CC6.1", "kind": "control", "framework_id": "SOC2"})
	if w.Code != http.StatusOK {
		t.Errorf("re-create: status = %d, want 200", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/artifacts", map[string]any{"id": "CC6.1", "kind": "control", "framework_id": "ISO27001"})
	if w.Code != http.StatusConflict {
		t.Fatalf("re-create under another framework: status = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "framework_conflict" {
		t.Errorf("code = %q, want framework_conflict", code)
	}

	w = do(t, h, http.MethodPatch, "/api/artifacts/CC6.1", map[string]any{"attributes": map[string]any{"title": "Logical access"}})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", w.Code, w.Body)
	}
	var a graph.Artifact
	decodeBody(t, w, &a)
	if a.Title() != "Logical access" {
		t.Errorf("title = %q", a.Title())
	}

	w = do(t, h, http.MethodGet, "/api/artifacts/CC6.1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/artifacts/CC6.1/retire", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retire: status = %d, body %s", w.Code, w.Body)
	}
	w = do(t, h, http.MethodPost, "/api/artifacts/CC6.1/retire", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second retire: status = %d, want 409", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/artifacts/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/artifacts", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", w.Code)
	}
}

func TestLinkAndScoreRoutes(t *testing.T) {
	h := setupRouter(t)
	for _, body := range []map[string]any{
		{"id": "CC6.1", "kind": "control", "framework_id": "SOC2"},
		{"id": "P", "kind": "policy"},
		{"id": "EV-1", "kind": "evidence"},
	} {
		if w := do(t, h, http.MethodPost, "/api/artifacts", body); w.Code != http.StatusCreated {
			t.Fatalf("create %v: status = %d", body["id"], w.Code)
		}
	}

	link := map[string]any{"source_id": "P", "target_id": "CC6.1", "type": "maps_to"}
	w := do(t, h, http.MethodPost, "/api/links", link)
	if w.Code != http.StatusCreated {
		t.Fatalf("create link: status = %d, body %s", w.Code, w.Body)
	}
	var created createLinkResponse
	decodeBody(t, w, &created)
	if !created.Created || created.ID == "" {
		t.Fatalf("created = %+v", created)
	}

	w = do(t, h, http.MethodPost, "/api/links", link)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate link: status = %d, want 200", w.Code)
	}
	var dup createLinkResponse
	decodeBody(t, w, &dup)
	if dup.Created || dup.ID != created.ID {
		t.Errorf("duplicate = %+v, want existing link %s", dup, created.ID)
	}

	w = do(t, h, http.MethodPost, "/api/links", map[string]any{"source_id": "CC6.1", "target_id": "P", "type": "maps_to"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("reversed pair: status = %d, want 422", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/evidence", map[string]any{
		"evidence_id": "EV-1", "freshness_window": "fortnight",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad window: status = %d, want 400", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/evidence", map[string]any{
		"evidence_id": "EV-1", "freshness_window": "90d", "attributes": map[string]any{"result": "pass"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("attach: status = %d, body %s", w.Code, w.Body)
	}
	var att graph.EvidenceAttachment
	decodeBody(t, w, &att)
	if att.FreshnessWindow != 90*day {
		t.Errorf("FreshnessWindow = %v, want 90d", att.FreshnessWindow)
	}

	w = do(t, h, http.MethodGet, "/api/scores/CC6.1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("score: status = %d, body %s", w.Code, w.Body)
	}
	var score coverage.Score
	decodeBody(t, w, &score)
	if score.Value != 100 {
		t.Errorf("score = %v, want 100", score.Value)
	}

	w = do(t, h, http.MethodGet, "/api/scores/CC6.1?version=1", nil)
	decodeBody(t, w, &score)
	if score.Value != 0 || score.Version != 1 {
		t.Errorf("score at version 1 = %+v, want 0 at version 1", score)
	}

	w = do(t, h, http.MethodGet, "/api/links/"+created.ID+"/coverage", nil)
	var cov coverage.LinkCoverage
	decodeBody(t, w, &cov)
	if cov.Coverage != graph.CoverageFull {
		t.Errorf("coverage = %q, want full", cov.Coverage)
	}

	w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/coverage", map[string]any{"coverage": "partial"})
	if w.Code != http.StatusOK {
		t.Fatalf("assert coverage: status = %d, body %s", w.Code, w.Body)
	}
	w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/coverage", map[string]any{"coverage": "most"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad coverage: status = %d, want 422", w.Code)
	}

	if w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/review", nil); w.Code != http.StatusOK {
		t.Errorf("review: status = %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/retire", nil); w.Code != http.StatusOK {
		t.Errorf("retire: status = %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/links/"+created.ID+"/retire", nil); w.Code != http.StatusConflict {
		t.Errorf("second retire: status = %d, want 409", w.Code)
	}
	if w = do(t, h, http.MethodGet, "/api/links/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing link: status = %d, want 404", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/history/"+created.ID, nil)
	var records []history.Record
	decodeBody(t, w, &records)
	if len(records) != 4 {
		t.Fatalf("history has %d records, want 4", len(records))
	}
	if records[0].Action != history.ActionLinkRetired || records[0].Actor != "alice" {
		t.Errorf("newest record = %+v", records[0])
	}
}

func TestQueryRoutes(t *testing.T) {
	svc, _ := setupService(t)
	seed(t, svc)
	r := chi.NewRouter()
	RegisterRoutes(r, svc)

	w := do(t, r, http.MethodGet, "/api/frameworks/SOC2/rollup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rollup: status = %d, body %s", w.Code, w.Body)
	}
	var ru Rollup
	decodeBody(t, w, &ru)
	if ru.Score != 50 || ru.GapCount != 1 {
		t.Errorf("rollup = %+v", ru)
	}

	w = do(t, r, http.MethodGet, "/api/frameworks", nil)
	var all []Rollup
	decodeBody(t, w, &all)
	if len(all) != 2 {
		t.Errorf("rollups = %d, want 2", len(all))
	}

	w = do(t, r, http.MethodGet, "/api/matrix?policy=P&framework=SOC2,ISO27001", nil)
	var m Matrix
	decodeBody(t, w, &m)
	if len(m.Rows) != 1 || len(m.Rows[0].Cells) != 2 {
		t.Fatalf("matrix = %+v", m)
	}
	if m.Rows[0].Cells[0].FrameworkID != "SOC2" || m.Rows[0].Cells[0].Score != 100 {
		t.Errorf("first cell = %+v", m.Rows[0].Cells[0])
	}

	w = do(t, r, http.MethodGet, "/api/frameworks/SOC2/unmapped", nil)
	var unmapped []graph.Artifact
	decodeBody(t, w, &unmapped)
	if len(unmapped) != 1 || unmapped[0].ID != "CC6.2" {
		t.Errorf("unmapped = %+v", unmapped)
	}

	w = do(t, r, http.MethodGet, "/api/gaps/stale?as_of=2026-07-01T00:00:00Z", nil)
	var stale []map[string]any
	decodeBody(t, w, &stale)
	if len(stale) != 1 {
		t.Errorf("stale entries = %d, want 1", len(stale))
	}

	if w = do(t, r, http.MethodGet, "/api/gaps/stale?as_of=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad as_of: status = %d, want 400", w.Code)
	}
	if w = do(t, r, http.MethodGet, "/api/gaps/overdue?max_age=soon", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad max_age: status = %d, want 400", w.Code)
	}
	if w = do(t, r, http.MethodGet, "/api/requirements/CC6.1/broken-chains", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("chains from a control: status = %d, want 422", w.Code)
	}
	if w = do(t, r, http.MethodGet, "/api/risk/CC6.1", nil); w.Code != http.StatusOK {
		t.Errorf("risk: status = %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/frameworks/SOC2/report?format=md", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "# SOC2 compliance report") {
		t.Errorf("markdown report = %q", w.Body.String())
	}
	w = do(t, r, http.MethodGet, "/api/frameworks/SOC2/report", nil)
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("default report format should be HTML")
	}
	if w = do(t, r, http.MethodGet, "/api/frameworks/SOC2/report?format=pdf", nil); w.Code != http.StatusBadRequest {
		t.Errorf("pdf report: status = %d, want 400", w.Code)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"a,b", " c ", "", "d,,"})
	want := []string{"a", "b", "c", "d"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitList = %v, want %v", got, want)
	}
}

func TestHistoryRouteRejectsMalformedParams(t *testing.T) {
	h := setupRouter(t)
	w := do(t, h, http.MethodPost, "/api/artifacts", map[string]any{"id": "P", "kind": "policy"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body)
	}
	w = do(t, h, http.MethodPatch, "/api/artifacts/P", map[string]any{"attributes": map[string]any{"title": "Access"}})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", w.Code, w.Body)
	}

	for _, query := range []string{"limit=abc", "limit=-1", "offset=x", "since=yesterday", "until=2026-13-01"} {
		w = do(t, h, http.MethodGet, "/api/history/P?"+query, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, w.Code)
			continue
		}
		if code := errorCode(t, w); code != "bad_request" {
			t.Errorf("%s: code = %q, want bad_request", query, code)
		}
	}

	w = do(t, h, http.MethodGet, "/api/history/P?limit=1&since=2026-01-01T00:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("valid params: status = %d, body %s", w.Code, w.Body)
	}
	var records []history.Record
	decodeBody(t, w, &records)
	if len(records) != 1 || records[0].Action != history.ActionArtifactUpdated {
		t.Errorf("records = %+v, want the single latest update", records)
	}
}
