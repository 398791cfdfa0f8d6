package compliance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

// ActorHeader names the request header used as the actor when a command
// body does not carry one.
const ActorHeader = "X-Actor"

// RegisterRoutes mounts the graph API under /api on the given router.
func RegisterRoutes(r chi.Router, svc *Service) {
	h := &routeHandler{svc: svc}
	r.Route("/api", func(r chi.Router) {
		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", h.createArtifact)
			r.Get("/{id}", h.getArtifact)
			r.Patch("/{id}", h.updateArtifact)
			r.Post("/{id}/retire", h.retireArtifact)
		})
		r.Route("/links", func(r chi.Router) {
			r.Post("/", h.createLink)
			r.Get("/{id}", h.getLink)
			r.Get("/{id}/coverage", h.coverageOf)
			r.Post("/{id}/coverage", h.assertCoverage)
			r.Post("/{id}/review", h.reviewLink)
			r.Post("/{id}/retire", h.retireLink)
			r.Post("/{id}/evidence", h.attachEvidence)
		})
		r.Get("/scores/{id}", h.scoreOf)
		r.Get("/risk/{id}", h.riskOf)
		r.Get("/matrix", h.matrix)
		r.Route("/frameworks", func(r chi.Router) {
			r.Get("/", h.rollups)
			r.Get("/{id}/rollup", h.rollup)
			r.Get("/{id}/unmapped", h.unmapped)
			r.Get("/{id}/report", h.report)
		})
		r.Get("/gaps/stale", h.staleEvidence)
		r.Get("/gaps/overdue", h.overdueReviews)
		r.Get("/gaps/broken-chains", h.allBrokenChains)
		r.Get("/requirements/{id}/broken-chains", h.brokenChains)
		r.Get("/history/{id}", h.history)
	})
}

type routeHandler struct {
	svc *Service
}

func (h *routeHandler) createArtifact(w http.ResponseWriter, r *http.Request) {
	var req store.NewArtifact
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r, req.Actor)
	a, created, err := h.svc.CreateArtifact(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}

func (h *routeHandler) getArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Artifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *routeHandler) updateArtifact(w http.ResponseWriter, r *http.Request) {
	var req store.ArtifactUpdate
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r, req.Actor)
	a, err := h.svc.UpdateArtifact(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *routeHandler) retireArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.RetireArtifact(r.Context(), chi.URLParam(r, "id"), actor(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type createLinkResponse struct {
	graph.Link
	Created bool `json:"created"`
}

func (h *routeHandler) createLink(w http.ResponseWriter, r *http.Request) {
	var req store.NewLink
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r, req.Actor)
	l, created, err := h.svc.CreateLink(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, createLinkResponse{Link: l, Created: created})
}

func (h *routeHandler) getLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Link(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *routeHandler) assertCoverage(w http.ResponseWriter, r *http.Request) {
	var req store.CoverageUpdate
	if !decode(w, r, &req) {
		return
	}
	req.Actor = actor(r, req.Actor)
	l, err := h.svc.AssertCoverage(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *routeHandler) reviewLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.ReviewLink(r.Context(), chi.URLParam(r, "id"), actor(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *routeHandler) retireLink(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.RetireLink(r.Context(), chi.URLParam(r, "id"), actor(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// attachRequest carries the freshness window as a duration string such as
// "90d" or "720h".
type attachRequest struct {
	EvidenceID      string               `json:"evidence_id"`
	CollectedAt     time.Time            `json:"collected_at"`
	ValidUntil      *time.Time           `json:"valid_until,omitempty"`
	Source          graph.EvidenceSource `json:"source,omitempty"`
	FreshnessWindow string               `json:"freshness_window,omitempty"`
	Attributes      map[string]any       `json:"attributes,omitempty"`
	Actor           string               `json:"actor,omitempty"`
	IfVersion       int64                `json:"if_version,omitempty"`
}

func (h *routeHandler) attachEvidence(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !decode(w, r, &req) {
		return
	}
	in := store.NewAttachment{
		LinkID:      chi.URLParam(r, "id"),
		EvidenceID:  req.EvidenceID,
		CollectedAt: req.CollectedAt,
		ValidUntil:  req.ValidUntil,
		Source:      req.Source,
		Attributes:  req.Attributes,
		Actor:       actor(r, req.Actor),
		IfVersion:   req.IfVersion,
	}
	if req.FreshnessWindow != "" {
		d, err := graph.ParseDuration(req.FreshnessWindow)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		in.FreshnessWindow = d
	}
	att, err := h.svc.AttachEvidence(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (h *routeHandler) scoreOf(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	s, err := h.svc.ScoreOf(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *routeHandler) coverageOf(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	c, err := h.svc.CoverageOf(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *routeHandler) riskOf(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	risk, err := h.svc.RiskOf(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, risk)
}

func (h *routeHandler) matrix(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	m, err := h.svc.Matrix(r.Context(), splitList(q["policy"]), splitList(q["framework"]), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *routeHandler) rollups(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	list, err := h.svc.Rollups(r.Context(), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) rollup(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	ru, err := h.svc.Rollup(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ru)
}

func (h *routeHandler) unmapped(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	list, err := h.svc.UnmappedControls(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) report(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.Report(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "html":
		page, err := RenderHTML(rep)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	case "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(rep.Markdown))
	case "json":
		writeJSON(w, http.StatusOK, rep)
	default:
		badRequest(w, "format must be html, md or json")
	}
}

func (h *routeHandler) staleEvidence(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	list, err := h.svc.StaleEvidence(r.Context(), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) overdueReviews(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	var maxAge time.Duration
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := graph.ParseDuration(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		maxAge = d
	}
	list, err := h.svc.OverdueReviews(r.Context(), at, maxAge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) brokenChains(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	list, err := h.svc.BrokenChains(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) allBrokenChains(w http.ResponseWriter, r *http.Request) {
	at, ok := parseAt(w, r)
	if !ok {
		return
	}
	list, err := h.svc.AllBrokenChains(r.Context(), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routeHandler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := history.QueryFilter{
		EntityID: chi.URLParam(r, "id"),
		Actor:    q.Get("actor"),
	}
	if v := q.Get("entity_type"); v != "" {
		filter.EntityType = history.EntityType(v)
	}
	if v := q.Get("action"); v != "" {
		filter.Action = history.Action(v)
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		if v := q.Get(p.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w, fmt.Sprintf("invalid %s %q: want RFC 3339", p.key, v))
				return
			}
			*p.dst = &t
		}
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(w, fmt.Sprintf("invalid %s %q", p.key, v))
				return
			}
			*p.dst = n
		}
	}
	records, err := h.svc.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// parseAt reads the version and as_of query parameters.
func parseAt(w http.ResponseWriter, r *http.Request) (At, bool) {
	var at At
	q := r.URL.Query()
	if v := q.Get("version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			badRequest(w, fmt.Sprintf("invalid version %q", v))
			return at, false
		}
		at.Version = n
	}
	if v := q.Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid as_of %q: want RFC 3339", v))
			return at, false
		}
		at.AsOf = t.UTC()
	}
	return at, true
}

// splitList flattens repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func actor(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(ActorHeader)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "error": msg})
}

// StatusOf maps a graph error code to an HTTP status.
func StatusOf(err error) int {
	switch graph.Code(err) {
	case "not_found", "link_not_found":
		return http.StatusNotFound
	case "cycle_detected", "already_retired", "stale_write_conflict", "framework_conflict":
		return http.StatusConflict
	case "internal":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"code": graph.Code(err), "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
