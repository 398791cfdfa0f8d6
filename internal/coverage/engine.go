package coverage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/metrics"
)

// Source provides versioned snapshots. *store.Store implements it.
type Source interface {
	Snapshot(ctx context.Context, version int64) (*graph.Snapshot, error)
	VersionAt(ctx context.Context, t time.Time) (int64, error)
	Now() time.Time
}

// At pins a query. A zero AsOf means now; a zero Version means the last
// version committed at or before AsOf.
type At struct {
	Version int64     `json:"version,omitempty"`
	AsOf    time.Time `json:"as_of,omitempty"`
}

// Subject is what a score was computed for.
type Subject string

const (
	SubjectControl   Subject = "control"
	SubjectPolicy    Subject = "policy"
	SubjectFramework Subject = "framework"
)

// Score is a compliance score in [0, 100].
type Score struct {
	ID       string    `json:"id"`
	Subject  Subject   `json:"subject"`
	Value    float64   `json:"score"`
	Links    int       `json:"links,omitempty"`
	Controls int       `json:"controls,omitempty"`
	Unmapped bool      `json:"unmapped,omitempty"`
	Version  int64     `json:"version"`
	AsOf     time.Time `json:"as_of"`
}

// Engine answers coverage, score and risk queries against pinned snapshots.
type Engine struct {
	src     Source
	calc    *Calculator
	cache   Cache
	metrics *metrics.Recorder
	logger  *zap.Logger
	flight  singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache enables score caching.
func WithCache(c Cache) EngineOption { return func(e *Engine) { e.cache = c } }

// WithMetrics records cache lookups.
func WithMetrics(m *metrics.Recorder) EngineOption { return func(e *Engine) { e.metrics = m } }

// WithEngineLogger sets the logger.
func WithEngineLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

// NewEngine creates an Engine reading from src and classifying evidence
// with eval.
func NewEngine(src Source, eval *Evaluator, opts ...EngineOption) *Engine {
	e := &Engine{src: src, calc: NewCalculator(eval), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.calc.OnEvalError = func(att *graph.EvidenceAttachment, err error) {
		e.logger.Warn("pass expression failed",
			zap.String("attachment", att.ID),
			zap.String("link", att.LinkID),
			zap.Error(err))
	}
	return e
}

// Calculator exposes the pure calculator for callers that already hold a
// snapshot.
func (e *Engine) Calculator() *Calculator { return e.calc }

// Resolve turns at into a snapshot and an asOf time.
func (e *Engine) Resolve(ctx context.Context, at At) (*graph.Snapshot, time.Time, error) {
	asOf := at.AsOf
	if asOf.IsZero() {
		asOf = e.src.Now()
	}
	asOf = asOf.UTC()
	version := at.Version
	if version == 0 {
		v, err := e.src.VersionAt(ctx, asOf)
		if err != nil {
			return nil, time.Time{}, err
		}
		version = v
	}
	snap, err := e.src.Snapshot(ctx, version)
	if err != nil {
		return nil, time.Time{}, err
	}
	return snap, asOf, nil
}

// ScoreOf returns the compliance score of a control, a policy or a
// framework id at the pinned point.
func (e *Engine) ScoreOf(ctx context.Context, id string, at At) (Score, error) {
	snap, asOf, err := e.Resolve(ctx, at)
	if err != nil {
		return Score{}, err
	}
	keyAsOf := asOf
	if at.AsOf.IsZero() {
		// Unpinned queries within the same second share an entry.
		keyAsOf = asOf.Truncate(time.Second)
	}
	key := cacheKey(id, snap.Version, keyAsOf)

	if e.cache != nil {
		s, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.metrics.CacheLookup(e.cache.Backend(), "error")
			e.logger.Warn("score cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			e.metrics.CacheLookup(e.cache.Backend(), "hit")
			return s, nil
		default:
			e.metrics.CacheLookup(e.cache.Backend(), "miss")
		}
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		s, err := e.compute(snap, id, asOf)
		if err != nil {
			return Score{}, err
		}
		if e.cache != nil {
			if err := e.cache.Set(ctx, key, s); err != nil {
				e.logger.Warn("score cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return s, nil
	})
	if err != nil {
		return Score{}, err
	}
	return v.(Score), nil
}

// ScoreIn computes a score directly from a snapshot, bypassing the cache.
func (e *Engine) ScoreIn(snap *graph.Snapshot, id string, asOf time.Time) (Score, error) {
	return e.compute(snap, id, asOf)
}

func (e *Engine) compute(snap *graph.Snapshot, id string, asOf time.Time) (Score, error) {
	s := Score{ID: id, Version: snap.Version, AsOf: asOf}
	if a, ok := snap.Artifact(id); ok {
		if a.Retired() {
			return Score{}, graph.Errf("score_of", graph.ErrNotFound, id, "%s is retired", a.Kind)
		}
		switch a.Kind {
		case graph.KindControl:
			s.Subject = SubjectControl
			s.Value, s.Links = e.calc.ControlScore(snap, id, asOf)
			s.Unmapped = s.Links == 0
			return s, nil
		case graph.KindPolicy:
			s.Subject = SubjectPolicy
			s.Value, s.Controls = e.calc.PolicyScore(snap, id, asOf, nil)
			return s, nil
		default:
			return Score{}, graph.Errf("score_of", graph.ErrInvalidArtifactKind, id, "%s has no compliance score", a.Kind)
		}
	}
	for _, fw := range snap.Frameworks() {
		if fw == id {
			s.Subject = SubjectFramework
			s.Value, s.Controls = e.calc.FrameworkScore(snap, id, asOf)
			return s, nil
		}
	}
	return Score{}, graph.Errf("score_of", graph.ErrNotFound, id, "no artifact or framework")
}

// CoverageOf explains a link's coverage at the pinned point.
func (e *Engine) CoverageOf(ctx context.Context, linkID string, at At) (LinkCoverage, error) {
	snap, asOf, err := e.Resolve(ctx, at)
	if err != nil {
		return LinkCoverage{}, err
	}
	l, ok := snap.Link(linkID)
	if !ok {
		return LinkCoverage{}, graph.Errf("coverage_of", graph.ErrLinkNotFound, linkID, "")
	}
	return e.calc.Explain(snap, l, asOf), nil
}

// RiskOf returns a control's risk indicator at the pinned point.
func (e *Engine) RiskOf(ctx context.Context, controlID string, at At) (Risk, error) {
	snap, _, err := e.Resolve(ctx, at)
	if err != nil {
		return Risk{}, err
	}
	a, ok := snap.Artifact(controlID)
	if !ok || a.Retired() {
		return Risk{}, graph.Errf("risk_of", graph.ErrNotFound, controlID, "")
	}
	if a.Kind != graph.KindControl {
		return Risk{}, graph.Errf("risk_of", graph.ErrInvalidArtifactKind, controlID, "%s is not a control", a.Kind)
	}
	return RiskOf(snap, controlID), nil
}
