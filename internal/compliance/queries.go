package compliance

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/gaps"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// At pins a query to a graph version and evaluation time.
type At = coverage.At

// ScoreOf returns the compliance score of a control, policy or framework.
func (s *Service) ScoreOf(ctx context.Context, id string, at At) (coverage.Score, error) {
	defer s.metrics.Query("score_of", time.Now())
	return s.engine.ScoreOf(ctx, id, at)
}

// CoverageOf explains the coverage of a link.
func (s *Service) CoverageOf(ctx context.Context, linkID string, at At) (coverage.LinkCoverage, error) {
	defer s.metrics.Query("coverage_of", time.Now())
	return s.engine.CoverageOf(ctx, linkID, at)
}

// RiskOf returns a control's risk indicator.
func (s *Service) RiskOf(ctx context.Context, controlID string, at At) (coverage.Risk, error) {
	defer s.metrics.Query("risk_of", time.Now())
	return s.engine.RiskOf(ctx, controlID, at)
}

// Matrix is a policy by framework grid of compliance scores.
type Matrix struct {
	Version    int64       `json:"version"`
	AsOf       time.Time   `json:"as_of"`
	Frameworks []string    `json:"frameworks"`
	Rows       []MatrixRow `json:"rows"`
}

// MatrixRow holds one policy's scores.
type MatrixRow struct {
	PolicyID string       `json:"policy_id"`
	Title    string       `json:"title"`
	Overall  float64      `json:"overall"`
	Cells    []MatrixCell `json:"cells"`
}

// MatrixCell is a policy's score restricted to one framework's controls.
type MatrixCell struct {
	FrameworkID string  `json:"framework_id"`
	Score       float64 `json:"score"`
	Controls    int     `json:"controls"`
}

// Matrix scores each policy against each framework. Empty id lists select
// every live policy and every framework.
func (s *Service) Matrix(ctx context.Context, policyIDs, frameworkIDs []string, at At) (Matrix, error) {
	defer s.metrics.Query("matrix", time.Now())
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return Matrix{}, err
	}
	calc := s.engine.Calculator()

	if len(frameworkIDs) == 0 {
		frameworkIDs = snap.Frameworks()
	}
	var policies []*graph.Artifact
	if len(policyIDs) == 0 {
		policies = snap.Artifacts(func(a *graph.Artifact) bool {
			return a.Kind == graph.KindPolicy && !a.Retired()
		})
	} else {
		for _, id := range policyIDs {
			p, ok := snap.Artifact(id)
			if !ok || p.Retired() {
				return Matrix{}, graph.Errf("matrix", graph.ErrNotFound, id, "")
			}
			if p.Kind != graph.KindPolicy {
				return Matrix{}, graph.Errf("matrix", graph.ErrInvalidArtifactKind, id, "%s is not a policy", p.Kind)
			}
			policies = append(policies, p)
		}
	}

	m := Matrix{Version: snap.Version, AsOf: asOf, Frameworks: frameworkIDs, Rows: []MatrixRow{}}
	for _, p := range policies {
		row := MatrixRow{PolicyID: p.ID, Title: p.Title(), Cells: make([]MatrixCell, 0, len(frameworkIDs))}
		row.Overall, _ = calc.PolicyScore(snap, p.ID, asOf, nil)
		for _, fw := range frameworkIDs {
			score, n := calc.PolicyScore(snap, p.ID, asOf, func(a *graph.Artifact) bool { return a.FrameworkID == fw })
			row.Cells = append(row.Cells, MatrixCell{FrameworkID: fw, Score: score, Controls: n})
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

// Rollup summarizes a framework.
type Rollup struct {
	FrameworkID  string           `json:"framework_id"`
	Score        float64          `json:"score"`
	GapCount     int              `json:"gap_count"`
	ControlCount int              `json:"control_count"`
	Unmapped     int              `json:"unmapped"`
	StaleLinks   int              `json:"stale_links"`
	Version      int64            `json:"version"`
	AsOf         time.Time        `json:"as_of"`
	Controls     []ControlSummary `json:"controls"`
}

// ControlSummary is one row of a framework rollup.
type ControlSummary struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Lifecycle graph.Lifecycle `json:"lifecycle"`
	Score     float64         `json:"score"`
	Links     int             `json:"links"`
	Risk      int             `json:"risk"`
	RiskLevel string          `json:"risk_level"`
}

// Rollup returns a framework's score and gap count. The gap count is the
// number of unmapped controls plus the number of stale evidence entries on
// links into the framework's controls.
func (s *Service) Rollup(ctx context.Context, frameworkID string, at At) (Rollup, error) {
	defer s.metrics.Query("rollup", time.Now())
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return Rollup{}, err
	}
	r, err := s.rollupIn(ctx, snap, frameworkID, asOf)
	if err != nil {
		return Rollup{}, err
	}
	s.metrics.FrameworkScore(frameworkID, r.Score)
	return r, nil
}

// Rollups returns a rollup for every framework in the graph, computed in
// parallel over one snapshot.
func (s *Service) Rollups(ctx context.Context, at At) ([]Rollup, error) {
	defer s.metrics.Query("rollups", time.Now())
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	frameworks := snap.Frameworks()
	result := make([]Rollup, len(frameworks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, fw := range frameworks {
		g.Go(func() error {
			r, err := s.rollupIn(gctx, snap, fw, asOf)
			if err != nil {
				return err
			}
			result[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range result {
		s.metrics.FrameworkScore(r.FrameworkID, r.Score)
	}
	return result, nil
}

func (s *Service) rollupIn(ctx context.Context, snap *graph.Snapshot, frameworkID string, asOf time.Time) (Rollup, error) {
	controls := snap.Controls(frameworkID)
	if frameworkID == "" || len(controls) == 0 {
		return Rollup{}, graph.Errf("rollup", graph.ErrNotFound, frameworkID, "framework has no controls")
	}
	if err := ctx.Err(); err != nil {
		return Rollup{}, err
	}
	calc := s.engine.Calculator()

	r := Rollup{FrameworkID: frameworkID, Version: snap.Version, AsOf: asOf}
	r.Score, r.ControlCount = calc.FrameworkScore(snap, frameworkID, asOf)
	r.Unmapped = len(gaps.UnmappedControls(snap, frameworkID))

	inFramework := make(map[string]bool, len(controls))
	for _, c := range controls {
		inFramework[c.ID] = true
		score, links := calc.ControlScore(snap, c.ID, asOf)
		risk := coverage.RiskOf(snap, c.ID)
		r.Controls = append(r.Controls, ControlSummary{
			ID: c.ID, Title: c.Title(), Lifecycle: c.Lifecycle,
			Score: score, Links: links, Risk: risk.Indicator, RiskLevel: risk.Level,
		})
	}
	for _, e := range gaps.StaleEvidence(snap, asOf) {
		if inFramework[e.Link.TargetID] {
			r.StaleLinks++
		}
	}
	r.GapCount = r.Unmapped + r.StaleLinks
	return r, nil
}

// UnmappedControls lists a framework's controls without inbound mappings.
func (s *Service) UnmappedControls(ctx context.Context, frameworkID string, at At) ([]*graph.Artifact, error) {
	defer s.metrics.Query("unmapped_controls", time.Now())
	snap, _, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	return gaps.UnmappedControls(snap, frameworkID), nil
}

// StaleEvidence lists links whose latest evidence is stale at the pinned
// time.
func (s *Service) StaleEvidence(ctx context.Context, at At) ([]gaps.StaleEntry, error) {
	defer s.metrics.Query("stale_evidence", time.Now())
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	return gaps.StaleEvidence(snap, asOf), nil
}

// BrokenChains lists incomplete traceability paths from a requirement.
func (s *Service) BrokenChains(ctx context.Context, requirementID string, at At) ([]gaps.BrokenChain, error) {
	defer s.metrics.Query("broken_chains", time.Now())
	snap, _, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	return gaps.BrokenChains(snap, requirementID)
}

// AllBrokenChains runs BrokenChains for every live requirement, ordered by
// requirement id.
func (s *Service) AllBrokenChains(ctx context.Context, at At) ([]gaps.BrokenChain, error) {
	defer s.metrics.Query("broken_chains", time.Now())
	snap, _, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	result := []gaps.BrokenChain{}
	reqs := snap.Artifacts(func(a *graph.Artifact) bool {
		return a.Kind == graph.KindRequirement && !a.Retired()
	})
	for _, req := range reqs {
		chains, err := gaps.BrokenChains(snap, req.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, chains...)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].RequirementID < result[j].RequirementID })
	return result, nil
}

// OverdueReviews lists links not reviewed within maxAge; zero uses the
// configured default.
func (s *Service) OverdueReviews(ctx context.Context, at At, maxAge time.Duration) ([]gaps.OverdueReview, error) {
	defer s.metrics.Query("overdue_reviews", time.Now())
	if maxAge <= 0 {
		maxAge = s.reviewMaxAge
	}
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}
	return gaps.OverdueReviews(snap, asOf, maxAge), nil
}
