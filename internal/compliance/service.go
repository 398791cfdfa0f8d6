// Package compliance is the command and query API over the traceability
// graph. UI, CLI and agent collaborators call it; it never renders.
package compliance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
	"github.com/ziadkadry99/tracegraph/internal/metrics"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

// DefaultReviewMaxAge is how long a link may go without review before it is
// reported as overdue.
const DefaultReviewMaxAge = 365 * 24 * time.Hour

// Service composes the store, coverage engine and gap analyzer.
type Service struct {
	store        *store.Store
	engine       *coverage.Engine
	history      *history.Store
	metrics      *metrics.Recorder
	logger       *zap.Logger
	reviewMaxAge time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option { return func(s *Service) { s.metrics = m } }

// WithReviewMaxAge sets the default age after which links are overdue for
// review.
func WithReviewMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reviewMaxAge = d
		}
	}
}

// New creates a Service.
func New(st *store.Store, engine *coverage.Engine, hist *history.Store, opts ...Option) *Service {
	s := &Service{
		store:        st,
		engine:       engine,
		history:      hist,
		logger:       zap.NewNop(),
		reviewMaxAge: DefaultReviewMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.store }

func (s *Service) done(op string, started time.Time, err error, fields ...zap.Field) {
	s.metrics.Command(op, started, err)
	if err != nil {
		s.logger.Info("command rejected",
			append(fields, zap.String("op", op), zap.String("code", graph.Code(err)), zap.Error(err))...)
		return
	}
	s.logger.Info("command applied", append(fields, zap.String("op", op))...)
}

// CreateArtifact creates an artifact, or returns the existing one with the
// same id, kind and framework. created is false for the latter.
func (s *Service) CreateArtifact(ctx context.Context, in store.NewArtifact) (graph.Artifact, bool, error) {
	started := time.Now()
	a, created, err := s.store.CreateArtifact(ctx, in)
	s.done("create_artifact", started, err, zap.String("id", a.ID), zap.String("kind", string(in.Kind)), zap.Bool("created", created))
	return a, created, err
}

// UpdateArtifact edits attributes or lifecycle.
func (s *Service) UpdateArtifact(ctx context.Context, id string, upd store.ArtifactUpdate) (graph.Artifact, error) {
	started := time.Now()
	a, err := s.store.UpdateArtifact(ctx, id, upd)
	s.done("update_artifact", started, err, zap.String("id", id))
	return a, err
}

// RetireArtifact tombstones an artifact.
func (s *Service) RetireArtifact(ctx context.Context, id, actor string) (graph.Artifact, error) {
	started := time.Now()
	a, err := s.store.RetireArtifact(ctx, id, actor)
	s.done("retire_artifact", started, err, zap.String("id", id))
	return a, err
}

// CreateLink creates a link; created is false when an identical live link
// already existed.
func (s *Service) CreateLink(ctx context.Context, in store.NewLink) (graph.Link, bool, error) {
	started := time.Now()
	l, created, err := s.store.CreateLink(ctx, in)
	s.done("create_link", started, err,
		zap.String("source", in.SourceID),
		zap.String("target", in.TargetID),
		zap.String("type", string(in.Type)),
		zap.Bool("created", created))
	return l, created, err
}

// AssertCoverage sets or clears a link's asserted coverage.
func (s *Service) AssertCoverage(ctx context.Context, linkID string, upd store.CoverageUpdate) (graph.Link, error) {
	started := time.Now()
	l, err := s.store.AssertCoverage(ctx, linkID, upd)
	s.done("assert_coverage", started, err, zap.String("link", linkID))
	return l, err
}

// ReviewLink marks a link as reviewed now.
func (s *Service) ReviewLink(ctx context.Context, linkID, actor string) (graph.Link, error) {
	started := time.Now()
	l, err := s.store.ReviewLink(ctx, linkID, actor)
	s.done("review_link", started, err, zap.String("link", linkID))
	return l, err
}

// RetireLink tombstones a link.
func (s *Service) RetireLink(ctx context.Context, linkID, actor string) (graph.Link, error) {
	started := time.Now()
	l, err := s.store.RetireLink(ctx, linkID, actor)
	s.done("retire_link", started, err, zap.String("link", linkID))
	return l, err
}

// AttachEvidence attaches evidence to a link.
func (s *Service) AttachEvidence(ctx context.Context, in store.NewAttachment) (graph.EvidenceAttachment, error) {
	started := time.Now()
	e, err := s.store.AttachEvidence(ctx, in)
	s.done("attach_evidence", started, err, zap.String("link", in.LinkID), zap.String("evidence", in.EvidenceID))
	return e, err
}

// Artifact returns an artifact's current state.
func (s *Service) Artifact(ctx context.Context, id string) (graph.Artifact, error) {
	return s.store.Artifact(ctx, id)
}

// Link returns a link's current state with its attachments.
func (s *Service) Link(ctx context.Context, id string) (LinkDetail, error) {
	l, err := s.store.Link(ctx, id)
	if err != nil {
		return LinkDetail{}, err
	}
	atts, err := s.store.Attachments(ctx, id)
	if err != nil {
		return LinkDetail{}, err
	}
	if atts == nil {
		atts = []graph.EvidenceAttachment{}
	}
	return LinkDetail{Link: l, Attachments: atts}, nil
}

// LinkDetail is a link with every attachment made to it.
type LinkDetail struct {
	graph.Link
	Attachments []graph.EvidenceAttachment `json:"attachments"`
}

// History returns audit records, newest first.
func (s *Service) History(ctx context.Context, filter history.QueryFilter) ([]history.Record, error) {
	defer s.metrics.Query("history", time.Now())
	records, err := s.history.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}
