package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"go.uber.org/zap"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/progress"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

// Summary counts what an import changed.
type Summary struct {
	Files              int `json:"files"`
	ArtifactsCreated   int `json:"artifacts_created"`
	ArtifactsUpdated   int `json:"artifacts_updated"`
	LinksCreated       int `json:"links_created"`
	LinksExisting      int `json:"links_existing"`
	CoverageAsserted   int `json:"coverage_asserted"`
	Attachments        int `json:"attachments"`
	AttachmentsSkipped int `json:"attachments_skipped"`
}

// Importer replays catalog files through the compliance service. Replaying
// the same catalog twice changes nothing the second time.
type Importer struct {
	svc      *compliance.Service
	reporter progress.Reporter
	logger   *zap.Logger
	actor    string
}

// Option configures an Importer.
type Option func(*Importer)

// WithReporter sets the progress reporter.
func WithReporter(r progress.Reporter) Option { return func(im *Importer) { im.reporter = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(im *Importer) { im.logger = l } }

// WithActor sets the actor recorded in history for every write.
func WithActor(actor string) Option { return func(im *Importer) { im.actor = actor } }

// NewImporter creates an Importer.
func NewImporter(svc *compliance.Service, opts ...Option) *Importer {
	im := &Importer{
		svc:      svc,
		reporter: progress.Nop{},
		logger:   zap.NewNop(),
		actor:    "catalog-import",
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

type parsedFile struct {
	path string
	*File
}

// ImportFiles parses every file and applies them. All artifacts from all
// files are applied before any link, so links may reference artifacts
// declared in another file. Entry failures do not stop the import; they are
// joined into the returned error.
func (im *Importer) ImportFiles(ctx context.Context, paths []string) (Summary, error) {
	var files []parsedFile
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return Summary{}, fmt.Errorf("opening catalog: %w", err)
		}
		parsed, err := Parse(f)
		f.Close()
		if err != nil {
			return Summary{}, fmt.Errorf("%s: %w", p, err)
		}
		files = append(files, parsedFile{path: p, File: parsed})
	}
	return im.apply(ctx, files)
}

// Import applies a single already-parsed catalog.
func (im *Importer) Import(ctx context.Context, name string, f *File) (Summary, error) {
	return im.apply(ctx, []parsedFile{{path: name, File: f}})
}

func (im *Importer) apply(ctx context.Context, files []parsedFile) (Summary, error) {
	sum := Summary{Files: len(files)}
	total := 0
	for _, f := range files {
		total += len(f.Artifacts) + len(f.Links)
	}

	var errs []error
	done := 0
	im.reporter.Start(total, "Importing catalog")
	defer im.reporter.Finish()

	for _, f := range files {
		for _, a := range f.Artifacts {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			done++
			im.reporter.Update(done, a.ID)
			if err := im.applyArtifact(ctx, a, &sum); err != nil {
				errs = append(errs, fmt.Errorf("%s: artifact %s: %w", f.path, a.ID, err))
			}
		}
	}
	for _, f := range files {
		for _, l := range f.Links {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			done++
			im.reporter.Update(done, fmt.Sprintf("%s %s %s", l.Source, l.Type, l.Target))
			if err := im.applyLink(ctx, l, &sum); err != nil {
				errs = append(errs, fmt.Errorf("%s: link %s -> %s: %w", f.path, l.Source, l.Target, err))
			}
		}
	}

	im.logger.Info("catalog imported",
		zap.Int("files", sum.Files),
		zap.Int("artifacts_created", sum.ArtifactsCreated),
		zap.Int("artifacts_updated", sum.ArtifactsUpdated),
		zap.Int("links_created", sum.LinksCreated),
		zap.Int("attachments", sum.Attachments),
		zap.Int("errors", len(errs)))
	return sum, errors.Join(errs...)
}

// applyArtifact creates the artifact, or merges catalog attributes into an
// existing one when they differ.
func (im *Importer) applyArtifact(ctx context.Context, a Artifact, sum *Summary) error {
	existing, err := im.svc.Artifact(ctx, a.ID)
	if errors.Is(err, graph.ErrNotFound) {
		_, _, err = im.svc.CreateArtifact(ctx, store.NewArtifact{
			ID:          a.ID,
			Kind:        a.Kind,
			FrameworkID: a.Framework,
			Attributes:  a.Attributes,
			Draft:       a.Draft,
			Actor:       im.actor,
		})
		if err == nil {
			sum.ArtifactsCreated++
		}
		return err
	}
	if err != nil {
		return err
	}
	if existing.Kind != a.Kind {
		return graph.Errf("import", graph.ErrInvalidKind, a.ID, "exists as %s, catalog says %s", existing.Kind, a.Kind)
	}
	if existing.FrameworkID != a.Framework {
		return graph.Errf("import", graph.ErrFrameworkConflict, a.ID, "exists under %q, catalog says %q", existing.FrameworkID, a.Framework)
	}

	changed, err := changedAttributes(existing.Attributes, a.Attributes)
	if err != nil || len(changed) == 0 {
		return err
	}
	_, err = im.svc.UpdateArtifact(ctx, a.ID, store.ArtifactUpdate{Attributes: changed, Actor: im.actor})
	if err == nil {
		sum.ArtifactsUpdated++
	}
	return err
}

// changedAttributes returns the catalog attributes whose stored value
// differs. Values are compared after a JSON round trip so YAML integers
// match stored numbers.
func changedAttributes(stored, want map[string]any) (map[string]any, error) {
	if len(want) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(want)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	changed := make(map[string]any)
	for k, v := range normalized {
		if !reflect.DeepEqual(stored[k], v) {
			changed[k] = v
		}
	}
	return changed, nil
}

func (im *Importer) applyLink(ctx context.Context, l Link, sum *Summary) error {
	in := store.NewLink{SourceID: l.Source, TargetID: l.Target, Type: l.Type, Actor: im.actor}
	if l.Coverage != "" {
		cov := l.Coverage
		in.Coverage = &cov
	}
	link, created, err := im.svc.CreateLink(ctx, in)
	if err != nil {
		return err
	}
	if created {
		sum.LinksCreated++
	} else {
		sum.LinksExisting++
		if l.Coverage != "" && (!link.CoverageAsserted || link.Coverage != l.Coverage) {
			cov := l.Coverage
			if _, err := im.svc.AssertCoverage(ctx, link.ID, store.CoverageUpdate{Coverage: &cov, Actor: im.actor}); err != nil {
				return err
			}
			sum.CoverageAsserted++
		}
	}
	if len(l.Evidence) == 0 {
		return nil
	}

	detail, err := im.svc.Link(ctx, link.ID)
	if err != nil {
		return err
	}
	for _, e := range l.Evidence {
		if alreadyAttached(detail.Attachments, e) {
			sum.AttachmentsSkipped++
			continue
		}
		in := store.NewAttachment{
			LinkID:      link.ID,
			EvidenceID:  e.ID,
			CollectedAt: e.CollectedAt,
			ValidUntil:  e.ValidUntil,
			Source:      e.Source,
			Attributes:  e.Attributes,
			Actor:       im.actor,
		}
		if e.FreshnessWindow != "" {
			if in.FreshnessWindow, err = graph.ParseDuration(e.FreshnessWindow); err != nil {
				return err
			}
		}
		if _, err := im.svc.AttachEvidence(ctx, in); err != nil {
			return fmt.Errorf("evidence %s: %w", e.ID, err)
		}
		sum.Attachments++
	}
	return nil
}

// alreadyAttached reports whether the catalog entry was imported before.
// Entries without collected_at match any attachment of the same evidence.
func alreadyAttached(existing []graph.EvidenceAttachment, e Evidence) bool {
	for _, att := range existing {
		if att.EvidenceID != e.ID {
			continue
		}
		if e.CollectedAt.IsZero() || att.CollectedAt.Equal(e.CollectedAt) {
			return true
		}
	}
	return false
}
