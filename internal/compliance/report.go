package compliance

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/ziadkadry99/tracegraph/internal/gaps"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// Report is a framework audit report.
type Report struct {
	FrameworkID string    `json:"framework_id"`
	Version     int64     `json:"version"`
	AsOf        time.Time `json:"as_of"`
	Markdown    string    `json:"markdown"`
}

// Report builds a markdown audit report for a framework: rollup, per-control
// scores and risk, unmapped controls and stale evidence.
func (s *Service) Report(ctx context.Context, frameworkID string, at At) (Report, error) {
	defer s.metrics.Query("report", time.Now())
	snap, asOf, err := s.engine.Resolve(ctx, at)
	if err != nil {
		return Report{}, err
	}
	r, err := s.rollupIn(ctx, snap, frameworkID, asOf)
	if err != nil {
		return Report{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s compliance report\n\n", frameworkID)
	fmt.Fprintf(&b, "Graph version %d, evaluated at %s.\n\n", snap.Version, asOf.Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Compliance score | %.1f |\n", r.Score)
	fmt.Fprintf(&b, "| Active controls | %d |\n", r.ControlCount)
	fmt.Fprintf(&b, "| Unmapped controls | %d |\n", r.Unmapped)
	fmt.Fprintf(&b, "| Links with stale evidence | %d |\n", r.StaleLinks)
	fmt.Fprintf(&b, "| Gaps | %d |\n\n", r.GapCount)

	b.WriteString("## Controls\n\n")
	b.WriteString("| Control | Title | Lifecycle | Score | Links | Risk |\n|---|---|---|---|---|---|\n")
	for _, c := range r.Controls {
		fmt.Fprintf(&b, "| %s | %s | %s | %.1f | %d | %d (%s) |\n",
			cell(c.ID), cell(c.Title), c.Lifecycle, c.Score, c.Links, c.Risk, c.RiskLevel)
	}
	b.WriteString("\n")

	unmapped := gaps.UnmappedControls(snap, frameworkID)
	b.WriteString("## Unmapped controls\n\n")
	if len(unmapped) == 0 {
		b.WriteString("None.\n\n")
	}
	for _, c := range unmapped {
		fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Title())
	}
	if len(unmapped) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("## Stale evidence\n\n")
	stale := 0
	for _, e := range gaps.StaleEvidence(snap, asOf) {
		target, ok := snap.Artifact(e.Link.TargetID)
		if !ok || target.Kind != graph.KindControl || target.FrameworkID != frameworkID {
			continue
		}
		stale++
		fmt.Fprintf(&b, "- %s %s %s: evidence %s expired %s\n",
			e.Link.SourceID, e.Link.Type, e.Link.TargetID, e.Attachment.EvidenceID,
			e.ExpiredAt.Format("2006-01-02"))
	}
	if stale == 0 {
		b.WriteString("None.\n")
	}

	b.WriteString("\n## Evaluation settings\n\n```yaml\n")
	fmt.Fprintf(&b, "framework: %q\nversion: %d\nas_of: %s\npass_expression: %q\n",
		frameworkID, snap.Version, asOf.Format(time.RFC3339), s.engine.Calculator().Expression())
	b.WriteString("```\n")

	return Report{FrameworkID: frameworkID, Version: snap.Version, AsOf: asOf, Markdown: b.String()}, nil
}

// cell escapes a value for a markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

var reportMarkdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; color: #1f2328; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #d0d7de; padding: 4px 8px; text-align: left; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// RenderHTML renders a report as a standalone HTML page.
func RenderHTML(r Report) ([]byte, error) {
	var body bytes.Buffer
	if err := reportMarkdown.Convert([]byte(r.Markdown), &body); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	var page bytes.Buffer
	err := reportPage.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{
		Title: r.FrameworkID + " compliance report",
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering report page: %w", err)
	}
	return page.Bytes(), nil
}
