package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/gaps"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

var errBadArgument = errors.New("bad argument")

// pinFrom reads the optional version and as_of arguments.
func pinFrom(request mcp.CallToolRequest) (compliance.At, error) {
	var at compliance.At
	if v := request.GetInt("version", 0); v > 0 {
		at.Version = int64(v)
	} else if v < 0 {
		return at, fmt.Errorf("%w: version must be non-negative", errBadArgument)
	}
	if s := request.GetString("as_of", ""); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return at, fmt.Errorf("%w: as_of must be RFC 3339", errBadArgument)
		}
		at.AsOf = t.UTC()
	}
	return at, nil
}

// toolError turns a query failure into a tool result the agent can act on.
func toolError(err error) *mcp.CallToolResult {
	switch graph.Code(err) {
	case "not_found", "link_not_found":
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err))
	case "internal":
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) handleScoreOf(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	score, err := s.svc.ScoreOf(ctx, id, at)
	if err != nil {
		return toolError(err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %.1f / 100\n", score.Subject, score.ID, score.Value)
	switch {
	case score.Unmapped:
		sb.WriteString("No policy maps to this control.\n")
	case score.Links > 0:
		fmt.Fprintf(&sb, "Scoring links: %d\n", score.Links)
	}
	if score.Controls > 0 {
		fmt.Fprintf(&sb, "Controls: %d\n", score.Controls)
	}
	fmt.Fprintf(&sb, "Graph version %d, evaluated at %s\n", score.Version, score.AsOf.Format(time.RFC3339))
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleFrameworkRollup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fw, err := request.RequireString("framework_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: framework_id"), nil
	}
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.svc.Rollup(ctx, fw, at)
	if err != nil {
		return toolError(err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Framework %s: %.1f / 100 across %d active controls\n", r.FrameworkID, r.Score, r.ControlCount)
	fmt.Fprintf(&sb, "Gaps: %d (%d unmapped controls, %d links with stale evidence)\n", r.GapCount, r.Unmapped, r.StaleLinks)
	sb.WriteString("\nControls:\n")
	for _, c := range r.Controls {
		fmt.Fprintf(&sb, "- %s (%s): score %.1f over %d links, risk %d %s\n",
			c.ID, c.Title, c.Score, c.Links, c.Risk, c.RiskLevel)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handlePolicyMatrix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	policies := splitIDs(request.GetString("policies", ""))
	frameworks := splitIDs(request.GetString("frameworks", ""))

	m, err := s.svc.Matrix(ctx, policies, frameworks, at)
	if err != nil {
		return toolError(err), nil
	}
	if len(m.Rows) == 0 {
		return mcp.NewToolResultText("No policies found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Policy matrix at graph version %d:\n", m.Version)
	for _, row := range m.Rows {
		fmt.Fprintf(&sb, "\n%s (%s): overall %.1f\n", row.PolicyID, row.Title, row.Overall)
		for _, c := range row.Cells {
			if c.Controls == 0 {
				fmt.Fprintf(&sb, "  %s: no mapped controls\n", c.FrameworkID)
				continue
			}
			fmt.Fprintf(&sb, "  %s: %.1f over %d controls\n", c.FrameworkID, c.Score, c.Controls)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleUnmappedControls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.svc.UnmappedControls(ctx, request.GetString("framework_id", ""), at)
	if err != nil {
		return toolError(err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("Every control is mapped by at least one live policy."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d unmapped control(s):\n", len(list))
	for _, c := range list {
		fmt.Fprintf(&sb, "- %s [%s]: %s\n", c.ID, c.FrameworkID, c.Title())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleStaleEvidence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.svc.StaleEvidence(ctx, at)
	if err != nil {
		return toolError(err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No stale evidence."), nil
	}
	return mcp.NewToolResultText(formatStale(list)), nil
}

func formatStale(list []gaps.StaleEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d link(s) with stale evidence:\n", len(list))
	for _, e := range list {
		fmt.Fprintf(&sb, "- %s %s %s (link %s): evidence %s collected %s, expired %s\n",
			e.Link.SourceID, e.Link.Type, e.Link.TargetID, e.Link.ID,
			e.Attachment.EvidenceID,
			e.Attachment.CollectedAt.Format("2006-01-02"),
			e.ExpiredAt.Format("2006-01-02"))
	}
	return sb.String()
}

func (s *Server) handleBrokenChains(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := pinFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var chains []gaps.BrokenChain
	if req := request.GetString("requirement_id", ""); req != "" {
		chains, err = s.svc.BrokenChains(ctx, req, at)
	} else {
		chains, err = s.svc.AllBrokenChains(ctx, at)
	}
	if err != nil {
		return toolError(err), nil
	}
	if len(chains) == 0 {
		return mcp.NewToolResultText("Every traceability chain reaches validation."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d broken chain(s):\n", len(chains))
	for _, c := range chains {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", c.RequirementID, strings.Join(c.Path, " -> "), c.Reason)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
