package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// setupServer seeds SOC2 with one evidenced and one unmapped control, and
// a requirement that is tested but never validated.
func setupServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	st := store.New(database, store.WithClock(func() time.Time { return t0 }))
	eval, err := coverage.NewEvaluator("")
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	svc := compliance.New(st, coverage.NewEngine(st, eval), history.NewStore(database))

	ctx := context.Background()
	for _, in := range []store.NewArtifact{
		{ID: "CC6.1", Kind: graph.KindControl, FrameworkID: "SOC2"},
		{ID: "CC6.2", Kind: graph.KindControl, FrameworkID: "SOC2", Attributes: map[string]any{"title": "User registration"}},
		{ID: "P", Kind: graph.KindPolicy},
		{ID: "EV", Kind: graph.KindEvidence},
		{ID: "REQ-1", Kind: graph.KindRequirement},
		{ID: "TEST-1", Kind: graph.KindEvidence, Attributes: map[string]any{graph.AttrEvidenceType: graph.EvidenceTypeTestResult}},
	} {
		if _, _, err := svc.CreateArtifact(ctx, in); err != nil {
			t.Fatalf("CreateArtifact(%s): %v", in.ID, err)
		}
	}
	l, _, err := svc.CreateLink(ctx, store.NewLink{SourceID: "P", TargetID: "CC6.1", Type: graph.LinkMapsTo})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := svc.AttachEvidence(ctx, store.NewAttachment{LinkID: l.ID, EvidenceID: "EV",
		FreshnessWindow: 30 * 24 * time.Hour, Attributes: map[string]any{"result": "pass"}}); err != nil {
		t.Fatalf("AttachEvidence: %v", err)
	}
	if _, _, err := svc.CreateLink(ctx, store.NewLink{SourceID: "REQ-1", TargetID: "TEST-1", Type: graph.LinkTests}); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	return NewServer(svc)
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), result.IsError
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		wantName string
	}{
		{scoreOfTool, "score_of"},
		{frameworkRollupTool, "framework_rollup"},
		{policyMatrixTool, "policy_matrix"},
		{unmappedControlsTool, "unmapped_controls"},
		{staleEvidenceTool, "stale_evidence"},
		{brokenChainsTool, "broken_chains"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description should not be empty")
			}
			if _, ok := tt.tool.InputSchema.Properties["as_of"]; !ok {
				t.Error("tool should accept as_of")
			}
		})
	}
}

func TestHandleScoreOf(t *testing.T) {
	srv := setupServer(t)

	text, isErr := call(t, srv.handleScoreOf, map[string]any{"id": "CC6.1"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	if !strings.Contains(text, "control CC6.1: 100.0 / 100") {
		t.Errorf("unexpected output:\n%s", text)
	}

	text, _ = call(t, srv.handleScoreOf, map[string]any{"id": "CC6.1", "as_of": "2026-06-01T00:00:00Z"})
	if !strings.Contains(text, "0.0 / 100") {
		t.Errorf("stale evidence should score 0:\n%s", text)
	}

	text, _ = call(t, srv.handleScoreOf, map[string]any{"id": "CC6.2"})
	if !strings.Contains(text, "No policy maps to this control.") {
		t.Errorf("unmapped control output:\n%s", text)
	}

	if _, isErr := call(t, srv.handleScoreOf, map[string]any{}); !isErr {
		t.Error("expected error for missing id")
	}
	if text, isErr := call(t, srv.handleScoreOf, map[string]any{"id": "nope"}); !isErr || !strings.HasPrefix(text, "not found") {
		t.Errorf("missing id: isErr=%v text=%q", isErr, text)
	}
	if _, isErr := call(t, srv.handleScoreOf, map[string]any{"id": "CC6.1", "as_of": "tomorrow"}); !isErr {
		t.Error("expected error for malformed as_of")
	}
}

func TestHandleFrameworkRollup(t *testing.T) {
	srv := setupServer(t)

	text, isErr := call(t, srv.handleFrameworkRollup, map[string]any{"framework_id": "SOC2"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	for _, want := range []string{
		"Framework SOC2: 50.0 / 100 across 2 active controls",
		"Gaps: 1 (1 unmapped controls, 0 links with stale evidence)",
		"- CC6.2 (User registration): score 0.0 over 0 links",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	if _, isErr := call(t, srv.handleFrameworkRollup, map[string]any{"framework_id": "PCI"}); !isErr {
		t.Error("expected error for unknown framework")
	}
}

func TestHandlePolicyMatrix(t *testing.T) {
	srv := setupServer(t)

	text, isErr := call(t, srv.handlePolicyMatrix, map[string]any{"frameworks": "SOC2, ISO27001"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	if !strings.Contains(text, "SOC2: 100.0 over 1 controls") {
		t.Errorf("missing SOC2 cell:\n%s", text)
	}
	if !strings.Contains(text, "ISO27001: no mapped controls") {
		t.Errorf("missing ISO27001 cell:\n%s", text)
	}

	if _, isErr := call(t, srv.handlePolicyMatrix, map[string]any{"policies": "CC6.1"}); !isErr {
		t.Error("expected error when a control is passed as a policy")
	}
}

func TestHandleGapTools(t *testing.T) {
	srv := setupServer(t)

	text, _ := call(t, srv.handleUnmappedControls, map[string]any{"framework_id": "SOC2"})
	if !strings.Contains(text, "- CC6.2 [SOC2]: User registration") {
		t.Errorf("unmapped output:\n%s", text)
	}

	text, _ = call(t, srv.handleStaleEvidence, map[string]any{})
	if text != "No stale evidence." {
		t.Errorf("stale output at t0: %q", text)
	}
	text, _ = call(t, srv.handleStaleEvidence, map[string]any{"as_of": "2026-06-01T00:00:00Z"})
	if !strings.Contains(text, "P maps_to CC6.1") {
		t.Errorf("stale output later:\n%s", text)
	}

	text, _ = call(t, srv.handleBrokenChains, map[string]any{})
	if !strings.Contains(text, "REQ-1: REQ-1 -> TEST-1") {
		t.Errorf("broken chains output:\n%s", text)
	}
	if _, isErr := call(t, srv.handleBrokenChains, map[string]any{"requirement_id": "CC6.1"}); !isErr {
		t.Error("expected error for a non-requirement")
	}
}
