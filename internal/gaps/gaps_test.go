package gaps

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type builder struct {
	artifacts   []graph.Artifact
	links       []graph.Link
	attachments []graph.EvidenceAttachment
}

func (b *builder) add(id string, kind graph.Kind, fw string, attrs map[string]any) *builder {
	b.artifacts = append(b.artifacts, graph.Artifact{ID: id, Kind: kind, FrameworkID: fw,
		Attributes: attrs, Lifecycle: graph.LifecycleActive})
	return b
}

func (b *builder) link(id, src, dst string, typ graph.LinkType) *builder {
	b.links = append(b.links, graph.Link{ID: id, SourceID: src, TargetID: dst, Type: typ,
		Coverage: graph.CoverageNone, LastReviewed: t0, CreatedAt: t0.Add(time.Duration(len(b.links)) * time.Second)})
	return b
}

func (b *builder) snap() *graph.Snapshot {
	return graph.NewSnapshot(1, b.artifacts, b.links, b.attachments)
}

func testResult() map[string]any {
	return map[string]any{graph.AttrEvidenceType: graph.EvidenceTypeTestResult, "result": "pass"}
}

func TestUnmappedControls(t *testing.T) {
	b := &builder{}
	b.add("CC6.1", graph.KindControl, "SOC2", nil).
		add("CC6.2", graph.KindControl, "SOC2", nil).
		add("A.5.1", graph.KindControl, "ISO27001", nil).
		add("P", graph.KindPolicy, "", nil).
		add("OLD", graph.KindPolicy, "", nil).
		link("1", "P", "CC6.1", graph.LinkMapsTo).
		link("2", "OLD", "CC6.2", graph.LinkMapsTo)
	b.artifacts[4].Lifecycle = graph.LifecycleRetired
	snap := b.snap()

	ids := func(list []*graph.Artifact) []string {
		out := []string{}
		for _, a := range list {
			out = append(out, a.ID)
		}
		return out
	}
	assert.Equal(t, []string{"CC6.2"}, ids(UnmappedControls(snap, "SOC2")),
		"links from retired policies do not map a control")
	assert.Equal(t, []string{"A.5.1", "CC6.2"}, ids(UnmappedControls(snap, "")))
	assert.Empty(t, UnmappedControls(snap, "PCI"))
}

func TestStaleEvidence(t *testing.T) {
	window := 90 * 24 * time.Hour
	now := t0.Add(200 * 24 * time.Hour)
	b := &builder{}
	b.add("C", graph.KindControl, "SOC2", nil).
		add("P", graph.KindPolicy, "", nil).
		add("Q", graph.KindPolicy, "", nil).
		add("EV", graph.KindEvidence, "", nil).
		link("STALE", "P", "C", graph.LinkMapsTo).
		link("REFRESHED", "Q", "C", graph.LinkMapsTo)
	b.attachments = []graph.EvidenceAttachment{
		{ID: "a1", LinkID: "STALE", EvidenceID: "EV", CollectedAt: now.Add(-window - time.Second), FreshnessWindow: window, Version: 1},
		{ID: "a2", LinkID: "REFRESHED", EvidenceID: "EV", CollectedAt: now.Add(-150 * 24 * time.Hour), FreshnessWindow: window, Version: 2},
		{ID: "a3", LinkID: "REFRESHED", EvidenceID: "EV", CollectedAt: now.Add(-24 * time.Hour), FreshnessWindow: window, Version: 3},
	}
	snap := b.snap()

	got := StaleEvidence(snap, now)
	require.Len(t, got, 1)
	assert.Equal(t, "STALE", got[0].Link.ID)
	assert.Equal(t, "a1", got[0].Attachment.ID)
	assert.True(t, got[0].ExpiredAt.Before(now))

	// Before the refresh was collected, the older attachment was the latest.
	earlier := StaleEvidence(snap, now.Add(-2*24*time.Hour))
	require.Len(t, earlier, 1)
	assert.Equal(t, "REFRESHED", earlier[0].Link.ID)
	assert.Equal(t, "a2", earlier[0].Attachment.ID)
}

func TestStaleEvidenceSkipsRetiredEvidence(t *testing.T) {
	window := 24 * time.Hour
	now := t0.Add(2 * window)
	b := &builder{}
	b.add("C", graph.KindControl, "SOC2", nil).
		add("P", graph.KindPolicy, "", nil).
		add("Q", graph.KindPolicy, "", nil).
		add("EV-OLD", graph.KindEvidence, "", nil).
		add("EV", graph.KindEvidence, "", nil).
		link("ONLY_RETIRED", "P", "C", graph.LinkMapsTo).
		link("MIXED", "Q", "C", graph.LinkMapsTo)
	b.artifacts[3].Lifecycle = graph.LifecycleRetired
	b.attachments = []graph.EvidenceAttachment{
		{ID: "a1", LinkID: "ONLY_RETIRED", EvidenceID: "EV-OLD", CollectedAt: t0, FreshnessWindow: window, Version: 1},
		{ID: "a2", LinkID: "MIXED", EvidenceID: "EV", CollectedAt: t0, FreshnessWindow: window, Version: 2},
		{ID: "a3", LinkID: "MIXED", EvidenceID: "EV-OLD", CollectedAt: t0.Add(time.Hour), FreshnessWindow: window, Version: 3},
	}

	got := StaleEvidence(b.snap(), now)
	require.Len(t, got, 1)
	assert.Equal(t, "MIXED", got[0].Link.ID)
	assert.Equal(t, "a2", got[0].Attachment.ID, "retired evidence is never the latest attachment")
}

func TestOverdueReviews(t *testing.T) {
	b := &builder{}
	b.add("C", graph.KindControl, "SOC2", nil).
		add("P", graph.KindPolicy, "", nil).
		add("Q", graph.KindPolicy, "", nil).
		link("OLD", "P", "C", graph.LinkMapsTo).
		link("NEW", "Q", "C", graph.LinkMapsTo)
	b.links[1].LastReviewed = t0.Add(300 * 24 * time.Hour)
	snap := b.snap()

	got := OverdueReviews(snap, t0.Add(366*24*time.Hour), 365*24*time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, "OLD", got[0].Link.ID)
	assert.Equal(t, 366*24*time.Hour, got[0].Age)
}

func TestBrokenChainsTestedButNotValidated(t *testing.T) {
	b := &builder{}
	b.add("REQ-1", graph.KindRequirement, "", nil).
		add("TEST-1", graph.KindEvidence, "", testResult()).
		link("L1", "REQ-1", "TEST-1", graph.LinkTests)

	got, err := BrokenChains(b.snap(), "REQ-1")
	require.NoError(t, err)
	want := []BrokenChain{{
		RequirementID: "REQ-1",
		Path:          []string{"REQ-1", "TEST-1"},
		Links:         []string{"L1"},
		Reason:        ReasonNoValidation,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BrokenChains (-want +got):\n%s", diff)
	}
}

func TestBrokenChainsBranches(t *testing.T) {
	b := &builder{}
	b.add("REQ", graph.KindRequirement, "", nil).
		add("T1", graph.KindEvidence, "", testResult()).
		add("T2", graph.KindEvidence, "", testResult()).
		add("IMPL", graph.KindEvidence, "", nil).
		add("VAL", graph.KindEvidence, "", nil).
		add("IMPL2", graph.KindEvidence, "", nil).
		link("a", "REQ", "T1", graph.LinkTests).
		link("b", "REQ", "T2", graph.LinkTests).
		link("c", "T1", "IMPL", graph.LinkImplements).
		link("d", "IMPL", "VAL", graph.LinkValidates).
		link("e", "T2", "IMPL2", graph.LinkImplements)

	got, err := BrokenChains(b.snap(), "REQ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"REQ", "T2", "IMPL2"}, got[0].Path)
	assert.Equal(t, []string{"b", "e"}, got[0].Links)
}

func TestBrokenChainsNoTests(t *testing.T) {
	b := &builder{}
	b.add("REQ", graph.KindRequirement, "", nil)
	got, err := BrokenChains(b.snap(), "REQ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"REQ"}, got[0].Path)
	assert.Equal(t, ReasonNoTests, got[0].Reason)
}

func TestBrokenChainsDepthBound(t *testing.T) {
	b := &builder{}
	b.add("REQ", graph.KindRequirement, "", nil).add("E0", graph.KindEvidence, "", testResult())
	b.link("t", "REQ", "E0", graph.LinkTests)
	prev := "E0"
	for i := 1; i <= MaxChainDepth+5; i++ {
		id := "E" + strconv.Itoa(i)
		b.add(id, graph.KindEvidence, "", nil)
		b.link("i"+id, prev, id, graph.LinkImplements)
		prev = id
	}
	got, err := BrokenChains(b.snap(), "REQ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ReasonDepthLimit, got[0].Reason)
	assert.Len(t, got[0].Path, MaxChainDepth+1)
}

func TestBrokenChainsErrors(t *testing.T) {
	b := &builder{}
	b.add("C", graph.KindControl, "SOC2", nil)
	_, err := BrokenChains(b.snap(), "C")
	assert.ErrorIs(t, err, graph.ErrInvalidArtifactKind)
	_, err = BrokenChains(b.snap(), "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}
