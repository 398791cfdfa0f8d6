package coverage

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

var levels = []graph.Coverage{graph.CoverageNone, graph.CoveragePartial, graph.CoverageFull}

// controlWithLinks builds a control with one asserted inbound link per
// entry of picks.
func controlWithLinks(picks []int) *graph.Snapshot {
	f := &fixture{}
	f.artifact("C", graph.KindControl, "SOC2", nil)
	for i, p := range picks {
		src := fmt.Sprintf("P%d", i)
		f.artifact(src, graph.KindPolicy, "", nil)
		f.links = append(f.links, graph.Link{
			ID: "L" + src, SourceID: src, TargetID: "C", Type: graph.LinkMapsTo,
			Coverage: levels[p], CoverageAsserted: true, CreatedAt: t0.Add(time.Duration(i)),
		})
	}
	return f.snapshot()
}

func TestControlScoreProperties(t *testing.T) {
	calc := NewCalculator(mustEvaluator(t, ""))
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score stays within 0..100", prop.ForAll(
		func(picks []int) bool {
			s, _ := calc.ControlScore(controlWithLinks(picks), "C", t0)
			return s >= 0 && s <= 100
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.Property("all-full controls score 100", prop.ForAll(
		func(k int) bool {
			picks := make([]int, k)
			for i := range picks {
				picks[i] = 2
			}
			s, n := calc.ControlScore(controlWithLinks(picks), "C", t0)
			return n == k && s == 100
		},
		gen.IntRange(1, 25),
	))

	properties.Property("scoring is deterministic", prop.ForAll(
		func(picks []int) bool {
			snap := controlWithLinks(picks)
			a, _ := calc.ControlScore(snap, "C", t0)
			b, _ := calc.ControlScore(snap, "C", t0)
			return a == b
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.Property("links without attachments derive none", prop.ForAll(
		func(n int) bool {
			f := &fixture{}
			f.artifact("C", graph.KindControl, "SOC2", nil)
			f.artifact("P", graph.KindPolicy, "", nil)
			f.link("L", "P", "C", graph.LinkMapsTo)
			snap := f.snapshot()
			l, _ := snap.Link("L")
			return calc.Coverage(snap, l, t0.Add(time.Duration(n)*time.Hour)) == graph.CoverageNone
		},
		gen.IntRange(-10000, 10000),
	))

	properties.TestingRun(t)
}
