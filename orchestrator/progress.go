package orchestrator

import (
	"math"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

// collectDispatched is the in-step fraction reported once the provider has
// accepted the collection request.
const collectDispatched = 0.25

// collectFraction converts a provider milestone into a fraction of the
// collection step. Without a known total there is nothing to measure, so the
// step stays at the dispatch checkpoint. Counts below the checkpoint also
// report it, keeping progress from moving backwards after dispatch.
func collectFraction(completed, total int) float64 {
	if total <= 0 {
		return collectDispatched
	}
	f := float64(completed) / float64(total)
	return math.Max(collectDispatched, math.Min(1, f))
}

// collectPercent maps a fraction of the collection step onto overall task
// progress. The result stays inside the step's share of the bar and below
// the value CompleteStep will set, so progress never runs ahead of it.
func collectPercent(fraction float64) int {
	lo, hi := stepBounds(tracker.StepCollect)
	pct := lo + int(math.Round(fraction*float64(hi-lo)))
	if pct >= hi {
		pct = hi - 1
	}
	return pct
}

// stepBounds returns the overall percentages at the start and end of step.
func stepBounds(step tracker.Step) (int, int) {
	steps := tracker.Steps()
	for i, s := range steps {
		if s == step {
			return roundPercent(i, len(steps)), roundPercent(i+1, len(steps))
		}
	}
	return 0, 100
}

func roundPercent(n, total int) int {
	return int(math.Round(float64(n) * 100 / float64(total)))
}
