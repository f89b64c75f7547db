package schedstats

import (
	"fmt"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type RecommendationType string

const (
	RecTiming           RecommendationType = "timing"
	RecNetwork          RecommendationType = "network-requirement"
	RecPower            RecommendationType = "power-requirement"
	RecFrequency        RecommendationType = "frequency"
	RecSystemConditions RecommendationType = "system-conditions"
)

// Recommendation is a generated, prioritized suggestion for improving
// scheduling outcomes.
type Recommendation struct {
	Type                 RecommendationType `json:"type"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	Priority             Priority           `json:"priority"`
	PotentialImprovement string             `json:"potential_improvement"`
	Hint                 string             `json:"hint"`
}

// Thresholds for the comparative rules. A comparison only fires when both
// sides have data.
const (
	networkPenaltyRatio = 2.0
	powerPenaltyRatio   = 3.0
	// Delayed scheduling within this factor of immediate still counts as
	// "comparable timing for modest extra latency".
	comparableDelayFactor = 1.5
)

func recommend(a *Analysis, pairs []pair) []Recommendation {
	var recs []Recommendation

	if r, ok := timingRecommendation(a); ok {
		recs = append(recs, r)
	}
	if r, ok := requirementRecommendation(pairs, eventlog.MetaRequiresNetwork, RecNetwork, networkPenaltyRatio, PriorityMedium); ok {
		recs = append(recs, r)
	}
	if r, ok := requirementRecommendation(pairs, eventlog.MetaRequiresPower, RecPower, powerPenaltyRatio, PriorityHigh); ok {
		recs = append(recs, r)
	}
	if r, ok := windowRecommendation(a); ok {
		recs = append(recs, r)
	}
	return recs
}

func timingRecommendation(a *Analysis) (Recommendation, bool) {
	if a.Immediate == nil || a.Delayed == nil {
		return Recommendation{}, false
	}
	imm := a.Immediate.AverageDelay
	del := a.Delayed.AverageDelay

	switch {
	case del < imm:
		return Recommendation{
			Type:     RecTiming,
			Title:    "Prefer delayed scheduling",
			Priority: PriorityMedium,
			Description: fmt.Sprintf(
				"Requests with an explicit begin date started after %s on average versus %s for immediate ones.",
				del.Round(time.Millisecond), imm.Round(time.Millisecond)),
			PotentialImprovement: fmt.Sprintf("Average delay drops by about %s per run.", (imm - del).Round(time.Millisecond)),
			Hint:                 "Set an earliest begin date when submitting the request.",
		}, true
	case imm < del && del <= time.Duration(float64(imm)*comparableDelayFactor):
		return Recommendation{
			Type:     RecTiming,
			Title:    "Deliberate delay is viable",
			Priority: PriorityLow,
			Description: fmt.Sprintf(
				"Delayed scheduling averaged %s versus %s immediate; the gap is modest.",
				del.Round(time.Millisecond), imm.Round(time.Millisecond)),
			PotentialImprovement: "More predictable execution windows for a small latency cost.",
			Hint:                 "Use an earliest begin date when predictability matters more than latency.",
		}, true
	case imm < del:
		return Recommendation{
			Type:     RecTiming,
			Title:    "Prefer immediate scheduling",
			Priority: PriorityMedium,
			Description: fmt.Sprintf(
				"Immediate requests started after %s on average versus %s for delayed ones.",
				imm.Round(time.Millisecond), del.Round(time.Millisecond)),
			PotentialImprovement: fmt.Sprintf("Average delay drops by about %s per run.", (del - imm).Round(time.Millisecond)),
			Hint:                 "Drop the earliest begin date unless the work genuinely must wait.",
		}, true
	}
	return Recommendation{}, false
}

// requirementRecommendation compares pairs carrying a boolean requirement
// flag against those without it.
func requirementRecommendation(pairs []pair, metaKey string, typ RecommendationType, ratio float64, prio Priority) (Recommendation, bool) {
	withAvg, withN := avgDelay(pairs, func(p pair) bool { return p.sched.Meta(metaKey) == "true" })
	withoutAvg, withoutN := avgDelay(pairs, func(p pair) bool { return p.sched.Meta(metaKey) != "true" })
	if withN == 0 || withoutN == 0 || withoutAvg <= 0 {
		return Recommendation{}, false
	}
	if float64(withAvg) <= ratio*float64(withoutAvg) {
		return Recommendation{}, false
	}

	var title, hint string
	switch typ {
	case RecNetwork:
		title = "Reconsider the network requirement"
		hint = "Drop requiresNetwork when the work can run offline, or split the network part out."
	default:
		title = "Reconsider the power requirement"
		hint = "Drop requiresPower when the work is cheap enough to run on battery."
	}

	return Recommendation{
		Type:     typ,
		Title:    title,
		Priority: prio,
		Description: fmt.Sprintf(
			"Requests with the requirement averaged %s scheduling delay versus %s without it (%.1fx).",
			withAvg.Round(time.Millisecond), withoutAvg.Round(time.Millisecond),
			float64(withAvg)/float64(withoutAvg)),
		PotentialImprovement: fmt.Sprintf("Up to %s less scheduling delay per run.", (withAvg - withoutAvg).Round(time.Millisecond)),
		Hint:                 hint,
	}, true
}

func windowRecommendation(a *Analysis) (Recommendation, bool) {
	if len(a.BestWindows) == 0 || a.AverageDelay <= 0 {
		return Recommendation{}, false
	}
	best := a.BestWindows[0]
	if best.AverageDelay*2 >= a.AverageDelay {
		return Recommendation{}, false
	}
	return Recommendation{
		Type:     RecSystemConditions,
		Title:    fmt.Sprintf("Schedule around %02d:00", best.Hour),
		Priority: PriorityMedium,
		Description: fmt.Sprintf(
			"Requests scheduled in the %02d:00 hour started after %s on average versus %s overall (%d samples).",
			best.Hour, best.AverageDelay.Round(time.Millisecond), a.AverageDelay.Round(time.Millisecond), best.SampleCount),
		PotentialImprovement: fmt.Sprintf("Average delay drops by about %s per run.", (a.AverageDelay - best.AverageDelay).Round(time.Millisecond)),
		Hint:                 fmt.Sprintf("Set an earliest begin date inside the %02d:00 hour.", best.Hour),
	}, true
}

func avgDelay(pairs []pair, match func(pair) bool) (time.Duration, int) {
	var total time.Duration
	n := 0
	for _, p := range pairs {
		if match(p) {
			total += p.delay
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return total / time.Duration(n), n
}
