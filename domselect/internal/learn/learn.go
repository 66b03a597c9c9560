// CLAUDE:SUMMARY Learning Updater: folds outcome events into per-domain pattern statistics with a decaying-rate moving average and re-tiers the pattern.
package learn

import (
	"log/slog"

	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/profile"
	"github.com/hazyhaar/selres/domselect/internal/score"
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Learning parameters.
const (
	// PriorScore is the score of a pattern before its first outcome.
	PriorScore = 50.0
	// MaxWindow floors the learning rate at 1/MaxWindow.
	MaxWindow = 20

	PromoteScore        = 80.0
	PromoteObservations = 5
	DemoteScore         = 30.0
)

// Updater applies outcome events to a profile store.
type Updater struct {
	store  *profile.Store
	logger *slog.Logger
}

// New creates an Updater over store.
func New(store *profile.Store, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: store, logger: logger}
}

// Record folds ev into its domain profile and returns the updated pattern
// and its tier. It runs synchronously under the domain lock.
func (u *Updater) Record(ev selector.OutcomeEvent) (selector.WeightedPattern, selector.Tier) {
	pattern := dom.Template(ev.Selector)
	observed := score.Observed(ev.Found, ev.UniqueMatch)

	var (
		out  selector.WeightedPattern
		tier selector.Tier
		from selector.Tier
	)
	u.store.Update(ev.Domain, func(p *selector.Profile) {
		wp, prev, ok := p.Remove(pattern)
		if !ok {
			wp = selector.WeightedPattern{Pattern: pattern, StabilityScore: PriorScore}
		}
		from = prev
		wp = Apply(wp, observed)
		tier = Tier(wp)
		list := p.List(tier)
		*list = append(*list, wp)
		out = wp
	})

	if from != "" && from != tier {
		u.logger.Debug("domselect: pattern re-tiered",
			"domain", u.store.Domain(ev.Domain), "pattern", pattern,
			"from", from, "to", tier, "score", out.StabilityScore)
	}
	return out, tier
}

// Apply counts one more observation and moves the score toward observed
// with rate 1/min(observations+1, MaxWindow), counted after the increment.
// In terms of the prior count n the rate is 1/min(n+2, MaxWindow): the
// first outcome moves a fresh pattern halfway from its prior.
func Apply(wp selector.WeightedPattern, observed float64) selector.WeightedPattern {
	wp.Observations++
	alpha := 1 / float64(min(wp.Observations+1, MaxWindow))
	wp.StabilityScore += alpha * (observed - wp.StabilityScore)
	wp.StabilityScore = max(0, min(100, wp.StabilityScore))
	return wp
}

// Tier places a pattern by its empirical record. Promotion needs both a
// high score and enough observations; demotion needs only a low score.
func Tier(wp selector.WeightedPattern) selector.Tier {
	switch {
	case wp.StabilityScore >= PromoteScore && wp.Observations >= PromoteObservations:
		return selector.TierPreferred
	case wp.StabilityScore < DemoteScore:
		return selector.TierAntiPatterns
	}
	return selector.TierFallbacks
}
