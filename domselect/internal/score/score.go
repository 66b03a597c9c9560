// CLAUDE:SUMMARY Stability Scorer: the single weighted linear function mapping a FeatureVector to a 0-100 score and recommendation tier.
package score

import (
	"math"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Weights of the linear stability function.
const (
	IDBonus          = 35.0
	DataAttrBonus    = 25.0
	AriaBonus        = 15.0
	TextBonus        = 10.0
	DepthStep        = 1.5
	MaxDepth         = 10
	MaxVariance      = 20.0
	AmbiguityPenalty = 100.0

	PreferredAt  = 80
	AcceptableAt = 50
)

// Score maps features to a stability score in [0,100] and its tier.
//
// The ambiguity penalty is taken from the already clipped base score, so a
// vector without a unique match never exceeds 0 and is always Avoid.
func Score(fv selector.FeatureVector) (int, selector.Recommendation) {
	s := 100.0
	s -= float64(min(fv.DOMDepth, MaxDepth)) * DepthStep
	s -= math.Min(math.Max(fv.SiblingPositionVariance, 0), MaxVariance)
	s = clip(s + bonus(fv))
	if !fv.IsUniqueMatch {
		s = clip(s - AmbiguityPenalty)
	}
	n := int(math.Round(s))
	return n, Recommend(n)
}

// bonus sums the attribute bonuses. A data-* attribute that is only the
// test hook behind HasStableIDAttribute is not counted twice.
func bonus(fv selector.FeatureVector) float64 {
	var b float64
	if fv.HasStableIDAttribute {
		b += IDBonus
	}
	if fv.HasDataAttribute && !(fv.HasStableIDAttribute && fv.DataAttributeIsHook) {
		b += DataAttrBonus
	}
	if fv.HasAriaLabel {
		b += AriaBonus
	}
	if fv.HasVisibleText {
		b += TextBonus
	}
	return b
}

// Recommend maps a score to its tier; boundaries belong to the higher tier.
func Recommend(score int) selector.Recommendation {
	switch {
	case score >= PreferredAt:
		return selector.Preferred
	case score >= AcceptableAt:
		return selector.Acceptable
	}
	return selector.Avoid
}

// Observed is the score an outcome contributes to a pattern's moving
// average.
func Observed(found, unique bool) float64 {
	switch {
	case found && unique:
		return 100
	case found:
		return 50
	}
	return 0
}

func clip(s float64) float64 {
	return math.Min(100, math.Max(0, s))
}
