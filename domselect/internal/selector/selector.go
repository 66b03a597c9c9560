// CLAUDE:SUMMARY Core value types shared by every domselect component: candidates, feature vectors, analysis results, weighted patterns, profiles, outcome events.
// Package selector holds the data model of the selector resilience engine.
//
// Every other internal package depends on this one and nothing else in
// domselect, so the types can be re-exported from the domselect package
// without import cycles.
package selector

import (
	"fmt"
	"time"
)

// Kind is the selector language of a Candidate.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
	KindText  Kind = "text"
)

// Valid reports whether k is one of the supported selector languages.
func (k Kind) Valid() bool {
	switch k {
	case KindCSS, KindXPath, KindText:
		return true
	}
	return false
}

// ParseKind maps user input to a Kind. Empty input means CSS.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindCSS, nil
	}
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("selector: unknown kind %q (want css, xpath or text)", s)
	}
	return k, nil
}

// Candidate is a selector expression in a given language. It is a value
// type: copies never share state.
type Candidate struct {
	Value string `json:"value"`
	Kind  Kind   `json:"kind"`
}

// CSS, XPath and Text build candidates of the matching kind.
func CSS(v string) Candidate   { return Candidate{Value: v, Kind: KindCSS} }
func XPath(v string) Candidate { return Candidate{Value: v, Kind: KindXPath} }
func Text(v string) Candidate  { return Candidate{Value: v, Kind: KindText} }

func (c Candidate) String() string {
	return string(c.Kind) + ":" + c.Value
}

// FeatureVector is derived from the DOM at analysis time and never
// persisted on its own.
type FeatureVector struct {
	HasStableIDAttribute    bool    `json:"hasStableIdAttribute"`
	HasAriaLabel            bool    `json:"hasAriaLabel"`
	HasVisibleText          bool    `json:"hasVisibleText"`
	HasDataAttribute        bool    `json:"hasDataAttribute"`
	DOMDepth                int     `json:"domDepth"`
	SiblingPositionVariance float64 `json:"siblingPositionVariance"`
	IsUniqueMatch           bool    `json:"isUniqueMatch"`

	// MatchCount is informational; scoring only looks at IsUniqueMatch.
	MatchCount int `json:"matchCount"`
	// DataAttributeIsHook is set when every data-* attribute of the node
	// is a test hook already counted by HasStableIDAttribute.
	DataAttributeIsHook bool `json:"-"`
}

// Recommendation is the discrete tier derived from a stability score.
type Recommendation string

const (
	Preferred  Recommendation = "preferred"
	Acceptable Recommendation = "acceptable"
	Avoid      Recommendation = "avoid"
)

// AnalysisResult is the outcome of analysing one candidate. Alternatives
// of an alternative are always empty.
type AnalysisResult struct {
	Candidate      Candidate        `json:"candidate"`
	Features       FeatureVector    `json:"features"`
	StabilityScore int              `json:"stabilityScore"`
	Recommendation Recommendation   `json:"recommendation"`
	Alternatives   []AnalysisResult `json:"alternatives"`

	// Pattern is the learning template of Candidate.
	Pattern string `json:"pattern"`
	// Learned carries the domain's empirical record for Pattern, when a
	// domain was supplied and the pattern has been seen there.
	Learned     *WeightedPattern `json:"learned,omitempty"`
	LearnedTier Tier             `json:"learnedTier,omitempty"`
}

// Tier is one of the three mutually exclusive lists of a Profile.
type Tier string

const (
	TierPreferred    Tier = "preferred"
	TierFallbacks    Tier = "fallbacks"
	TierAntiPatterns Tier = "antiPatterns"
)

// Tiers lists the tiers from best to worst.
var Tiers = []Tier{TierPreferred, TierFallbacks, TierAntiPatterns}

// ParseTier accepts the canonical names plus a few aliases.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "preferred":
		return TierPreferred, nil
	case "fallbacks", "fallback":
		return TierFallbacks, nil
	case "antiPatterns", "anti_patterns", "antipatterns", "anti":
		return TierAntiPatterns, nil
	}
	return "", fmt.Errorf("selector: unknown tier %q", s)
}

// Rank orders tiers for tie-breaking: lower is better.
func (t Tier) Rank() int {
	switch t {
	case TierPreferred:
		return 0
	case TierFallbacks:
		return 1
	case TierAntiPatterns:
		return 3
	}
	return 2
}

// WeightedPattern is the empirical record of one structural pattern on a
// domain. StabilityScore is an EMA over outcomes; Observations only grows.
type WeightedPattern struct {
	Pattern        string  `json:"pattern"`
	StabilityScore float64 `json:"stabilityScore"`
	Observations   int     `json:"observations"`
}

// Profile is the per-domain knowledge document. It is also the persisted
// JSON format.
type Profile struct {
	Domain       string            `json:"domain"`
	Preferred    []WeightedPattern `json:"preferred"`
	Fallbacks    []WeightedPattern `json:"fallbacks"`
	AntiPatterns []WeightedPattern `json:"antiPatterns"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// NewProfile returns an empty but valid profile: all lists non-nil so the
// JSON form always carries arrays.
func NewProfile(domain string) Profile {
	return Profile{
		Domain:       domain,
		Preferred:    []WeightedPattern{},
		Fallbacks:    []WeightedPattern{},
		AntiPatterns: []WeightedPattern{},
	}
}

// List returns a pointer to the slice backing tier t.
func (p *Profile) List(t Tier) *[]WeightedPattern {
	switch t {
	case TierPreferred:
		return &p.Preferred
	case TierAntiPatterns:
		return &p.AntiPatterns
	default:
		return &p.Fallbacks
	}
}

// Find locates pattern in any tier.
func (p *Profile) Find(pattern string) (WeightedPattern, Tier, bool) {
	for _, t := range Tiers {
		for _, wp := range *p.List(t) {
			if wp.Pattern == pattern {
				return wp, t, true
			}
		}
	}
	return WeightedPattern{}, "", false
}

// Remove deletes pattern from every tier and returns the removed entry.
func (p *Profile) Remove(pattern string) (WeightedPattern, Tier, bool) {
	var (
		found   WeightedPattern
		foundIn Tier
		ok      bool
	)
	for _, t := range Tiers {
		list := p.List(t)
		kept := (*list)[:0]
		for _, wp := range *list {
			if wp.Pattern == pattern {
				if !ok {
					found, foundIn, ok = wp, t, true
				}
				continue
			}
			kept = append(kept, wp)
		}
		*list = kept
	}
	return found, foundIn, ok
}

// Len is the total number of patterns across tiers.
func (p *Profile) Len() int {
	return len(p.Preferred) + len(p.Fallbacks) + len(p.AntiPatterns)
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	out.Preferred = append([]WeightedPattern{}, p.Preferred...)
	out.Fallbacks = append([]WeightedPattern{}, p.Fallbacks...)
	out.AntiPatterns = append([]WeightedPattern{}, p.AntiPatterns...)
	return out
}

// OutcomeEvent is one observation from a live automation run. Only its
// aggregate effect on a Profile is kept.
type OutcomeEvent struct {
	Domain      string    `json:"domain"`
	Selector    Candidate `json:"selector"`
	Found       bool      `json:"found"`
	UniqueMatch bool      `json:"uniqueMatch"`
	Timestamp   time.Time `json:"timestamp"`
}
