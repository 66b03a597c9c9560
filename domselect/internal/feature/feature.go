// CLAUDE:SUMMARY Feature Extractor: resolves a candidate against the current DOM and snapshot history and derives its FeatureVector.
package feature

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// TestHooks are attributes that exist only to be targeted by automation.
var TestHooks = []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"}

// Extraction is the feature vector plus the nodes it was computed from.
type Extraction struct {
	Features selector.FeatureVector
	Matches  []*html.Node
	// Target is the first match in document order, nil on zero matches.
	Target *html.Node
}

// Extract resolves c against page and derives its features. It fails only
// when the selector cannot be evaluated; zero matches yields an all-false
// vector.
func Extract(c selector.Candidate, page *dom.Page) (Extraction, error) {
	var ex Extraction
	if page == nil || page.Doc == nil {
		return ex, selector.Resolution(c, "no DOM context")
	}
	matches, err := page.Doc.Resolve(c)
	if err != nil {
		return ex, err
	}
	ex.Matches = matches
	ex.Features.MatchCount = len(matches)
	ex.Features.IsUniqueMatch = len(matches) == 1
	if len(matches) == 0 {
		return ex, nil
	}

	n := matches[0]
	ex.Target = n
	fv := &ex.Features
	fv.HasStableIDAttribute = HasStableHook(n)
	fv.HasAriaLabel = strings.TrimSpace(dom.AttrValue(n, "aria-label")) != ""
	fv.HasVisibleText = dom.Text(n) != "" && !dom.Hidden(n)
	fv.HasDataAttribute, fv.DataAttributeIsHook = dataAttributes(n)
	fv.DOMDepth = dom.Depth(n)
	fv.SiblingPositionVariance = siblingVariance(c, dom.SiblingIndex(n), page.History)
	return ex, nil
}

// HasStableHook reports whether n carries a test hook attribute or an id
// that does not look machine-generated.
func HasStableHook(n *html.Node) bool {
	if _, ok := Hook(n); ok {
		return true
	}
	id := strings.TrimSpace(dom.AttrValue(n, "id"))
	return id != "" && !IsGeneratedID(id)
}

// Hook returns the first non-empty test hook attribute of n.
func Hook(n *html.Node) (html.Attribute, bool) {
	for _, key := range TestHooks {
		if v, ok := dom.Attr(n, key); ok && strings.TrimSpace(v) != "" {
			return html.Attribute{Key: key, Val: v}, true
		}
	}
	return html.Attribute{}, false
}

// dataAttributes reports whether n has a data-* attribute, and whether
// all of them are non-empty test hooks.
func dataAttributes(n *html.Node) (present, onlyHooks bool) {
	onlyHooks = true
	for _, a := range n.Attr {
		if !strings.HasPrefix(a.Key, "data-") {
			continue
		}
		present = true
		if !slices.Contains(TestHooks, a.Key) || strings.TrimSpace(a.Val) == "" {
			onlyHooks = false
		}
	}
	return present, present && onlyHooks
}

// IsGeneratedID reports whether id looks produced by a framework or a
// bundler rather than written by a developer: React useId values
// (":r1:"), and tokens that are long letter/digit mixes, long digit runs
// or long vowel-less letter runs.
func IsGeneratedID(id string) bool {
	if len(id) > 2 && strings.HasPrefix(id, ":") && strings.HasSuffix(id, ":") {
		return true
	}
	tokens := strings.FieldsFunc(id, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		var letters, digits, vowels int
		for _, r := range strings.ToLower(tok) {
			switch {
			case unicode.IsDigit(r):
				digits++
			case strings.ContainsRune("aeiouy", r):
				vowels++
				letters++
			default:
				letters++
			}
		}
		switch {
		case len(tok) >= 8 && letters > 0 && digits > 0:
			return true
		case digits >= 4 && letters == 0:
			return true
		case len(tok) >= 8 && digits == 0 && vowels == 0:
			return true
		}
	}
	return false
}

// siblingVariance is the population variance of the same-tag sibling
// index of the first match, across the current DOM and every historical
// DOM where the candidate still resolves.
func siblingVariance(c selector.Candidate, current int, history []dom.Context) float64 {
	samples := []float64{float64(current)}
	for _, h := range history {
		if h == nil {
			continue
		}
		nodes, err := h.Resolve(c)
		if err != nil || len(nodes) == 0 {
			continue
		}
		samples = append(samples, float64(dom.SiblingIndex(nodes[0])))
	}
	return Variance(samples)
}

// Variance is the population variance of xs, 0 for fewer than two samples.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}
