// CLAUDE:SUMMARY Alternative Generator: proposes selectors for the element a candidate resolves to, scores each, dedups, ranks and truncates.
package alternative

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/feature"
	"github.com/hazyhaar/selres/domselect/internal/score"
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// DefaultLimit caps the number of alternatives returned.
const DefaultLimit = 4

// maxTextLen bounds text alternatives; longer copy churns too often.
const maxTextLen = 80

// Generator proposes alternative selectors for one element.
type Generator struct {
	// Limit caps the result; <= 0 means DefaultLimit.
	Limit int
	// TierOf returns the learned tier of a pattern on the current domain,
	// or "" when unknown. It breaks score ties. Optional.
	TierOf func(pattern string) selector.Tier
}

// Generate is a shortcut for a Generator without domain knowledge.
func Generate(c selector.Candidate, page *dom.Page, limit int) ([]selector.AnalysisResult, error) {
	return (&Generator{Limit: limit}).Generate(c, page)
}

type proposal struct {
	cand  selector.Candidate
	order int
}

type ranked struct {
	res   selector.AnalysisResult
	tier  int
	order int
}

// Generate resolves c, targets its first match and returns up to Limit
// scored alternatives, best first. It fails with a ResolutionError when c
// cannot be evaluated or matches nothing.
func (g *Generator) Generate(c selector.Candidate, page *dom.Page) ([]selector.AnalysisResult, error) {
	ex, err := feature.Extract(c, page)
	if err != nil {
		return nil, err
	}
	if ex.Target == nil {
		return nil, selector.Resolution(c, "selector matches no element")
	}
	target := ex.Target

	seen := map[string]bool{key(c): true}
	var out []ranked
	consider := func(p proposal) {
		k := key(p.cand)
		if seen[k] {
			return
		}
		seen[k] = true
		alt, err := feature.Extract(p.cand, page)
		if err != nil || !targets(alt, target, p.cand.Kind) {
			return
		}
		s, rec := score.Score(alt.Features)
		res := selector.AnalysisResult{
			Candidate:      p.cand,
			Features:       alt.Features,
			StabilityScore: s,
			Recommendation: rec,
			Alternatives:   []selector.AnalysisResult{},
			Pattern:        dom.Template(p.cand),
		}
		out = append(out, ranked{res: res, tier: g.rank(res.Pattern), order: p.order})
	}

	for _, p := range proposals(target) {
		consider(p)
	}
	if len(out) == 0 {
		// The positional CSS path normalized to the input itself.
		consider(proposal{cand: selector.XPath(dom.PositionalXPath(target)), order: len(strategies)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.res.StabilityScore != b.res.StabilityScore {
			return a.res.StabilityScore > b.res.StabilityScore
		}
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		return a.order < b.order
	})

	limit := g.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	results := make([]selector.AnalysisResult, len(out))
	for i, r := range out {
		results[i] = r.res
	}
	return results, nil
}

func (g *Generator) rank(pattern string) int {
	if g.TierOf == nil {
		return selector.Tier("").Rank()
	}
	return g.TierOf(pattern).Rank()
}

func key(c selector.Candidate) string {
	return string(c.Kind) + "\x00" + dom.Normalize(c)
}

// targets reports whether the alternative still reaches target. Text
// selectors match the innermost element, which may sit inside target.
func targets(ex feature.Extraction, target *html.Node, kind selector.Kind) bool {
	for _, n := range ex.Matches {
		if n == target || (kind == selector.KindText && dom.Contains(target, n)) {
			return true
		}
	}
	return false
}

// strategies run in this order; the order breaks ties after score and
// learned tier.
var strategies = []func(n *html.Node) (selector.Candidate, bool){
	hookStrategy,
	idStrategy,
	ariaStrategy,
	nameStrategy,
	dataStrategy,
	textStrategy,
	positionalStrategy,
}

func proposals(n *html.Node) []proposal {
	var out []proposal
	for i, s := range strategies {
		if c, ok := s(n); ok {
			out = append(out, proposal{cand: c, order: i})
		}
	}
	return out
}

func hookStrategy(n *html.Node) (selector.Candidate, bool) {
	a, ok := feature.Hook(n)
	if !ok {
		return selector.Candidate{}, false
	}
	return selector.CSS("[" + a.Key + "=" + dom.Quote(a.Val) + "]"), true
}

func idStrategy(n *html.Node) (selector.Candidate, bool) {
	id := dom.AttrValue(n, "id")
	switch {
	case strings.TrimSpace(id) == "":
		return selector.Candidate{}, false
	case dom.IsIdent(id):
		return selector.CSS("#" + id), true
	}
	return selector.CSS("[id=" + dom.Quote(id) + "]"), true
}

func ariaStrategy(n *html.Node) (selector.Candidate, bool) {
	return attrStrategy(n, "aria-label")
}

func nameStrategy(n *html.Node) (selector.Candidate, bool) {
	return attrStrategy(n, "name")
}

func attrStrategy(n *html.Node, key string) (selector.Candidate, bool) {
	v := dom.AttrValue(n, key)
	if strings.TrimSpace(v) == "" {
		return selector.Candidate{}, false
	}
	return selector.CSS(n.Data + "[" + key + "=" + dom.Quote(v) + "]"), true
}

func dataStrategy(n *html.Node) (selector.Candidate, bool) {
	for _, a := range n.Attr {
		if !strings.HasPrefix(a.Key, "data-") || isHook(a.Key) || !dom.IsIdent(a.Key) {
			continue
		}
		if a.Val == "" {
			return selector.CSS(n.Data + "[" + a.Key + "]"), true
		}
		return selector.CSS(n.Data + "[" + a.Key + "=" + dom.Quote(a.Val) + "]"), true
	}
	return selector.Candidate{}, false
}

func isHook(key string) bool {
	for _, h := range feature.TestHooks {
		if h == key {
			return true
		}
	}
	return false
}

func textStrategy(n *html.Node) (selector.Candidate, bool) {
	if dom.Hidden(n) {
		return selector.Candidate{}, false
	}
	text := dom.Text(n)
	if text == "" || utf8.RuneCountInString(text) > maxTextLen {
		return selector.Candidate{}, false
	}
	return selector.Text(text), true
}

func positionalStrategy(n *html.Node) (selector.Candidate, bool) {
	return selector.CSS(dom.PositionalPath(n)), true
}
