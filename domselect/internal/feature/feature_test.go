package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

func page(t *testing.T, current string, history ...string) *dom.Page {
	t.Helper()
	doc, err := dom.ParseString(current)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := &dom.Page{Doc: doc}
	for _, h := range history {
		hd, err := dom.ParseString(h)
		if err != nil {
			t.Fatalf("parse history: %v", err)
		}
		p.History = append(p.History, hd)
	}
	return p
}

const form = `<html><body><main><form>
<button data-testid="submit-button" aria-label="Submit form">Submit</button>
<button id="cancel">Cancel</button>
<button id="btn-a9f3k2x8">Later</button>
<span data-role="hint" style="display: none">hidden hint</span>
</form></main></body></html>`

func TestExtract_Unique(t *testing.T) {
	ex, err := Extract(selector.CSS("[data-testid='submit-button']"), page(t, form))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	fv := ex.Features
	if !fv.IsUniqueMatch || fv.MatchCount != 1 {
		t.Errorf("unique: got %v (%d matches)", fv.IsUniqueMatch, fv.MatchCount)
	}
	if !fv.HasStableIDAttribute || !fv.HasAriaLabel || !fv.HasVisibleText || !fv.HasDataAttribute {
		t.Errorf("attribute features: %+v", fv)
	}
	if fv.DOMDepth != 4 {
		t.Errorf("depth: got %d, want 4", fv.DOMDepth)
	}
	if fv.SiblingPositionVariance != 0 {
		t.Errorf("variance without history: got %v", fv.SiblingPositionVariance)
	}
	if ex.Target == nil || ex.Target.Data != "button" {
		t.Errorf("target: %+v", ex.Target)
	}
}

func TestExtract_IDs(t *testing.T) {
	p := page(t, form)

	ex, _ := Extract(selector.CSS("#cancel"), p)
	if !ex.Features.HasStableIDAttribute {
		t.Error("#cancel should count as a stable id")
	}
	if ex.Features.HasDataAttribute {
		t.Error("#cancel has no data attribute")
	}

	ex, _ = Extract(selector.CSS("#btn-a9f3k2x8"), p)
	if ex.Features.HasStableIDAttribute {
		t.Error("generated id counted as stable")
	}
}

func TestExtract_HiddenText(t *testing.T) {
	ex, err := Extract(selector.CSS("span"), page(t, form))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ex.Features.HasVisibleText {
		t.Error("display:none text reported visible")
	}
	if !ex.Features.HasDataAttribute {
		t.Error("data-role not detected")
	}
}

func TestExtract_Ambiguous(t *testing.T) {
	ex, err := Extract(selector.CSS("button"), page(t, form))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ex.Features.IsUniqueMatch || ex.Features.MatchCount != 3 {
		t.Errorf("ambiguous: %+v", ex.Features)
	}
	// Node features come from the first match.
	if !ex.Features.HasStableIDAttribute {
		t.Error("first match features not used")
	}
}

func TestExtract_NoMatch(t *testing.T) {
	ex, err := Extract(selector.CSS("table"), page(t, form))
	if err != nil {
		t.Fatalf("zero matches must not be an error: %v", err)
	}
	if ex.Target != nil || ex.Features != (selector.FeatureVector{}) {
		t.Errorf("zero match features: %+v", ex.Features)
	}
}

func TestExtract_ResolutionError(t *testing.T) {
	_, err := Extract(selector.CSS("div[["), page(t, form))
	var re *selector.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("want ResolutionError, got %v", err)
	}

	_, err = Extract(selector.CSS("div"), nil)
	if !errors.As(err, &re) {
		t.Fatalf("nil page: want ResolutionError, got %v", err)
	}
}

func TestExtract_SiblingVariance(t *testing.T) {
	current := `<html><body><ul><li>a</li><li class="buy">b</li></ul></body></html>`
	moved := `<html><body><ul><li>a</li><li>x</li><li>y</li><li class="buy">b</li></ul></body></html>`
	gone := `<html><body><p>maintenance</p></body></html>`

	ex, err := Extract(selector.CSS("li.buy"), page(t, current, moved, current, gone))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// samples 2, 4, 2 -> mean 8/3, variance 8/9
	want := 8.0 / 9.0
	if math.Abs(ex.Features.SiblingPositionVariance-want) > 1e-9 {
		t.Errorf("variance: got %v, want %v", ex.Features.SiblingPositionVariance, want)
	}
}

func TestIsGeneratedID(t *testing.T) {
	for id, want := range map[string]bool{
		"submit":           false,
		"login-form":       false,
		"nav2":             false,
		"item-42":          false,
		":r1:":             true,
		"ember1234":        true,
		"css-1x2y3z4a":     true,
		"row-20240501":     true,
		"x-bcdfghjk":       true,
		"mainNavigation":   false,
		"a1b2c3d4e5f6":     true,
		"checkout_summary": false,
	} {
		if got := IsGeneratedID(id); got != want {
			t.Errorf("IsGeneratedID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestVariance(t *testing.T) {
	if v := Variance(nil); v != 0 {
		t.Errorf("empty: %v", v)
	}
	if v := Variance([]float64{3}); v != 0 {
		t.Errorf("single: %v", v)
	}
	if v := Variance([]float64{1, 3}); v != 1 {
		t.Errorf("pair: got %v, want 1", v)
	}
}

func TestExtract_DataAttributeBesideHook(t *testing.T) {
	p := page(t, `<html><body>
<button data-testid="save">Save</button>
<button data-testid="send" data-track="cta">Send</button>
<button id="reset" data-track="cta">Reset</button>
<button data-testid="" data-qa="x">Empty</button>
</body></html>`)

	cases := []struct {
		sel       string
		data, own bool
	}{
		{"[data-testid='save']", true, true},
		{"[data-testid='send']", true, false},
		{"#reset", true, false},
		{"[data-qa='x']", true, false},
		{"body", false, false},
	}
	for _, tc := range cases {
		ex, err := Extract(selector.CSS(tc.sel), p)
		if err != nil {
			t.Fatalf("%s: %v", tc.sel, err)
		}
		fv := ex.Features
		if fv.HasDataAttribute != tc.data || fv.DataAttributeIsHook != tc.own {
			t.Errorf("%s: data=%v hookOnly=%v, want %v %v", tc.sel, fv.HasDataAttribute, fv.DataAttributeIsHook, tc.data, tc.own)
		}
	}
}
