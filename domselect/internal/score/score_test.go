package score

import (
	"testing"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// vectors enumerates every boolean combination over a spread of depths and
// variances.
func vectors() []selector.FeatureVector {
	var out []selector.FeatureVector
	depths := []int{0, 1, 3, 7, 10, 15, 40}
	variances := []float64{0, 0.5, 4, 19.9, 20, 100}
	for mask := 0; mask < 32; mask++ {
		for _, d := range depths {
			for _, v := range variances {
				out = append(out, selector.FeatureVector{
					HasStableIDAttribute:    mask&1 != 0,
					HasAriaLabel:            mask&2 != 0,
					HasVisibleText:          mask&4 != 0,
					HasDataAttribute:        mask&8 != 0,
					IsUniqueMatch:           mask&16 != 0,
					DOMDepth:                d,
					SiblingPositionVariance: v,
				})
			}
		}
	}
	return out
}

func TestScore_NonUniqueIsAvoid(t *testing.T) {
	for _, fv := range vectors() {
		if fv.IsUniqueMatch {
			continue
		}
		s, rec := Score(fv)
		if s >= 50 || rec != selector.Avoid {
			t.Fatalf("non-unique %+v scored %d (%s)", fv, s, rec)
		}
	}
}

func TestScore_Clipped(t *testing.T) {
	for _, fv := range vectors() {
		if s, _ := Score(fv); s < 0 || s > 100 {
			t.Fatalf("%+v scored %d outside [0,100]", fv, s)
		}
	}
}

func TestScore_DepthMonotonic(t *testing.T) {
	for _, fv := range vectors() {
		prev, _ := Score(fv)
		for d := fv.DOMDepth + 1; d <= fv.DOMDepth+15; d++ {
			deeper := fv
			deeper.DOMDepth = d
			s, _ := Score(deeper)
			if s > prev {
				t.Fatalf("depth %d scored %d > %d at depth %d (%+v)", d, s, prev, d-1, fv)
			}
			prev = s
		}
	}
}

func TestScore_Weights(t *testing.T) {
	cases := []struct {
		name string
		fv   selector.FeatureVector
		want int
		rec  selector.Recommendation
	}{
		{"bare unique at root", selector.FeatureVector{IsUniqueMatch: true}, 100, selector.Preferred},
		{"depth 10", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 10}, 85, selector.Preferred},
		{"depth capped", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 50}, 85, selector.Preferred},
		{"variance capped", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 10, SiblingPositionVariance: 99}, 65, selector.Acceptable},
		{"variance 20 depth 10 with nothing else", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 10, SiblingPositionVariance: 20}, 65, selector.Acceptable},
		{"data attr bonus", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 10, SiblingPositionVariance: 20, HasDataAttribute: true}, 90, selector.Preferred},
		{"id and data attr", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 10, SiblingPositionVariance: 20, HasDataAttribute: true, HasStableIDAttribute: true}, 100, selector.Preferred},
		{"deep and unstable", selector.FeatureVector{IsUniqueMatch: true, DOMDepth: 8, SiblingPositionVariance: 20, HasVisibleText: false}, 68, selector.Acceptable},
		{"ambiguous with everything", selector.FeatureVector{HasStableIDAttribute: true, HasAriaLabel: true, HasVisibleText: true, HasDataAttribute: true}, 0, selector.Avoid},
	}
	for _, tc := range cases {
		s, rec := Score(tc.fv)
		if s != tc.want || rec != tc.rec {
			t.Errorf("%s: got %d (%s), want %d (%s)", tc.name, s, rec, tc.want, tc.rec)
		}
	}
}

func TestRecommend_Boundaries(t *testing.T) {
	cases := map[int]selector.Recommendation{
		100: selector.Preferred,
		80:  selector.Preferred,
		79:  selector.Acceptable,
		50:  selector.Acceptable,
		49:  selector.Avoid,
		0:   selector.Avoid,
	}
	for s, want := range cases {
		if got := Recommend(s); got != want {
			t.Errorf("Recommend(%d) = %s, want %s", s, got, want)
		}
	}
}

// A data-testid button with an aria-label three levels below <html>.
func TestScore_TestHookButton(t *testing.T) {
	s, rec := Score(selector.FeatureVector{
		HasStableIDAttribute: true,
		HasAriaLabel:         true,
		HasDataAttribute:     true,
		DOMDepth:             3,
		IsUniqueMatch:        true,
	})
	if s < 80 || rec != selector.Preferred {
		t.Errorf("got %d (%s), want >= 80 preferred", s, rec)
	}
}

// A deep positional chain matching three buttons.
func TestScore_AmbiguousChain(t *testing.T) {
	s, rec := Score(selector.FeatureVector{HasVisibleText: true, DOMDepth: 6, IsUniqueMatch: false})
	if s >= 50 || rec != selector.Avoid {
		t.Errorf("got %d (%s), want < 50 avoid", s, rec)
	}
}

func TestObserved(t *testing.T) {
	if Observed(true, true) != 100 || Observed(true, false) != 50 || Observed(false, false) != 0 || Observed(false, true) != 0 {
		t.Error("observed score mapping")
	}
}

func TestBonus_DataAttributeCountedOnce(t *testing.T) {
	cases := []struct {
		name string
		fv   selector.FeatureVector
		want float64
	}{
		{"hook only", selector.FeatureVector{HasStableIDAttribute: true, HasDataAttribute: true, DataAttributeIsHook: true}, IDBonus},
		{"plain id and data", selector.FeatureVector{HasStableIDAttribute: true, HasDataAttribute: true}, IDBonus + DataAttrBonus},
		{"data only", selector.FeatureVector{HasDataAttribute: true}, DataAttrBonus},
		{"everything", selector.FeatureVector{HasStableIDAttribute: true, HasDataAttribute: true, HasAriaLabel: true, HasVisibleText: true}, IDBonus + DataAttrBonus + AriaBonus + TextBonus},
	}
	for _, tc := range cases {
		if got := bonus(tc.fv); got != tc.want {
			t.Errorf("%s: bonus %v, want %v", tc.name, got, tc.want)
		}
	}
}
