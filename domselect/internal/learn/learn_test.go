package learn

import (
	"testing"

	"github.com/hazyhaar/selres/domselect/internal/profile"
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

func success(domain, sel string) selector.OutcomeEvent {
	return selector.OutcomeEvent{Domain: domain, Selector: selector.CSS(sel), Found: true, UniqueMatch: true}
}

func failure(domain, sel string) selector.OutcomeEvent {
	return selector.OutcomeEvent{Domain: domain, Selector: selector.CSS(sel), Found: false}
}

func TestRecord_ConvergesStrictly(t *testing.T) {
	u := New(profile.NewStore(nil), nil)
	prev := PriorScore
	for i := 1; i <= 60; i++ {
		wp, _ := u.Record(success("example.com", "[data-testid='submit-button']"))
		if wp.StabilityScore <= prev {
			t.Fatalf("step %d: score %v did not increase from %v", i, wp.StabilityScore, prev)
		}
		if wp.StabilityScore >= 100 {
			t.Fatalf("step %d: score reached %v", i, wp.StabilityScore)
		}
		if wp.Observations != i {
			t.Fatalf("step %d: observations %d", i, wp.Observations)
		}
		prev = wp.StabilityScore
	}
	if prev < 99 {
		t.Errorf("after 60 successes score is %v, want > 99", prev)
	}
}

func TestRecord_PromotesAfterFiveSuccesses(t *testing.T) {
	store := profile.NewStore(nil)
	u := New(store, nil)

	for i := 1; i <= 4; i++ {
		_, tier := u.Record(success("shop.example", "[data-testid='buy']"))
		if tier == selector.TierPreferred {
			t.Fatalf("promoted after only %d observations", i)
		}
	}
	wp, tier := u.Record(success("shop.example", "[data-testid='checkout']"))
	if tier != selector.TierPreferred {
		t.Fatalf("tier after 5 successes: %s (%+v)", tier, wp)
	}

	p := store.Get("shop.example")
	if len(p.Preferred) != 1 || len(p.Fallbacks) != 0 || len(p.AntiPatterns) != 0 {
		t.Fatalf("profile: %+v", p)
	}
	got := p.Preferred[0]
	if got.Pattern != "[data-testid]" || got.Observations != 5 {
		t.Errorf("preferred entry: %+v", got)
	}
	if got.StabilityScore < 90 {
		t.Errorf("score after 5 successes: %v, want close to 100", got.StabilityScore)
	}
}

func TestRecord_DemotesBelowThirty(t *testing.T) {
	store := profile.NewStore(nil)
	u := New(store, nil)
	const sel = "div > div > div > button"
	for i := 0; i < 5; i++ {
		u.Record(success("example.com", sel))
	}

	for i := 0; i < 100; i++ {
		wp, tier := u.Record(failure("example.com", sel))
		if wp.StabilityScore >= DemoteScore {
			if tier == selector.TierAntiPatterns {
				t.Fatalf("demoted at score %v", wp.StabilityScore)
			}
			continue
		}
		if tier != selector.TierAntiPatterns {
			t.Fatalf("score %v but tier %s", wp.StabilityScore, tier)
		}
		p := store.Get("example.com")
		if len(p.AntiPatterns) != 1 || len(p.Fallbacks) != 0 || len(p.Preferred) != 0 {
			t.Fatalf("profile after demotion: %+v", p)
		}
		return
	}
	t.Fatal("pattern never dropped below the demotion threshold")
}

func TestRecord_AmbiguousHoldsAtFifty(t *testing.T) {
	u := New(profile.NewStore(nil), nil)
	ev := selector.OutcomeEvent{Domain: "example.com", Selector: selector.XPath("//li[2]"), Found: true}
	for i := 0; i < 10; i++ {
		wp, tier := u.Record(ev)
		if wp.StabilityScore != 50 || tier != selector.TierFallbacks {
			t.Fatalf("ambiguous outcome moved pattern: %+v %s", wp, tier)
		}
	}
}

func TestRecord_NormalizesDomainAndPattern(t *testing.T) {
	store := profile.NewStore(nil)
	u := New(store, nil)
	u.Record(success("https://www.example.com/cart", "[data-testid='a']"))
	u.Record(success("EXAMPLE.com", `[data-testid="b"]`))

	p := store.Get("example.com")
	if p.Len() != 1 {
		t.Fatalf("want one pattern, got %+v", p)
	}
	wp, _, _ := p.Find("[data-testid]")
	if wp.Observations != 2 {
		t.Errorf("observations: %d", wp.Observations)
	}
}

func TestRecord_KeepsUpsertedStats(t *testing.T) {
	store := profile.NewStore(nil)
	u := New(store, nil)
	if err := store.UpsertPattern("example.com", "text", selector.TierAntiPatterns); err != nil {
		t.Fatal(err)
	}
	wp, tier := u.Record(selector.OutcomeEvent{Domain: "example.com", Selector: selector.Text("Save"), Found: true, UniqueMatch: true})
	// 15 + 1/2 * (100 - 15)
	if wp.StabilityScore != 57.5 || wp.Observations != 1 || tier != selector.TierFallbacks {
		t.Errorf("got %+v in %s", wp, tier)
	}
}

func TestTier(t *testing.T) {
	cases := []struct {
		wp   selector.WeightedPattern
		want selector.Tier
	}{
		{selector.WeightedPattern{StabilityScore: 100, Observations: 4}, selector.TierFallbacks},
		{selector.WeightedPattern{StabilityScore: 80, Observations: 5}, selector.TierPreferred},
		{selector.WeightedPattern{StabilityScore: 79.99, Observations: 50}, selector.TierFallbacks},
		{selector.WeightedPattern{StabilityScore: 30, Observations: 50}, selector.TierFallbacks},
		{selector.WeightedPattern{StabilityScore: 29.99, Observations: 1}, selector.TierAntiPatterns},
		{selector.WeightedPattern{StabilityScore: 15}, selector.TierAntiPatterns},
	}
	for _, tc := range cases {
		if got := Tier(tc.wp); got != tc.want {
			t.Errorf("Tier(%+v) = %s, want %s", tc.wp, got, tc.want)
		}
	}
}

func TestApply_RateFloor(t *testing.T) {
	wp := selector.WeightedPattern{StabilityScore: 0, Observations: 100}
	wp = Apply(wp, 100)
	if wp.StabilityScore != 5 || wp.Observations != 101 {
		t.Errorf("got %+v, want score 5 after one step at rate 1/20", wp)
	}
}

func TestApply_RateFromPriorCount(t *testing.T) {
	cases := []struct {
		prior int
		want  float64
	}{
		{0, 75},        // 1/2
		{1, 200.0 / 3}, // 1/3
		{2, 62.5},      // 1/4
		{18, 52.5},     // 1/20
		{40, 52.5},     // floor
	}
	for _, tc := range cases {
		got := Apply(selector.WeightedPattern{StabilityScore: 50, Observations: tc.prior}, 100)
		if diff := got.StabilityScore - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("prior %d: score %v, want %v", tc.prior, got.StabilityScore, tc.want)
		}
	}
}
