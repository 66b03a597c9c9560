package profile

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

func assertExclusive(t *testing.T, p selector.Profile) {
	t.Helper()
	seen := map[string]selector.Tier{}
	for _, tier := range selector.Tiers {
		for _, wp := range *p.List(tier) {
			if prev, ok := seen[wp.Pattern]; ok {
				t.Fatalf("pattern %q in both %s and %s", wp.Pattern, prev, tier)
			}
			seen[wp.Pattern] = tier
		}
	}
}

func TestGet_UnknownDomain(t *testing.T) {
	s := NewStore(nil)
	p := s.Get("Example.com")
	if p.Domain != "example.com" {
		t.Errorf("domain: %q", p.Domain)
	}
	if p.Preferred == nil || p.Fallbacks == nil || p.AntiPatterns == nil {
		t.Error("empty profile must carry non-nil lists")
	}
	if len(s.Domains()) != 0 {
		t.Error("Get must not create a profile")
	}
}

func TestUpsertPattern_SeedAndMove(t *testing.T) {
	s := NewStore(nil)
	if err := s.UpsertPattern("example.com", "[data-testid]", selector.TierPreferred); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p := s.Get("example.com")
	if len(p.Preferred) != 1 || p.Preferred[0].StabilityScore != SeedPreferred || p.Preferred[0].Observations != 0 {
		t.Fatalf("seeded: %+v", p.Preferred)
	}

	// Simulate learned stats, then move: stats follow the pattern.
	s.Update("example.com", func(p *selector.Profile) {
		p.Preferred[0].StabilityScore = 91
		p.Preferred[0].Observations = 7
	})
	if err := s.UpsertPattern("example.com", "[data-testid]", selector.TierAntiPatterns); err != nil {
		t.Fatalf("move: %v", err)
	}
	p = s.Get("example.com")
	if len(p.Preferred) != 0 || len(p.AntiPatterns) != 1 {
		t.Fatalf("after move: %+v", p)
	}
	if wp := p.AntiPatterns[0]; wp.StabilityScore != 91 || wp.Observations != 7 {
		t.Errorf("stats lost on move: %+v", wp)
	}
	assertExclusive(t, p)
}

func TestUpsertPattern_Invalid(t *testing.T) {
	s := NewStore(nil)
	if err := s.UpsertPattern("example.com", "  ", selector.TierPreferred); err == nil {
		t.Error("expected error for empty pattern")
	}
	if err := s.UpsertPattern("example.com", "#id", "gold"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if err := s.UpsertPattern("example.com", "#id", "fallback"); err != nil {
		t.Errorf("tier alias: %v", err)
	}
	if p := s.Get("example.com"); len(p.Fallbacks) != 1 {
		t.Errorf("alias should land in fallbacks: %+v", p)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := NewStore(nil)
	_ = s.UpsertPattern("example.com", "#id", selector.TierFallbacks)
	snap := s.Snapshot("example.com")
	snap.Fallbacks[0].StabilityScore = 0
	snap.Fallbacks = append(snap.Fallbacks, selector.WeightedPattern{Pattern: "x"})

	p := s.Get("example.com")
	if len(p.Fallbacks) != 1 || p.Fallbacks[0].StabilityScore != SeedFallbacks {
		t.Errorf("store mutated through snapshot: %+v", p.Fallbacks)
	}
}

func TestTierOrdering(t *testing.T) {
	s := NewStore(nil)
	s.Update("example.com", func(p *selector.Profile) {
		p.Fallbacks = append(p.Fallbacks,
			selector.WeightedPattern{Pattern: "b", StabilityScore: 60, Observations: 1},
			selector.WeightedPattern{Pattern: "a", StabilityScore: 60, Observations: 1},
			selector.WeightedPattern{Pattern: "c", StabilityScore: 60, Observations: 9},
			selector.WeightedPattern{Pattern: "d", StabilityScore: 70},
		)
	})
	p := s.Get("example.com")
	var got []string
	for _, wp := range p.Fallbacks {
		got = append(got, wp.Pattern)
	}
	if fmt.Sprint(got) != "[d c a b]" {
		t.Errorf("order: %v", got)
	}
}

func TestReset(t *testing.T) {
	s := NewStore(nil)
	var changed []string
	s.OnChange(func(d string) { changed = append(changed, d) })

	_ = s.UpsertPattern("www.example.com", "#id", selector.TierPreferred)
	s.Reset("https://example.com/login")

	p := s.Get("example.com")
	if p.Len() != 0 {
		t.Errorf("reset left patterns: %+v", p)
	}
	if len(s.Domains()) != 0 {
		t.Errorf("domains after reset: %v", s.Domains())
	}
	if fmt.Sprint(changed) != "[example.com example.com]" {
		t.Errorf("change notifications: %v", changed)
	}
}

func TestLoad(t *testing.T) {
	s := NewStore(nil)
	s.Load([]selector.Profile{{
		Domain:       "WWW.Shop.Example",
		Preferred:    []selector.WeightedPattern{{Pattern: "[data-testid]", StabilityScore: 93.2, Observations: 41}},
		Fallbacks:    []selector.WeightedPattern{{Pattern: "[data-testid]", StabilityScore: 10}},
		AntiPatterns: nil,
	}})
	p := s.Get("shop.example")
	if len(p.Preferred) != 1 || len(p.Fallbacks) != 0 {
		t.Fatalf("loaded: %+v", p)
	}
	if p.AntiPatterns == nil {
		t.Error("nil list survived load")
	}
	if d := s.Domains(); len(d) != 1 || d[0] != "shop.example" {
		t.Errorf("domains: %v", d)
	}
}

func TestConcurrentTierExclusivity(t *testing.T) {
	s := NewStore(nil)
	patterns := []string{"[data-testid]", "#id", "div > div > div", "text", "button[aria-label]"}
	domains := []string{"a.example", "b.example"}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 1)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				d := domains[rng.Intn(len(domains))]
				pat := patterns[rng.Intn(len(patterns))]
				tier := selector.Tiers[rng.Intn(len(selector.Tiers))]
				if rng.Intn(3) == 0 {
					s.Update(d, func(p *selector.Profile) {
						wp, _, ok := p.Remove(pat)
						if !ok {
							wp = selector.WeightedPattern{Pattern: pat, StabilityScore: 50}
						}
						wp.Observations++
						list := p.List(tier)
						*list = append(*list, wp)
					})
					continue
				}
				_ = s.UpsertPattern(d, pat, tier)
			}
		}(int64(w))
	}

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, d := range domains {
				p := s.Get(d)
				seen := map[string]bool{}
				for _, tier := range selector.Tiers {
					for _, wp := range *p.List(tier) {
						if seen[wp.Pattern] {
							select {
							case violations <- d + " " + wp.Pattern:
							default:
							}
						}
						seen[wp.Pattern] = true
					}
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	select {
	case v := <-violations:
		t.Fatalf("duplicate pattern observed: %s", v)
	default:
	}
	for _, d := range domains {
		p := s.Get(d)
		assertExclusive(t, p)
		if p.Len() != len(patterns) {
			t.Errorf("%s: %d patterns, want %d", d, p.Len(), len(patterns))
		}
	}
}
