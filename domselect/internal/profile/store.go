// CLAUDE:SUMMARY Domain Profile Store: per-domain locked profiles with mutually exclusive tiers, lazy creation, deep-copy snapshots and change notification.
// Package profile owns every domain profile. Callers only ever see deep
// copies; all mutation goes through Update, which serializes writers per
// domain and keeps each pattern in exactly one tier.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Seed scores of a pattern first placed by UpsertPattern.
const (
	SeedPreferred    = 80.0
	SeedFallbacks    = 50.0
	SeedAntiPatterns = 15.0
)

// SeedScore is the initial score of a pattern upserted into t.
func SeedScore(t selector.Tier) float64 {
	switch t {
	case selector.TierPreferred:
		return SeedPreferred
	case selector.TierAntiPatterns:
		return SeedAntiPatterns
	}
	return SeedFallbacks
}

type entry struct {
	mu sync.Mutex
	p  selector.Profile
}

// Store is the in-memory, authoritative set of domain profiles.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	norm     *Normalizer
	now      func() time.Time
	onChange func(domain string)
}

// NewStore creates an empty store. norm may be nil.
func NewStore(norm *Normalizer) *Store {
	return &Store{
		entries: make(map[string]*entry),
		norm:    norm,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnChange registers fn to be called, outside any lock, after each
// mutation of a domain. It must be set before concurrent use.
func (s *Store) OnChange(fn func(domain string)) { s.onChange = fn }

// Domain returns the profile key of a domain or URL.
func (s *Store) Domain(domain string) string { return s.norm.Normalize(domain) }

func (s *Store) lookup(key string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}

func (s *Store) getOrCreate(key string) *entry {
	if e := s.lookup(key); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &entry{p: selector.NewProfile(key)}
	s.entries[key] = e
	return e
}

// Get returns a deep copy of the domain's profile; an unknown domain
// yields an empty but valid profile.
func (s *Store) Get(domain string) selector.Profile {
	key := s.Domain(domain)
	e := s.lookup(key)
	if e == nil {
		return selector.NewProfile(key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone()
}

// Snapshot is Get under the name used by read-only callers.
func (s *Store) Snapshot(domain string) selector.Profile { return s.Get(domain) }

// Update runs fn on the domain's live profile under its lock, creating
// the profile on first use, and returns a copy of the result. Tier
// exclusivity and ordering are restored before the lock is released.
func (s *Store) Update(domain string, fn func(p *selector.Profile)) selector.Profile {
	key := s.Domain(domain)
	e := s.getOrCreate(key)

	e.mu.Lock()
	fn(&e.p)
	e.p.Domain = key
	e.p.UpdatedAt = s.now()
	normalizeTiers(&e.p)
	out := e.p.Clone()
	e.mu.Unlock()

	s.notify(key)
	return out
}

// UpsertPattern seeds pattern into tier t, or moves it there keeping its
// score and observations.
func (s *Store) UpsertPattern(domain, pattern string, t selector.Tier) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("profile: empty pattern")
	}
	t, err := selector.ParseTier(string(t))
	if err != nil {
		return err
	}
	s.Update(domain, func(p *selector.Profile) {
		wp, _, ok := p.Remove(pattern)
		if !ok {
			wp = selector.WeightedPattern{Pattern: pattern, StabilityScore: SeedScore(t)}
		}
		list := p.List(t)
		*list = append(*list, wp)
	})
	return nil
}

// Reset clears all three tiers of a domain.
func (s *Store) Reset(domain string) {
	key := s.Domain(domain)
	if e := s.lookup(key); e != nil {
		e.mu.Lock()
		e.p = selector.NewProfile(key)
		e.p.UpdatedAt = s.now()
		e.mu.Unlock()
	}
	s.notify(key)
}

// Load installs persisted profiles, replacing in-memory state for their
// domains. It does not fire change notifications.
func (s *Store) Load(profiles []selector.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		p = p.Clone()
		p.Domain = s.Domain(p.Domain)
		normalizeTiers(&p)
		if e, ok := s.entries[p.Domain]; ok {
			e.mu.Lock()
			e.p = p
			e.mu.Unlock()
			continue
		}
		s.entries[p.Domain] = &entry{p: p}
	}
}

// Domains lists domains holding at least one pattern, sorted.
func (s *Store) Domains() []string {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e
	}
	s.mu.RUnlock()

	var out []string
	for k, e := range entries {
		e.mu.Lock()
		n := e.p.Len()
		e.mu.Unlock()
		if n > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// All returns copies of every non-empty profile, sorted by domain.
func (s *Store) All() []selector.Profile {
	domains := s.Domains()
	out := make([]selector.Profile, 0, len(domains))
	for _, d := range domains {
		out = append(out, s.Get(d))
	}
	return out
}

func (s *Store) notify(domain string) {
	if s.onChange != nil {
		s.onChange(domain)
	}
}

// normalizeTiers drops duplicates (the best tier wins) and sorts each
// list by score, observations, then pattern.
func normalizeTiers(p *selector.Profile) {
	seen := make(map[string]bool, p.Len())
	for _, t := range selector.Tiers {
		list := p.List(t)
		kept := make([]selector.WeightedPattern, 0, len(*list))
		for _, wp := range *list {
			if wp.Pattern == "" || seen[wp.Pattern] {
				continue
			}
			seen[wp.Pattern] = true
			kept = append(kept, wp)
		}
		sort.SliceStable(kept, func(i, j int) bool {
			a, b := kept[i], kept[j]
			if a.StabilityScore != b.StabilityScore {
				return a.StabilityScore > b.StabilityScore
			}
			if a.Observations != b.Observations {
				return a.Observations > b.Observations
			}
			return a.Pattern < b.Pattern
		})
		*list = kept
	}
}
