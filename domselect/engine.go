// CLAUDE:SUMMARY Main domselect orchestrator: wires the profile store, learning updater, flusher, SQLite store, snapshot history and browser capture behind the Engine API.
// Package domselect is the selector resilience engine.
//
// Given a selector an automation script relies on, it scores how likely
// the selector is to survive markup churn, proposes better alternatives,
// and learns per domain which selector shapes actually hold up.
//
//	analyze:  candidate + DOM → feature extraction → scoring (+ alternatives)
//	learning: outcome event → EMA update → re-tier → flusher → SQLite
//
// Usage:
//
//	e, err := domselect.New(cfg, logger)
//	defer e.Close()
//	res, err := e.AnalyzeHTML(ctx, "shop.example.com", domselect.CSS("#buy"), html, domselect.AnalyzeOptions{})
//	e.RecordOutcome(domselect.OutcomeEvent{Domain: "shop.example.com", Selector: res.Candidate, Found: true, UniqueMatch: true})
//	e.RegisterMCP(mcpServer)
//	e.Routes(chiRouter)
package domselect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/selres/domselect/internal/alternative"
	"github.com/hazyhaar/selres/domselect/internal/browser"
	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/feature"
	"github.com/hazyhaar/selres/domselect/internal/history"
	"github.com/hazyhaar/selres/domselect/internal/learn"
	"github.com/hazyhaar/selres/domselect/internal/profile"
	"github.com/hazyhaar/selres/domselect/internal/score"
	"github.com/hazyhaar/selres/domselect/internal/selector"
	"github.com/hazyhaar/selres/domselect/internal/store"
)

const closeTimeout = 10 * time.Second

// Engine is the main domselect orchestrator. All methods are safe for
// concurrent use.
type Engine struct {
	config   *Config
	logger   *slog.Logger
	profiles *profile.Store
	learner  *learn.Updater
	history  *history.Ring
	capturer *browser.Capturer

	// nil when Config.InMemory.
	store   *store.Store
	flusher *profile.Flusher

	analyses    atomic.Int64
	resolveErrs atomic.Int64
	outcomes    atomic.Int64
	snapshots   atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// AnalyzeOptions tunes one analysis.
type AnalyzeOptions struct {
	// Domain enables domain knowledge: snapshot history for sibling
	// variance, learned tiers for tie-breaking and the Learned annotation.
	Domain string `json:"domain,omitempty"`
	// Limit caps alternatives; <= 0 means Config.AlternativeLimit.
	Limit int `json:"limit,omitempty"`
	// NoAlternatives skips alternative generation.
	NoAlternatives bool `json:"no_alternatives,omitempty"`
}

// New creates an Engine. Unless cfg.InMemory, it opens the SQLite
// database, loads every stored profile and snapshot, and starts the
// background flusher.
func New(cfg *Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	norm, err := profile.NewNormalizer(cfg.Aliases)
	if err != nil {
		return nil, fmt.Errorf("domselect: aliases: %w", err)
	}

	bcfg := cfg.Browser
	if bcfg.Logger == nil {
		bcfg.Logger = logger
	}

	profiles := profile.NewStore(norm)
	e := &Engine{
		config:   cfg,
		logger:   logger,
		profiles: profiles,
		learner:  learn.New(profiles, logger),
		history:  history.NewRing(cfg.HistorySize),
		capturer: browser.New(bcfg),
	}
	if cfg.InMemory {
		return e, nil
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("domselect: open store: %w", err)
	}
	e.store = s
	if err := e.load(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	e.flusher = profile.NewFlusher(profiles, s, cfg.FlushInterval, logger)
	logger.Info("domselect: started", "db", cfg.DBPath, "domains", len(profiles.Domains()), "snapshots", e.history.Total())
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	list, bad, err := e.store.LoadProfiles(ctx)
	if err != nil {
		return fmt.Errorf("domselect: load profiles: %w", err)
	}
	for _, err := range bad {
		e.logger.Warn("domselect: skipping stored profile", "error", err)
	}
	e.profiles.Load(list)

	snaps, err := e.store.ListSnapshots(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("domselect: load snapshots: %w", err)
	}
	// Newest first per domain; the ring wants oldest first.
	for i := len(snaps) - 1; i >= 0; i-- {
		sn := snaps[i]
		if _, err := e.history.AddHTML(sn.Domain, []byte(sn.HTML)); err != nil {
			e.logger.Warn("domselect: skipping stored snapshot", "id", sn.ID, "error", err)
		}
	}
	return nil
}

// Close stops the flusher after a final flush and releases the database
// and browser. Calling Close more than once returns the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if e.flusher != nil {
			if err := e.flusher.Close(ctx); err != nil {
				e.closeErr = err
			}
		}
		e.capturer.Close()
		if e.store != nil {
			if err := e.store.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return *e.config }

// Analyze extracts the features of c on page, scores them and proposes
// alternatives. It fails only with a *ResolutionError (unparsable
// selector, missing DOM) or on invalid input; a selector matching nothing
// is a valid result scored 0 with no alternatives.
//
// Analyze has no side effects: analysing the same candidate twice on an
// unchanged page and profile yields identical results.
func (e *Engine) Analyze(ctx context.Context, c Candidate, page *Page, opts AnalyzeOptions) (*AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateCandidate(c); err != nil {
		return nil, err
	}

	var prof *selector.Profile
	if opts.Domain != "" && page != nil {
		domain := e.profiles.Domain(opts.Domain)
		if page.History == nil {
			p := *page
			p.History = e.history.Contexts(domain)
			page = &p
		}
		snap := e.profiles.Snapshot(domain)
		prof = &snap
	}

	ex, err := feature.Extract(c, page)
	if err != nil {
		e.resolveErrs.Add(1)
		return nil, err
	}
	s, rec := score.Score(ex.Features)
	res := &AnalysisResult{
		Candidate:      c,
		Features:       ex.Features,
		StabilityScore: s,
		Recommendation: rec,
		Alternatives:   []AnalysisResult{},
		Pattern:        dom.Template(c),
	}
	annotate(res, prof)

	if !opts.NoAlternatives && ex.Target != nil {
		gen := alternative.Generator{Limit: opts.Limit, TierOf: tierOf(prof)}
		if gen.Limit <= 0 {
			gen.Limit = e.config.AlternativeLimit
		}
		alts, err := gen.Generate(c, page)
		if err != nil {
			return nil, err
		}
		for i := range alts {
			annotate(&alts[i], prof)
		}
		res.Alternatives = alts
	}

	e.analyses.Add(1)
	e.logger.Debug("domselect: analyzed",
		"selector", c.String(), "domain", opts.Domain,
		"score", res.StabilityScore, "recommendation", res.Recommendation,
		"matches", res.Features.MatchCount, "alternatives", len(res.Alternatives))
	return res, nil
}

// AnalyzeHTML parses html and analyses c on it. A non-empty domain
// overrides opts.Domain.
func (e *Engine) AnalyzeHTML(ctx context.Context, domain string, c Candidate, html []byte, opts AnalyzeOptions) (*AnalysisResult, error) {
	doc, err := dom.ParseBytes(html)
	if err != nil {
		return nil, fmt.Errorf("domselect: parse html: %w", err)
	}
	if domain != "" {
		opts.Domain = domain
	}
	return e.Analyze(ctx, c, &Page{Doc: doc}, opts)
}

func validateCandidate(c Candidate) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown selector kind %q", ErrInvalidInput, c.Kind)
	}
	if strings.TrimSpace(c.Value) == "" {
		return fmt.Errorf("%w: empty selector", ErrInvalidInput)
	}
	return nil
}

func annotate(res *AnalysisResult, prof *selector.Profile) {
	if prof == nil {
		return
	}
	if wp, t, ok := prof.Find(res.Pattern); ok {
		res.Learned = &wp
		res.LearnedTier = t
	}
}

func tierOf(prof *selector.Profile) func(string) selector.Tier {
	if prof == nil {
		return nil
	}
	return func(pattern string) selector.Tier {
		_, t, _ := prof.Find(pattern)
		return t
	}
}

// LearnedPattern is the state of a pattern after an outcome.
type LearnedPattern struct {
	Domain string `json:"domain"`
	WeightedPattern
	Tier Tier `json:"tier"`
}

// RecordOutcome folds one live observation into the domain's profile. It
// never blocks on I/O and never fails: persistence happens later in the
// background and its errors are only logged.
func (e *Engine) RecordOutcome(ev OutcomeEvent) LearnedPattern {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	wp, tier := e.learner.Record(ev)
	e.outcomes.Add(1)
	return LearnedPattern{Domain: e.profiles.Domain(ev.Domain), WeightedPattern: wp, Tier: tier}
}

// GetProfile returns a copy of the domain's profile; unknown domains yield
// an empty profile.
func (e *Engine) GetProfile(domain string) Profile {
	return e.profiles.Get(domain)
}

// Profiles returns copies of every non-empty profile.
func (e *Engine) Profiles() []Profile {
	return e.profiles.All()
}

// Domains lists domains with at least one learned pattern.
func (e *Engine) Domains() []string {
	return e.profiles.Domains()
}

// ResetProfile forgets everything learned on a domain. The stored
// document is deleted on the next flush.
func (e *Engine) ResetProfile(domain string) {
	e.profiles.Reset(domain)
	e.logger.Info("domselect: profile reset", "domain", e.profiles.Domain(domain))
}

// PurgeDomain resets the domain's profile and drops its snapshot history,
// in memory and in the store, immediately.
func (e *Engine) PurgeDomain(ctx context.Context, domain string) error {
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("%w: domain required", ErrInvalidInput)
	}
	d := e.profiles.Domain(domain)
	e.profiles.Reset(d)
	e.history.Clear(d)
	if e.store != nil {
		if err := e.store.DeleteProfile(ctx, d); err != nil {
			return fmt.Errorf("domselect: purge profile %s: %w", d, err)
		}
		if err := e.store.DeleteSnapshots(ctx, d); err != nil {
			return fmt.Errorf("domselect: purge snapshots %s: %w", d, err)
		}
	}
	e.logger.Info("domselect: domain purged", "domain", d)
	return nil
}

// StoredProfile reads the domain's profile as last flushed to the store.
// ok is false when nothing is stored or the engine is in-memory.
func (e *Engine) StoredProfile(ctx context.Context, domain string) (Profile, bool, error) {
	if e.store == nil {
		return Profile{}, false, nil
	}
	p, ok, err := e.store.GetProfile(ctx, e.profiles.Domain(domain))
	if err != nil {
		return Profile{}, false, fmt.Errorf("domselect: stored profile: %w", err)
	}
	return p, ok, nil
}

// UpsertPattern places pattern in the named tier of a domain. A new
// pattern gets the tier's seed score; an existing one keeps its record.
func (e *Engine) UpsertPattern(domain, pattern, tier string) error {
	t, err := selector.ParseTier(tier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := e.profiles.UpsertPattern(domain, pattern, t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Seed records the patterns of an analysis (the candidate and its
// alternatives) that the domain has never seen, in the tier matching
// their recommendation. Known patterns are left alone. It returns the
// number of patterns added.
func (e *Engine) Seed(domain string, res *AnalysisResult) int {
	if res == nil {
		return 0
	}
	results := append([]AnalysisResult{*res}, res.Alternatives...)
	added := 0
	e.profiles.Update(domain, func(p *selector.Profile) {
		for _, r := range results {
			pattern := r.Pattern
			if pattern == "" {
				pattern = dom.Template(r.Candidate)
			}
			if _, _, ok := p.Find(pattern); ok {
				continue
			}
			t := seedTier(r.Recommendation)
			list := p.List(t)
			*list = append(*list, selector.WeightedPattern{Pattern: pattern, StabilityScore: profile.SeedScore(t)})
			added++
		}
	})
	return added
}

func seedTier(r Recommendation) Tier {
	switch r {
	case selector.Preferred:
		return selector.TierPreferred
	case selector.Avoid:
		return selector.TierAntiPatterns
	}
	return selector.TierFallbacks
}

// SnapshotResult reports what RecordSnapshot did.
type SnapshotResult struct {
	Domain string `json:"domain"`
	Hash   string `json:"html_hash"`
	Added  bool   `json:"added"`
	Held   int    `json:"held"`
}

// RecordSnapshot sanitizes a captured page and adds it to the domain's
// history, in memory and, unless in-memory, on disk. A page identical to
// one already held is ignored. An empty domain is derived from pageURL.
func (e *Engine) RecordSnapshot(ctx context.Context, domain, pageURL string, html []byte) (*SnapshotResult, error) {
	if domain == "" {
		domain = pageURL
	}
	if strings.TrimSpace(domain) == "" {
		return nil, fmt.Errorf("%w: snapshot needs a domain or page url", ErrInvalidInput)
	}
	if len(html) == 0 {
		return nil, fmt.Errorf("%w: empty html", ErrInvalidInput)
	}
	domain = e.profiles.Domain(domain)
	clean := history.Sanitize(html)
	hash := history.Hash(clean)

	if e.store != nil {
		if _, err := e.store.AddSnapshot(ctx, &store.Snapshot{
			Domain:   domain,
			PageURL:  pageURL,
			HTML:     string(clean),
			HTMLHash: hash,
		}, e.config.HistorySize); err != nil {
			return nil, fmt.Errorf("domselect: %w", err)
		}
	}
	added, err := e.history.AddHTML(domain, clean)
	if err != nil {
		return nil, fmt.Errorf("domselect: parse snapshot: %w", err)
	}
	if added {
		e.snapshots.Add(1)
		e.logger.Debug("domselect: snapshot recorded", "domain", domain, "hash", hash, "bytes", len(clean))
	}
	return &SnapshotResult{Domain: domain, Hash: hash, Added: added, Held: e.history.Len(domain)}, nil
}

// Snapshots lists the stored snapshots of a domain, newest first, without
// their HTML. In-memory engines have none.
func (e *Engine) Snapshots(ctx context.Context, domain string, limit int) ([]Snapshot, error) {
	if e.store == nil {
		return []Snapshot{}, nil
	}
	list, err := e.store.ListSnapshots(ctx, e.profiles.Domain(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("domselect: list snapshots: %w", err)
	}
	for i := range list {
		list[i].HTML = ""
	}
	return list, nil
}

// Capture fetches the rendered DOM of pageURL with the configured browser.
func (e *Engine) Capture(ctx context.Context, pageURL string) ([]byte, error) {
	return e.capturer.Capture(ctx, pageURL)
}

// CaptureSnapshot captures pageURL and records it as a snapshot of its
// domain.
func (e *Engine) CaptureSnapshot(ctx context.Context, pageURL string) (*SnapshotResult, error) {
	html, err := e.Capture(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return e.RecordSnapshot(ctx, "", pageURL, html)
}

// Flush writes pending profile changes now. In-memory engines have
// nothing to flush.
func (e *Engine) Flush(ctx context.Context) error {
	if e.flusher == nil {
		return nil
	}
	return e.flusher.Flush(ctx)
}

// Stats is a point-in-time view of engine activity.
type Stats struct {
	Analyses         int64 `json:"analyses"`
	ResolutionErrors int64 `json:"resolution_errors"`
	Outcomes         int64 `json:"outcomes"`
	SnapshotsAdded   int64 `json:"snapshots_added"`
	SnapshotsHeld    int   `json:"snapshots_held"`
	HistorySize      int   `json:"history_size"`
	Domains          int   `json:"domains"`
	Patterns         int   `json:"patterns"`
	Flushes          int64 `json:"flushes"`
	FlushFailures    int64 `json:"flush_failures"`
	PendingFlush     int   `json:"pending_flush"`
	Persistent       bool  `json:"persistent"`
	BrowserEnabled   bool  `json:"browser_enabled"`
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	st := Stats{
		Analyses:         e.analyses.Load(),
		ResolutionErrors: e.resolveErrs.Load(),
		Outcomes:         e.outcomes.Load(),
		SnapshotsAdded:   e.snapshots.Load(),
		SnapshotsHeld:    e.history.Total(),
		HistorySize:      e.history.Size(),
		Persistent:       e.store != nil,
		BrowserEnabled:   e.capturer.Enabled(),
	}
	for _, p := range e.profiles.All() {
		st.Domains++
		st.Patterns += p.Len()
	}
	if e.flusher != nil {
		st.Flushes = e.flusher.Flushes()
		st.FlushFailures = e.flusher.Failures()
		st.PendingFlush = e.flusher.Pending()
	}
	return st
}

// Export writes every non-empty profile to dir as <domain>.json, in the
// persisted document format. It returns the number of files written.
func (e *Engine) Export(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("domselect: export: %w", err)
	}
	profiles := e.profiles.All()
	for _, p := range profiles {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("domselect: export %s: %w", p.Domain, err)
		}
		name := filepath.Join(dir, exportName(p.Domain))
		if err := os.WriteFile(name, append(data, '\n'), 0o644); err != nil {
			return 0, fmt.Errorf("domselect: export %s: %w", p.Domain, err)
		}
	}
	return len(profiles), nil
}

func exportName(domain string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(domain) + ".json"
}

// Import loads profile documents, replacing the in-memory profiles of
// their domains, and marks them for the next flush.
func (e *Engine) Import(profiles []Profile) {
	e.profiles.Load(profiles)
	if e.flusher != nil {
		for _, p := range profiles {
			e.flusher.MarkDirty(e.profiles.Domain(p.Domain))
		}
	}
}
