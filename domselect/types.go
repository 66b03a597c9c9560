package domselect

import (
	"github.com/hazyhaar/selres/domselect/internal/dom"
	"github.com/hazyhaar/selres/domselect/internal/profile"
	"github.com/hazyhaar/selres/domselect/internal/selector"
	"github.com/hazyhaar/selres/domselect/internal/store"
)

// Re-exported types from internal packages for use by cmd/ and external callers.
type (
	Candidate        = selector.Candidate
	Kind             = selector.Kind
	FeatureVector    = selector.FeatureVector
	AnalysisResult   = selector.AnalysisResult
	Recommendation   = selector.Recommendation
	Profile          = selector.Profile
	WeightedPattern  = selector.WeightedPattern
	Tier             = selector.Tier
	OutcomeEvent     = selector.OutcomeEvent
	ResolutionError  = selector.ResolutionError
	PersistenceError = selector.PersistenceError
	Page             = dom.Page
	Document         = dom.Document
	DOMContext       = dom.Context
	Alias            = profile.Alias
	Snapshot         = store.Snapshot
)

const (
	KindCSS   = selector.KindCSS
	KindXPath = selector.KindXPath
	KindText  = selector.KindText

	Preferred  = selector.Preferred
	Acceptable = selector.Acceptable
	Avoid      = selector.Avoid

	TierPreferred    = selector.TierPreferred
	TierFallbacks    = selector.TierFallbacks
	TierAntiPatterns = selector.TierAntiPatterns
)

// Candidate constructors.
var (
	CSS   = selector.CSS
	XPath = selector.XPath
	Text  = selector.Text

	ParseKind = selector.ParseKind
)

// ParseHTML parses a page into a DOM context.
func ParseHTML(b []byte) (*Document, error) { return dom.ParseBytes(b) }

// Template returns the learning pattern of a selector.
func Template(c Candidate) string { return dom.Template(c) }
