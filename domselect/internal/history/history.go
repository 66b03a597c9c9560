// CLAUDE:SUMMARY Snapshot history: sanitizes captured HTML with bluemonday and keeps the last N parsed documents per domain in memory for sibling-variance sampling.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/selres/domselect/internal/dom"
)

// DefaultSize is the number of snapshots kept per domain.
const DefaultSize = 5

var policy = newPolicy()

// newPolicy keeps the structure selectors depend on (element tree, ids,
// classes, data-* and aria attributes, form controls) and strips scripts,
// event handlers and embedded content.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataAttributes()
	p.AllowAttrs(
		"id", "class", "role", "name", "type", "placeholder", "title", "for", "hidden", "value",
		"aria-label", "aria-labelledby", "aria-describedby", "aria-hidden",
	).Globally()
	p.AllowElements(
		"form", "input", "button", "select", "option", "optgroup", "textarea", "label",
		"fieldset", "legend", "nav", "header", "footer", "main", "section", "article",
		"aside", "span", "div",
	)
	p.AllowStyles("display", "visibility").Globally()
	return p
}

// Sanitize returns the storable form of a captured page.
func Sanitize(raw []byte) []byte {
	return policy.SanitizeBytes(raw)
}

// Hash is the content key used to drop duplicate snapshots.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type snapshot struct {
	hash string
	doc  *dom.Document
}

// Ring holds the most recent parsed snapshots of each domain. Readers never
// block each other; documents are immutable once added.
type Ring struct {
	mu   sync.RWMutex
	size int
	docs map[string][]snapshot // oldest first
}

// NewRing keeps size snapshots per domain (DefaultSize when size <= 0).
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{size: size, docs: make(map[string][]snapshot)}
}

// Size is the per-domain capacity.
func (r *Ring) Size() int { return r.size }

// Add appends doc unless a snapshot with the same hash is already held.
// The oldest snapshot is evicted when the domain is full.
func (r *Ring) Add(domain, hash string, doc *dom.Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.docs[domain]
	for _, s := range list {
		if s.hash == hash {
			return false
		}
	}
	list = append(list, snapshot{hash: hash, doc: doc})
	if over := len(list) - r.size; over > 0 {
		list = append([]snapshot(nil), list[over:]...)
	}
	r.docs[domain] = list
	return true
}

// AddHTML parses already sanitized HTML and adds it.
func (r *Ring) AddHTML(domain string, sanitized []byte) (bool, error) {
	doc, err := dom.ParseBytes(sanitized)
	if err != nil {
		return false, err
	}
	return r.Add(domain, Hash(sanitized), doc), nil
}

// Contexts returns the domain's snapshots as DOM contexts, oldest first.
func (r *Ring) Contexts(domain string) []dom.Context {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.docs[domain]
	out := make([]dom.Context, len(list))
	for i, s := range list {
		out[i] = s.doc
	}
	return out
}

// Len is the number of snapshots held for domain.
func (r *Ring) Len(domain string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs[domain])
}

// Total is the number of snapshots held across domains.
func (r *Ring) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.docs {
		n += len(list)
	}
	return n
}

// Clear drops every snapshot of domain.
func (r *Ring) Clear(domain string) {
	r.mu.Lock()
	delete(r.docs, domain)
	r.mu.Unlock()
}
