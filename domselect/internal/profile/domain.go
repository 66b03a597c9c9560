package profile

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Unknown is the profile key used when no domain can be derived.
const Unknown = "unknown"

// Alias folds every host matching Pattern into Domain. Patterns are globs
// with '.' as separator: "*.shop.example.com" matches one label,
// "**.example.com" any number.
type Alias struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Domain  string `yaml:"domain" json:"domain"`
}

type compiledAlias struct {
	g      glob.Glob
	domain string
}

// Normalizer maps user-supplied domains and URLs to profile keys.
type Normalizer struct {
	aliases []compiledAlias
}

// NewNormalizer compiles aliases in order; the first match wins.
func NewNormalizer(aliases []Alias) (*Normalizer, error) {
	n := &Normalizer{}
	for _, a := range aliases {
		pattern := strings.ToLower(strings.TrimSpace(a.Pattern))
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("profile: invalid alias pattern %q: %w", a.Pattern, err)
		}
		target := Normalize(a.Domain)
		if target == Unknown {
			return nil, fmt.Errorf("profile: alias %q has no target domain", a.Pattern)
		}
		n.aliases = append(n.aliases, compiledAlias{g: g, domain: target})
	}
	return n, nil
}

// Normalize returns the profile key for domain, applying aliases.
// A nil Normalizer applies no aliases.
func (n *Normalizer) Normalize(domain string) string {
	host := Normalize(domain)
	if n == nil {
		return host
	}
	for _, a := range n.aliases {
		if a.g.Match(host) {
			return a.domain
		}
	}
	return host
}

// Normalize lowercases domain and strips scheme, credentials, path, port,
// a trailing dot and a leading "www.". Empty input maps to Unknown.
func Normalize(domain string) string {
	s := strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	if s == "" {
		return Unknown
	}
	return s
}
