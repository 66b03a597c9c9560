// CLAUDE:SUMMARY Parsed HTML document used as the DOM context: selector resolution dispatch, document order, node helpers (attributes, text, depth, sibling index, visibility).
// Package dom is the DOM context of the selector engine. It parses HTML
// with golang.org/x/net/html and resolves CSS, XPath and text candidates
// against it.
//
// Supported CSS subset:
//   - type, universal, #id, .class selectors
//   - attribute selectors [a], [a=v], [a~=v], [a^=v], [a$=v], [a*=v], [a|=v], optional i flag
//   - :first-child, :last-child, :only-child, :first-of-type, :last-of-type,
//     :only-of-type, :nth-child(n|odd|even), :nth-of-type(n|odd|even)
//   - descendant, >, + and ~ combinators; comma-separated selector lists
//
// Supported XPath subset:
//   - /abs/path, //descendant, relative steps, *, ., ..
//   - predicates [n], [last()], [@a], [@a='v'], [text()='v'], [.='v'],
//     [normalize-space()='v'], [contains(@a|text()|., 'v')],
//     [starts-with(@a|text()|., 'v')], joined with "and"
//
// Text candidates match the innermost elements whose normalized text
// equals the candidate value.
//
// A parsed Document is never mutated, so it is safe for concurrent reads.
package dom

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Context resolves candidates to element nodes in document order.
type Context interface {
	Resolve(c selector.Candidate) ([]*html.Node, error)
}

// Page bundles the current DOM with historical DOMs of the same domain.
type Page struct {
	Doc     Context
	History []Context
}

// Document is an immutable parsed HTML document.
type Document struct {
	root  *html.Node
	order map[*html.Node]int
}

// Parse reads and parses an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	d := &Document{root: root, order: make(map[*html.Node]int)}
	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		d.order[n] = i
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return d, nil
}

// ParseBytes parses an in-memory HTML document.
func ParseBytes(b []byte) (*Document, error) {
	return Parse(bytes.NewReader(b))
}

// ParseString parses an HTML string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Resolve evaluates c against the document. Syntax errors are returned
// as *selector.ResolutionError; zero matches is a nil slice and nil error.
func (d *Document) Resolve(c selector.Candidate) ([]*html.Node, error) {
	switch c.Kind {
	case selector.KindCSS:
		list, err := parseCSS(c.Value)
		if err != nil {
			return nil, resolutionErr(c, err)
		}
		return d.matchCSS(list), nil
	case selector.KindXPath:
		expr, err := parseXPath(c.Value)
		if err != nil {
			return nil, resolutionErr(c, err)
		}
		return d.evalXPath(expr), nil
	case selector.KindText:
		want := NormalizeSpace(c.Value)
		if want == "" {
			return nil, selector.Resolution(c, "empty text selector")
		}
		return d.matchText(want), nil
	default:
		return nil, selector.Resolution(c, "unknown selector kind")
	}
}

func resolutionErr(c selector.Candidate, err error) *selector.ResolutionError {
	if se, ok := err.(*syntaxError); ok {
		return selector.Resolution(c, "%s at offset %d", se.msg, se.pos)
	}
	return &selector.ResolutionError{Selector: c.Value, Kind: c.Kind, Reason: "invalid syntax", Err: err}
}

type syntaxError struct {
	msg string
	pos int
}

func (e *syntaxError) Error() string { return e.msg }

// elements returns all element nodes below root in document order.
func (d *Document) elements() []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// matchText returns the innermost elements whose normalized text is want.
func (d *Document) matchText(want string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node) bool
	// walk reports whether n or a descendant matched.
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && skipText(n) {
			return false
		}
		inner := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				inner = true
			}
		}
		if inner {
			return true
		}
		if n.Type == html.ElementNode && Text(n) == want {
			out = append(out, n)
			return true
		}
		return false
	}
	walk(d.root)
	return out
}

// --- node helpers ---

// Attr returns the value of attribute key and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrValue returns the value of attribute key or "".
func AttrValue(n *html.Node, key string) string {
	v, _ := Attr(n, key)
	return v
}

func skipText(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "noscript", "template", "head":
		return true
	}
	return false
}

// Text returns the whitespace-normalized text content of n, skipping
// script and style content.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if skipText(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return NormalizeSpace(b.String())
}

// OwnText returns the trimmed direct text children of n.
func OwnText(n *html.Node) []string {
	var out []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if t := strings.TrimSpace(c.Data); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// NormalizeSpace trims and collapses runs of whitespace.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Depth is the number of element ancestors between n and the document
// element; <html> itself has depth 0.
func Depth(n *html.Node) int {
	d := 0
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		d++
	}
	return d
}

// parentElement returns the parent of n if it is an element.
func parentElement(n *html.Node) *html.Node {
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		return n.Parent
	}
	return nil
}

func prevElement(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// SiblingIndex is the 1-based position of n among its same-tag element
// siblings.
func SiblingIndex(n *html.Node) int {
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			idx++
		}
	}
	return idx
}

// sameTagCount is the number of same-tag element siblings, n included.
func sameTagCount(n *html.Node) int {
	count := SiblingIndex(n)
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			count++
		}
	}
	return count
}

// elementIndex is the 1-based position of n among all element siblings.
func elementIndex(n *html.Node) int {
	idx := 1
	for s := prevElement(n); s != nil; s = prevElement(s) {
		idx++
	}
	return idx
}

// Hidden reports whether n or an ancestor is hidden by markup: the hidden
// attribute, aria-hidden="true", or an inline display:none /
// visibility:hidden style.
func Hidden(n *html.Node) bool {
	for e := n; e != nil && e.Type == html.ElementNode; e = e.Parent {
		if _, ok := Attr(e, "hidden"); ok {
			return true
		}
		if strings.EqualFold(AttrValue(e, "aria-hidden"), "true") {
			return true
		}
		style := strings.ToLower(strings.ReplaceAll(AttrValue(e, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
		if e.Data == "input" && strings.EqualFold(AttrValue(e, "type"), "hidden") {
			return true
		}
	}
	return false
}

// PositionalPath builds a child-combinator CSS path from <html> to n,
// qualifying a step with :nth-of-type only when same-tag siblings exist.
func PositionalPath(n *html.Node) string {
	var steps []string
	for e := n; e != nil && e.Type == html.ElementNode; e = e.Parent {
		step := escapeIdent(e.Data)
		if e.Data != "html" && e.Data != "body" && e.Data != "head" && sameTagCount(e) > 1 {
			step += ":nth-of-type(" + strconv.Itoa(SiblingIndex(e)) + ")"
		}
		steps = append(steps, step)
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

// PositionalXPath is the absolute XPath of n, indexed the same way as
// PositionalPath. Tags that are not XPath names (fb:like, o:p) are
// matched as *[name()='…'].
func PositionalXPath(n *html.Node) string {
	var steps []string
	for e := n; e != nil && e.Type == html.ElementNode; e = e.Parent {
		step := e.Data
		if !isXPathName(step) {
			step = "*[name()=" + xquote(e.Data) + "]"
		}
		if sameTagCount(e) > 1 {
			step += "[" + strconv.Itoa(SiblingIndex(e)) + "]"
		}
		steps = append(steps, step)
	}
	var b strings.Builder
	for i := len(steps) - 1; i >= 0; i-- {
		b.WriteString("/" + steps[i])
	}
	return b.String()
}

// Contains reports whether n is ancestor or equal to d.
func Contains(n, d *html.Node) bool {
	for e := d; e != nil; e = e.Parent {
		if e == n {
			return true
		}
	}
	return false
}
