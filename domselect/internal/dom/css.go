// CLAUDE:SUMMARY Strict CSS selector subset: parser (compounds, attributes, structural pseudo-classes, combinators, lists) and right-to-left matcher over x/net/html nodes.
package dom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

type cssList []complexSel

// complexSel is a chain of compounds joined by combinators;
// combinators[i] joins compounds[i] and compounds[i+1].
type complexSel struct {
	compounds   []compound
	combinators []byte
}

type compound struct {
	tag     string // "" or "*" matches any element
	id      string
	classes []string
	attrs   []attrSel
	pseudos []pseudoSel
}

type attrSel struct {
	name     string
	op       string // "" presence, "=", "~=", "^=", "$=", "*=", "|="
	val      string
	caseFold bool
}

type pseudoSel struct {
	name string
	arg  string // raw argument for nth-*: "3", "odd", "even"
	a, b int    // matches positions a*k+b, k>=0
}

// --- parser ---

type cssParser struct {
	s   string
	pos int
}

func parseCSS(s string) (cssList, error) {
	p := &cssParser{s: s}
	p.skipSpace()
	if p.eof() {
		return nil, p.errf("empty selector")
	}
	var list cssList
	for {
		p.skipSpace()
		sel, err := p.parseComplex()
		if err != nil {
			return nil, err
		}
		list = append(list, sel)
		p.skipSpace()
		if p.eof() {
			return list, nil
		}
		if p.peek() != ',' {
			return nil, p.errf("unexpected %q", p.peek())
		}
		p.pos++
	}
}

func (p *cssParser) eof() bool  { return p.pos >= len(p.s) }
func (p *cssParser) peek() byte { return p.s[p.pos] }

func (p *cssParser) errf(format string, args ...any) error {
	return &syntaxError{msg: fmt.Sprintf(format, args...), pos: p.pos}
}

func (p *cssParser) skipSpace() bool {
	start := p.pos
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
	return p.pos > start
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func (p *cssParser) parseComplex() (complexSel, error) {
	var sel complexSel
	first, ok, err := p.parseCompound()
	if err != nil {
		return sel, err
	}
	if !ok {
		if p.eof() {
			return sel, p.errf("expected selector")
		}
		return sel, p.errf("unexpected %q", p.peek())
	}
	sel.compounds = append(sel.compounds, first)

	for {
		sawSpace := p.skipSpace()
		if p.eof() || p.peek() == ',' {
			return sel, nil
		}
		comb := byte(' ')
		switch c := p.peek(); c {
		case '>', '+', '~':
			comb = c
			p.pos++
			p.skipSpace()
		default:
			if !sawSpace {
				return sel, p.errf("unexpected %q", c)
			}
		}
		next, ok, err := p.parseCompound()
		if err != nil {
			return sel, err
		}
		if !ok {
			return sel, p.errf("dangling combinator")
		}
		sel.combinators = append(sel.combinators, comb)
		sel.compounds = append(sel.compounds, next)
	}
}

func (p *cssParser) parseCompound() (compound, bool, error) {
	var c compound
	start := p.pos

	if !p.eof() && p.peek() == '*' {
		c.tag = "*"
		p.pos++
	} else if name := p.ident(); name != "" {
		c.tag = strings.ToLower(name)
	}

	for !p.eof() {
		switch p.peek() {
		case '#':
			p.pos++
			id := p.ident()
			if id == "" {
				return c, false, p.errf("expected id after #")
			}
			if c.id != "" && c.id != id {
				return c, false, p.errf("conflicting ids")
			}
			c.id = id
		case '.':
			p.pos++
			cls := p.ident()
			if cls == "" {
				return c, false, p.errf("expected class name after .")
			}
			c.classes = append(c.classes, cls)
		case '[':
			a, err := p.parseAttr()
			if err != nil {
				return c, false, err
			}
			c.attrs = append(c.attrs, a)
		case ':':
			ps, err := p.parsePseudo()
			if err != nil {
				return c, false, err
			}
			c.pseudos = append(c.pseudos, ps)
		default:
			return c, p.pos > start, nil
		}
	}
	return c, p.pos > start, nil
}

// ident reads a CSS identifier: -?[A-Za-z_\x80-][A-Za-z0-9_\-\x80-]*,
// with backslash escapes of single characters.
func (p *cssParser) ident() string {
	var b strings.Builder
	i := p.pos
	if i < len(p.s) && p.s[i] == '-' {
		b.WriteByte('-')
		i++
	}
	first := true
	for i < len(p.s) {
		c := p.s[i]
		switch {
		case c == '\\' && i+1 < len(p.s):
			b.WriteByte(p.s[i+1])
			i += 2
			first = false
			continue
		case isNameStart(c):
		case !first && (isDigit(c) || c == '-'):
		default:
			goto done
		}
		b.WriteByte(c)
		i++
		first = false
	}
done:
	if first {
		return ""
	}
	p.pos = i
	return b.String()
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (p *cssParser) parseAttr() (attrSel, error) {
	var a attrSel
	p.pos++ // [
	p.skipSpace()
	name := p.ident()
	if name == "" {
		return a, p.errf("expected attribute name")
	}
	a.name = strings.ToLower(name)
	p.skipSpace()
	if p.eof() {
		return a, p.errf("unterminated attribute selector")
	}
	if p.peek() == ']' {
		p.pos++
		return a, nil
	}

	switch c := p.peek(); c {
	case '=':
		a.op = "="
		p.pos++
	case '~', '^', '$', '*', '|':
		if p.pos+1 >= len(p.s) || p.s[p.pos+1] != '=' {
			return a, p.errf("unknown attribute operator")
		}
		a.op = string(c) + "="
		p.pos += 2
	default:
		return a, p.errf("unexpected %q", c)
	}

	p.skipSpace()
	if p.eof() {
		return a, p.errf("expected attribute value")
	}
	if c := p.peek(); c == '"' || c == '\'' {
		v, err := p.quoted()
		if err != nil {
			return a, err
		}
		a.val = v
	} else {
		start := p.pos
		for !p.eof() && p.peek() != ']' && !isSpace(p.peek()) {
			p.pos++
		}
		if p.pos == start {
			return a, p.errf("expected attribute value")
		}
		a.val = p.s[start:p.pos]
	}

	p.skipSpace()
	if !p.eof() && (p.peek() == 'i' || p.peek() == 'I' || p.peek() == 's' || p.peek() == 'S') {
		a.caseFold = p.peek() == 'i' || p.peek() == 'I'
		p.pos++
		p.skipSpace()
	}
	if p.eof() || p.peek() != ']' {
		return a, p.errf("unterminated attribute selector")
	}
	p.pos++
	return a, nil
}

func (p *cssParser) quoted() (string, error) {
	q := p.peek()
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\' && p.pos+1 < len(p.s):
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
		case c == q:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errf("unterminated string")
}

func (p *cssParser) parsePseudo() (pseudoSel, error) {
	var ps pseudoSel
	p.pos++ // :
	if !p.eof() && p.peek() == ':' {
		return ps, p.errf("pseudo-elements are not supported")
	}
	name := strings.ToLower(p.ident())
	if name == "" {
		return ps, p.errf("expected pseudo-class name")
	}
	ps.name = name

	switch name {
	case "first-child", "last-child", "only-child", "first-of-type", "last-of-type", "only-of-type":
		return ps, nil
	case "nth-child", "nth-of-type":
	default:
		return ps, &syntaxError{msg: "unsupported pseudo-class :" + name, pos: p.pos}
	}

	if p.eof() || p.peek() != '(' {
		return ps, p.errf("expected ( after :%s", name)
	}
	p.pos++
	end := strings.IndexByte(p.s[p.pos:], ')')
	if end < 0 {
		return ps, p.errf("unterminated :%s", name)
	}
	arg := strings.ToLower(strings.TrimSpace(p.s[p.pos : p.pos+end]))
	switch arg {
	case "odd":
		ps.a, ps.b = 2, 1
	case "even":
		ps.a, ps.b = 2, 0
	default:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return ps, p.errf("bad argument for :%s", name)
		}
		ps.b = n
	}
	ps.arg = arg
	p.pos += end + 1
	return ps, nil
}

// --- matcher ---

func (d *Document) matchCSS(list cssList) []*html.Node {
	var out []*html.Node
	for _, n := range d.elements() {
		for _, sel := range list {
			if sel.matchAt(n, len(sel.compounds)-1) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func (s complexSel) matchAt(n *html.Node, i int) bool {
	if !s.compounds[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch s.combinators[i-1] {
	case '>':
		parent := parentElement(n)
		return parent != nil && s.matchAt(parent, i-1)
	case '+':
		prev := prevElement(n)
		return prev != nil && s.matchAt(prev, i-1)
	case '~':
		for prev := prevElement(n); prev != nil; prev = prevElement(prev) {
			if s.matchAt(prev, i-1) {
				return true
			}
		}
		return false
	default:
		for a := parentElement(n); a != nil; a = parentElement(a) {
			if s.matchAt(a, i-1) {
				return true
			}
		}
		return false
	}
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && AttrValue(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(AttrValue(n, "class"))
		for _, want := range c.classes {
			if !containsString(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if !a.matches(n) {
			return false
		}
	}
	for _, ps := range c.pseudos {
		if !ps.matches(n) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (a attrSel) matches(n *html.Node) bool {
	got, ok := Attr(n, a.name)
	if !ok {
		return false
	}
	if a.op == "" {
		return true
	}
	want := a.val
	if a.caseFold {
		got, want = strings.ToLower(got), strings.ToLower(want)
	}
	switch a.op {
	case "=":
		return got == want
	case "~=":
		return want != "" && containsString(strings.Fields(got), want)
	case "^=":
		return want != "" && strings.HasPrefix(got, want)
	case "$=":
		return want != "" && strings.HasSuffix(got, want)
	case "*=":
		return want != "" && strings.Contains(got, want)
	case "|=":
		return got == want || strings.HasPrefix(got, want+"-")
	}
	return false
}

func (ps pseudoSel) matches(n *html.Node) bool {
	switch ps.name {
	case "first-child":
		return prevElement(n) == nil
	case "last-child":
		return nextElement(n) == nil
	case "only-child":
		return prevElement(n) == nil && nextElement(n) == nil
	case "first-of-type":
		return SiblingIndex(n) == 1
	case "last-of-type":
		return SiblingIndex(n) == sameTagCount(n)
	case "only-of-type":
		return sameTagCount(n) == 1
	case "nth-child":
		return ps.position(elementIndex(n))
	case "nth-of-type":
		return ps.position(SiblingIndex(n))
	}
	return false
}

func (ps pseudoSel) position(pos int) bool {
	if ps.a == 0 {
		return pos == ps.b
	}
	return pos >= ps.b && (pos-ps.b)%ps.a == 0
}

// --- serialisation ---

// String renders the selector list in canonical form: lowercase tags,
// double-quoted attribute values, single spaces around combinators.
func (l cssList) String() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.render(false)
	}
	return strings.Join(parts, ", ")
}

// template renders the list with every literal value dropped.
func (l cssList) template() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = s.render(true)
	}
	return strings.Join(parts, ", ")
}

func (s complexSel) render(tmpl bool) string {
	var b strings.Builder
	for i, c := range s.compounds {
		if i > 0 {
			if comb := s.combinators[i-1]; comb == ' ' {
				b.WriteByte(' ')
			} else {
				b.WriteByte(' ')
				b.WriteByte(comb)
				b.WriteByte(' ')
			}
		}
		b.WriteString(c.render(tmpl))
	}
	return b.String()
}

func (c compound) render(tmpl bool) string {
	var b strings.Builder
	switch {
	case c.tag != "*":
		b.WriteString(escapeIdent(c.tag))
	case c.id == "" && len(c.classes) == 0 && len(c.attrs) == 0 && len(c.pseudos) == 0:
		b.WriteString("*")
	}
	if c.id != "" {
		if tmpl {
			b.WriteString("#id")
		} else {
			b.WriteString("#" + escapeIdent(c.id))
		}
	}
	if tmpl {
		if len(c.classes) > 0 {
			b.WriteString(".class")
		}
	} else {
		for _, cls := range c.classes {
			b.WriteString("." + escapeIdent(cls))
		}
	}

	attrs := c.attrs
	if tmpl {
		seen := make(map[string]bool, len(attrs))
		var names []string
		for _, a := range attrs {
			if !seen[a.name] {
				seen[a.name] = true
				names = append(names, a.name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString("[" + name + "]")
		}
	} else {
		for _, a := range attrs {
			b.WriteString("[" + a.name)
			if a.op != "" {
				b.WriteString(a.op + Quote(a.val))
				if a.caseFold {
					b.WriteString(" i")
				}
			}
			b.WriteString("]")
		}
	}

	for _, ps := range c.pseudos {
		b.WriteString(":" + ps.name)
		if ps.arg != "" && !tmpl {
			b.WriteString("(" + ps.arg + ")")
		}
	}
	if b.Len() == 0 {
		return "*"
	}
	return b.String()
}

// Quote renders v as a double-quoted CSS or XPath string literal.
func Quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

// IsIdent reports whether s can be written as a bare CSS identifier.
func IsIdent(s string) bool {
	p := &cssParser{s: s}
	got := p.ident()
	return s != "" && got == s && p.pos == len(s) && !strings.Contains(s, `\`)
}

func escapeIdent(s string) string {
	if IsIdent(s) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isNameStart(c) || (i > 0 && (isDigit(c) || c == '-')) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return b.String()
}
