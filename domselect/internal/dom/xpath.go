package dom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// xpathExpr is a location path. Relative paths start at the document node.
type xpathExpr struct {
	steps []xstep
}

type xstep struct {
	deep  bool // preceded by //
	axis  string
	test  string // element name, "*" or "node()"
	preds []xexpr
}

// --- tokenizer ---

type xtoken struct {
	kind byte // 'n' name, 's' string, 'd' number, 'o' operator/punct
	text string
	pos  int
}

func tokenizeXPath(s string) ([]xtoken, error) {
	var out []xtoken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '/':
			if i+1 < len(s) && s[i+1] == '/' {
				out = append(out, xtoken{'o', "//", i})
				i += 2
			} else {
				out = append(out, xtoken{'o', "/", i})
				i++
			}
		case c == '.':
			if i+1 < len(s) && s[i+1] == '.' {
				out = append(out, xtoken{'o', "..", i})
				i += 2
			} else {
				out = append(out, xtoken{'o', ".", i})
				i++
			}
		case c == ':':
			if i+1 < len(s) && s[i+1] == ':' {
				out = append(out, xtoken{'o', "::", i})
				i += 2
				continue
			}
			return nil, &syntaxError{msg: "unexpected ':'", pos: i}
		case c == '!':
			if i+1 < len(s) && s[i+1] == '=' {
				out = append(out, xtoken{'o', "!=", i})
				i += 2
				continue
			}
			return nil, &syntaxError{msg: "unexpected '!'", pos: i}
		case c == '<' || c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				out = append(out, xtoken{'o', s[i : i+2], i})
				i += 2
			} else {
				out = append(out, xtoken{'o', string(c), i})
				i++
			}
		case strings.IndexByte("[]()@,=*|", c) >= 0:
			out = append(out, xtoken{'o', string(c), i})
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, &syntaxError{msg: "unterminated string", pos: i}
			}
			out = append(out, xtoken{'s', s[i+1 : i+1+end], i})
			i += end + 2
		case isDigit(c):
			j := i
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			out = append(out, xtoken{'d', s[i:j], i})
			i = j
		case isNameStart(c):
			j := i
			for j < len(s) && (isNameStart(s[j]) || isDigit(s[j]) || s[j] == '-') {
				j++
			}
			out = append(out, xtoken{'n', s[i:j], i})
			i = j
		default:
			return nil, &syntaxError{msg: fmt.Sprintf("unexpected %q", c), pos: i}
		}
	}
	return out, nil
}

// isXPathName reports whether s tokenizes as a single XPath name.
func isXPathName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if c := s[i]; !isNameStart(c) && !isDigit(c) && c != '-' {
			return false
		}
	}
	return true
}

// --- parser ---

type xparser struct {
	toks []xtoken
	i    int
	end  int
}

func parseXPath(s string) (xpathExpr, error) {
	var expr xpathExpr
	toks, err := tokenizeXPath(s)
	if err != nil {
		return expr, err
	}
	if len(toks) == 0 {
		return expr, &syntaxError{msg: "empty expression", pos: 0}
	}
	p := &xparser{toks: toks, end: len(s)}
	expr, err = p.path()
	if err != nil {
		return expr, err
	}
	if !p.done() {
		return expr, p.errf("unexpected %q", p.cur().text)
	}
	return expr, nil
}

func (p *xparser) done() bool  { return p.i >= len(p.toks) }
func (p *xparser) cur() xtoken { return p.toks[p.i] }
func (p *xparser) is(op string) bool {
	return !p.done() && p.cur().kind == 'o' && p.cur().text == op
}

func (p *xparser) errf(format string, args ...any) error {
	pos := p.end
	if !p.done() {
		pos = p.cur().pos
	}
	return &syntaxError{msg: fmt.Sprintf(format, args...), pos: pos}
}

func (p *xparser) expect(op string) error {
	if !p.is(op) {
		return p.errf("expected %q", op)
	}
	p.i++
	return nil
}

func (p *xparser) path() (xpathExpr, error) {
	var expr xpathExpr
	deep := false
	switch {
	case p.is("/"):
		p.i++
		if p.done() {
			// "/" alone selects the document node, which has no element.
			return expr, nil
		}
	case p.is("//"):
		p.i++
		deep = true
	}
	for {
		st, err := p.step()
		if err != nil {
			return expr, err
		}
		st.deep = deep
		expr.steps = append(expr.steps, st)
		switch {
		case p.is("/"):
			p.i++
			deep = false
		case p.is("//"):
			p.i++
			deep = true
		default:
			return expr, nil
		}
	}
}

var xaxes = map[string]bool{
	"child": true, "descendant": true, "descendant-or-self": true, "self": true,
	"parent": true, "ancestor": true, "following-sibling": true, "preceding-sibling": true,
}

func (p *xparser) step() (xstep, error) {
	st := xstep{axis: "child"}
	if p.done() {
		return st, p.errf("expected step")
	}
	switch {
	case p.is("."):
		p.i++
		st.axis, st.test = "self", "node()"
		return st, nil
	case p.is(".."):
		p.i++
		st.axis, st.test = "parent", "node()"
		return st, nil
	}

	if p.cur().kind == 'n' && p.i+1 < len(p.toks) && p.toks[p.i+1].text == "::" {
		axis := p.cur().text
		if !xaxes[axis] {
			return st, p.errf("unsupported axis %s", axis)
		}
		st.axis = axis
		p.i += 2
	}

	switch {
	case p.is("*"):
		st.test = "*"
		p.i++
	case !p.done() && p.cur().kind == 'n':
		name := p.cur().text
		p.i++
		if p.is("(") {
			if name != "node" {
				return st, p.errf("%s() steps are not supported", name)
			}
			p.i++
			if err := p.expect(")"); err != nil {
				return st, err
			}
			st.test = "node()"
		} else {
			st.test = strings.ToLower(name)
		}
	default:
		return st, p.errf("expected node test")
	}

	for p.is("[") {
		p.i++
		e, err := p.orExpr()
		if err != nil {
			return st, err
		}
		if err := p.expect("]"); err != nil {
			return st, err
		}
		st.preds = append(st.preds, e)
	}
	return st, nil
}

func (p *xparser) keyword(w string) bool {
	return !p.done() && p.cur().kind == 'n' && p.cur().text == w
}

func (p *xparser) orExpr() (xexpr, error) {
	l, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		p.i++
		r, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		l = xbinary{op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *xparser) andExpr() (xexpr, error) {
	l, err := p.cmpExpr()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		p.i++
		r, err := p.cmpExpr()
		if err != nil {
			return nil, err
		}
		l = xbinary{op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *xparser) cmpExpr() (xexpr, error) {
	l, err := p.primary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"=", "!=", "<", "<=", ">", ">="} {
		if p.is(op) {
			p.i++
			r, err := p.primary()
			if err != nil {
				return nil, err
			}
			return xbinary{op: op, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *xparser) primary() (xexpr, error) {
	if p.done() {
		return nil, p.errf("unexpected end of expression")
	}
	t := p.cur()
	switch {
	case t.kind == 's':
		p.i++
		return xliteral{xval{kind: 's', s: t.text}}, nil
	case t.kind == 'd':
		p.i++
		n, _ := strconv.Atoi(t.text)
		return xliteral{xval{kind: 'n', n: float64(n)}}, nil
	case p.is("@"):
		p.i++
		if p.done() || p.cur().kind != 'n' {
			return nil, p.errf("expected attribute name")
		}
		name := strings.ToLower(p.cur().text)
		p.i++
		return xattr{name}, nil
	case p.is("."):
		p.i++
		return xself{}, nil
	case p.is("("):
		p.i++
		e, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case t.kind == 'n':
		p.i++
		if !p.is("(") {
			return nil, &syntaxError{msg: "relative paths inside predicates are not supported", pos: t.pos}
		}
		p.i++
		var args []xexpr
		for !p.is(")") {
			if len(args) > 0 {
				if err := p.expect(","); err != nil {
					return nil, err
				}
			}
			a, err := p.orExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		p.i++
		return newCall(t, args)
	}
	return nil, p.errf("unexpected %q", t.text)
}

var xfuncArity = map[string][2]int{
	"text":            {0, 0},
	"position":        {0, 0},
	"last":            {0, 0},
	"name":            {0, 0},
	"normalize-space": {0, 1},
	"string-length":   {0, 1},
	"contains":        {2, 2},
	"starts-with":     {2, 2},
	"not":             {1, 1},
	"concat":          {2, 16},
}

func newCall(t xtoken, args []xexpr) (xexpr, error) {
	ar, ok := xfuncArity[t.text]
	if !ok {
		return nil, &syntaxError{msg: "unsupported function " + t.text + "()", pos: t.pos}
	}
	if len(args) < ar[0] || len(args) > ar[1] {
		return nil, &syntaxError{msg: "wrong number of arguments to " + t.text + "()", pos: t.pos}
	}
	return xcall{name: t.text, args: args}, nil
}

// --- values and predicate expressions ---

type xval struct {
	kind byte // 'b' boolean, 'n' number, 's' string, 'x' string set
	b    bool
	n    float64
	s    string
	set  []string
}

func (v xval) boolean() bool {
	switch v.kind {
	case 'b':
		return v.b
	case 'n':
		return v.n != 0
	case 's':
		return v.s != ""
	}
	return len(v.set) > 0
}

func (v xval) str() string {
	switch v.kind {
	case 'b':
		if v.b {
			return "true"
		}
		return "false"
	case 'n':
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case 's':
		return v.s
	}
	if len(v.set) > 0 {
		return v.set[0]
	}
	return ""
}

func (v xval) num() float64 {
	if v.kind == 'n' {
		return v.n
	}
	if v.kind == 'b' {
		if v.b {
			return 1
		}
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.str()), 64)
	if err != nil {
		return -1
	}
	return f
}

type xctx struct {
	node      *html.Node
	pos, size int
}

type xexpr interface {
	eval(c xctx) xval
}

type xliteral struct{ v xval }

func (e xliteral) eval(xctx) xval { return e.v }

type xattr struct{ name string }

func (e xattr) eval(c xctx) xval {
	if v, ok := Attr(c.node, e.name); ok {
		return xval{kind: 'x', set: []string{v}}
	}
	return xval{kind: 'x'}
}

type xself struct{}

func (xself) eval(c xctx) xval { return xval{kind: 's', s: Text(c.node)} }

type xcall struct {
	name string
	args []xexpr
}

func (e xcall) eval(c xctx) xval {
	arg := func(i int) xval {
		if i < len(e.args) {
			return e.args[i].eval(c)
		}
		return xself{}.eval(c)
	}
	switch e.name {
	case "text":
		return xval{kind: 'x', set: OwnText(c.node)}
	case "position":
		return xval{kind: 'n', n: float64(c.pos)}
	case "last":
		return xval{kind: 'n', n: float64(c.size)}
	case "name":
		if c.node != nil && c.node.Type == html.ElementNode {
			return xval{kind: 's', s: c.node.Data}
		}
		return xval{kind: 's'}
	case "normalize-space":
		return xval{kind: 's', s: NormalizeSpace(arg(0).str())}
	case "string-length":
		return xval{kind: 'n', n: float64(len([]rune(arg(0).str())))}
	case "contains", "starts-with":
		hay, needle := arg(0), arg(1).str()
		test := strings.Contains
		if e.name == "starts-with" {
			test = strings.HasPrefix
		}
		if hay.kind == 'x' {
			for _, s := range hay.set {
				if test(s, needle) {
					return xval{kind: 'b', b: true}
				}
			}
			return xval{kind: 'b'}
		}
		return xval{kind: 'b', b: test(hay.str(), needle)}
	case "not":
		return xval{kind: 'b', b: !arg(0).boolean()}
	case "concat":
		var b strings.Builder
		for i := range e.args {
			b.WriteString(arg(i).str())
		}
		return xval{kind: 's', s: b.String()}
	}
	return xval{kind: 'b'}
}

type xbinary struct {
	op   string
	l, r xexpr
}

func (e xbinary) eval(c xctx) xval {
	switch e.op {
	case "and":
		return xval{kind: 'b', b: e.l.eval(c).boolean() && e.r.eval(c).boolean()}
	case "or":
		return xval{kind: 'b', b: e.l.eval(c).boolean() || e.r.eval(c).boolean()}
	}
	return xval{kind: 'b', b: compare(e.op, e.l.eval(c), e.r.eval(c))}
}

// compare follows XPath 1.0: a set compares true when any member does.
func compare(op string, l, r xval) bool {
	if l.kind == 'x' {
		for _, s := range l.set {
			if compare(op, xval{kind: 's', s: s}, r) {
				return true
			}
		}
		return false
	}
	if r.kind == 'x' {
		for _, s := range r.set {
			if compare(op, l, xval{kind: 's', s: s}) {
				return true
			}
		}
		return false
	}
	switch op {
	case "=", "!=":
		var eq bool
		switch {
		case l.kind == 'b' || r.kind == 'b':
			eq = l.boolean() == r.boolean()
		case l.kind == 'n' || r.kind == 'n':
			eq = l.num() == r.num()
		default:
			eq = l.str() == r.str()
		}
		return eq == (op == "=")
	case "<":
		return l.num() < r.num()
	case "<=":
		return l.num() <= r.num()
	case ">":
		return l.num() > r.num()
	case ">=":
		return l.num() >= r.num()
	}
	return false
}

// --- evaluation ---

func (d *Document) evalXPath(expr xpathExpr) []*html.Node {
	ctx := []*html.Node{d.root}
	for _, st := range expr.steps {
		if st.deep {
			ctx = d.dedup(descendantsOrSelf(ctx))
		}
		var next []*html.Node
		for _, n := range ctx {
			cands := axisNodes(n, st.axis)
			kept := cands[:0]
			for _, c := range cands {
				if nodeTest(c, st.test) {
					kept = append(kept, c)
				}
			}
			for _, pred := range st.preds {
				kept = filterPredicate(kept, pred)
			}
			next = append(next, kept...)
		}
		ctx = d.dedup(next)
	}
	out := ctx[:0]
	for _, n := range ctx {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func filterPredicate(nodes []*html.Node, pred xexpr) []*html.Node {
	var out []*html.Node
	for i, n := range nodes {
		v := pred.eval(xctx{node: n, pos: i + 1, size: len(nodes)})
		keep := v.boolean()
		if v.kind == 'n' {
			keep = v.n == float64(i+1)
		}
		if keep {
			out = append(out, n)
		}
	}
	return out
}

func nodeTest(n *html.Node, test string) bool {
	switch test {
	case "node()":
		return n.Type == html.ElementNode || n.Type == html.DocumentNode
	case "*":
		return n.Type == html.ElementNode
	}
	return n.Type == html.ElementNode && n.Data == test
}

// axisNodes lists the nodes on axis from n in proximity order.
func axisNodes(n *html.Node, axis string) []*html.Node {
	var out []*html.Node
	switch axis {
	case "self":
		out = append(out, n)
	case "parent":
		if n.Parent != nil {
			out = append(out, n.Parent)
		}
	case "ancestor":
		for p := n.Parent; p != nil; p = p.Parent {
			out = append(out, p)
		}
	case "following-sibling":
		for s := n.NextSibling; s != nil; s = s.NextSibling {
			out = append(out, s)
		}
	case "preceding-sibling":
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			out = append(out, s)
		}
	case "descendant", "descendant-or-self":
		if axis == "descendant-or-self" {
			out = append(out, n)
		}
		var walk func(*html.Node)
		walk = func(p *html.Node) {
			for c := p.FirstChild; c != nil; c = c.NextSibling {
				out = append(out, c)
				walk(c)
			}
		}
		walk(n)
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out = append(out, c)
		}
	}
	return out
}

func descendantsOrSelf(ctx []*html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range ctx {
		for _, c := range axisNodes(n, "descendant-or-self") {
			if c.Type == html.ElementNode || c.Type == html.DocumentNode {
				out = append(out, c)
			}
		}
	}
	return out
}

// dedup removes duplicates and restores document order.
func (d *Document) dedup(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]bool, len(nodes))
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return d.order[out[i]] < d.order[out[j]] })
	return out
}

// --- serialisation ---

// String renders the path in canonical abbreviated form.
func (e xpathExpr) String() string { return e.render(false) }

func (e xpathExpr) template() string { return e.render(true) }

func (e xpathExpr) render(tmpl bool) string {
	if len(e.steps) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, st := range e.steps {
		// Relative input is rooted at the document node, so every path
		// renders as absolute.
		if st.deep {
			b.WriteString("//")
		} else {
			b.WriteString("/")
		}
		b.WriteString(st.render(tmpl))
	}
	return b.String()
}

func (st xstep) render(tmpl bool) string {
	var b strings.Builder
	switch {
	case st.axis == "self" && st.test == "node()" && len(st.preds) == 0:
		return "."
	case st.axis == "parent" && st.test == "node()" && len(st.preds) == 0:
		return ".."
	case st.axis != "child":
		b.WriteString(st.axis + "::")
	}
	b.WriteString(st.test)
	for _, p := range st.preds {
		b.WriteString("[" + renderExpr(p, tmpl) + "]")
	}
	return b.String()
}

func renderExpr(e xexpr, tmpl bool) string {
	switch x := e.(type) {
	case xliteral:
		if x.v.kind == 'n' {
			if tmpl {
				return "n"
			}
			return x.v.str()
		}
		if tmpl {
			return "v"
		}
		return xquote(x.v.s)
	case xattr:
		return "@" + x.name
	case xself:
		return "."
	case xcall:
		args := make([]string, len(x.args))
		for i, a := range x.args {
			args[i] = renderExpr(a, tmpl)
		}
		if tmpl && (x.name == "contains" || x.name == "starts-with") && len(args) == 2 {
			return x.name + "(" + args[0] + ")"
		}
		return x.name + "(" + strings.Join(args, ", ") + ")"
	case xbinary:
		l, r := renderExpr(x.l, tmpl), renderExpr(x.r, tmpl)
		if tmpl && (x.op == "=" || x.op == "!=") {
			if _, lit := x.r.(xliteral); lit {
				return l
			}
		}
		return l + " " + x.op + " " + r
	}
	return ""
}

// xquote picks a quote character the literal does not contain; a literal
// holding both is rendered with concat().
func xquote(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(parts, `, '"', `) + ")"
}
