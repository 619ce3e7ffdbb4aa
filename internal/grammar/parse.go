// Package grammar parses GBNF grammars and evaluates them as pushdown
// automata over runes and vocabulary pieces.
//
// The accepted syntax follows llama.cpp's GBNF: rules `name ::= alts`,
// alternatives with `|`, string literals, character classes with ranges and
// negation, `.`, grouping, and the repetition operators `*`, `+`, `?`,
// `{m}`, `{m,}` and `{m,n}`. Comments start with `#`.
package grammar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type elemKind uint8

const (
	elemChar elemKind = iota
	elemRef
)

type charRange struct{ lo, hi rune }

type element struct {
	kind   elemKind
	ranges []charRange
	negate bool
	ref    int
}

func (e element) matches(r rune) bool {
	in := false
	for _, cr := range e.ranges {
		if r >= cr.lo && r <= cr.hi {
			in = true
			break
		}
	}
	return in != e.negate
}

// overlaps reports whether any rune in [lo, hi] could match.
func (e element) overlaps(lo, hi rune) bool {
	if e.negate {
		// a negated class only fails when it covers the whole interval
		for _, cr := range e.ranges {
			if cr.lo <= lo && cr.hi >= hi {
				return false
			}
		}
		return true
	}
	for _, cr := range e.ranges {
		if cr.lo <= hi && cr.hi >= lo {
			return true
		}
	}
	return false
}

type rule struct {
	name string
	alts [][]element
}

// Grammar is a parsed, immutable grammar.
type Grammar struct {
	rules []rule
	index map[string]int
	root  int
}

// ErrSyntax wraps every parse failure.
var ErrSyntax = errors.New("grammar: syntax error")

// Parse parses src and resolves root as the start rule.
func Parse(src, root string) (*Grammar, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty grammar", ErrSyntax)
	}
	if root == "" {
		root = "root"
	}
	p := &parser{src: src, index: map[string]int{}, defined: map[int]bool{}}
	if err := p.parse(); err != nil {
		return nil, err
	}
	for id, r := range p.rules {
		if !p.defined[id] {
			return nil, fmt.Errorf("%w: undefined rule %q", ErrSyntax, r.name)
		}
	}
	rootID, ok := p.index[root]
	if !ok {
		return nil, fmt.Errorf("%w: root rule %q not defined", ErrSyntax, root)
	}
	g := &Grammar{rules: p.rules, index: p.index, root: rootID}
	if name, ok := g.leftRecursive(); ok {
		return nil, fmt.Errorf("%w: rule %q is left recursive", ErrSyntax, name)
	}
	return g, nil
}

// Rules returns the rule names in definition order, including generated ones.
func (g *Grammar) Rules() []string {
	out := make([]string, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.name
	}
	return out
}

type parser struct {
	src     string
	pos     int
	rules   []rule
	index   map[string]int
	defined map[int]bool
}

func (p *parser) errorf(format string, args ...any) error {
	line := 1 + strings.Count(p.src[:min(p.pos, len(p.src))], "\n")
	return fmt.Errorf("%w at line %d: %s", ErrSyntax, line, fmt.Sprintf(format, args...))
}

func (p *parser) ruleID(name string) int {
	if id, ok := p.index[name]; ok {
		return id
	}
	id := len(p.rules)
	p.rules = append(p.rules, rule{name: name})
	p.index[name] = id
	return id
}

func (p *parser) generatedID(base string) int {
	for n := len(p.rules); ; n++ {
		name := fmt.Sprintf("%s-%d", base, n)
		if _, ok := p.index[name]; !ok {
			id := p.ruleID(name)
			p.defined[id] = true
			return id
		}
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

// skipSpace skips blanks and comments; newlines only when newlineOK.
func (p *parser) skipSpace(newlineOK bool) {
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t':
			p.pos++
		case c == '\r' || c == '\n':
			if !newlineOK {
				return
			}
			p.pos++
		case c == '#':
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func isWordChar(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *parser) name() string {
	start := p.pos
	for !p.eof() && isWordChar(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) parse() error {
	p.skipSpace(true)
	for !p.eof() {
		name := p.name()
		if name == "" {
			return p.errorf("expected rule name, got %q", p.peek())
		}
		p.skipSpace(false)
		if !strings.HasPrefix(p.src[p.pos:], "::=") {
			return p.errorf("expected ::= after %q", name)
		}
		p.pos += 3
		p.skipSpace(true)
		id := p.ruleID(name)
		if p.defined[id] {
			return p.errorf("rule %q defined twice", name)
		}
		p.defined[id] = true
		alts, err := p.alternatives(name, false)
		if err != nil {
			return err
		}
		p.rules[id].alts = alts
		p.skipSpace(true)
	}
	return nil
}

func (p *parser) alternatives(name string, nested bool) ([][]element, error) {
	var alts [][]element
	for {
		seq, err := p.sequence(name, nested)
		if err != nil {
			return nil, err
		}
		alts = append(alts, seq)
		if !nested {
			// allow a leading `|` on the following line
			save := p.pos
			p.skipSpace(true)
			if p.peek() != '|' {
				p.pos = save
			}
		}
		if p.peek() != '|' {
			return alts, nil
		}
		p.pos++
		p.skipSpace(true)
	}
}

func (p *parser) sequence(name string, nested bool) ([]element, error) {
	var seq []element
	lastSym := -1
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '"':
			p.pos++
			lastSym = len(seq)
			for {
				if p.eof() {
					return nil, p.errorf("unterminated string")
				}
				if p.peek() == '"' {
					p.pos++
					break
				}
				r, err := p.char()
				if err != nil {
					return nil, err
				}
				seq = append(seq, element{kind: elemChar, ranges: []charRange{{r, r}}})
			}
		case c == '[':
			p.pos++
			lastSym = len(seq)
			el, err := p.class()
			if err != nil {
				return nil, err
			}
			seq = append(seq, el)
		case c == '.':
			p.pos++
			lastSym = len(seq)
			seq = append(seq, element{kind: elemChar, negate: true})
		case c == '(':
			p.pos++
			p.skipSpace(true)
			id := p.generatedID(name)
			alts, err := p.alternatives(name, true)
			if err != nil {
				return nil, err
			}
			p.rules[id].alts = alts
			p.skipSpace(true)
			if p.peek() != ')' {
				return nil, p.errorf("expected )")
			}
			p.pos++
			lastSym = len(seq)
			seq = append(seq, element{kind: elemRef, ref: id})
		case isWordChar(c):
			// a name followed by ::= starts the next rule
			save := p.pos
			ref := p.name()
			p.skipSpace(false)
			if strings.HasPrefix(p.src[p.pos:], "::=") {
				p.pos = save
				return seq, nil
			}
			p.pos = save + len(ref)
			lastSym = len(seq)
			seq = append(seq, element{kind: elemRef, ref: p.ruleID(ref)})
		case c == '*' || c == '+' || c == '?' || c == '{':
			if lastSym < 0 {
				return nil, p.errorf("repetition without a preceding symbol")
			}
			lo, hi, err := p.repetition()
			if err != nil {
				return nil, err
			}
			seq = p.repeat(name, seq, lastSym, lo, hi)
			lastSym = -1
		default:
			return seq, nil
		}
		p.skipSpace(nested)
	}
	return seq, nil
}

// repetition parses a postfix operator. hi < 0 means unbounded.
func (p *parser) repetition() (int, int, error) {
	switch p.peek() {
	case '*':
		p.pos++
		return 0, -1, nil
	case '+':
		p.pos++
		return 1, -1, nil
	case '?':
		p.pos++
		return 0, 1, nil
	}
	p.pos++ // {
	p.skipSpace(false)
	lo, ok := p.int()
	if !ok {
		return 0, 0, p.errorf("expected number in {}")
	}
	p.skipSpace(false)
	hi := lo
	if p.peek() == ',' {
		p.pos++
		p.skipSpace(false)
		if n, ok := p.int(); ok {
			hi = n
		} else {
			hi = -1
		}
		p.skipSpace(false)
	}
	if p.peek() != '}' {
		return 0, 0, p.errorf("expected }")
	}
	p.pos++
	if hi >= 0 && hi < lo {
		return 0, 0, p.errorf("invalid repetition {%d,%d}", lo, hi)
	}
	return lo, hi, nil
}

func (p *parser) int() (int, bool) {
	start := p.pos
	for !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, false
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	return n, err == nil
}

// repeat rewrites seq[from:] into lo mandatory copies followed by either a
// tail-recursive rule (unbounded) or a chain of optional copies.
func (p *parser) repeat(name string, seq []element, from, lo, hi int) []element {
	sym := append([]element(nil), seq[from:]...)
	seq = seq[:from]
	var item element
	if len(sym) == 1 {
		item = sym[0]
	} else {
		id := p.generatedID(name)
		p.rules[id].alts = [][]element{sym}
		item = element{kind: elemRef, ref: id}
	}
	for i := 0; i < lo; i++ {
		seq = append(seq, item)
	}
	if hi < 0 {
		id := p.generatedID(name)
		p.rules[id].alts = [][]element{{item, {kind: elemRef, ref: id}}, {}}
		return append(seq, element{kind: elemRef, ref: id})
	}
	// opt_k ::= item opt_{k-1} | ε, built innermost first
	next := -1
	for i := 0; i < hi-lo; i++ {
		id := p.generatedID(name)
		alt := []element{item}
		if next >= 0 {
			alt = append(alt, element{kind: elemRef, ref: next})
		}
		p.rules[id].alts = [][]element{alt, {}}
		next = id
	}
	if next >= 0 {
		seq = append(seq, element{kind: elemRef, ref: next})
	}
	return seq
}

func (p *parser) class() (element, error) {
	el := element{kind: elemChar}
	if p.peek() == '^' {
		el.negate = true
		p.pos++
	}
	for {
		if p.eof() {
			return el, p.errorf("unterminated character class")
		}
		if p.peek() == ']' {
			p.pos++
			return el, nil
		}
		lo, err := p.char()
		if err != nil {
			return el, err
		}
		hi := lo
		if p.peek() == '-' && p.pos+1 < len(p.src) && p.src[p.pos+1] != ']' {
			p.pos++
			if hi, err = p.char(); err != nil {
				return el, err
			}
		}
		el.ranges = append(el.ranges, charRange{lo, hi})
	}
}

// char decodes one possibly escaped character.
func (p *parser) char() (rune, error) {
	if p.peek() != '\\' {
		r, n := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == utf8.RuneError && n <= 1 {
			return 0, p.errorf("invalid UTF-8")
		}
		p.pos += n
		return r, nil
	}
	p.pos++
	if p.eof() {
		return 0, p.errorf("dangling escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case '0':
		return 0, nil
	case 'x':
		return p.hex(2)
	case 'u':
		return p.hex(4)
	case 'U':
		return p.hex(8)
	case '\\', '"', '[', ']', '-', '/', '^', '\'':
		return rune(c), nil
	default:
		return 0, p.errorf("unknown escape \\%c", c)
	}
}

func (p *parser) hex(n int) (rune, error) {
	if p.pos+n > len(p.src) {
		return 0, p.errorf("short hex escape")
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
	if err != nil {
		return 0, p.errorf("bad hex escape %q", p.src[p.pos:p.pos+n])
	}
	p.pos += n
	return rune(v), nil
}

// nullable computes which rules can match the empty string.
func (g *Grammar) nullable() []bool {
	null := make([]bool, len(g.rules))
	for changed := true; changed; {
		changed = false
		for id, r := range g.rules {
			if null[id] {
				continue
			}
			for _, alt := range r.alts {
				ok := true
				for _, el := range alt {
					if el.kind == elemChar || !null[el.ref] {
						ok = false
						break
					}
				}
				if ok {
					null[id] = true
					changed = true
					break
				}
			}
		}
	}
	return null
}

// leftRecursive reports a rule reachable from itself without consuming input.
func (g *Grammar) leftRecursive() (string, bool) {
	null := g.nullable()
	first := make([][]int, len(g.rules))
	for id, r := range g.rules {
		for _, alt := range r.alts {
			for _, el := range alt {
				if el.kind == elemChar {
					break
				}
				first[id] = append(first[id], el.ref)
				if !null[el.ref] {
					break
				}
			}
		}
	}
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(g.rules))
	var visit func(int) bool
	visit = func(id int) bool {
		state[id] = active
		for _, next := range first[id] {
			if state[next] == active {
				return true
			}
			if state[next] == unvisited && visit(next) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for id := range g.rules {
		if state[id] == unvisited && visit(id) {
			return g.rules[id].name, true
		}
	}
	return "", false
}
