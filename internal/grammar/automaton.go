package grammar

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// pos points at the next element to match inside one alternative.
type pos struct {
	rule, alt, idx int
}

// stack is a parse stack; the last entry is the element to match next.
// An empty stack means the grammar has been fully matched.
type stack []pos

const maxStackDepth = 512

func (s stack) key() string {
	var b strings.Builder
	for _, p := range s {
		b.WriteString(strconv.Itoa(p.rule))
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(p.alt))
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(p.idx))
		b.WriteByte('/')
	}
	return b.String()
}

func (g *Grammar) elem(p pos) (element, bool) {
	alt := g.rules[p.rule].alts[p.alt]
	if p.idx >= len(alt) {
		return element{}, false
	}
	return alt[p.idx], true
}

// startStacks returns the terminal-ready stacks for the root rule.
func (g *Grammar) startStacks() []stack {
	var out []stack
	seen := map[string]bool{}
	for i := range g.rules[g.root].alts {
		g.advance(stack{{rule: g.root, alt: i}}, &out, seen)
	}
	return out
}

// advance expands rule references at the top of st until every resulting
// stack is either empty or has a character element on top.
func (g *Grammar) advance(st stack, out *[]stack, seen map[string]bool) {
	if len(st) > maxStackDepth {
		return
	}
	k := st.key()
	if seen[k] {
		return
	}
	seen[k] = true
	if len(st) == 0 {
		*out = append(*out, st)
		return
	}
	top := st[len(st)-1]
	el, ok := g.elem(top)
	if !ok {
		g.advance(st[:len(st)-1:len(st)-1], out, seen)
		return
	}
	if el.kind == elemChar {
		*out = append(*out, st)
		return
	}
	base := make(stack, len(st)-1, len(st)+1)
	copy(base, st[:len(st)-1])
	if _, more := g.elem(pos{top.rule, top.alt, top.idx + 1}); more {
		base = append(base, pos{top.rule, top.alt, top.idx + 1})
	}
	for i := range g.rules[el.ref].alts {
		next := make(stack, len(base), len(base)+1)
		copy(next, base)
		g.advance(append(next, pos{rule: el.ref, alt: i}), out, seen)
	}
}

// acceptRune advances every stack whose top element matches r.
func (g *Grammar) acceptRune(stacks []stack, r rune) []stack {
	var out []stack
	seen := map[string]bool{}
	for _, st := range stacks {
		if len(st) == 0 {
			continue
		}
		top := st[len(st)-1]
		el, _ := g.elem(top)
		if !el.matches(r) {
			continue
		}
		next := make(stack, len(st)-1, len(st))
		copy(next, st[:len(st)-1])
		if _, more := g.elem(pos{top.rule, top.alt, top.idx + 1}); more {
			next = append(next, pos{top.rule, top.alt, top.idx + 1})
		}
		g.advance(next, &out, seen)
	}
	return out
}

func complete(stacks []stack) bool {
	for _, st := range stacks {
		if len(st) == 0 {
			return true
		}
	}
	return false
}

// partialOK reports whether an incomplete UTF-8 sequence could still be
// completed into a rune some stack accepts.
func (g *Grammar) partialOK(stacks []stack, partial []byte) bool {
	lo, hi, ok := partialRange(partial)
	if !ok {
		return false
	}
	for _, st := range stacks {
		if len(st) == 0 {
			continue
		}
		el, _ := g.elem(st[len(st)-1])
		if el.overlaps(lo, hi) {
			return true
		}
	}
	return false
}

// partialRange returns the smallest and largest runes that start with the
// incomplete sequence b.
func partialRange(b []byte) (rune, rune, bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	n := seqLen(b[0])
	if n <= len(b) {
		return 0, 0, false
	}
	lo := append(append([]byte(nil), b...), make([]byte, n-len(b))...)
	hi := append(append([]byte(nil), b...), make([]byte, n-len(b))...)
	for i := len(b); i < n; i++ {
		lo[i], hi[i] = 0x80, 0xBF
	}
	rlo, _ := utf8.DecodeRune(lo)
	rhi, _ := utf8.DecodeRune(hi)
	if rlo == utf8.RuneError || rhi == utf8.RuneError {
		// overlong or surrogate bounds: fall back to the whole plane of the lead byte
		switch n {
		case 2:
			return 0x80, 0x7FF, true
		case 3:
			return 0x800, 0xFFFF, true
		default:
			return 0x10000, utf8.MaxRune, true
		}
	}
	return rlo, rhi, true
}

func seqLen(lead byte) int {
	switch {
	case lead < 0x80:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// decodeRunes decodes b into complete runes and returns the trailing
// incomplete sequence. ok is false on invalid UTF-8.
func decodeRunes(b []byte) (runes []rune, partial []byte, ok bool) {
	for len(b) > 0 {
		if !utf8.FullRune(b) {
			if seqLen(b[0]) == 0 {
				return nil, nil, false
			}
			return runes, b, true
		}
		r, n := utf8.DecodeRune(b)
		if r == utf8.RuneError && n <= 1 {
			return nil, nil, false
		}
		runes = append(runes, r)
		b = b[n:]
	}
	return runes, nil, true
}

// Matches reports whether s is a complete sentence of the grammar.
func (g *Grammar) Matches(s string) bool {
	stacks := g.startStacks()
	for _, r := range s {
		stacks = g.acceptRune(stacks, r)
		if len(stacks) == 0 {
			return false
		}
	}
	return complete(stacks)
}

// MatchesPrefix reports whether s can be extended into a sentence.
func (g *Grammar) MatchesPrefix(s string) bool {
	stacks := g.startStacks()
	for _, r := range s {
		stacks = g.acceptRune(stacks, r)
		if len(stacks) == 0 {
			return false
		}
	}
	return true
}
