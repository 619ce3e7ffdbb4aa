package llmtest

import (
	"errors"
	"strings"

	"localinfer/internal/llm"
)

const (
	BOS llm.Token = 0
	EOS llm.Token = 1

	byteBase = 2
)

// words are multi-byte tokens tried before single bytes.
var words = []string{
	" the", " and", " yes", " no", "yes", "no", "hello", " world",
	"true", "false", "null", "{\"", "\":", "\",", "\"}", "  ",
}

// ByteToken returns the token for a single byte.
func ByteToken(b byte) llm.Token { return byteBase + llm.Token(b) }

type vocab struct {
	pieces []string
}

func newVocab() *vocab {
	pieces := make([]string, 0, byteBase+256+len(words))
	pieces = append(pieces, "<s>", "</s>")
	for i := 0; i < 256; i++ {
		pieces = append(pieces, string([]byte{byte(i)}))
	}
	pieces = append(pieces, words...)
	return &vocab{pieces: pieces}
}

func (v *vocab) NTokens() int { return len(v.pieces) }

// Tokenize matches the longest word at each position, falling back to bytes.
func (v *vocab) Tokenize(text string, addSpecial, parseSpecial bool) ([]llm.Token, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, errors.New("sim: text contains NUL")
	}
	var out []llm.Token
	if addSpecial {
		out = append(out, BOS)
	}
	for i := 0; i < len(text); {
		if parseSpecial {
			switch {
			case strings.HasPrefix(text[i:], "<s>"):
				out = append(out, BOS)
				i += 3
				continue
			case strings.HasPrefix(text[i:], "</s>"):
				out = append(out, EOS)
				i += 4
				continue
			}
		}
		best, bestLen := llm.Token(-1), 0
		for j, w := range words {
			if len(w) > bestLen && strings.HasPrefix(text[i:], w) {
				best, bestLen = llm.Token(byteBase+256+j), len(w)
			}
		}
		if bestLen == 0 {
			best, bestLen = ByteToken(text[i]), 1
		}
		out = append(out, best)
		i += bestLen
	}
	return out, nil
}

// TokenToPiece renders control tokens as the empty string.
func (v *vocab) TokenToPiece(t llm.Token) string {
	if t < byteBase || int(t) >= len(v.pieces) {
		return ""
	}
	return v.pieces[t]
}

func (v *vocab) IsEOG(t llm.Token) bool { return t == EOS }
