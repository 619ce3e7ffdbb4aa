package engine

import (
	"strings"

	"localinfer/internal/llm"
)

// ModelInfo is static metadata plus the attached encoder's capabilities.
type ModelInfo struct {
	llm.ModelInfo
	Vision bool
	Audio  bool
}

// Tokenize converts text to token ids. Special tokens in text are parsed.
func (s *Session) Tokenize(text string, addSpecial bool) ([]llm.Token, error) {
	const op = "tokenize"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if len(text) > MaxPromptBytes {
		return nil, errorf(KindInvalidParam, op, "text exceeds %d bytes", MaxPromptBytes)
	}
	toks, err := s.vocab.Tokenize(text, addSpecial, true)
	if err != nil {
		return nil, wrap(KindInvalidParam, op, err, "")
	}
	return toks, nil
}

// Detokenize concatenates the pieces of tokens. Control tokens render empty.
func (s *Session) Detokenize(tokens []llm.Token) (string, error) {
	const op = "detokenize"
	if err := s.checkOpen(op); err != nil {
		return "", err
	}
	if len(tokens) == 0 || len(tokens) > MaxDetokenize {
		return "", errorf(KindInvalidParam, op, "token count %d out of range [1, %d]", len(tokens), MaxDetokenize)
	}
	n := s.vocab.NTokens()
	var b strings.Builder
	for i, t := range tokens {
		if t < 0 || int(t) >= n {
			return "", errorf(KindInvalidParam, op, "token %d at %d outside vocabulary of %d", t, i, n)
		}
		b.WriteString(s.vocab.TokenToPiece(t))
	}
	return b.String(), nil
}

// Logits returns a copy of the logits of the last decoded position, or nil
// before anything was decoded.
func (s *Session) Logits() ([]float32, error) {
	if err := s.checkOpen("logits"); err != nil {
		return nil, err
	}
	l := s.ctx.Logits()
	if len(l) == 0 {
		return nil, nil
	}
	return append([]float32(nil), l...), nil
}

// ModelInfo describes the loaded model.
func (s *Session) ModelInfo() (ModelInfo, error) {
	if err := s.checkOpen("model info"); err != nil {
		return ModelInfo{}, err
	}
	info := ModelInfo{ModelInfo: s.model.Info()}
	info.Vision, info.Audio = s.Multimodal()
	return info, nil
}

// Embeddings returns the pooled embedding of text. Sequence state is
// cleared, so a following generation starts fresh either way.
func (s *Session) Embeddings(text string) ([]float32, error) {
	const op = "embeddings"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, errorf(KindInvalidParam, op, "text is empty")
	}
	if len(text) > MaxPromptBytes {
		return nil, errorf(KindInvalidParam, op, "text exceeds %d bytes", MaxPromptBytes)
	}
	toks, err := s.vocab.Tokenize(text, true, true)
	if err != nil {
		return nil, wrap(KindInvalidParam, op, err, "tokenize")
	}
	if len(toks) > s.params.ContextSize {
		return nil, errorf(KindInvalidParam, op, "text is %d tokens, context holds %d", len(toks), s.params.ContextSize)
	}
	v, err := s.ctx.Embed(toks)
	if err != nil {
		return nil, wrap(KindUnknown, op, err, "")
	}
	return v, nil
}
