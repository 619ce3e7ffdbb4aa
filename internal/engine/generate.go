package engine

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"localinfer/internal/llm"
	"localinfer/internal/sample"
)

// StopReason says why a generation ended.
type StopReason string

const (
	StopEOG      StopReason = "eog"
	StopLength   StopReason = "length"
	StopSequence StopReason = "stop"
)

// Result is the outcome of a generation. Text is empty for streams.
type Result struct {
	Text            string
	PromptTokens    int
	GeneratedTokens int
	StopReason      StopReason
	Duration        time.Duration
}

// Sink receives streamed pieces synchronously and in order. Returning an
// error aborts the generation.
type Sink interface {
	Token(piece string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(piece string) error

func (f SinkFunc) Token(piece string) error { return f(piece) }

// Complete runs a generation and returns the whole text.
func (s *Session) Complete(ctx context.Context, req Request) (Result, error) {
	var b strings.Builder
	res, err := s.generate(ctx, "complete", &req, func(p string) error {
		b.WriteString(p)
		return nil
	})
	res.Text = b.String()
	return res, err
}

// CompleteStream runs a generation and hands each piece to sink as it is
// produced. Pieces already delivered are never retracted.
func (s *Session) CompleteStream(ctx context.Context, req Request, sink Sink) (Result, error) {
	if sink == nil {
		return Result{}, errorf(KindInvalidParam, "complete stream", "sink is nil")
	}
	return s.generate(ctx, "complete stream", &req, sink.Token)
}

// emitter withholds text that could still turn into a stop sequence or that
// ends inside a UTF-8 sequence.
type emitter struct {
	stop    []string
	pending string
	emit    func(string) error
}

// push appends piece and forwards whatever is safe. It reports whether a
// stop sequence completed.
func (e *emitter) push(piece string) (bool, error) {
	e.pending += piece
	cut := -1
	for _, st := range e.stop {
		if i := strings.Index(e.pending, st); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		out := e.pending[:cut]
		e.pending = ""
		if out == "" {
			return true, nil
		}
		return true, e.emit(out)
	}
	hold := 0
	for _, st := range e.stop {
		for n := min(len(st)-1, len(e.pending)); n > hold; n-- {
			if strings.HasSuffix(e.pending, st[:n]) {
				hold = n
				break
			}
		}
	}
	hold = max(hold, incompleteUTF8(e.pending))
	if len(e.pending) == hold {
		return false, nil
	}
	out := e.pending[:len(e.pending)-hold]
	e.pending = e.pending[len(e.pending)-hold:]
	return false, e.emit(out)
}

func (e *emitter) flush() error {
	if e.pending == "" {
		return nil
	}
	out := e.pending
	e.pending = ""
	return e.emit(out)
}

// incompleteUTF8 returns the length of a trailing partial rune in s.
func incompleteUTF8(s string) int {
	for n := 1; n <= min(3, len(s)); n++ {
		c := s[len(s)-n]
		if c < 0x80 {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRuneInString(s[len(s)-n:]) {
				return 0
			}
			return n
		}
	}
	return 0
}

type sinkError struct{ err error }

func (e sinkError) Error() string { return e.err.Error() }
func (e sinkError) Unwrap() error { return e.err }

func (s *Session) generate(ctx context.Context, op string, req *Request, out func(string) error) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		generationDuration.Observe(res.Duration.Seconds())
		outcome := string(res.StopReason)
		if err != nil {
			outcome = KindOf(err).String()
			s.log.Warn().Err(err).Str("op", op).Int("generated", res.GeneratedTokens).Msg("generation failed")
		} else {
			s.log.Debug().
				Int("prompt_tokens", res.PromptTokens).
				Int("generated_tokens", res.GeneratedTokens).
				Str("stop", outcome).
				Dur("took", res.Duration).
				Msg("generation done")
		}
		generationsTotal.WithLabelValues(outcome).Inc()
	}()

	if err := s.checkOpen(op); err != nil {
		return res, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.validate(); err != nil {
		return res, err
	}
	g, owned, err := s.resolveGrammar(op, req)
	if err != nil {
		return res, err
	}
	if owned {
		defer g.Close()
	}

	// the prompt must be fully built before the context is touched
	var chunks []llm.Chunk
	if len(req.Media) > 0 {
		chunks, err = s.buildChunks(op, req.Prompt, req.Media)
		if err != nil {
			return res, err
		}
	} else {
		toks, err := s.vocab.Tokenize(req.Prompt, true, true)
		if err != nil {
			return res, wrap(KindInvalidParam, op, err, "tokenize")
		}
		chunks = []llm.Chunk{{Tokens: toks}}
	}
	var history []llm.Token
	for _, c := range chunks {
		res.PromptTokens += c.Len()
		history = append(history, c.Tokens...)
	}
	if res.PromptTokens == 0 {
		return res, errorf(KindInvalidParam, op, "prompt tokenized to nothing")
	}
	if res.PromptTokens >= s.params.ContextSize {
		return res, errorf(KindInvalidParam, op, "prompt is %d positions, context holds %d", res.PromptTokens, s.params.ContextSize)
	}
	if err := ctx.Err(); err != nil {
		return res, wrap(KindUnknown, op, err, "canceled")
	}

	s.ctx.ClearMemory()
	for _, c := range chunks {
		if c.Embd != nil {
			err = s.ctx.DecodeEmbeddings(*c.Embd)
		} else if len(c.Tokens) > 0 {
			err = s.ctx.Decode(c.Tokens)
		}
		if err != nil {
			return res, wrap(KindUnknown, op, err, "evaluate prompt")
		}
	}
	promptTokensTotal.Add(float64(res.PromptTokens))

	smp := sample.New(sample.Params{
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		TopP:          req.TopP,
		MinP:          req.MinP,
		TypicalP:      req.TypicalP,
		RepeatPenalty: req.RepeatPenalty,
		RepeatLastN:   req.RepeatLastN,
		Seed:          req.Seed,
	})
	smp.Prime(history)
	em := &emitter{stop: req.Stop, emit: func(p string) error {
		if err := out(p); err != nil {
			return sinkError{err}
		}
		return nil
	}}

	fail := func(err error, msg string) (Result, error) {
		var se sinkError
		if errors.As(err, &se) {
			return res, wrap(KindUnknown, op, se.err, "sink")
		}
		return res, wrap(KindUnknown, op, err, msg)
	}

	for res.GeneratedTokens < req.MaxTokens {
		if err := ctx.Err(); err != nil {
			return fail(err, "canceled")
		}
		logits := s.ctx.Logits()
		if len(logits) == 0 {
			return fail(errors.New("runtime returned no logits"), "sample")
		}
		tok, err := smp.Sample(logits, g)
		if err != nil {
			if errors.Is(err, sample.ErrNoCandidates) && g != nil {
				return fail(err, "grammar rejected every candidate")
			}
			return fail(err, "sample")
		}
		if g != nil {
			g.Accept(tok)
		}
		smp.Accept(tok)
		if s.vocab.IsEOG(tok) {
			res.StopReason = StopEOG
			break
		}
		res.GeneratedTokens++
		generatedTokensTotal.Inc()
		hit, err := em.push(s.vocab.TokenToPiece(tok))
		if err != nil {
			return fail(err, "emit")
		}
		if hit {
			res.StopReason = StopSequence
			break
		}
		if err := s.ctx.Decode([]llm.Token{tok}); err != nil {
			return fail(err, "decode")
		}
	}
	if res.StopReason == "" {
		res.StopReason = StopLength
	}
	if res.StopReason != StopSequence {
		if err := em.flush(); err != nil {
			return fail(err, "emit")
		}
	}
	return res, nil
}
