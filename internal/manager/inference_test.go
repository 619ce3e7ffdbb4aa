package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"localinfer/internal/engine"
	"localinfer/pkg/types"
)

func TestCompleteUsesDefaultModel(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	resp, err := m.Complete(context.Background(), types.CompleteRequest{
		Prompt:  "answer:",
		Grammar: `root ::= "yes" | "no"`,
		Seed:    seed(3),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Model != "m1" || resp.ID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Content != "yes" && resp.Content != "no" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != resp.Usage.PromptTokens+resp.Usage.CompletionTokens || resp.Usage.PromptTokens == 0 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if st := m.Status(); st.Instances[0].Inflight != 0 || st.Instances[0].QueueLen != 0 {
		t.Fatalf("slots leaked: %+v", st.Instances[0])
	}
}

func TestCompleteAppliesDefaultMaxTokens(t *testing.T) {
	m, b := newTestManager(t, ManagerConfig{DefaultMaxTokens: 3})
	b.EOSBias = -100
	resp, err := m.Complete(context.Background(), types.CompleteRequest{Prompt: "x", Grammar: `root ::= [a-z]+`, Seed: seed(1)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Usage.CompletionTokens != 3 || resp.FinishReason != string(engine.StopLength) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCompleteEngineErrorsPassThrough(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	_, err := m.Complete(context.Background(), types.CompleteRequest{Prompt: "x", Temperature: 9})
	if !engine.IsKind(err, engine.KindInvalidParam) {
		t.Fatalf("err = %v", err)
	}
	_, err = m.Complete(context.Background(), types.CompleteRequest{
		Prompt: "<__media__>",
		Media:  []types.MediaInput{{Type: "image", Data: base64.StdEncoding.EncodeToString([]byte("x"))}},
	})
	if !engine.IsKind(err, engine.KindMultimodalNotSupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestMapping(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	for _, tc := range []struct {
		name string
		req  types.CompleteRequest
	}{
		{"unknown media type", types.CompleteRequest{Prompt: "x", Media: []types.MediaInput{{Type: "video", Data: "AA=="}}}},
		{"local path disabled", types.CompleteRequest{Prompt: "x", Media: []types.MediaInput{{Type: "image", Path: "/etc/passwd"}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Complete(context.Background(), tc.req)
			var re requestError
			if !errors.As(err, &re) || re.StatusCode() != 400 {
				t.Fatalf("err = %v", err)
			}
		})
	}

	req, err := m.engineRequest(types.CompleteRequest{
		Prompt:     "p",
		JSONSchema: json.RawMessage(` {"type":"integer"} `),
		Media:      []types.MediaInput{{Type: "AUDIO", Data: "AA=="}},
	})
	if err != nil {
		t.Fatalf("engineRequest: %v", err)
	}
	want := engine.Request{
		Prompt:     "p",
		MaxTokens:  defaultMaxTokens,
		JSONSchema: `{"type":"integer"}`,
		Media:      []engine.Media{{Modality: engine.ModalityAudio, Base64: "AA=="}},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Fatalf("request (-want +got):\n%s", diff)
	}
	null, _ := m.engineRequest(types.CompleteRequest{Prompt: "p", JSONSchema: json.RawMessage("null")})
	if null.JSONSchema != "" {
		t.Fatalf("null schema mapped to %q", null.JSONSchema)
	}
}

func readLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var v map[string]any
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, v)
	}
	return out
}

func TestInferStreamsNDJSON(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	req := types.CompleteRequest{Prompt: "say:", Grammar: `root ::= "hello world"`, Seed: seed(9), MaxTokens: 32}
	var buf bytes.Buffer
	flushes := 0
	if err := m.Infer(context.Background(), req, &buf, func() { flushes++ }); err != nil {
		t.Fatalf("infer: %v", err)
	}
	lines := readLines(t, buf.Bytes())
	if len(lines) < 2 {
		t.Fatalf("lines = %v", lines)
	}
	var text strings.Builder
	for _, l := range lines[:len(lines)-1] {
		tok, ok := l["token"].(string)
		if !ok {
			t.Fatalf("token line = %v", l)
		}
		text.WriteString(tok)
	}
	if text.String() != "hello world" {
		t.Fatalf("streamed %q", text.String())
	}
	last := lines[len(lines)-1]
	if last["done"] != true || last["finish_reason"] != string(engine.StopEOG) || last["model"] != "m1" {
		t.Fatalf("final line = %v", last)
	}
	if _, ok := last["content"]; ok {
		t.Fatalf("final line repeats content: %v", last)
	}
	if flushes != len(lines) {
		t.Fatalf("flushes = %d, lines = %d", flushes, len(lines))
	}

	batch, err := m.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if batch.Content != text.String() {
		t.Fatalf("batch %q != stream %q", batch.Content, text.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("writer closed") }

func TestInferErrorsBeforeFirstToken(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	var buf bytes.Buffer
	err := m.Infer(context.Background(), types.CompleteRequest{Prompt: ""}, &buf, nil)
	if !engine.IsKind(err, engine.KindInvalidParam) {
		t.Fatalf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %q before failing", buf.String())
	}

	// a client that goes away aborts generation
	err = m.Infer(context.Background(), types.CompleteRequest{Prompt: "x", Grammar: `root ::= [a-z]+`, MaxTokens: 8}, failingWriter{}, nil)
	if err == nil || engine.KindOf(err) != engine.KindUnknown {
		t.Fatalf("err = %v", err)
	}
}

func TestInferReportsMidStreamFailure(t *testing.T) {
	b := newBackend()
	b.FailDecodeAfter = 3
	m, _ := newTestManager(t, ManagerConfig{Backend: b})
	var buf bytes.Buffer
	err := m.Infer(context.Background(), types.CompleteRequest{Prompt: "hi", Grammar: `root ::= "hello world"`, MaxTokens: 16}, &buf, nil)
	if !IsStreamAborted(err) || engine.KindOf(err) != engine.KindUnknown {
		t.Fatalf("err = %v, want aborted stream", err)
	}
	lines := readLines(t, buf.Bytes())
	if len(lines) < 2 {
		t.Fatalf("lines = %v", lines)
	}
	if _, ok := lines[0]["token"]; !ok {
		t.Fatalf("first line = %v", lines[0])
	}
	last := lines[len(lines)-1]
	if last["kind"] != "unknown" || last["code"] != float64(-1) || last["error"] == "" {
		t.Fatalf("error line = %v", last)
	}
	if IsStreamAborted(errors.New("x")) {
		t.Fatal("plain error reported as aborted stream")
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	no := false
	tok, err := m.Tokenize(ctx, types.TokenizeRequest{Text: "hi there", AddSpecial: &no})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	withBOS, err := m.Tokenize(ctx, types.TokenizeRequest{Text: "hi there"})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(withBOS.Tokens) != len(tok.Tokens)+1 {
		t.Fatalf("add_special default: %d vs %d tokens", len(withBOS.Tokens), len(tok.Tokens))
	}
	text, err := m.Detokenize(ctx, types.DetokenizeRequest{Tokens: tok.Tokens})
	if err != nil {
		t.Fatalf("detokenize: %v", err)
	}
	if text.Text != "hi there" {
		t.Fatalf("detokenize = %q", text.Text)
	}
	if _, err := m.Detokenize(ctx, types.DetokenizeRequest{}); !engine.IsKind(err, engine.KindInvalidParam) {
		t.Fatalf("empty detokenize: %v", err)
	}
}

func TestEmbeddingsAndInfo(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()
	e, err := m.Embeddings(ctx, types.EmbeddingsRequest{Input: "hello"})
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	if e.Model != "m1" || len(e.Embedding) == 0 {
		t.Fatalf("embeddings = %+v", e)
	}
	info, err := m.ModelInfo(ctx, "m1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Architecture != "sim" || info.Embedding != len(e.Embedding) || info.Vision {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Adapters) != 0 || len(info.Grammars) != 0 {
		t.Fatalf("fresh session has handles: %+v", info)
	}
	if _, err := m.ModelInfo(ctx, "missing"); !IsModelNotFound(err) {
		t.Fatalf("err = %v", err)
	}
}
