//go:build llama

// Package llama binds llama.cpp and its multimodal helper library (mtmd)
// behind the llm interfaces.
//
// Build with -tags llama. libllama and libmtmd (plus the ggml libraries they
// depend on) and their headers are expected under ./bin at link time and
// next to the binary at run time.
package llama

// cgo link directives:
// - rpath $ORIGIN lets the loader find the shared libraries next to the binary.
// - headers are installed under bin/include alongside the libraries.
/*
#cgo CFLAGS: -I${SRCDIR}/../../../bin/include -O2
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lmtmd -lllama
#include <stdlib.h>
#include <string.h>
#include "llama.h"
#include "mtmd.h"

static int32_t li_decode_tokens(struct llama_context * ctx, const llama_token * toks, int32_t n, int32_t pos0) {
	struct llama_batch b = llama_batch_init(n, 0, 1);
	for (int32_t i = 0; i < n; i++) {
		b.token[i] = toks[i];
		b.pos[i] = pos0 + i;
		b.n_seq_id[i] = 1;
		b.seq_id[i][0] = 0;
		b.logits[i] = i == n - 1;
	}
	b.n_tokens = n;
	int32_t rc = llama_decode(ctx, b);
	llama_batch_free(b);
	return rc;
}

static int32_t li_decode_embd(struct llama_context * ctx, const float * embd, int32_t n, int32_t n_embd, int32_t pos0) {
	struct llama_batch b = llama_batch_init(n, n_embd, 1);
	memcpy(b.embd, embd, sizeof(float) * (size_t)n * (size_t)n_embd);
	for (int32_t i = 0; i < n; i++) {
		b.pos[i] = pos0 + i;
		b.n_seq_id[i] = 1;
		b.seq_id[i][0] = 0;
		b.logits[i] = i == n - 1;
	}
	b.n_tokens = n;
	int32_t rc = llama_decode(ctx, b);
	llama_batch_free(b);
	return rc;
}

static void li_memory_clear(struct llama_context * ctx) {
	llama_memory_clear(llama_get_memory(ctx), true);
}

static struct llama_model * li_model_load(const char * path, int32_t n_gpu_layers, bool use_mmap) {
	struct llama_model_params p = llama_model_default_params();
	p.n_gpu_layers = n_gpu_layers;
	p.use_mmap = use_mmap;
	return llama_model_load_from_file(path, p);
}

static struct llama_context * li_context_new(struct llama_model * m, uint32_t n_ctx, uint32_t n_batch, int32_t n_threads) {
	struct llama_context_params p = llama_context_default_params();
	p.n_ctx = n_ctx;
	p.n_batch = n_batch;
	p.n_ubatch = n_batch;
	p.n_threads = n_threads;
	p.n_threads_batch = n_threads;
	return llama_init_from_model(m, p);
}

static mtmd_context * li_mtmd_init(const char * path, const struct llama_model * m, bool use_gpu, int n_threads) {
	struct mtmd_context_params p = mtmd_context_params_default();
	p.use_gpu = use_gpu;
	p.print_timings = false;
	if (n_threads > 0) {
		p.n_threads = n_threads;
	}
	return mtmd_init_from_file(path, m, p);
}

static int32_t li_mtmd_tokenize(mtmd_context * ctx, mtmd_input_chunks * out, const char * text, const mtmd_bitmap * bm) {
	mtmd_input_text in;
	in.text = text;
	in.add_special = false;
	in.parse_special = true;
	const mtmd_bitmap * bitmaps[1] = { bm };
	return mtmd_tokenize(ctx, out, &in, bitmaps, 1);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"localinfer/internal/llm"
)

var initOnce sync.Once

// Backend is the llama.cpp runtime.
type Backend struct{}

var _ llm.Backend = Backend{}

// New returns the llama.cpp backend.
func New() (llm.Backend, error) { return Backend{}, nil }

func (Backend) Name() string { return "llama.cpp" }

func (Backend) LoadModel(path string, opts llm.ModelOptions) (llm.Model, error) {
	initOnce.Do(func() { C.llama_backend_init() })
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.li_model_load(cpath, C.int32_t(opts.GPULayers), C.bool(opts.UseMmap))
	if h == nil {
		return nil, fmt.Errorf("llama: failed to load model from %s", path)
	}
	m := &model{h: h}
	m.vocab = &vocab{h: C.llama_model_get_vocab(h)}
	return m, nil
}

type model struct {
	h     *C.struct_llama_model
	vocab *vocab
}

func (m *model) Vocab() llm.Vocab { return m.vocab }

func (m *model) Info() llm.ModelInfo {
	desc := make([]byte, 256)
	n := C.llama_model_desc(m.h, (*C.char)(unsafe.Pointer(&desc[0])), C.size_t(len(desc)))
	info := llm.ModelInfo{
		NVocab:    m.vocab.NTokens(),
		NCtxTrain: int(C.llama_model_n_ctx_train(m.h)),
		NEmbd:     int(C.llama_model_n_embd(m.h)),
		NLayer:    int(C.llama_model_n_layer(m.h)),
		SizeBytes: uint64(C.llama_model_size(m.h)),
	}
	if n > 0 {
		info.Description = string(desc[:min(int(n), len(desc)-1)])
	}
	key := C.CString("general.architecture")
	defer C.free(unsafe.Pointer(key))
	arch := make([]byte, 128)
	if n := C.llama_model_meta_val_str(m.h, key, (*C.char)(unsafe.Pointer(&arch[0])), C.size_t(len(arch))); n > 0 {
		info.Architecture = string(arch[:min(int(n), len(arch)-1)])
	}
	return info
}

func (m *model) NewContext(opts llm.ContextOptions) (llm.Context, error) {
	h := C.li_context_new(m.h, C.uint32_t(opts.ContextSize), C.uint32_t(opts.BatchSize), C.int32_t(opts.Threads))
	if h == nil {
		return nil, fmt.Errorf("llama: failed to create context (n_ctx=%d): %w", opts.ContextSize, llm.ErrOutOfMemory)
	}
	return &decodeContext{
		h:      h,
		model:  m,
		nBatch: max(opts.BatchSize, 1),
		nCtx:   opts.ContextSize,
		nVocab: m.vocab.NTokens(),
		nEmbd:  int(C.llama_model_n_embd(m.h)),
	}, nil
}

func (m *model) LoadAdapter(path string) (llm.Adapter, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.llama_adapter_lora_init(m.h, cpath)
	if h == nil {
		return nil, fmt.Errorf("llama: failed to load LoRA adapter %s", path)
	}
	return &adapter{h: h}, nil
}

func (m *model) NewGrammar(text, root string) (llm.Grammar, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	croot := C.CString(root)
	defer C.free(unsafe.Pointer(croot))
	h := C.llama_sampler_init_grammar(m.vocab.h, ctext, croot)
	if h == nil {
		return nil, errors.New("llama: failed to parse grammar")
	}
	return &grammar{h: h}, nil
}

func (m *model) NewProjector(path string, opts llm.ProjectorOptions) (llm.Projector, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.li_mtmd_init(cpath, m.h, C.bool(opts.GPU), C.int(opts.Threads))
	if h == nil {
		return nil, fmt.Errorf("llama: failed to load multimodal projector %s", path)
	}
	return &projector{h: h, nEmbd: int(C.llama_model_n_embd(m.h))}, nil
}

func (m *model) Close() error {
	if m.h == nil {
		return errors.New("llama: model already freed")
	}
	C.llama_model_free(m.h)
	m.h = nil
	return nil
}

type vocab struct {
	h *C.struct_llama_vocab
}

func (v *vocab) NTokens() int { return int(C.llama_vocab_n_tokens(v.h)) }

func (v *vocab) Tokenize(text string, addSpecial, parseSpecial bool) ([]llm.Token, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	buf := make([]llm.Token, len(text)+2)
	n := C.llama_tokenize(v.h, ctext, C.int32_t(len(text)),
		(*C.llama_token)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)),
		C.bool(addSpecial), C.bool(parseSpecial))
	if n < 0 {
		buf = make([]llm.Token, -n)
		n = C.llama_tokenize(v.h, ctext, C.int32_t(len(text)),
			(*C.llama_token)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)),
			C.bool(addSpecial), C.bool(parseSpecial))
	}
	runtime.KeepAlive(buf)
	if n < 0 {
		return nil, fmt.Errorf("llama: tokenize failed (%d)", int(n))
	}
	return buf[:n], nil
}

func (v *vocab) TokenToPiece(t llm.Token) string {
	buf := make([]byte, 64)
	n := C.llama_token_to_piece(v.h, C.llama_token(t), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, false)
	if n < 0 {
		buf = make([]byte, -n)
		n = C.llama_token_to_piece(v.h, C.llama_token(t), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, false)
	}
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (v *vocab) IsEOG(t llm.Token) bool { return bool(C.llama_vocab_is_eog(v.h, C.llama_token(t))) }

type decodeContext struct {
	h      *C.struct_llama_context
	model  *model
	pos    int
	nBatch int
	nCtx   int
	nVocab int
	nEmbd  int
}

func decodeStatus(rc C.int32_t) error {
	if rc == 0 {
		return nil
	}
	return llm.DecodeError{Status: int32(rc)}
}

// Decode splits tokens into n_batch slices; only the last position of each
// slice requests logits.
func (c *decodeContext) Decode(tokens []llm.Token) error {
	if len(tokens) == 0 {
		return errors.New("llama: empty batch")
	}
	if c.pos+len(tokens) > c.nCtx {
		return llm.DecodeError{Status: 1}
	}
	for i := 0; i < len(tokens); i += c.nBatch {
		part := tokens[i:min(i+c.nBatch, len(tokens))]
		rc := C.li_decode_tokens(c.h, (*C.llama_token)(unsafe.Pointer(&part[0])), C.int32_t(len(part)), C.int32_t(c.pos))
		runtime.KeepAlive(part)
		if err := decodeStatus(rc); err != nil {
			return err
		}
		c.pos += len(part)
	}
	return nil
}

// DecodeEmbeddings places embeddings at linear positions. Models that use
// multi-axis rotary positions for images are not handled.
func (c *decodeContext) DecodeEmbeddings(e llm.Embeddings) error {
	if e.NTokens <= 0 || e.NEmbd != c.nEmbd || len(e.Data) != e.NTokens*e.NEmbd {
		return fmt.Errorf("llama: embedding matrix %dx%d does not match model width %d", e.NTokens, e.NEmbd, c.nEmbd)
	}
	if c.pos+e.NTokens > c.nCtx {
		return llm.DecodeError{Status: 1}
	}
	for i := 0; i < e.NTokens; i += c.nBatch {
		n := min(c.nBatch, e.NTokens-i)
		rows := e.Data[i*e.NEmbd : (i+n)*e.NEmbd]
		rc := C.li_decode_embd(c.h, (*C.float)(unsafe.Pointer(&rows[0])), C.int32_t(n), C.int32_t(e.NEmbd), C.int32_t(c.pos))
		runtime.KeepAlive(rows)
		if err := decodeStatus(rc); err != nil {
			return err
		}
		c.pos += n
	}
	return nil
}

func (c *decodeContext) Logits() []float32 {
	if c.pos == 0 {
		return nil
	}
	ptr := C.llama_get_logits_ith(c.h, -1)
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(ptr)), c.nVocab)
}

func (c *decodeContext) Embed(tokens []llm.Token) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("llama: empty batch")
	}
	if len(tokens) > c.nBatch {
		return nil, fmt.Errorf("llama: %d tokens exceed batch size %d for embeddings", len(tokens), c.nBatch)
	}
	c.ClearMemory()
	defer c.ClearMemory()
	C.llama_set_embeddings(c.h, true)
	defer C.llama_set_embeddings(c.h, false)
	rc := C.li_decode_tokens(c.h, (*C.llama_token)(unsafe.Pointer(&tokens[0])), C.int32_t(len(tokens)), 0)
	runtime.KeepAlive(tokens)
	if err := decodeStatus(rc); err != nil {
		return nil, err
	}
	ptr := C.llama_get_embeddings_seq(c.h, 0)
	if ptr == nil {
		// models without pooling expose only per-token rows
		ptr = C.llama_get_embeddings_ith(c.h, -1)
	}
	if ptr == nil {
		return nil, fmt.Errorf("llama: model produced no embeddings: %w", llm.ErrUnsupported)
	}
	out := make([]float32, c.nEmbd)
	copy(out, unsafe.Slice((*float32)(unsafe.Pointer(ptr)), c.nEmbd))
	return out, nil
}

func (c *decodeContext) SetAdapter(a llm.Adapter, scale float32) error {
	ad, ok := a.(*adapter)
	if !ok || ad.h == nil {
		return errors.New("llama: invalid adapter")
	}
	if rc := C.llama_set_adapter_lora(c.h, ad.h, C.float(scale)); rc != 0 {
		return fmt.Errorf("llama: set adapter failed (%d)", int(rc))
	}
	return nil
}

func (c *decodeContext) RemoveAdapter(a llm.Adapter) error {
	ad, ok := a.(*adapter)
	if !ok || ad.h == nil {
		return errors.New("llama: invalid adapter")
	}
	if rc := C.llama_rm_adapter_lora(c.h, ad.h); rc != 0 {
		return fmt.Errorf("llama: adapter not applied (%d)", int(rc))
	}
	return nil
}

func (c *decodeContext) ClearAdapters() { C.llama_clear_adapter_lora(c.h) }

func (c *decodeContext) ClearMemory() {
	C.li_memory_clear(c.h)
	c.pos = 0
}

func (c *decodeContext) Close() error {
	if c.h == nil {
		return errors.New("llama: context already freed")
	}
	C.llama_free(c.h)
	c.h = nil
	return nil
}

type adapter struct {
	h *C.struct_llama_adapter_lora
}

func (a *adapter) Close() error {
	if a.h == nil {
		return errors.New("llama: adapter already freed")
	}
	C.llama_adapter_lora_free(a.h)
	a.h = nil
	return nil
}

// grammar drives llama.cpp's grammar sampler over Go-side candidates.
type grammar struct {
	h   *C.struct_llama_sampler
	buf *C.llama_token_data
	cap int
}

func (g *grammar) Apply(cands []llm.TokenData) {
	if len(cands) == 0 {
		return
	}
	if g.cap < len(cands) {
		if g.buf != nil {
			C.free(unsafe.Pointer(g.buf))
		}
		g.buf = (*C.llama_token_data)(C.malloc(C.size_t(len(cands)) * C.size_t(unsafe.Sizeof(C.llama_token_data{}))))
		g.cap = len(cands)
	}
	data := unsafe.Slice(g.buf, len(cands))
	for i, c := range cands {
		data[i].id = C.llama_token(c.ID)
		data[i].logit = C.float(c.Logit)
		data[i].p = 0
	}
	arr := C.llama_token_data_array{data: g.buf, size: C.size_t(len(cands)), selected: -1, sorted: false}
	C.llama_sampler_apply(g.h, &arr)
	for i := range cands {
		cands[i].Logit = float32(data[i].logit)
	}
}

func (g *grammar) Accept(t llm.Token) { C.llama_sampler_accept(g.h, C.llama_token(t)) }

func (g *grammar) Reset() { C.llama_sampler_reset(g.h) }

func (g *grammar) Close() error {
	if g.h == nil {
		return errors.New("llama: grammar already freed")
	}
	C.llama_sampler_free(g.h)
	g.h = nil
	if g.buf != nil {
		C.free(unsafe.Pointer(g.buf))
		g.buf = nil
	}
	return nil
}

type projector struct {
	h     *C.mtmd_context
	nEmbd int
}

func (p *projector) Supports(m llm.Modality) bool {
	switch m {
	case llm.ModalityImage:
		return bool(C.mtmd_support_vision(p.h))
	case llm.ModalityAudio:
		return bool(C.mtmd_support_audio(p.h))
	}
	return false
}

func (p *projector) Marker() string { return C.GoString(C.mtmd_default_marker()) }

func (p *projector) AudioSampleRate() int {
	if !p.Supports(llm.ModalityAudio) {
		return 0
	}
	return int(C.mtmd_get_audio_bitrate(p.h))
}

type bitmap struct {
	h *C.mtmd_bitmap
}

func (b *bitmap) Close() {
	if b.h != nil {
		C.mtmd_bitmap_free(b.h)
		b.h = nil
	}
}

func (p *projector) NewImage(rgb []byte, width, height int) (llm.Bitmap, error) {
	if width <= 0 || height <= 0 || len(rgb) != width*height*3 {
		return nil, fmt.Errorf("llama: image buffer is %d bytes for %dx%d", len(rgb), width, height)
	}
	h := C.mtmd_bitmap_init(C.uint32_t(width), C.uint32_t(height), (*C.uchar)(unsafe.Pointer(&rgb[0])))
	runtime.KeepAlive(rgb)
	if h == nil {
		return nil, errors.New("llama: failed to create image bitmap")
	}
	return &bitmap{h: h}, nil
}

func (p *projector) NewAudio(samples []float32) (llm.Bitmap, error) {
	if len(samples) == 0 {
		return nil, errors.New("llama: empty audio buffer")
	}
	h := C.mtmd_bitmap_init_from_audio(C.size_t(len(samples)), (*C.float)(unsafe.Pointer(&samples[0])))
	runtime.KeepAlive(samples)
	if h == nil {
		return nil, errors.New("llama: failed to create audio bitmap")
	}
	return &bitmap{h: h}, nil
}

// Encode tokenizes a lone marker against the bitmap so the encoder can add
// its own begin/end tokens, then encodes each media chunk.
func (p *projector) Encode(b llm.Bitmap) ([]llm.Chunk, error) {
	bm, ok := b.(*bitmap)
	if !ok || bm.h == nil {
		return nil, errors.New("llama: invalid bitmap")
	}
	chunks := C.mtmd_input_chunks_init()
	defer C.mtmd_input_chunks_free(chunks)
	if rc := C.li_mtmd_tokenize(p.h, chunks, C.mtmd_default_marker(), bm.h); rc != 0 {
		return nil, fmt.Errorf("llama: multimodal tokenize failed (%d)", int(rc))
	}
	n := int(C.mtmd_input_chunks_size(chunks))
	out := make([]llm.Chunk, 0, n)
	for i := 0; i < n; i++ {
		ch := C.mtmd_input_chunks_get(chunks, C.size_t(i))
		if C.mtmd_input_chunk_get_type(ch) == C.MTMD_INPUT_CHUNK_TYPE_TEXT {
			var nt C.size_t
			ptr := C.mtmd_input_chunk_get_tokens_text(ch, &nt)
			if nt == 0 {
				continue
			}
			toks := make([]llm.Token, int(nt))
			copy(toks, unsafe.Slice((*llm.Token)(unsafe.Pointer(ptr)), int(nt)))
			out = append(out, llm.Chunk{Tokens: toks})
			continue
		}
		if rc := C.mtmd_encode_chunk(p.h, ch); rc != 0 {
			return nil, fmt.Errorf("llama: encode media chunk failed (%d)", int(rc))
		}
		nTok := int(C.mtmd_input_chunk_get_n_tokens(ch))
		ptr := C.mtmd_get_output_embd(p.h)
		if ptr == nil || nTok <= 0 {
			return nil, errors.New("llama: encoder produced no embeddings")
		}
		data := make([]float32, nTok*p.nEmbd)
		copy(data, unsafe.Slice((*float32)(unsafe.Pointer(ptr)), len(data)))
		out = append(out, llm.Chunk{Embd: &llm.Embeddings{Data: data, NTokens: nTok, NEmbd: p.nEmbd}})
	}
	return out, nil
}

func (p *projector) Close() error {
	if p.h == nil {
		return errors.New("llama: projector already freed")
	}
	C.mtmd_free(p.h)
	p.h = nil
	return nil
}
