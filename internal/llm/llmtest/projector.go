package llmtest

import (
	"errors"
	"fmt"
	"math"

	"localinfer/internal/llm"
)

// DefaultMarker is the placeholder the simulated projector reports.
const DefaultMarker = "<__media__>"

// AudioRate is the sample rate the simulated audio encoder expects.
const AudioRate = 16000

type projector struct {
	backend       *Backend
	vision, audio bool
	marker        string
	closed        bool
}

func (p *projector) Supports(m llm.Modality) bool {
	switch m {
	case llm.ModalityImage:
		return p.vision
	case llm.ModalityAudio:
		return p.audio
	}
	return false
}

func (p *projector) Marker() string { return p.marker }

func (p *projector) AudioSampleRate() int {
	if !p.audio {
		return 0
	}
	return AudioRate
}

type bitmap struct {
	backend *Backend
	seed    uint64
	tokens  int
	closed  bool
}

func (b *bitmap) Close() {
	if b.closed {
		b.backend.doubleFree()
		return
	}
	b.closed = true
	b.backend.track(&b.backend.counts.Bitmaps, -1)
}

func (p *projector) newBitmap(seed uint64, tokens int) *bitmap {
	p.backend.track(&p.backend.counts.Bitmaps, 1)
	return &bitmap{backend: p.backend, seed: seed, tokens: tokens}
}

// NewImage yields one embedding position per 32x32 tile, capped at 16.
func (p *projector) NewImage(rgb []byte, width, height int) (llm.Bitmap, error) {
	if !p.vision {
		return nil, llm.ErrUnsupported
	}
	if width <= 0 || height <= 0 || len(rgb) != width*height*3 {
		return nil, fmt.Errorf("sim: image buffer is %d bytes for %dx%d", len(rgb), width, height)
	}
	seed := uint64(width)<<32 | uint64(height)
	for i := 0; i < len(rgb); i += max(1, len(rgb)/64) {
		seed = splitmix(seed ^ uint64(rgb[i]))
	}
	tiles := ((width + 31) / 32) * ((height + 31) / 32)
	return p.newBitmap(seed, min(max(tiles, 1), 16)), nil
}

// NewAudio yields one embedding position per 100ms, capped at 16.
func (p *projector) NewAudio(samples []float32) (llm.Bitmap, error) {
	if !p.audio {
		return nil, llm.ErrUnsupported
	}
	if len(samples) == 0 {
		return nil, errors.New("sim: empty audio")
	}
	seed := uint64(len(samples))
	for i := 0; i < len(samples); i += max(1, len(samples)/64) {
		seed = splitmix(seed ^ uint64(math.Float32bits(samples[i])))
	}
	return p.newBitmap(seed, min(max(len(samples)/(AudioRate/10), 1), 16)), nil
}

func (p *projector) Encode(b llm.Bitmap) ([]llm.Chunk, error) {
	bm, ok := b.(*bitmap)
	if !ok || bm.closed {
		return nil, errors.New("sim: invalid bitmap")
	}
	data := make([]float32, bm.tokens*EmbeddingSize)
	for i := range data {
		data[i] = unit(splitmix(bm.seed ^ uint64(i)))
	}
	return []llm.Chunk{{Embd: &llm.Embeddings{Data: data, NTokens: bm.tokens, NEmbd: EmbeddingSize}}}, nil
}

func (p *projector) Close() error {
	if p.closed {
		p.backend.doubleFree()
		return nil
	}
	p.closed = true
	p.backend.track(&p.backend.counts.Projectors, -1)
	return nil
}
