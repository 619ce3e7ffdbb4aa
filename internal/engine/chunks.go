package engine

import (
	"strconv"
	"strings"

	"localinfer/internal/llm"
	"localinfer/internal/media"
)

// DefaultMarker is the media placeholder used when the encoder reports none.
const DefaultMarker = "<__media__>"

func (s *Session) marker() string {
	if m := s.proj.Marker(); m != "" {
		return m
	}
	return DefaultMarker
}

// checkMultimodal rejects media the session cannot encode.
func (s *Session) checkMultimodal(op string, items []Media) error {
	if s.proj == nil {
		return errorf(KindMultimodalNotSupported, op, "no multimodal encoder attached")
	}
	for i, m := range items {
		if m.Modality != ModalityText && !s.proj.Supports(m.Modality) {
			return errorf(KindMultimodalNotSupported, op, "media %d: encoder does not support %s", i, m.Modality)
		}
	}
	return nil
}

// splitPrompt splits prompt on the marker. Without any marker, one marker
// per media item is appended after the text in input order.
func splitPrompt(prompt, marker string, n int) ([]string, bool) {
	if !strings.Contains(prompt, marker) {
		prompt += strings.Repeat(marker, n)
	}
	parts := strings.Split(prompt, marker)
	return parts, len(parts)-1 == n
}

// materialized is one media item ready for the encoder: either a bitmap or,
// for text items, plain text to tokenize in place.
type materialized struct {
	bitmap llm.Bitmap
	text   string
}

func (s *Session) materialize(op string, i int, m *Media) (materialized, error) {
	var raw []byte
	if len(m.Samples) == 0 {
		b, err := media.Load(media.Source{Path: m.Path, Data: m.Data, Base64: m.Base64})
		if err != nil {
			return materialized{}, wrap(KindInvalidParam, op, err, "media "+strconv.Itoa(i))
		}
		raw = b
	}
	switch m.Modality {
	case ModalityText:
		return materialized{text: string(raw)}, nil
	case ModalityImage:
		img, err := media.DecodeImage(raw, media.DefaultMaxSide)
		if err != nil {
			return materialized{}, wrap(KindInvalidParam, op, err, "media "+strconv.Itoa(i))
		}
		bm, err := s.proj.NewImage(img.RGB, img.Width, img.Height)
		if err != nil {
			return materialized{}, wrap(KindUnknown, op, err, "image bitmap")
		}
		return materialized{bitmap: bm}, nil
	default:
		var samples []float32
		rate := 0
		if len(m.Samples) > 0 {
			mono, err := media.Downmix(m.Samples, m.Channels)
			if err != nil {
				return materialized{}, wrap(KindInvalidParam, op, err, "media "+strconv.Itoa(i))
			}
			samples, rate = mono, m.SampleRate
		} else {
			a, err := media.DecodeAudio(raw)
			if err != nil {
				return materialized{}, wrap(KindInvalidParam, op, err, "media "+strconv.Itoa(i))
			}
			samples, rate = a.Samples, a.SampleRate
		}
		if want := s.proj.AudioSampleRate(); want > 0 {
			samples = media.Resample(samples, rate, want)
		}
		if len(samples) == 0 {
			return materialized{}, errorf(KindInvalidParam, op, "media %d: audio is empty", i)
		}
		bm, err := s.proj.NewAudio(samples)
		if err != nil {
			return materialized{}, wrap(KindUnknown, op, err, "audio bitmap")
		}
		return materialized{bitmap: bm}, nil
	}
}

// buildChunks turns a prompt with media markers into ordered token and
// embedding spans. Bitmaps are released on every path.
func (s *Session) buildChunks(op, prompt string, items []Media) ([]llm.Chunk, error) {
	if err := s.checkMultimodal(op, items); err != nil {
		return nil, err
	}
	parts, ok := splitPrompt(prompt, s.marker(), len(items))
	if !ok {
		return nil, errorf(KindInvalidParam, op, "prompt has %d media markers for %d media items", len(parts)-1, len(items))
	}

	mats := make([]materialized, 0, len(items))
	defer func() {
		for _, m := range mats {
			if m.bitmap != nil {
				m.bitmap.Close()
			}
		}
	}()
	for i := range items {
		m, err := s.materialize(op, i, &items[i])
		if err != nil {
			return nil, err
		}
		mats = append(mats, m)
	}

	var chunks []llm.Chunk
	addText := func(text string, first bool) error {
		if text == "" && !first {
			return nil
		}
		toks, err := s.vocab.Tokenize(text, first, true)
		if err != nil {
			return wrap(KindInvalidParam, op, err, "tokenize")
		}
		if len(toks) > 0 {
			chunks = append(chunks, llm.Chunk{Tokens: toks})
		}
		return nil
	}
	for i, part := range parts {
		if err := addText(part, i == 0); err != nil {
			return nil, err
		}
		if i == len(mats) {
			break
		}
		if mats[i].bitmap == nil {
			if err := addText(mats[i].text, false); err != nil {
				return nil, err
			}
			continue
		}
		enc, err := s.proj.Encode(mats[i].bitmap)
		if err != nil {
			return nil, wrap(KindUnknown, op, err, "encode media "+strconv.Itoa(i))
		}
		chunks = append(chunks, enc...)
	}
	return chunks, nil
}
