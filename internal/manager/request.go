package manager

import (
	"fmt"
	"strings"

	"localinfer/internal/engine"
	"localinfer/pkg/types"
)

func modality(s string) (engine.Modality, bool) {
	switch strings.ToLower(s) {
	case "image":
		return engine.ModalityImage, true
	case "audio":
		return engine.ModalityAudio, true
	case "text":
		return engine.ModalityText, true
	}
	return 0, false
}

// engineRequest maps an API request onto the engine. Range checks are left
// to the engine so there is one source of truth for limits.
func (m *Manager) engineRequest(req types.CompleteRequest) (engine.Request, error) {
	out := engine.Request{
		Prompt:        req.Prompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		TopP:          req.TopP,
		MinP:          req.MinP,
		TypicalP:      req.TypicalP,
		RepeatPenalty: req.RepeatPenalty,
		RepeatLastN:   req.RepeatLastN,
		Seed:          req.Seed,
		GrammarID:     engine.GrammarID(req.GrammarID),
		Grammar:       req.Grammar,
		GrammarRoot:   req.GrammarRoot,
		Stop:          req.Stop,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = m.defaultMaxTokens
	}
	if s := strings.TrimSpace(string(req.JSONSchema)); s != "" && s != "null" {
		out.JSONSchema = s
	}
	for i, mi := range req.Media {
		mod, ok := modality(mi.Type)
		if !ok {
			return engine.Request{}, requestError{msg: fmt.Sprintf("media %d: unknown type %q", i, mi.Type)}
		}
		em := engine.Media{Modality: mod, Base64: mi.Data}
		if mi.Path != "" {
			if !m.allowLocalMedia {
				return engine.Request{}, requestError{msg: fmt.Sprintf("media %d: server-side paths are disabled", i)}
			}
			em.Path = mi.Path
		}
		out.Media = append(out.Media, em)
	}
	return out, nil
}
