package manager

import (
	"context"

	"localinfer/internal/engine"
	"localinfer/internal/llm"
	"localinfer/pkg/types"
)

// Tokenize converts text with the model's vocabulary.
func (m *Manager) Tokenize(ctx context.Context, req types.TokenizeRequest) (types.TokenizeResponse, error) {
	addSpecial := true
	if req.AddSpecial != nil {
		addSpecial = *req.AddSpecial
	}
	var out types.TokenizeResponse
	err := m.withInstance(ctx, req.Model, func(inst *Instance) error {
		toks, err := inst.sess.Tokenize(req.Text, addSpecial)
		if err != nil {
			return err
		}
		out.Tokens = make([]int32, len(toks))
		for i, t := range toks {
			out.Tokens[i] = int32(t)
		}
		return nil
	})
	return out, err
}

// Detokenize renders token ids back to text.
func (m *Manager) Detokenize(ctx context.Context, req types.DetokenizeRequest) (types.DetokenizeResponse, error) {
	toks := make([]llm.Token, len(req.Tokens))
	for i, t := range req.Tokens {
		toks[i] = llm.Token(t)
	}
	var out types.DetokenizeResponse
	err := m.withInstance(ctx, req.Model, func(inst *Instance) error {
		text, err := inst.sess.Detokenize(toks)
		out.Text = text
		return err
	})
	return out, err
}

// Embeddings returns the pooled embedding of the input text.
func (m *Manager) Embeddings(ctx context.Context, req types.EmbeddingsRequest) (types.EmbeddingsResponse, error) {
	var out types.EmbeddingsResponse
	err := m.withInstance(ctx, req.Model, func(inst *Instance) error {
		v, err := inst.sess.Embeddings(req.Input)
		if err != nil {
			return err
		}
		out = types.EmbeddingsResponse{Model: inst.ID, Embedding: v}
		return nil
	})
	return out, err
}

func adapterStatuses(in []engine.AdapterInfo) []types.AdapterStatus {
	out := make([]types.AdapterStatus, 0, len(in))
	for _, a := range in {
		out = append(out, types.AdapterStatus{ID: uint64(a.ID), Path: a.Path, Scale: a.Scale, Applied: a.Applied})
	}
	return out
}

func grammarStatuses(in []engine.GrammarInfo) []types.GrammarStatus {
	out := make([]types.GrammarStatus, 0, len(in))
	for _, g := range in {
		out = append(out, types.GrammarStatus{ID: uint64(g.ID), Root: g.Root, Size: g.Size})
	}
	return out
}

// ModelInfo loads the model if needed and describes it along with the
// adapters and grammars attached to its session.
func (m *Manager) ModelInfo(ctx context.Context, modelID string) (types.ModelInfoResponse, error) {
	var out types.ModelInfoResponse
	err := m.withInstance(ctx, modelID, func(inst *Instance) error {
		info, err := inst.sess.ModelInfo()
		if err != nil {
			return err
		}
		out = types.ModelInfoResponse{
			ID:           inst.ID,
			Architecture: info.Architecture,
			Description:  info.Description,
			VocabSize:    info.NVocab,
			TrainContext: info.NCtxTrain,
			Embedding:    info.NEmbd,
			Layers:       info.NLayer,
			SizeBytes:    info.SizeBytes,
			Vision:       info.Vision,
			Audio:        info.Audio,
			Adapters:     adapterStatuses(inst.sess.Adapters()),
			Grammars:     grammarStatuses(inst.sess.Grammars()),
		}
		return nil
	})
	return out, err
}
