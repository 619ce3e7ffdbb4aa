package manager

import (
	"context"
	"io"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"localinfer/internal/engine"
	"localinfer/pkg/types"
)

func response(id, model string, res engine.Result) types.CompleteResponse {
	return types.CompleteResponse{
		ID:           id,
		Model:        model,
		Content:      res.Text,
		FinishReason: string(res.StopReason),
		Usage: types.Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.GeneratedTokens,
			TotalTokens:      res.PromptTokens + res.GeneratedTokens,
		},
		DurationMS: res.Duration.Milliseconds(),
	}
}

// Complete runs one blocking generation on the requested model.
func (m *Manager) Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error) {
	ereq, err := m.engineRequest(req)
	if err != nil {
		return types.CompleteResponse{}, err
	}
	var out types.CompleteResponse
	err = m.withInstance(ctx, req.Model, func(inst *Instance) error {
		res, err := inst.sess.Complete(ctx, ereq)
		if err != nil {
			return err
		}
		out = response(uuid.NewString(), inst.ID, res)
		return nil
	})
	return out, err
}

// Infer streams a generation as NDJSON: one types.TokenLine per emitted
// piece, then a types.CompleteResponse line with Done set. Errors raised
// before anything was written are returned for the caller to map; after
// that they are reported as a final error line.
func (m *Manager) Infer(ctx context.Context, req types.CompleteRequest, w io.Writer, flusher func()) error {
	ereq, err := m.engineRequest(req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	flush := func() {
		if flusher != nil {
			flusher()
		}
	}
	wrote := false
	return m.withInstance(ctx, req.Model, func(inst *Instance) error {
		id := uuid.NewString()
		sink := engine.SinkFunc(func(piece string) error {
			if err := enc.Encode(types.TokenLine{Token: piece}); err != nil {
				return err
			}
			wrote = true
			flush()
			return nil
		})
		res, err := inst.sess.CompleteStream(ctx, ereq, sink)
		if err != nil {
			if !wrote {
				return err
			}
			kind := engine.KindOf(err)
			_ = enc.Encode(types.ErrorResponse{Error: err.Error(), Code: kind.Code(), Kind: kind.String()})
			flush()
			m.log.Warn().Err(err).Str("model", inst.ID).Int("generated", res.GeneratedTokens).Msg("stream aborted")
			return streamAbortedError{err: err}
		}
		final := response(id, inst.ID, res)
		final.Content = ""
		final.Done = true
		if err := enc.Encode(final); err != nil {
			return err
		}
		flush()
		return nil
	})
}
