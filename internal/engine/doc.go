// Package engine orchestrates on-device generation against an llm runtime.
//
// A Session owns one loaded model, its single decode context, an optional
// multimodal encoder, and the LoRA adapters and grammars registered on it.
// Complete and CompleteStream turn a Request into tokenize, decode and
// sample calls; both share one loop and differ only in where pieces go.
//
// A Session is not safe for concurrent use. Callers serialize access; the
// manager package does this with its admission queue.
package engine
