// Package manager hosts one engine session per model id and coordinates
// lifecycle, admission and inference for them. It is structured into small
// files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, Instance, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, ...).
//   - helpers.go: small utilities (registry lookup, VRAM estimation).
//   - queue_admission.go: per-instance queueing and generation admission.
//   - instance_ensure.go: EnsureInstance loading with de-duplicated concurrent loads.
//   - evict.go: eviction logic to fit within VRAM budget.
//   - unload.go: draining unload and Close.
//   - inference.go: Complete and the NDJSON streaming Infer.
//   - request.go: mapping of API requests onto engine requests.
//   - session_ops.go: tokenize, detokenize, embeddings, model info.
//   - handles.go: LoRA adapters and registered grammars.
//   - ops.go: async loads addressed by operation id.
//   - lru_persist.go: last-used metadata for warm restarts.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - sanity.go: runtime and registry file checks.
//   - events.go, eventpub_memory.go: lifecycle event publishers.
//
// An engine session is not safe for concurrent use. Every call that touches
// one goes through the instance's admission slot, so at most one operation
// runs per instance while others wait in a bounded FIFO queue.
package manager
