// Package sched implements Virtual Token Counter (VTC) fair scheduling for an
// LLM serving engine.
//
// # Reading Guide
//
//   - request.go: Request lifecycle (waiting → prefilling → decoding → done)
//   - counter.go: the per-client counter ledger (lift, charge, rebase)
//   - batch_formation.go: basic and chunked (vtc-sarathi) batch composition
//   - scheduler.go: the tick loop that ties intake, formation, the engine and
//     accounting together
//
// # Architecture
//
// The scheduler only composes batches and keeps the books. Execution and KV
// memory are behind two small interfaces implemented elsewhere:
//   - ExecutionEngine: runs a Batch, returns a CompletionReport
//   - CapacityProvider: free KV blocks and block size
//
// Sub-packages:
//   - sched/engine/: a simulated engine with an alpha/beta step-time model and a block allocator
//   - sched/workload/: multi-client workload generation from a YAML spec
//   - sched/trace/: decision trace recording
//   - sched/telemetry/: Prometheus export
package sched
