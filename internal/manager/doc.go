// Package manager owns the single model session and the worker process behind
// it. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor helpers, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: session state and the per-worker session record.
//   - errors.go: error values, error types and the Is* predicates.
//   - create.go: Create, including reuse of a worker with equal options.
//   - destroy.go: Destroy and the crash watcher.
//   - prompt.go: unary and streaming prompts, reply correlation.
//   - status_report.go: Status for /status.
//
// Cross-process operations race the worker's reply against a timeout, the
// worker's exit and the caller's context. Unary replies carry no request id:
// at most one unary prompt is outstanding, the worker answers in arrival
// order, and replies owed to callers that gave up are counted and dropped.
package manager
