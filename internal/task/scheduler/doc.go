// Package scheduler provides the trigger primitives used by the timer registry.
//
// It offers two kinds of named triggers, both cancelled through the func they
// return:
//   - Every: repeating trigger backed by a robfig/cron entry with a
//     millisecond-resolution schedule
//   - After: one-shot trigger backed by time.AfterFunc
//
// The scheduler only fires callbacks. Execution of the actual job belongs to
// the caller (the registry hands invocations to internal/task/engine).
package scheduler
