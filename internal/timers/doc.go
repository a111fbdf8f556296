// Package timers implements a registry of named timers.
//
// A Registry owns an ordered list of entries. Each entry pairs a validated
// Definition (name, delay, interval flag, job) with the params captured at
// Add time and, while Active, a handle to a live trigger obtained from a
// Scheduler. Lifecycle:
//
//	Add     -> entry appended, Inactive
//	Start   -> every Inactive entry becomes Active; watchdog (re)armed
//	Pause   -> Active -> Inactive (definition kept)
//	Resume  -> Inactive -> Active
//	Stop    -> every Active entry becomes Inactive
//	Remove  -> Pause, then delete if Pause returned an index
//
// One-shot entries fall back to Inactive on their own after firing.
//
// The watchdog armed by Start fires once at max(delay)+grace and removes
// every entry by name. Remove only deletes entries that were Active, so an
// entry paused before the watchdog fires survives it.
//
// Every job invocation appends one LogRecord to the registry's journal. Job
// errors and panics are captured there and never escape the registry.
package timers
