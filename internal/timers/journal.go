package timers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"
)

// LogRecord is the outcome of one job invocation. Records are never mutated.
type LogRecord struct {
	Name    string    `json:"name"`
	In      []any     `json:"in"`
	Out     any       `json:"out,omitempty"`
	Error   *JobError `json:"error,omitempty"`
	Created time.Time `json:"created"`
}

// Failed reports whether the invocation returned an error or panicked.
func (r LogRecord) Failed() bool { return r.Error != nil }

// JobError captures a failed invocation. Kind is "panic" for recovered
// panics, otherwise the Go type of the returned error.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e *JobError) Error() string { return e.Kind + ": " + e.Message }

func newJobError(err error) *JobError {
	return &JobError{Kind: fmt.Sprintf("%T", err), Message: err.Error()}
}

// callJob runs job inside a recover boundary.
func callJob(ctx context.Context, job Job, params []any) (out any, jerr *JobError) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			jerr = &JobError{Kind: "panic", Message: fmt.Sprint(r), Stack: string(debug.Stack())}
		}
	}()
	// Jobs get their own copy so the captured params stay intact.
	v, err := job(ctx, append([]any(nil), params...)...)
	if err != nil {
		return nil, newJobError(err)
	}
	return v, nil
}

type journal struct {
	mu      sync.Mutex
	records []LogRecord
}

func (j *journal) append(rec LogRecord) {
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
}

func (j *journal) snapshot() []LogRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]LogRecord, len(j.records))
	copy(out, j.records)
	return out
}

func (j *journal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// writeRecords writes one JSON document per line. Records whose params or
// output cannot be encoded fall back to Go syntax.
func writeRecords(w io.Writer, recs []LogRecord) error {
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			if _, err := fmt.Fprintf(w, "%+v\n", rec); err != nil {
				return err
			}
			continue
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}
