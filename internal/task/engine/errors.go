package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped   = errors.New("task engine stopped")
	ErrStopping  = errors.New("task engine stopping")
	ErrQueueFull = errors.New("task engine queue full")
)

// PanicError is returned for a task whose Run panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return "panic: " + fmt.Sprint(e.Value) }
