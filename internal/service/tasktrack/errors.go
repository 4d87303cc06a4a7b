package tasktrack

import "errors"

// ErrNotFound is returned when no task exists for a given key.
var ErrNotFound = errors.New("campaign task not found")

// ErrInvalidTransition is returned when a status change violates the task
// state machine.
var ErrInvalidTransition = errors.New("invalid task status transition")

// ErrIncomplete is returned by the completeness check when per-page success
// events do not cover the recorded page count.
var ErrIncomplete = errors.New("page success events do not match recorded page count")
