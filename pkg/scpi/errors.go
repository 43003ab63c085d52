package scpi

import (
	"fmt"
	"sync"
)

// Standard SCPI error codes used by the instrument.
const (
	CodeCommandError     = -100
	CodeSyntaxError      = -102
	CodeUndefinedHeader  = -113
	CodeSuffixOutOfRange = -114
	CodeDataOutOfRange   = -222
	CodeIllegalParameter = -224
	CodeDataStale        = -230
	CodeHardwareMissing  = -241
	CodeDeviceError      = -300
)

// Error is a protocol-level failure surfaced to the client and queued for
// SYSTem:ERRor?.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d,%q", e.Code, e.Message)
}

func newError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorQueueCapacity bounds the error queue; the oldest entry is evicted
// when a new error arrives at capacity, so the newest is never dropped.
const ErrorQueueCapacity = 10

// ErrorQueue is the FIFO error queue shared by the parser and dispatcher.
type ErrorQueue struct {
	mu      sync.Mutex
	entries []*Error
}

// NewErrorQueue creates an empty error queue.
func NewErrorQueue() *ErrorQueue {
	return &ErrorQueue{}
}

// Add appends an error, evicting the oldest entry at capacity.
func (q *ErrorQueue) Add(e *Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= ErrorQueueCapacity {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, e)
}

// Pop removes and formats the oldest entry, or reports no error.
func (q *ErrorQueue) Pop() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return `0,"No error"`
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return fmt.Sprintf("%d,%q", e.Code, e.Message)
}

// Len returns the number of queued errors.
func (q *ErrorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear empties the queue (*CLS).
func (q *ErrorQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
