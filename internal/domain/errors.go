package domain

import "errors"

var (
	// ErrQueueFull is returned by action creation when the queue is at its
	// configured capacity.
	ErrQueueFull = errors.New("queue is at capacity")
	// ErrNoProcessor means no processor is registered for an action's type.
	// Fatal to that action; it fails without consuming retries.
	ErrNoProcessor = errors.New("no processor registered for action type")
	ErrActionNotFound = errors.New("action not found")
	// ErrNotCancellable: only QUEUED actions can be cancelled. An in-flight
	// processor is not preemptible.
	ErrNotCancellable = errors.New("action is not in a cancellable state")
	// ErrNotRetryable: only FAILED actions can be retried.
	ErrNotRetryable = errors.New("action is not in a retryable state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("queue manager is closed")
)
