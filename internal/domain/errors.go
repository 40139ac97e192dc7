// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrValidation indicates malformed or missing request input.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates a missing or invalid request signature
// while authentication is enabled.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidThreadID indicates a thread identifier that fails the shape check.
var ErrInvalidThreadID = errors.New("invalid thread id")

// ErrUnknownAgent indicates an agent kind outside the registered set.
var ErrUnknownAgent = errors.New("unknown agent kind")

// ErrUpstream indicates the remote agent gateway was unreachable or
// answered outside its contract.
var ErrUpstream = errors.New("agent gateway unavailable")

// ErrAgent indicates the remote agent reported an explicit failure.
// Wrap it with the agent's own message.
var ErrAgent = errors.New("agent error")

// ErrTimeout indicates a bridge or task deadline elapsed before a result.
var ErrTimeout = errors.New("timeout waiting for response")

// ErrTaskNotFound indicates the task is neither active nor retained.
var ErrTaskNotFound = errors.New("task not found")

// ErrAlreadyTerminal indicates a cancel request against a finished task.
// Callers report the existing terminal status rather than failing.
var ErrAlreadyTerminal = errors.New("task already terminal")

// ErrBusy indicates the dispatch concurrency cap has been reached.
var ErrBusy = errors.New("too many active tasks")
