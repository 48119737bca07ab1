// Package service implements the control plane's result, task and session services.
package service

import "errors"

// Errors are wrapped with details; handlers map them to status codes with errors.Is
var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	// ErrConflict marks an operation not allowed in the current state
	ErrConflict = errors.New("conflict")
)
