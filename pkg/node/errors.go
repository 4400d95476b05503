package node

import "errors"

// Package-level errors.
var (
	// ErrAlreadyStarted is returned when Start() is called on a running node.
	ErrAlreadyStarted = errors.New("node: already started")

	// ErrNotStarted is returned when Stop() is called on a node that is not running.
	ErrNotStarted = errors.New("node: not started")

	// ErrAlreadyStopped is returned when Stop() is called on a stopped node.
	ErrAlreadyStopped = errors.New("node: already stopped")

	// ErrUUIDRequired is returned when the device UUID is unset.
	ErrUUIDRequired = errors.New("node: device UUID is required")

	// ErrTransportRequired is returned when no transport factory is configured.
	ErrTransportRequired = errors.New("node: transport factory is required")
)
