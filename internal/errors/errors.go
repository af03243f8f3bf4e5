package errors

import (
	"errors"
	"fmt"
	"strings"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*IOError)(nil)
	_ BridgeError = (*ConfigError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrManagerClosed indicates the session manager has been closed and
	// no longer accepts requests.
	ErrManagerClosed = errors.New("session manager closed")

	// ErrEmptyCommand indicates the spawn command has no executable.
	ErrEmptyCommand = errors.New("spawn command is empty")

	// ErrStdinClosed indicates the child's stdin pipe is already closed.
	ErrStdinClosed = errors.New("stdin closed")
)

// SpawnError indicates the child process could not be started.
// It is fatal for the request that triggered the spawn and is not
// retried internally.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %v: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// IOError indicates a write or read against a process stream that turned
// out to be closed. The session manager treats it like a dead process and
// replaces the session once before surfacing it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("process %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *IOError) IsBridgeError() bool { return true }

// ConfigError aggregates every configuration problem found at startup so
// the operator sees the full list at once instead of one failure per run.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "configuration validation failed:\n- " + strings.Join(e.Problems, "\n- ")
}

// IsBridgeError implements BridgeError.
func (e *ConfigError) IsBridgeError() bool { return true }
