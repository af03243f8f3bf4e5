// Package errors defines error types for the QQ bridge.
//
// This package provides structured error types that wrap the failure
// scenarios around spawning and talking to the local Claude CLI process.
// All error types support error unwrapping and can be checked using
// errors.Is and errors.As.
package errors
