package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by the scope it affects.
type ErrorKind string

const (
	// KindRecognition is page or zone scoped and never fatal.
	KindRecognition ErrorKind = "recognition_failure"
	// KindAction aborts the current document pair only.
	KindAction ErrorKind = "action_failure"
	// KindExport is scoped to a single export destination.
	KindExport ErrorKind = "export_failure"
	// KindPairingTimeout marks a pair emitted without its sidecar.
	KindPairingTimeout ErrorKind = "pairing_timeout"
	// KindConfigReload leaves the previous snapshot active.
	KindConfigReload ErrorKind = "config_reload_failure"
	// KindTransport is scoped to one control-plane connection.
	KindTransport ErrorKind = "transport_failure"
)

var (
	ErrRecognitionFailed = errors.New("recognition failed")
	ErrActionFailed      = errors.New("action failed")
	ErrExportFailed      = errors.New("export failed")
	ErrPairingTimeout    = errors.New("sidecar did not arrive in time")
	ErrConfigReload      = errors.New("configuration reload failed")
	ErrTransport         = errors.New("control channel transport failed")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrObjectExists      = errors.New("destination object already exists")
)

var kindSentinels = map[ErrorKind]error{
	KindRecognition:    ErrRecognitionFailed,
	KindAction:         ErrActionFailed,
	KindExport:         ErrExportFailed,
	KindPairingTimeout: ErrPairingTimeout,
	KindConfigReload:   ErrConfigReload,
	KindTransport:      ErrTransport,
}

// PipelineError carries the kind and the operation that failed.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel for the error's kind.
func (e *PipelineError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewError wraps err with a kind and operation.
func NewError(kind ErrorKind, op string, err error) error {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, defaulting to KindAction for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ce *ConfigValidationError
	if errors.As(err, &ce) {
		return KindConfigReload
	}
	return KindAction
}

// ConfigValidationError reports a configuration value that failed strict
// parsing or validation.
type ConfigValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration %s=%q: %s", e.Field, e.Value, e.Reason)
}
