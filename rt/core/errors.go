package core

import (
	"errors"
	"fmt"
)

// ErrSlotExhausted is returned when a fixed-capacity pool or a transient
// buffer runs out of room. It indicates a sizing mistake in configuration.
var ErrSlotExhausted = errors.New("ran out of slots")

// LookupError reports an asset key that is not present in the database.
type LookupError struct {
	Key string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("could not find requested entry %q in database", e.Key)
}

// LoadingError reports an asset whose backing file is missing or malformed.
type LoadingError struct {
	Key  string
	Path string
	Err  error
}

func (e *LoadingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load entry %q from %s: %v", e.Key, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load entry %q from %s", e.Key, e.Path)
}

func (e *LoadingError) Unwrap() error { return e.Err }

// GPUErrorKind separates failures worth retrying next frame from ones that
// leave the device unusable.
type GPUErrorKind int

const (
	GPUFatal GPUErrorKind = iota
	GPUTransient
)

func (k GPUErrorKind) String() string {
	switch k {
	case GPUTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// GPUError wraps a backend failure with the operation that produced it.
type GPUError struct {
	Op   string
	Kind GPUErrorKind
	Err  error
}

func (e *GPUError) Error() string {
	return fmt.Sprintf("gpu %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GPUError) Unwrap() error { return e.Err }

// Fatal wraps err as an unrecoverable backend failure.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &GPUError{Op: op, Kind: GPUFatal, Err: err}
}

// Transient wraps err as a failure that may succeed on a later frame.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &GPUError{Op: op, Kind: GPUTransient, Err: err}
}

// IsTransient reports whether err carries a transient GPUError.
func IsTransient(err error) bool {
	var ge *GPUError
	return errors.As(err, &ge) && ge.Kind == GPUTransient
}
