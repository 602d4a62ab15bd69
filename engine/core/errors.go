package core

import (
	"errors"
	"fmt"
)

var (
	ErrSurfaceOutOfDate      = errors.New("presentable surface out of date")
	ErrNullHandle            = errors.New("device returned a null handle")
	ErrMissingShaderGroup    = errors.New("required shader group handle is missing")
	ErrInvalidExtent         = errors.New("framebuffer extent is zero")
	ErrRayTracingUnsupported = errors.New("device does not expose ray tracing entry points")
	ErrUnknown               = errors.New("unknown")
)

// FatalError marks a failure the frame loop cannot recover from. It is
// returned up to the process boundary untouched.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError for operation op and logs it.
// A nil err yields nil.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	fe = &FatalError{Op: op, Err: err}
	LogError(fe.Error())
	return fe
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
