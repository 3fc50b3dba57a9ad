package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("engine: not found")
	ErrInvalidInput = errors.New("engine: invalid input")
	// ErrEmptyMessage is returned for a send with nothing to send.
	ErrEmptyMessage = errors.New("engine: empty message")
	ErrClosed       = errors.New("engine: closed")
)

// OpError reports which API operation failed and why.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e *OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *OpError) Unwrap() error { return e.Kind }

func opErr(op string, kind error, format string, args ...any) error {
	return &OpError{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err names a message, dialog or pending send that does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err was caused by bad arguments.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func IsEmptyMessage(err error) bool { return errors.Is(err, ErrEmptyMessage) }
