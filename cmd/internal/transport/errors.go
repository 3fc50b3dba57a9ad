package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrDisconnected is returned by calls whose connection dropped before the answer arrived.
	ErrDisconnected = errors.New("transport: disconnected")
)

// Well-known error types.
const (
	TypeFloodWaitPrefix    = "FLOOD_WAIT_"
	TypeTimeout            = "TIMEOUT"
	TypeMessageNotModified = "MESSAGE_NOT_MODIFIED"
	TypeMessageEmpty       = "MESSAGE_EMPTY"
	TypeChannelPrivate     = "CHANNEL_PRIVATE"
	TypeMessageIDInvalid   = "MESSAGE_ID_INVALID"
)

// RPCError is a failure answered by the server.
type RPCError struct {
	Code    int
	Type    string
	Message string
	// Handled is set once a caller dealt with the error so upper layers stay quiet.
	Handled bool
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rpc: %d %s", e.Code, e.Type)
	}
	return fmt.Sprintf("rpc: %d %s: %s", e.Code, e.Type, e.Message)
}

// Transient reports whether retrying the same call may succeed.
func (e *RPCError) Transient() bool {
	if e == nil {
		return false
	}
	return e.Code == 420 || e.Code >= 500 || e.Type == TypeTimeout || strings.HasPrefix(e.Type, TypeFloodWaitPrefix)
}

// FloodWait returns the pause the server asked for, or 0.
func (e *RPCError) FloodWait() time.Duration {
	if e == nil || !strings.HasPrefix(e.Type, TypeFloodWaitPrefix) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(e.Type, TypeFloodWaitPrefix))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// AsRPCError extracts an *RPCError from err.
func AsRPCError(err error) (*RPCError, bool) {
	var e *RPCError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType reports whether err is an RPCError of type typ.
func IsType(err error, typ string) bool {
	e, ok := AsRPCError(err)
	return ok && e.Type == typ
}

// IsTransient reports whether err may go away on retry.
func IsTransient(err error) bool {
	if errors.Is(err, ErrDisconnected) {
		return true
	}
	e, ok := AsRPCError(err)
	return ok && e.Transient()
}
