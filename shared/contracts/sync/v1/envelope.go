// Package v1 defines the chatsync RPC protocol v1 contract.
//
// It is shared between the sync engine's transport and any server (or test double) speaking the protocol,
// which keeps the wire format authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated on dial.
const Subprotocol = "chatsync.rpc.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeInvoke carries one RPC call (client -> server).
	TypeInvoke = "rpc_invoke"
	// TypeResult carries the result of an RPC call (server -> client).
	TypeResult = "rpc_result"
	// TypeError carries an RPC failure (server -> client).
	TypeError = "rpc_error"

	// TypeUpdates pushes a batch of updates (server -> client).
	TypeUpdates = "updates"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeUpdates:
		return nil
	case TypeInvoke, TypeResult, TypeError:
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("missing field: id (type %s)", e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	ClientID string `json:"client_id,omitempty"`
}

// HelloAckPayload confirms the session and names the account the session acts for.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	SelfID    int64  `json:"self_id"`
}

// InvokePayload is one RPC call. AfterID asks the server to run it only after the
// call with that envelope id has completed.
type InvokePayload struct {
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	AfterID string          `json:"after_id,omitempty"`
}

// ResultPayload is the successful result of the call with the same envelope id.
type ResultPayload struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// ErrorPayload is the failure of the call with the same envelope id.
// Type is a stable upper-case code such as "FLOOD_WAIT_3" or "MESSAGE_NOT_MODIFIED".
type ErrorPayload struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
