// Package backend speaks the Electrum protocol: it encodes batched history
// and transaction requests with correlation ids, validates responses, and
// carries them over a duplex transport.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrInvalidRequestID   = errors.New("invalid request id")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the transport type.
type Type string

const (
	TypeWebSocket Type = "websocket" // JSON batches over a WebSocket channel
	TypeElectrum  Type = "electrum"  // Direct Electrum TCP/TLS connection
)

// ParseType parses a transport type name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeWebSocket, "ws":
		return TypeWebSocket, nil
	case TypeElectrum, "tcp":
		return TypeElectrum, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// Transport is a duplex message channel to an Electrum server.
//
// Send writes a batch of requests without waiting for answers. Responses
// arrive on Messages as raw frames, each holding one response or a batch of
// them, correlated by id. Messages is closed when the transport gives up or
// is closed.
//
// Every connection has a generation, starting at 1 and increasing with each
// redial. Send returns the generation of the connection that carried the
// batch. Reconnects receives the generation of each re-established
// connection; requests sent on older generations will never be answered.
// The notice is not ordered with Messages: frames from the old connection
// may still arrive after it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, batch []Request) (uint64, error)
	Messages() <-chan []byte
	Reconnects() <-chan uint64
	Close() error
}
