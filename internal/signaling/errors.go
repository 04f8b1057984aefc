package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrReceiverNotFound = errors.New("receiver not connected")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrPeerClosed       = errors.New("peer closed")
)

// ProtocolError reports an inbound message that could not be decoded or is
// missing a required field. The message is dropped and the sender is told
// about it with an "error" event; the connection stays open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string { return e.Code + ": " + e.Message }

func badMessage(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: "bad_message", Message: fmt.Sprintf(format, args...)}
}

// DeliveryError reports an outbound event that could not be handed to its
// target. Delivery is best-effort, so these are logged and counted but never
// reported back to the sender.
type DeliveryError struct {
	PeerID string
	Type   MessageType
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %q: %v", e.Type, e.PeerID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
