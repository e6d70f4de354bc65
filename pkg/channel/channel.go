// Package channel abstracts the outbound messaging transport used to deliver
// automation messages to leads.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// SendResult carries the transport's acknowledgement of one outbound message.
type SendResult struct {
	MessageID string
}

// Adapter is the external messaging transport. Implementations deliver one
// message per Send call; there is no delivery-receipt feedback loop beyond
// the returned error.
type Adapter interface {
	Send(ctx context.Context, destination, text string) (*SendResult, error)
}

// ErrSendFailed is the sentinel all transport failures wrap.
var ErrSendFailed = errors.New("channel send failed")

// SendError wraps a transport failure with the destination for logs and
// stored failure reasons.
type SendError struct {
	Destination string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Destination, e.Err)
}

func (e *SendError) Unwrap() error {
	return ErrSendFailed
}

// IsSendError checks whether an error originated in the channel transport.
func IsSendError(err error) bool {
	return errors.Is(err, ErrSendFailed)
}
