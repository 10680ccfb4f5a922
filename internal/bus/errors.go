package bus

import (
	"errors"
	"fmt"

	"rate-throttler/internal/model"
)

var (
	ErrClosed        = errors.New("bus: closed")
	ErrMailboxClosed = errors.New("bus: mailbox closed")
	ErrNotComparable = errors.New("bus: subscriber type is not comparable")
)

// DeliveryError describes a subscriber that failed to process an update.
type DeliveryError struct {
	SubscriptionID string
	Update         model.Update
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("bus: subscription %s failed on %s: %v", e.SubscriptionID, e.Update, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking subscriber.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("subscriber panic: %v", e.Value)
}
