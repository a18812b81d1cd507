package subscr

import (
	"errors"
	"fmt"
)

var (
	// ErrFormConsumed is returned by Submit on a form that was already submitted
	ErrFormConsumed = errors.New("subscription form already submitted")

	// ErrSubscriptionClosed is returned by operations on a closed subscription
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrNoProtocol is returned by Submit on a form built without a protocol
	ErrNoProtocol = errors.New("subscription form has no protocol")

	// ErrConversion matches every ConversionError
	ErrConversion = errors.New("value does not fit the registration field")
)

// ConversionError reports a configured value that does not fit the integer
// width of the registration request
type ConversionError struct {
	Field string
	Value int64
	Limit uint64
}

func (e *ConversionError) Error() string {
	if e.Value < 0 {
		return fmt.Sprintf("%s: negative value %d", e.Field, e.Value)
	}
	return fmt.Sprintf("%s: %d exceeds limit %d", e.Field, e.Value, e.Limit)
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

// CallbackPanicError records a user callback that panicked during delivery
type CallbackPanicError struct {
	Token uintptr
	Value any
	Stack []byte
}

func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("subscription callback %d panicked: %v", e.Token, e.Value)
}
