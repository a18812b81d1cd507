package event

import (
	"errors"
	"fmt"

	"github.com/maxpert/cqnwatch/dpi"
)

// ErrUnsupportedEventKind matches every UnsupportedEventKindError.
var ErrUnsupportedEventKind = errors.New("unsupported subscription event kind")

// UnsupportedEventKindError is returned when a message carries an event-kind
// code this package does not recognize for the namespace it was decoded in.
type UnsupportedEventKindError struct {
	Namespace dpi.Namespace
	Kind      dpi.EventType
}

func (e *UnsupportedEventKindError) Error() string {
	return fmt.Sprintf("unsupported subscription event kind %d for namespace %s", e.Kind, e.Namespace)
}

func (e *UnsupportedEventKindError) Is(target error) bool {
	return target == ErrUnsupportedEventKind
}

// EmbeddedMessageError carries the error record attached to a notification
// whose delivery failed on the server side.
type EmbeddedMessageError struct {
	Err *dpi.Error
}

func (e *EmbeddedMessageError) Error() string {
	return fmt.Sprintf("notification carries server error: %v", e.Err)
}

func (e *EmbeddedMessageError) Unwrap() error {
	return e.Err
}
