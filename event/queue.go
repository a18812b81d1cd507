package event

import (
	"fmt"

	"github.com/maxpert/cqnwatch/dpi"
)

// QueueEventType is the kind of a queue notification.
type QueueEventType uint8

const (
	MessageArrived QueueEventType = iota + 1
	QueueDeregister
)

func (t QueueEventType) String() string {
	switch t {
	case MessageArrived:
		return "MessageArrived"
	case QueueDeregister:
		return "Deregister"
	default:
		return fmt.Sprintf("QueueEventType(%d)", uint8(t))
	}
}

// QueueEvent is a decoded message-queue notification. Names are borrowed
// from the message buffers.
type QueueEvent struct {
	eventType    QueueEventType
	queueName    Str
	consumerName Str
	registered   bool
}

func (e *QueueEvent) EventType() QueueEventType { return e.eventType }
func (e *QueueEvent) QueueName() string         { return e.queueName.String() }
func (e *QueueEvent) ConsumerName() string      { return e.consumerName.String() }
func (e *QueueEvent) Registered() bool          { return e.registered }

// DecodeQueue decodes a queue notification.
func DecodeQueue(msg *dpi.SubscrMessage, cs Charset) (*QueueEvent, error) {
	if msg.ErrorInfo != nil {
		return nil, &EmbeddedMessageError{Err: dpi.ErrorFromInfo(msg.ErrorInfo)}
	}
	var kind QueueEventType
	switch msg.EventType {
	case dpi.EventAQ:
		kind = MessageArrived
	case dpi.EventDereg:
		kind = QueueDeregister
	default:
		return nil, &UnsupportedEventKindError{Namespace: dpi.NamespaceAQ, Kind: msg.EventType}
	}
	return &QueueEvent{
		eventType:    kind,
		queueName:    cs.view(msg.QueueName, msg.QueueNameLength),
		consumerName: cs.view(msg.ConsumerName, msg.ConsumerNameLength),
		registered:   msg.Registered != 0,
	}, nil
}

// Clone returns a copy that does not alias any message buffer.
func (e *QueueEvent) Clone() *QueueEvent {
	out := *e
	out.queueName = e.queueName.Clone()
	out.consumerName = e.consumerName.Clone()
	return &out
}

func (e *QueueEvent) String() string {
	return fmt.Sprintf("%s queue=%q consumer=%q registered=%t", e.eventType, e.queueName, e.consumerName, e.registered)
}
