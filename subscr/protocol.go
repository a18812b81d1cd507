package subscr

import (
	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
)

// ChangeHandler receives database change notifications. The event is only
// valid until the handler returns; call Clone to keep it.
type ChangeHandler func(*event.ChangeEvent, error)

// QueueHandler receives message queue notifications.
type QueueHandler func(*event.QueueEvent, error)

// Protocol is the delivery mechanism of a subscription. Exactly one variant
// is chosen per form; the zero value is not a valid protocol.
type Protocol struct {
	namespace dpi.Namespace
	kind      dpi.Protocol
	recipient string
	onChange  ChangeHandler
	onQueue   QueueHandler
}

// ChangeCallback delivers database changes in process to fn.
func ChangeCallback(fn ChangeHandler) Protocol {
	return Protocol{namespace: dpi.NamespaceDBChange, kind: dpi.ProtoCallback, onChange: fn}
}

// ChangeMail delivers database changes by mail to address.
func ChangeMail(address string) Protocol {
	return Protocol{namespace: dpi.NamespaceDBChange, kind: dpi.ProtoMail, recipient: address}
}

// ChangeStoredProcedure delivers database changes to a server side procedure.
func ChangeStoredProcedure(name string) Protocol {
	return Protocol{namespace: dpi.NamespaceDBChange, kind: dpi.ProtoPLSQL, recipient: name}
}

// ChangeHTTP delivers database changes to an HTTP endpoint.
func ChangeHTTP(url string) Protocol {
	return Protocol{namespace: dpi.NamespaceDBChange, kind: dpi.ProtoHTTP, recipient: url}
}

// QueueCallback delivers queue arrivals in process to fn.
func QueueCallback(fn QueueHandler) Protocol {
	return Protocol{namespace: dpi.NamespaceAQ, kind: dpi.ProtoCallback, onQueue: fn}
}

// QueueMail delivers queue arrivals by mail to address.
func QueueMail(address string) Protocol {
	return Protocol{namespace: dpi.NamespaceAQ, kind: dpi.ProtoMail, recipient: address}
}

// QueueStoredProcedure delivers queue arrivals to a server side procedure.
func QueueStoredProcedure(name string) Protocol {
	return Protocol{namespace: dpi.NamespaceAQ, kind: dpi.ProtoPLSQL, recipient: name}
}

// QueueHTTP delivers queue arrivals to an HTTP endpoint.
func QueueHTTP(url string) Protocol {
	return Protocol{namespace: dpi.NamespaceAQ, kind: dpi.ProtoHTTP, recipient: url}
}

func (p Protocol) Namespace() dpi.Namespace { return p.namespace }
func (p Protocol) Kind() dpi.Protocol       { return p.kind }

// Recipient is the address of an out-of-process protocol, empty for callbacks.
func (p Protocol) Recipient() string { return p.recipient }

// InProcess reports whether notifications are delivered to a Go callback.
func (p Protocol) InProcess() bool { return p.kind == dpi.ProtoCallback }

func (p Protocol) valid() bool {
	switch p.namespace {
	case dpi.NamespaceDBChange:
		if p.kind == dpi.ProtoCallback {
			return p.onChange != nil
		}
	case dpi.NamespaceAQ:
		if p.kind == dpi.ProtoCallback {
			return p.onQueue != nil
		}
	default:
		return false
	}
	return p.recipient != ""
}
