package subscr

import (
	"fmt"
	"math"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog/log"
)

// Form accumulates the configuration of a registration. Setters mutate the
// form and return it for chaining. A form can be submitted once.
type Form struct {
	protocol     Protocol
	qos          QoS
	operations   event.OpCode
	port         int
	timeout      time.Duration
	name         string
	ipAddress    string
	grouping     GroupingClass
	groupingType GroupingType
	consumed     bool
}

// NewForm starts a registration delivered through p.
func NewForm(p Protocol) *Form {
	return &Form{protocol: p, groupingType: GroupingSummary}
}

func (f *Form) QoS(q QoS) *Form {
	f.qos = q
	return f
}

// Operations restricts notifications to the given operations. The empty set
// reports every operation.
func (f *Form) Operations(ops event.OpCode) *Form {
	f.operations = ops
	return f
}

// Port is the client port notifications are received on; 0 lets the server choose.
func (f *Form) Port(port int) *Form {
	f.port = port
	return f
}

// Timeout expires the registration after d, in whole seconds. Expiry is
// reported as a Deregister event. Zero never expires.
func (f *Form) Timeout(d time.Duration) *Form {
	f.timeout = d
	return f
}

func (f *Form) Name(name string) *Form {
	f.name = name
	return f
}

func (f *Form) IPAddress(addr string) *Form {
	f.ipAddress = addr
	return f
}

func (f *Form) GroupingClass(g GroupingClass) *Form {
	f.grouping = g
	return f
}

func (f *Form) GroupingType(t GroupingType) *Form {
	f.groupingType = t
	return f
}

// Submit registers the form with conn. The form is consumed whether or not
// registration succeeds. conn must stay open until the returned subscription
// is closed.
func (f *Form) Submit(conn dpi.Conn) (*Subscription, error) {
	if f.consumed {
		return nil, ErrFormConsumed
	}
	f.consumed = true

	ns := f.protocol.namespace.String()
	sub, err := f.submit(conn)
	if err != nil {
		telemetry.SubscriptionsTotal.With(ns, "failed").Inc()
		return nil, err
	}
	telemetry.SubscriptionsTotal.With(ns, "success").Inc()
	telemetry.ActiveSubscriptions.Inc()

	log.Debug().
		Str("name", sub.name).
		Str("namespace", ns).
		Str("protocol", f.protocol.kind.String()).
		Uint64("handle", uint64(sub.handle)).
		Msg("Subscription registered")
	return sub, nil
}

func (f *Form) submit(conn dpi.Conn) (*Subscription, error) {
	if !f.protocol.valid() {
		return nil, ErrNoProtocol
	}

	params, err := f.params()
	if err != nil {
		return nil, err
	}

	var box *callbackBox
	if f.protocol.InProcess() {
		cs, err := event.LookupCharset(conn.Charset())
		if err != nil {
			return nil, fmt.Errorf("connection charset: %w", err)
		}
		box = registerBox(f.protocol, cs)
		params.Callback = trampoline
		params.CallbackContext = box.token
	}

	handle, err := conn.Subscribe(&params)
	if err != nil {
		if box != nil {
			box.release()
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	return newSubscription(conn, handle, box, f.protocol, params.Name), nil
}

// params translates the form into a registration request.
func (f *Form) params() (dpi.SubscrCreateParams, error) {
	p := dpi.DefaultSubscrCreateParams()
	p.Namespace = f.protocol.namespace
	p.Protocol = f.protocol.kind
	p.RecipientName = f.protocol.recipient
	p.QoS = uint32(f.qos)
	p.Operations = f.operations.Bits()
	p.Name = f.name
	p.IPAddress = f.ipAddress

	port, err := toUint32("port", int64(f.port))
	if err != nil {
		return p, err
	}
	p.PortNumber = port

	timeout, err := seconds("timeout", f.timeout)
	if err != nil {
		return p, err
	}
	p.Timeout = timeout

	if !f.grouping.IsZero() {
		window, err := seconds("grouping window", f.grouping.window)
		if err != nil {
			return p, err
		}
		p.GroupingClass = dpi.GroupingClassTime
		p.GroupingValue = window
	}
	p.GroupingType = uint8(f.groupingType)
	return p, nil
}

func seconds(field string, d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, &ConversionError{Field: field, Value: int64(math.Floor(d.Seconds())), Limit: math.MaxUint32}
	}
	return toUint32(field, int64(d/time.Second))
}

func toUint32(field string, v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, &ConversionError{Field: field, Value: v, Limit: math.MaxUint32}
	}
	return uint32(v), nil
}
