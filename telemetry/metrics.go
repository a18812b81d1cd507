package telemetry

// DeliveryBuckets for callback latency (decode + user callback)
var DeliveryBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Subscription metrics
var (
	// SubscriptionsTotal counts submit attempts by namespace and result (success, failed)
	SubscriptionsTotal CounterVec = noopCounterVec{}

	// ActiveSubscriptions tracks live registrations held by this process
	ActiveSubscriptions Gauge = NoopStat{}

	// QueriesRegisteredTotal counts SetQuery calls by result (success, failed)
	QueriesRegisteredTotal CounterVec = noopCounterVec{}

	// NotificationsTotal counts notifications handed to callbacks by event kind
	NotificationsTotal CounterVec = noopCounterVec{}

	// NotificationErrorsTotal counts notifications delivered as errors by reason
	// (embedded, unsupported_kind)
	NotificationErrorsTotal CounterVec = noopCounterVec{}

	// NotificationsDroppedTotal counts notifications for released or deregistered tokens
	NotificationsDroppedTotal Counter = NoopStat{}

	// CallbackPanicsTotal counts user callbacks that panicked
	CallbackPanicsTotal Counter = NoopStat{}

	// CallbackDurationSeconds measures decode + callback time by namespace
	CallbackDurationSeconds HistogramVec = noopHistogramVec{}
)

// Embedded server metrics
var (
	// ServerRegistrations tracks registrations held by the embedded server
	ServerRegistrations Gauge = NoopStat{}

	// ServerOpenStatements tracks statement handles not yet released
	ServerOpenStatements Gauge = NoopStat{}

	// ServerNotificationsTotal counts messages sent by protocol
	ServerNotificationsTotal CounterVec = noopCounterVec{}

	// ServerDeliveryFailuresTotal counts out-of-process deliveries that failed by protocol
	ServerDeliveryFailuresTotal CounterVec = noopCounterVec{}
)

// Relay metrics
var (
	// RelayAppendedTotal counts records appended to the relay journal
	RelayAppendedTotal Counter = NoopStat{}

	// RelayPublishedTotal counts records published by sink
	RelayPublishedTotal CounterVec = noopCounterVec{}

	// RelayFailuresTotal counts failed publish attempts by sink
	RelayFailuresTotal CounterVec = noopCounterVec{}
)

// InitMetrics replaces the no-op metrics with Prometheus-backed ones.
func InitMetrics() {
	SubscriptionsTotal = NewCounterVec(
		"subscriptions_total",
		"Subscription submit attempts",
		[]string{"namespace", "result"},
	)
	ActiveSubscriptions = NewGauge(
		"active_subscriptions",
		"Live subscriptions held by this process",
	)
	QueriesRegisteredTotal = NewCounterVec(
		"queries_registered_total",
		"Queries registered against subscriptions",
		[]string{"result"},
	)
	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Notifications delivered to callbacks",
		[]string{"kind"},
	)
	NotificationErrorsTotal = NewCounterVec(
		"notification_errors_total",
		"Notifications delivered to callbacks as errors",
		[]string{"reason"},
	)
	NotificationsDroppedTotal = NewCounter(
		"notifications_dropped_total",
		"Notifications received for released or deregistered subscriptions",
	)
	CallbackPanicsTotal = NewCounter(
		"callback_panics_total",
		"User callbacks that panicked during delivery",
	)
	CallbackDurationSeconds = NewHistogramVec(
		"callback_duration_seconds",
		"Decode and callback time",
		[]string{"namespace"},
		DeliveryBuckets,
	)

	ServerRegistrations = NewGauge(
		"server_registrations",
		"Registrations held by the embedded notification server",
	)
	ServerOpenStatements = NewGauge(
		"server_open_statements",
		"Statement handles not yet released",
	)
	ServerNotificationsTotal = NewCounterVec(
		"server_notifications_total",
		"Messages sent by the embedded notification server",
		[]string{"protocol"},
	)
	ServerDeliveryFailuresTotal = NewCounterVec(
		"server_delivery_failures_total",
		"Out-of-process deliveries that failed",
		[]string{"protocol"},
	)

	RelayAppendedTotal = NewCounter(
		"relay_appended_total",
		"Records appended to the relay journal",
	)
	RelayPublishedTotal = NewCounterVec(
		"relay_published_total",
		"Records published by sink",
		[]string{"sink"},
	)
	RelayFailuresTotal = NewCounterVec(
		"relay_failures_total",
		"Failed publish attempts by sink",
		[]string{"sink"},
	)
}
