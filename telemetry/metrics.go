package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ActionBuckets for pack action handling (query + row preparation)
	ActionBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// StatementBuckets for single SQL statements
	StatementBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// RowBuckets for rows returned per page
	RowBuckets = []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Action Metrics
var (
	// ActionsTotal counts action invocations by action name and result (before, caught, error, success)
	ActionsTotal CounterVec = noopCounterVec{}

	// ActionDurationSeconds measures action latency by action name
	ActionDurationSeconds HistogramVec = noopHistogramVec{}

	// ListenerCallsTotal counts listener invocations by hook (before, after, catch, replaced, or a verb)
	ListenerCallsTotal CounterVec = noopCounterVec{}

	// ListenerShortCircuitsTotal counts before/catch listeners that produced the response
	ListenerShortCircuitsTotal CounterVec = noopCounterVec{}

	// RowsReturned measures rows per grid page
	RowsReturned Histogram = NoopStat{}
)

// Query Metrics
var (
	// FilterApplicationsTotal counts filter engine applications by engine
	FilterApplicationsTotal CounterVec = noopCounterVec{}

	// ModelCacheLookupsTotal counts model cache lookups by result (hit, miss)
	ModelCacheLookupsTotal CounterVec = noopCounterVec{}

	// StatementCacheLookupsTotal counts compiled statement lookups by result (hit, miss)
	StatementCacheLookupsTotal CounterVec = noopCounterVec{}

	// StatementDurationSeconds measures SQL statement latency by kind (select, count, insert, update, delete)
	StatementDurationSeconds HistogramVec = noopHistogramVec{}

	// DBConnections tracks pool connections by state (open, in_use, idle)
	DBConnections GaugeVec = noopGaugeVec{}

	// DBWaitSeconds is the total time spent waiting for a pool connection
	DBWaitSeconds Gauge = NoopStat{}
)

// Audit Metrics
var (
	// AuditEventsTotal counts published audit events by sink and result (success, failed, dropped)
	AuditEventsTotal CounterVec = noopCounterVec{}
)

// InitMetrics registers all collectors. Called from InitializeTelemetry.
func InitMetrics() {
	ActionsTotal = NewCounterVec(
		"actions_total",
		"Action invocations by action and result",
		[]string{"action", "result"},
	)
	ActionDurationSeconds = NewHistogramVec(
		"action_duration_seconds",
		"Action duration in seconds",
		[]string{"action"},
		ActionBuckets,
	)
	ListenerCallsTotal = NewCounterVec(
		"listener_calls_total",
		"Listener invocations by hook",
		[]string{"hook"},
	)
	ListenerShortCircuitsTotal = NewCounterVec(
		"listener_short_circuits_total",
		"Listeners that produced the action response",
		[]string{"hook"},
	)
	RowsReturned = NewHistogram(
		"rows_returned",
		"Rows returned per grid page",
		RowBuckets,
	)

	FilterApplicationsTotal = NewCounterVec(
		"filter_applications_total",
		"Filter engine applications by engine",
		[]string{"engine"},
	)
	ModelCacheLookupsTotal = NewCounterVec(
		"model_cache_lookups_total",
		"Model cache lookups by result",
		[]string{"result"},
	)
	StatementCacheLookupsTotal = NewCounterVec(
		"statement_cache_lookups_total",
		"Compiled statement cache lookups by result",
		[]string{"result"},
	)
	StatementDurationSeconds = NewHistogramVec(
		"statement_duration_seconds",
		"SQL statement duration in seconds",
		[]string{"kind"},
		StatementBuckets,
	)
	DBConnections = NewGaugeVec(
		"db_connections",
		"Database pool connections by state",
		[]string{"state"},
	)
	DBWaitSeconds = NewGauge(
		"db_wait_seconds",
		"Total time blocked waiting for a database connection",
	)

	AuditEventsTotal = NewCounterVec(
		"audit_events_total",
		"Audit events by sink and result",
		[]string{"sink", "result"},
	)
}
