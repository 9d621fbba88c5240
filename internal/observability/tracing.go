package observability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// DatabaseMetrics holds database-related metrics
type DatabaseMetrics struct {
	queryDuration   metric.Float64Histogram
	queryCount      metric.Int64Counter
	errorCount      metric.Int64Counter
	connectionCount metric.Int64UpDownCounter
}

// NewDatabaseMetrics creates database metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	connectionCount, err := meter.Int64UpDownCounter(
		"db.connection.count",
		metric.WithDescription("Number of active database connections"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration:   queryDuration,
		queryCount:      queryCount,
		errorCount:      errorCount,
		connectionCount: connectionCount,
	}, nil
}

// RecordQuery records a database query metrics
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	}

	m.queryCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// TraceDB wraps sql.DB with tracing and query metrics
type TraceDB struct {
	db      *sql.DB
	system  string
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper. system is the db.system
// attribute, e.g. "sqlite" or "postgresql".
func NewTraceDB(db *sql.DB, system string) (*TraceDB, error) {
	metrics, err := NewDatabaseMetrics()
	if err != nil {
		return nil, err
	}

	return &TraceDB{
		db:      db,
		system:  system,
		metrics: metrics,
	}, nil
}

func (t *TraceDB) startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := t.startSpan(ctx, "DB Query", query)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))
	t.metrics.RecordQuery(ctx, "query", statementTable(query), duration, err)

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := t.startSpan(ctx, "DB Exec", query)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))
	t.metrics.RecordQuery(ctx, "exec", statementTable(query), duration, err)

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := t.startSpan(ctx, "DB QueryRow", query)
	// sql.Row defers its error to Scan, so the span only covers dispatch
	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.metrics.RecordQuery(ctx, "query_row", statementTable(query), time.Since(start), row.Err())
	span.End()
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

// statementTable picks the table name following FROM, INTO or UPDATE
func statementTable(query string) string {
	fields := strings.Fields(query)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE":
			return strings.Trim(fields[i+1], "(")
		}
	}
	return "unknown"
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// TrackingMetrics counts location publication on the device side
type TrackingMetrics struct {
	fixesPublished   metric.Int64Counter
	publishFailures  metric.Int64Counter
	stateTransitions metric.Int64Counter
}

// NewTrackingMetrics creates tracking metric instruments
func NewTrackingMetrics() (*TrackingMetrics, error) {
	meter := otel.Meter(instrumentationName)

	fixesPublished, err := meter.Int64Counter(
		"securetrack.tracking.fixes_published",
		metric.WithDescription("Location fixes written to the presence document"),
		metric.WithUnit("{fixes}"),
	)
	if err != nil {
		return nil, err
	}

	publishFailures, err := meter.Int64Counter(
		"securetrack.tracking.publish_failures",
		metric.WithDescription("Location writes that failed"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		return nil, err
	}

	stateTransitions, err := meter.Int64Counter(
		"securetrack.tracking.state_transitions",
		metric.WithDescription("Tracking state machine transitions"),
		metric.WithUnit("{transitions}"),
	)
	if err != nil {
		return nil, err
	}

	return &TrackingMetrics{
		fixesPublished:   fixesPublished,
		publishFailures:  publishFailures,
		stateTransitions: stateTransitions,
	}, nil
}

// RecordPublish records the outcome of one location write
func (m *TrackingMetrics) RecordPublish(ctx context.Context, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishFailures.Add(ctx, 1)
		return
	}
	m.fixesPublished.Add(ctx, 1)
}

// RecordTransition records a state change
func (m *TrackingMetrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// AlarmMetrics counts alarm traffic on either side of the callable
type AlarmMetrics struct {
	alarms       metric.Int64Counter
	rateLimited  metric.Int64Counter
	pushReceived metric.Int64Counter
}

// NewAlarmMetrics creates alarm metric instruments
func NewAlarmMetrics() (*AlarmMetrics, error) {
	meter := otel.Meter(instrumentationName)

	alarms, err := meter.Int64Counter(
		"securetrack.alarm.requests",
		metric.WithDescription("Alarm requests by outcome"),
		metric.WithUnit("{alarms}"),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"securetrack.alarm.rate_limited",
		metric.WithDescription("Alarm requests refused by the per-caller limiter"),
		metric.WithUnit("{alarms}"),
	)
	if err != nil {
		return nil, err
	}

	pushReceived, err := meter.Int64Counter(
		"securetrack.alarm.push_received",
		metric.WithDescription("Push messages handed to the alarm receiver"),
		metric.WithUnit("{messages}"),
	)
	if err != nil {
		return nil, err
	}

	return &AlarmMetrics{
		alarms:       alarms,
		rateLimited:  rateLimited,
		pushReceived: pushReceived,
	}, nil
}

// RecordAlarm records an alarm send by outcome
func (m *AlarmMetrics) RecordAlarm(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.alarms.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRateLimited records a refused alarm
func (m *AlarmMetrics) RecordRateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1)
}

// RecordPush records a received push and whether it rang
func (m *AlarmMetrics) RecordPush(ctx context.Context, rang bool) {
	if m == nil {
		return
	}
	m.pushReceived.Add(ctx, 1, metric.WithAttributes(attribute.Bool("rang", rang)))
}

// PresenceMetrics tracks live presence observers
type PresenceMetrics struct {
	observers     metric.Int64UpDownCounter
	subscriptions metric.Int64UpDownCounter
	snapshots     metric.Int64Counter
}

// NewPresenceMetrics creates presence metric instruments
func NewPresenceMetrics() (*PresenceMetrics, error) {
	meter := otel.Meter(instrumentationName)

	observers, err := meter.Int64UpDownCounter(
		"securetrack.presence.observers",
		metric.WithDescription("Active presence observers"),
		metric.WithUnit("{observers}"),
	)
	if err != nil {
		return nil, err
	}

	subscriptions, err := meter.Int64UpDownCounter(
		"securetrack.presence.subscriptions",
		metric.WithDescription("Live remote store subscriptions held by presence observers"),
		metric.WithUnit("{subscriptions}"),
	)
	if err != nil {
		return nil, err
	}

	snapshots, err := meter.Int64Counter(
		"securetrack.presence.snapshots",
		metric.WithDescription("Presence snapshots emitted"),
		metric.WithUnit("{snapshots}"),
	)
	if err != nil {
		return nil, err
	}

	return &PresenceMetrics{
		observers:     observers,
		subscriptions: subscriptions,
		snapshots:     snapshots,
	}, nil
}

// ObserverStarted records a new observer
func (m *PresenceMetrics) ObserverStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.observers.Add(ctx, 1)
}

// ObserverStopped records an observer going away
func (m *PresenceMetrics) ObserverStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.observers.Add(ctx, -1)
}

// SubscriptionsChanged adjusts the live subscription count by delta
func (m *PresenceMetrics) SubscriptionsChanged(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(ctx, delta)
}

// SnapshotEmitted records one emitted snapshot
func (m *PresenceMetrics) SnapshotEmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.snapshots.Add(ctx, 1)
}
