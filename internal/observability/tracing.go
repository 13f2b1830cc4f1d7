package observability

import (
	"context"
	"database/sql"
	"fmt"
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

// StartDBSpan starts a span for a database operation against table
func StartDBSpan(ctx context.Context, system, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for a service operation
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
	queryDuration metric.Float64Histogram
	queryCount    metric.Int64Counter
	errorCount    metric.Int64Counter
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

	return &DatabaseMetrics{
		queryDuration: queryDuration,
		queryCount:    queryCount,
		errorCount:    errorCount,
	}, nil
}

// RecordQuery records metrics for one database operation
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	)

	m.queryCount.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.errorCount.Add(ctx, 1, attrs)
	}
}

// TraceDB wraps sql.DB so every statement gets a client span
type TraceDB struct {
	db      *sql.DB
	system  string
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper. system is the db.system
// attribute value, e.g. "sqlite" or "postgresql".
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

func (t *TraceDB) startStatement(ctx context.Context, name, query string) (context.Context, trace.Span) {
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
	ctx, span := t.startStatement(ctx, "DB Query", query)
	defer span.End()

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}
	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := t.startStatement(ctx, "DB Exec", query)
	defer span.End()

	result, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}
	return result, err
}

// BeginTx opens a transaction. Statements on the returned Tx are not
// individually spanned; wrap the unit of work with StartDBSpan instead.
func (t *TraceDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	ctx, span := t.startStatement(ctx, "DB Begin", "BEGIN")
	defer span.End()

	tx, err := t.db.BeginTx(ctx, opts)
	RecordError(span, err)
	return tx, err
}

// Metrics returns the database metrics instruments
func (t *TraceDB) Metrics() *DatabaseMetrics {
	return t.metrics
}

// System returns the db.system attribute value
func (t *TraceDB) System() string {
	return t.system
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// TallyMetrics holds scan tally counters
type TallyMetrics struct {
	scans metric.Int64Counter
	undos metric.Int64Counter
	edits metric.Int64Counter
}

// NewTallyMetrics creates tally metric instruments
func NewTallyMetrics() (*TallyMetrics, error) {
	meter := otel.Meter(instrumentationName)

	scans, err := meter.Int64Counter(
		"scanlog.scans",
		metric.WithDescription("Scan inputs by outcome"),
		metric.WithUnit("{scans}"),
	)
	if err != nil {
		return nil, err
	}

	undos, err := meter.Int64Counter(
		"scanlog.undos",
		metric.WithDescription("Undo requests by whether a scan was reversed"),
		metric.WithUnit("{undos}"),
	)
	if err != nil {
		return nil, err
	}

	edits, err := meter.Int64Counter(
		"scanlog.edits",
		metric.WithDescription("Manual edits to historical counts"),
		metric.WithUnit("{edits}"),
	)
	if err != nil {
		return nil, err
	}

	return &TallyMetrics{scans: scans, undos: undos, edits: edits}, nil
}

// RecordScan counts one scan input
func (m *TallyMetrics) RecordScan(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.scans.Add(ctx, 1, metric.WithAttributes(Outcome(outcome)))
}

// RecordUndo counts one undo request
func (m *TallyMetrics) RecordUndo(ctx context.Context, undone bool) {
	if m == nil {
		return
	}
	m.undos.Add(ctx, 1, metric.WithAttributes(attribute.Bool("undone", undone)))
}

// RecordEdit counts one edit operation
func (m *TallyMetrics) RecordEdit(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.edits.Add(ctx, 1, metric.WithAttributes(Operation(operation)))
}
