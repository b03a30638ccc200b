package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// maxHistoryRange bounds a single history query.
const maxHistoryRange = 31 * 24 * time.Hour

// Reader provides read access to the replyguard_decisions table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// HistoryParams filters a history query. From and To are inclusive bucket
// bounds; nil filters match everything.
type HistoryParams struct {
	From     time.Time
	To       time.Time
	Outcome  *string
	Severity *string
	Mixture  *string
}

// Validate checks the time range.
func (p HistoryParams) Validate() error {
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("from and to are required")
	}
	if p.To.Before(p.From) {
		return fmt.Errorf("to is before from")
	}
	if p.To.Sub(p.From) > maxHistoryRange {
		return fmt.Errorf("range exceeds %s", maxHistoryRange)
	}
	return nil
}

// historyQuery builds the aggregate query and its named arguments.
func historyQuery(p HistoryParams) (string, []any) {
	conditions := []string{"time_bucket >= @from", "time_bucket <= @to"}
	args := []any{
		clickhouse.Named("from", p.From.UTC()),
		clickhouse.Named("to", p.To.UTC()),
	}

	if p.Outcome != nil {
		conditions = append(conditions, "outcome = @outcome")
		args = append(args, clickhouse.Named("outcome", *p.Outcome))
	}
	if p.Severity != nil {
		conditions = append(conditions, "severity = @severity")
		args = append(args, clickhouse.Named("severity", *p.Severity))
	}
	if p.Mixture != nil {
		conditions = append(conditions, "mixture = @mixture")
		args = append(args, clickhouse.Named("mixture", *p.Mixture))
	}

	query := fmt.Sprintf(
		"SELECT outcome, severity, mixture, time_bucket, count() AS n "+
			"FROM replyguard_decisions WHERE %s "+
			"GROUP BY outcome, severity, mixture, time_bucket "+
			"ORDER BY time_bucket, outcome, severity, mixture",
		strings.Join(conditions, " AND "),
	)
	return query, args
}

// History returns persisted aggregate counts for the given range, in the
// same shape the live aggregator reports.
func (r *Reader) History(ctx context.Context, p HistoryParams) ([]Count, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	query, args := historyQuery(p)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("History query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Outcome, &c.Severity, &c.Mixture, &c.Bucket, &c.N); err != nil {
			return nil, fmt.Errorf("History scan: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
