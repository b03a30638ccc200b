package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbox row states.
const (
	StatusPending   = "PENDING"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
)

const eventTypeEscalation = "replyguard.escalation"

// OutboxRow is one row of the escalation_outbox table.
type OutboxRow struct {
	ID          uuid.UUID
	EventType   string
	Payload     json.RawMessage
	Status      string
	CreatedAt   time.Time
	ProcessedAt sql.NullTime
	RetryCount  int
}

// OutboxStore abstracts the outbox queries for testability.
type OutboxStore interface {
	Insert(ctx context.Context, row OutboxRow) error
	// ClaimPending locks up to limit PENDING rows and hands them to fn inside
	// one transaction. fn returns the new status for each row.
	ClaimPending(ctx context.Context, limit int, fn func(OutboxRow) string) (int, error)
}

// sqlOutboxStore is the real implementation using *sql.DB.
type sqlOutboxStore struct {
	db *sql.DB
}

// NewSQLOutboxStore wraps a database/sql pool (pgx driver).
func NewSQLOutboxStore(db *sql.DB) OutboxStore {
	return &sqlOutboxStore{db: db}
}

func (s *sqlOutboxStore) Insert(ctx context.Context, row OutboxRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_outbox (id, event_type, payload, status, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, 0)`,
		row.ID, row.EventType, []byte(row.Payload), row.Status, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlOutboxStore.Insert: %w", err)
	}
	return nil
}

func (s *sqlOutboxStore) ClaimPending(ctx context.Context, limit int, fn func(OutboxRow) string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_type, payload, status, created_at, processed_at, retry_count
		FROM escalation_outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		StatusPending, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
	}

	var claimed []OutboxRow
	for rows.Next() {
		var r OutboxRow
		var payload []byte
		if err := rows.Scan(&r.ID, &r.EventType, &payload, &r.Status, &r.CreatedAt, &r.ProcessedAt, &r.RetryCount); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
		}
		r.Payload = payload
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
	}
	rows.Close()

	for _, r := range claimed {
		status := fn(r)
		if status == StatusPending {
			_, err = tx.ExecContext(ctx,
				`UPDATE escalation_outbox SET retry_count = retry_count + 1 WHERE id = $1`, r.ID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE escalation_outbox SET status = $2, processed_at = now(), retry_count = retry_count + $3 WHERE id = $1`,
				r.ID, status, boolToInt(status == StatusFailed))
		}
		if err != nil {
			return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlOutboxStore.ClaimPending: %w", err)
	}
	return len(claimed), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PostgresOutbox records escalations in the escalation_outbox table with
// status PENDING. A Relay (here or in another process) delivers them.
type PostgresOutbox struct {
	store OutboxStore
	now   func() time.Time
}

// NewPostgresOutbox creates an outbox notifier over the given store.
func NewPostgresOutbox(store OutboxStore) *PostgresOutbox {
	return &PostgresOutbox{store: store, now: time.Now}
}

func (o *PostgresOutbox) Notify(ctx context.Context, n Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("PostgresOutbox.Notify: %w", err)
	}
	row := OutboxRow{
		ID:        uuid.New(),
		EventType: eventTypeEscalation,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("PostgresOutbox.Notify: %w", err)
	}
	return nil
}

// Relay forwards PENDING outbox rows to a downstream notifier.
type Relay struct {
	store      OutboxStore
	next       Notifier
	batch      int
	maxRetries int
	logger     *zap.Logger
}

// NewRelay creates a relay. Rows that fail maxRetries times are marked FAILED.
func NewRelay(store OutboxStore, next Notifier, maxRetries int, logger *zap.Logger) *Relay {
	if maxRetries < 1 {
		maxRetries = 5
	}
	return &Relay{store: store, next: next, batch: 50, maxRetries: maxRetries, logger: logger}
}

// RunOnce delivers one batch and returns how many rows it claimed.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	return r.store.ClaimPending(ctx, r.batch, func(row OutboxRow) string {
		var n Notice
		if err := json.Unmarshal(row.Payload, &n); err != nil {
			r.logger.Error("outbox payload undecodable",
				zap.String("outbox_id", row.ID.String()),
				zap.Error(err),
			)
			return StatusFailed
		}
		if err := r.next.Notify(ctx, n); err != nil {
			if row.RetryCount+1 >= r.maxRetries {
				r.logger.Error("outbox delivery failed permanently",
					zap.String("trace_id", n.TraceID),
					zap.Int("retry_count", row.RetryCount+1),
					zap.Error(err),
				)
				return StatusFailed
			}
			r.logger.Warn("outbox delivery failed, will retry",
				zap.String("trace_id", n.TraceID),
				zap.Error(err),
			)
			return StatusPending
		}
		return StatusProcessed
	})
}

// Run polls the outbox until ctx ends.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay failed", zap.Error(err))
			}
		}
	}
}
