package outbox

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries can run inside or
// outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs the outbox SQL against a DBTX.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the given transaction
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const fetchUnsentOutbox = `
SELECT id, game_id, event_type, payload, created_at
FROM outbox_events
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

const markOutboxSent = `
UPDATE outbox_events
SET sent_at = NOW()
WHERE id = ANY($1) AND sent_at IS NULL
`

func (q *Queries) MarkOutboxSent(ctx context.Context, ids []uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, pq.Array(ids))
	return err
}

const fetchOutboxByID = `
SELECT id, game_id, event_type, payload, created_at
FROM outbox_events
WHERE id = $1 AND sent_at IS NULL
`

func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error) {
	row := q.db.QueryRowContext(ctx, fetchOutboxByID, id)
	return scanOutboxEvent(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(row scannable) (OutboxEvent, error) {
	var event OutboxEvent
	var payload pqtype.NullRawMessage
	if err := row.Scan(&event.ID, &event.GameID, &event.EventType, &payload, &event.CreatedAt); err != nil {
		return OutboxEvent{}, err
	}
	if payload.Valid {
		event.Payload = json.RawMessage(payload.RawMessage)
	}
	return event, nil
}
