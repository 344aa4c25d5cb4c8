package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/message"
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// DBRegistry is the distributed registry backed by Postgres, for
// multi-instance deployments where every instance must observe the same
// history. Row order (insertion order) is the dedup "last message" order.
type DBRegistry struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxRecords int
}

// NewDBRegistry creates a Postgres-backed registry with the given
// per-direction record cap.
func NewDBRegistry(log *slog.Logger, pool *pgxpool.Pool, maxRecords int) *DBRegistry {
	if log == nil {
		log = slog.Default()
	}
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &DBRegistry{
		pool:       pool,
		logger:     log.With(slog.String("component", "conversation_db")),
		maxRecords: maxRecords,
	}
}

// MaxRecords returns the per-direction history cap.
func (r *DBRegistry) MaxRecords() int {
	return r.maxRecords
}

// Get returns the stored context for key, oldest entries first.
func (r *DBRegistry) Get(ctx context.Context, key message.AccountKey) (Context, error) {
	snapshot := Context{Key: key}
	rows, err := r.pool.Query(ctx,
		`SELECT direction, payload, recorded_at
		   FROM conversation_messages
		  WHERE account_key = $1
		  ORDER BY id ASC`,
		key.String(),
	)
	if err != nil {
		return snapshot, fmt.Errorf("query conversation context: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			direction  string
			payload    []byte
			recordedAt time.Time
		)
		if err := rows.Scan(&direction, &payload, &recordedAt); err != nil {
			return snapshot, fmt.Errorf("scan conversation row: %w", err)
		}
		switch direction {
		case directionInbound:
			var msg message.InboundMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				r.logger.Warn("skip undecodable inbound row", slog.String("account_key", key.String()), slog.Any("error", err))
				continue
			}
			snapshot.Inbound = append(snapshot.Inbound, &msg)
		case directionOutbound:
			var rec OutboundRecord
			if err := json.Unmarshal(payload, &rec); err != nil {
				r.logger.Warn("skip undecodable outbound row", slog.String("account_key", key.String()), slog.Any("error", err))
				continue
			}
			rec.RecordedAt = recordedAt
			snapshot.Outbound = append(snapshot.Outbound, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("read conversation rows: %w", err)
	}
	return snapshot, nil
}

// AppendInbound records a request for key and evicts rows beyond the cap.
func (r *DBRegistry) AppendInbound(ctx context.Context, key message.AccountKey, msg *message.InboundMessage) error {
	if r.maxRecords == 0 || msg == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal inbound message: %w", err)
	}
	return r.append(ctx, key, directionInbound, msg.MsgID, payload)
}

// AppendOutbound records a reply for key and evicts rows beyond the cap.
func (r *DBRegistry) AppendOutbound(ctx context.Context, key message.AccountKey, reply message.Reply) error {
	if r.maxRecords == 0 || reply == nil {
		return nil
	}
	payload, err := json.Marshal(OutboundRecord{Kind: reply.Kind(), Header: *reply.Header()})
	if err != nil {
		return fmt.Errorf("marshal outbound record: %w", err)
	}
	return r.append(ctx, key, directionOutbound, 0, payload)
}

// LastInbound returns the newest recorded request for key, or nil.
func (r *DBRegistry) LastInbound(ctx context.Context, key message.AccountKey) (*message.InboundMessage, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload
		   FROM conversation_messages
		  WHERE account_key = $1 AND direction = $2
		  ORDER BY id DESC
		  LIMIT 1`,
		key.String(), directionInbound,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last inbound: %w", err)
	}
	var msg message.InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode last inbound: %w", err)
	}
	return &msg, nil
}

// DeleteOlderThan drops rows recorded before cutoff.
func (r *DBRegistry) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_messages WHERE recorded_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire conversation rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *DBRegistry) append(ctx context.Context, key message.AccountKey, direction string, msgID int64, payload []byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin conversation append: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (account_key, direction, msg_id, payload)
		 VALUES ($1, $2, $3, $4)`,
		key.String(), direction, msgID, payload,
	); err != nil {
		return fmt.Errorf("insert conversation row: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_messages
		  WHERE account_key = $1 AND direction = $2 AND id NOT IN (
			SELECT id FROM conversation_messages
			 WHERE account_key = $1 AND direction = $2
			 ORDER BY id DESC
			 LIMIT $3)`,
		key.String(), direction, r.maxRecords,
	); err != nil {
		return fmt.Errorf("evict conversation rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit conversation append: %w", err)
	}
	return nil
}
