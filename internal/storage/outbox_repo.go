package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopmindai/chatcore/internal/model"
)

type EventType string

const (
	EventChatMessageNew EventType = "chat.message.new"
	EventFriendshipNew  EventType = "friendship.new"
	EventGroupNew       EventType = "group.new"
	EventGroupMemberNew EventType = "group.member.new"
)

// OutboxEvent is a claimed row ready for publish.
type OutboxEvent struct {
	EventID       model.EventID
	EventType     EventType
	PartitionKey  *string
	ReceiversJSON json.RawMessage
	PayloadJSON   json.RawMessage
	AttemptCount  int
}

const lastErrorMaxLen = 1024

type OutboxRepo struct{}

func NewOutboxRepo() *OutboxRepo { return &OutboxRepo{} }

// EnqueueInTx inserts an event inside the caller's business
// transaction; retrying the same event_id is a no-op (the outbox row
// lives or dies with the state change it reports).
func (r *OutboxRepo) EnqueueInTx(ctx context.Context, tx *sql.Tx, eventID model.EventID, eventType EventType, partitionKey *string, receivers []model.UserID, payload any) error {
	receiversJSON, err := json.Marshal(receivers)
	if err != nil {
		return fmt.Errorf("storage: marshal receivers: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("storage: marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, event_type, partition_key, receivers_json, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, string(eventType), partitionKey, receiversJSON, payloadJSON)
	if err != nil {
		return fmt.Errorf("storage: enqueue outbox event: %w", err)
	}
	return nil
}

// ClaimReadyBatchInTx locks up to limit ready rows, skipping rows
// already locked by another worker, so two notifiers never publish the
// same event concurrently.
func (r *OutboxRepo) ClaimReadyBatchInTx(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, partition_key, receivers_json, payload_json, attempt_count
		FROM outbox_events
		WHERE delivered_at IS NULL AND next_attempt_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: claim outbox batch: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var eventType string
		var partitionKey sql.NullString
		if err := rows.Scan(&ev.EventID, &eventType, &partitionKey, &ev.ReceiversJSON, &ev.PayloadJSON, &ev.AttemptCount); err != nil {
			return nil, fmt.Errorf("storage: scan outbox event: %w", err)
		}
		ev.EventType = EventType(eventType)
		if partitionKey.Valid {
			ev.PartitionKey = &partitionKey.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) MarkDeliveredInTx(ctx context.Context, tx *sql.Tx, eventID model.EventID, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_events SET delivered_at = $1 WHERE event_id = $2
	`, now, eventID)
	if err != nil {
		return fmt.Errorf("storage: mark outbox event delivered: %w", err)
	}
	return nil
}

// RescheduleInTx bumps attempt_count, truncates lastErr to
// lastErrorMaxLen, and sets the next attempt to nextAttempt.
func (r *OutboxRepo) RescheduleInTx(ctx context.Context, tx *sql.Tx, eventID model.EventID, nextAttempt time.Time, lastErr string) error {
	if len(lastErr) > lastErrorMaxLen {
		lastErr = lastErr[:lastErrorMaxLen]
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET next_attempt_at = $1, attempt_count = attempt_count + 1, last_error = $2
		WHERE event_id = $3
	`, nextAttempt, lastErr, eventID)
	if err != nil {
		return fmt.Errorf("storage: reschedule outbox event: %w", err)
	}
	return nil
}
