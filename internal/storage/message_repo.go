package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopmindai/chatcore/internal/model"
)

type MessageRepo struct{}

func NewMessageRepo() *MessageRepo { return &MessageRepo{} }

func (r *MessageRepo) getByID(ctx context.Context, q Querier, messageID model.MessageID) (model.MessageRecord, error) {
	var rec model.MessageRecord
	err := q.QueryRowContext(ctx, `
		SELECT message_id, conversation_id, message_offset, sender_id, content, created_at
		FROM messages WHERE message_id = $1
	`, messageID).Scan(&rec.MessageID, &rec.ConversationID, &rec.MessageOffset, &rec.Sender, &rec.Content, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("storage: get message: %w", err)
	}
	return rec, nil
}

// InsertInTx checks for message_id first and only allocates a new
// conversation offset when no row exists yet, so a retried send never
// burns an offset: a gap-free sequence is the whole point of the
// counter. Two truly concurrent sends sharing a message_id would
// otherwise both pass the check before either commits, so the
// check-then-allocate sequence runs under a transaction-scoped
// advisory lock keyed on the message_id: the loser blocks until the
// winner commits (or rolls back) and then re-reads the now-settled
// row instead of racing it for an offset.
func (r *MessageRepo) InsertInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, sender model.UserID, content string, messageID model.MessageID) (model.MessageRecord, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, messageID.String()); err != nil {
		return model.MessageRecord{}, fmt.Errorf("storage: lock message_id: %w", err)
	}

	if existing, err := r.getByID(ctx, tx, messageID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return model.MessageRecord{}, err
	}

	var offset model.MessageOffset
	err := tx.QueryRowContext(ctx, `
		INSERT INTO conversation_counters (conversation_id, next_offset)
		VALUES ($1, 1)
		ON CONFLICT (conversation_id) DO UPDATE SET next_offset = conversation_counters.next_offset + 1
		RETURNING next_offset
	`, conversationID).Scan(&offset)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("storage: allocate offset: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, message_offset, sender_id, content)
		VALUES ($1, $2, $3, $4, $5)
	`, messageID, conversationID, offset, sender, content)
	if err != nil {
		if IsUniqueViolation(err) {
			// The advisory lock above serializes same-message_id senders, so
			// this should be unreachable; kept as a defensive fallback rather
			// than a load-bearing path.
			return r.getByID(ctx, tx, messageID)
		}
		return model.MessageRecord{}, fmt.Errorf("storage: insert message: %w", err)
	}

	rec, err := r.getByID(ctx, tx, messageID)
	if err != nil {
		return model.MessageRecord{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_msg_off = GREATEST(last_msg_off, $1),
		    last_msg_at  = GREATEST(COALESCE(last_msg_at, TIMESTAMPTZ 'epoch'), $2)
		WHERE conversation_id = $3
	`, rec.MessageOffset, rec.CreatedAt, rec.ConversationID); err != nil {
		return model.MessageRecord{}, fmt.Errorf("storage: advance conversation pointers: %w", err)
	}

	return rec, nil
}

// ListBeforeInTx returns up to pageSize messages strictly older than
// before (or the newest page when before is nil), reversed so the
// result reads oldest-to-newest.
func (r *MessageRepo) ListBeforeInTx(ctx context.Context, tx *sql.Tx, conversationID model.ConversationID, pageSize model.PageSize, before *model.OffsetCursor) ([]model.MessageRecord, error) {
	ps := pageSize.Clamp()

	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = tx.QueryContext(ctx, `
			SELECT message_id, conversation_id, message_offset, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND message_offset < $2
			ORDER BY message_offset DESC
			LIMIT $3
		`, conversationID, before.Offset, ps)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT message_id, conversation_id, message_offset, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY message_offset DESC
			LIMIT $2
		`, conversationID, ps)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.MessageRecord
	for rows.Next() {
		var rec model.MessageRecord
		if err := rows.Scan(&rec.MessageID, &rec.ConversationID, &rec.MessageOffset, &rec.Sender, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
