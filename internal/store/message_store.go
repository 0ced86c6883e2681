package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/msgvault/msgvault/internal/domain"
)

// MessageStore persists canonical messages with idempotent append semantics.
// Live ingestion and history backfill both write through AppendIncoming, so
// the dedup guarantee holds uniformly for either source.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a message store using the given database.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// timeFmt is the stored timestamp format. Lexicographic order matches
// chronological order, which the range queries rely on.
const timeFmt = time.DateTime

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFmt)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFmt, s)
	return t
}

// AppendIncoming inserts a message unless it is a duplicate. Returns the
// stored record, with the message id filled in when one had to be generated,
// and whether a new record was written.
//
// Dedup key is (session_id, message_id) when the provider id is usable; the
// insert-if-absent is a single statement against the unique index, so
// concurrent redeliveries of the same id cannot both land. When the id is
// absent, dedup falls back to (chat_id, sender_id, body_hash) within the
// policy window; a match is discarded, never overwritten.
func (s *MessageStore) AppendIncoming(ctx context.Context, msg domain.Message, policy domain.DedupPolicy) (domain.Message, bool, error) {
	if !domain.ValidIdentifier(msg.ChatID) {
		return msg, false, fmt.Errorf("%w: chat id %q", domain.ErrInvalidIdentifier, msg.ChatID)
	}
	if msg.MessageID != "" && !domain.ValidIdentifier(msg.MessageID) {
		return msg, false, fmt.Errorf("%w: message id %q", domain.ErrInvalidIdentifier, msg.MessageID)
	}

	occurred := msg.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	ingested := msg.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	msg.OccurredAt = occurred
	msg.IngestedAt = ingested
	bodyHash := domain.BodyHash(msg.Body)

	if msg.MessageID != "" {
		res, err := s.db.sql.ExecContext(ctx,
			`INSERT OR IGNORE INTO messages
			 (message_id, session_id, chat_id, is_group, group_id, group_name,
			  sender_id, direction, body, body_hash, ts, ingested_at, vintage)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.MessageID, msg.SessionID, msg.ChatID, boolToInt(msg.IsGroup),
			msg.GroupID, msg.GroupName, msg.SenderID, string(msg.Direction),
			msg.Body, bodyHash, fmtTime(occurred), fmtTime(ingested), string(msg.Vintage),
		)
		if err != nil {
			return msg, false, fmt.Errorf("appending message: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return msg, false, fmt.Errorf("appending message: %w", err)
		}
		return msg, n > 0, nil
	}

	// No usable provider id: windowed content dedup inside one transaction
	// so the check and the insert observe the same state.
	cutoff := occurred.Add(-policy.Window())

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return msg, false, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE chat_id = ? AND sender_id = ? AND body_hash = ?
		   AND COALESCE(ts, created_at) >= ?`,
		msg.ChatID, msg.SenderID, bodyHash, fmtTime(cutoff),
	).Scan(&count)
	if err != nil {
		return msg, false, fmt.Errorf("checking dedup window: %w", err)
	}
	if count > 0 {
		return msg, false, nil
	}

	msg.MessageID = "gen-" + uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages
		 (message_id, session_id, chat_id, is_group, group_id, group_name,
		  sender_id, direction, body, body_hash, ts, ingested_at, vintage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, msg.ChatID, boolToInt(msg.IsGroup),
		msg.GroupID, msg.GroupName, msg.SenderID, string(msg.Direction),
		msg.Body, bodyHash, fmtTime(occurred), fmtTime(ingested), string(msg.Vintage),
	); err != nil {
		return msg, false, fmt.Errorf("appending message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return msg, false, fmt.Errorf("commit append: %w", err)
	}
	return msg, true, nil
}

// messageColumns is the select list shared by the query paths.
const messageColumns = `message_id, session_id, chat_id, is_group, group_id, group_name,
	sender_id, direction, body, ts, created_at, ingested_at, vintage`

// QueryRange returns messages for a chat whose timestamp falls inside
// [start, end]. Records written before the field convention was unified may
// carry the value in either of the two legacy columns, so the predicate ORs
// across both rather than guessing which one a given row uses. Results are
// ordered ascending by the resolved occurred-at.
func (s *MessageStore) QueryRange(ctx context.Context, chatID string, start, end time.Time) ([]domain.Message, error) {
	startStr, endStr := fmtTime(start), fmtTime(end)
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE chat_id = ?
		   AND ((ts IS NOT NULL AND ts BETWEEN ? AND ?)
		     OR (created_at IS NOT NULL AND created_at BETWEEN ? AND ?))
		 ORDER BY COALESCE(ts, created_at) ASC`,
		chatID, startStr, endStr, startStr, endStr,
	)
	if err != nil {
		return nil, fmt.Errorf("querying range: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RangeQuery identifies a chat for the fallback query path. Providers are
// inconsistent about which identifying field any given record carries.
type RangeQuery struct {
	ChatID    string
	GroupID   string
	GroupName string
	Start     time.Time
	End       time.Time
}

// QueryRangeWithFallback runs QueryRange and, when it comes back empty,
// retries once with the window doubled on each side and the chat matched
// against every group-identifying key.
func (s *MessageStore) QueryRangeWithFallback(ctx context.Context, q RangeQuery) ([]domain.Message, error) {
	msgs, err := s.QueryRange(ctx, q.ChatID, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}

	span := q.End.Sub(q.Start)
	start, end := q.Start.Add(-span), q.End.Add(span)
	startStr, endStr := fmtTime(start), fmtTime(end)

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE (chat_id = ? OR group_id = ? OR (group_name != '' AND group_name = ?))
		   AND ((ts IS NOT NULL AND ts BETWEEN ? AND ?)
		     OR (created_at IS NOT NULL AND created_at BETWEEN ? AND ?))
		 ORDER BY COALESCE(ts, created_at) ASC`,
		q.ChatID, firstNonEmpty(q.GroupID, q.ChatID), q.GroupName,
		startStr, endStr, startStr, endStr,
	)
	if err != nil {
		return nil, fmt.Errorf("querying fallback range: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountForChat returns how many messages exist for a chat across all time.
func (s *MessageStore) CountForChat(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chat messages: %w", err)
	}
	return count, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var msgs []domain.Message
	for rows.Next() {
		var (
			msg           domain.Message
			isGroup       int
			ts, createdAt sql.NullString
			ingestedAt    string
			direction     string
			vintage       string
		)
		if err := rows.Scan(
			&msg.MessageID, &msg.SessionID, &msg.ChatID, &isGroup,
			&msg.GroupID, &msg.GroupName, &msg.SenderID, &direction,
			&msg.Body, &ts, &createdAt, &ingestedAt, &vintage,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.IsGroup = isGroup != 0
		msg.Direction = domain.Direction(direction)
		msg.Vintage = domain.Vintage(vintage)
		msg.IngestedAt = parseTime(ingestedAt)
		// Coalesce the legacy timestamp columns into the single resolved field.
		switch {
		case ts.Valid && ts.String != "":
			msg.OccurredAt = parseTime(ts.String)
		case createdAt.Valid && createdAt.String != "":
			msg.OccurredAt = parseTime(createdAt.String)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
