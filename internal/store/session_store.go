package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/msgvault/msgvault/internal/domain"
)

// SessionStore persists session lifecycle records. Rows are retained after
// stop for audit.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save upserts a session record.
func (s *SessionStore) Save(ctx context.Context, sess domain.Session) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (session_id, account_id, state, last_error, retry_count, last_transition_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   account_id = excluded.account_id,
		   state = excluded.state,
		   last_error = excluded.last_error,
		   retry_count = excluded.retry_count,
		   last_transition_at = excluded.last_transition_at`,
		sess.SessionID, sess.AccountID, string(sess.State),
		nullIfEmpty(sess.LastError), sess.RetryCount, fmtTime(sess.LastTransitionAt),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	var (
		sess         domain.Session
		state        string
		lastError    sql.NullString
		transitionAt string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT session_id, account_id, state, last_error, retry_count, last_transition_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&sess.SessionID, &sess.AccountID, &state, &lastError, &sess.RetryCount, &transitionAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("loading session: %w", err)
	}
	sess.State = domain.SessionState(state)
	sess.LastError = lastError.String
	sess.LastTransitionAt = parseTime(transitionAt)
	return sess, true, nil
}

// List returns all session records, most recently transitioned first.
func (s *SessionStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT session_id, account_id, state, last_error, retry_count, last_transition_at
		 FROM sessions ORDER BY last_transition_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			sess         domain.Session
			state        string
			lastError    sql.NullString
			transitionAt string
		)
		if err := rows.Scan(&sess.SessionID, &sess.AccountID, &state, &lastError, &sess.RetryCount, &transitionAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.State = domain.SessionState(state)
		sess.LastError = lastError.String
		sess.LastTransitionAt = parseTime(transitionAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
