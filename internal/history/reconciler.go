// Package history backfills past messages from the provider into the store.
// Backfill writes go through the same idempotent append as live ingestion,
// so a sync can be re-run at any time without duplicating history.
package history

import (
	"context"
	"fmt"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/store"
)

// Evaluator is run over every message the sync inserted.
type Evaluator interface {
	Evaluate(ctx context.Context, msg domain.Message)
}

// Result summarizes one chat sync.
type Result struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Reconciler pulls chat history from the provider on demand.
type Reconciler struct {
	connector    domain.Connector
	messages     *store.MessageStore
	evaluator    Evaluator
	policy       domain.DedupPolicy
	defaultLimit int
	maxLimit     int
	log          *logging.Logger
}

// New creates a reconciler. evaluator may be nil.
func New(connector domain.Connector, messages *store.MessageStore, evaluator Evaluator, policy domain.DedupPolicy, defaultLimit, maxLimit int, log *logging.Logger) *Reconciler {
	return &Reconciler{
		connector:    connector,
		messages:     messages,
		evaluator:    evaluator,
		policy:       policy,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log.Sub("history"),
	}
}

// SyncChat fetches up to limit past messages for one chat and files the ones
// not already stored. The chat id is validated before the provider is
// contacted; an artifact id would only fetch garbage.
func (r *Reconciler) SyncChat(ctx context.Context, sessionID, chatID string, limit int) (Result, error) {
	var res Result
	if !domain.ValidIdentifier(chatID) {
		return res, fmt.Errorf("%w: chat id %q", domain.ErrInvalidIdentifier, chatID)
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if r.maxLimit > 0 && limit > r.maxLimit {
		limit = r.maxLimit
	}

	raws, err := r.connector.FetchHistory(ctx, sessionID, chatID, limit)
	if err != nil {
		return res, fmt.Errorf("fetching chat history: %w", err)
	}
	res.Fetched = len(raws)

	for _, raw := range raws {
		msg, err := domain.Normalize(sessionID, raw, domain.VintageBackfill)
		if err != nil {
			res.Skipped++
			r.log.Warn().Err(err).Str("session", sessionID).Msg("skipping unusable history record")
			continue
		}

		stored, inserted, err := r.messages.AppendIncoming(ctx, msg, r.policy)
		if err != nil {
			return res, fmt.Errorf("storing history record: %w", err)
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Inserted++
		if r.evaluator != nil {
			r.evaluator.Evaluate(ctx, stored)
		}
	}

	r.log.Info().
		Str("session", sessionID).
		Str("chat", chatID).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("chat history synced")
	return res, nil
}
