// Package ingest turns at-least-once provider deliveries into exactly-once
// stored history. Redeliveries, invalid identifiers, and messages for
// non-receiving sessions are absorbed here so nothing downstream sees them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/session"
	"github.com/msgvault/msgvault/internal/store"
)

// Evaluator is run over every newly stored message.
type Evaluator interface {
	Evaluate(ctx context.Context, msg domain.Message)
}

// Event is one webhook delivery from the provider.
type Event struct {
	Event   string            `json:"event"`
	Session string            `json:"session,omitempty"`
	Status  string            `json:"status,omitempty"`
	Payload domain.RawMessage `json:"payload,omitempty"`
}

const (
	writeAttempts   = 3
	writeRetryDelay = 250 * time.Millisecond
)

// Ingestor is the single entry point for provider events.
type Ingestor struct {
	manager   *session.Manager
	messages  *store.MessageStore
	evaluator Evaluator
	sink      domain.Sink
	policy    domain.DedupPolicy
	log       *logging.Logger
}

// New creates an ingestor. evaluator and sink may be nil.
func New(manager *session.Manager, messages *store.MessageStore, evaluator Evaluator, sink domain.Sink, policy domain.DedupPolicy, log *logging.Logger) *Ingestor {
	return &Ingestor{
		manager:   manager,
		messages:  messages,
		evaluator: evaluator,
		sink:      sink,
		policy:    policy,
		log:       log.Sub("ingest"),
	}
}

// Attach registers the ingestor for the connector's live message stream.
func (i *Ingestor) Attach(connector domain.Connector) {
	connector.OnMessage(func(sessionID string, raw domain.RawMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := i.HandleMessage(ctx, sessionID, raw, domain.VintageLive); err != nil {
			i.log.Error().Err(err).Str("session", sessionID).Msg("socket message lost")
		}
	})
}

// HandleEvent processes one webhook delivery. A non-nil error means the
// delivery was not durably handled and the provider should redeliver it.
func (i *Ingestor) HandleEvent(ctx context.Context, sessionID string, ev Event) error {
	switch ev.Event {
	case "message":
		return i.HandleMessage(ctx, sessionID, ev.Payload, domain.VintageLive)
	case "status":
		i.manager.HandleStatusEvent(sessionID, ev.Status)
		return nil
	default:
		i.log.Debug().Str("session", sessionID).Str("event", ev.Event).Msg("ignoring webhook event")
		return nil
	}
}

// HandleMessage normalizes and stores one raw message. Discards are silent
// successes: they must not trigger provider redelivery.
func (i *Ingestor) HandleMessage(ctx context.Context, sessionID string, raw domain.RawMessage, vintage domain.Vintage) error {
	sess, ok := i.manager.Get(sessionID)
	if !ok || !sess.State.CanReceive() {
		i.log.Debug().
			Str("session", sessionID).
			Str("state", string(sess.State)).
			Msg("discarding message for non-receiving session")
		return nil
	}

	msg, err := domain.Normalize(sessionID, raw, vintage)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidIdentifier) {
			i.log.Warn().Err(err).Str("session", sessionID).Msg("dropping message with unusable identifier")
			return nil
		}
		return err
	}

	stored, inserted, err := i.appendWithRetry(ctx, msg)
	if err != nil {
		return fmt.Errorf("storing message: %w", err)
	}
	if !inserted {
		i.log.Debug().
			Str("session", sessionID).
			Str("message", msg.MessageID).
			Msg("duplicate delivery absorbed")
		return nil
	}

	if i.sink != nil {
		if err := i.sink.Publish(ctx, stored); err != nil {
			i.log.Warn().Err(err).Str("message", stored.MessageID).Msg("publishing stored message failed")
		}
	}
	if i.evaluator != nil {
		i.evaluator.Evaluate(ctx, stored)
	}
	return nil
}

// appendWithRetry retries transient store failures a few times before
// surfacing the error for redelivery.
func (i *Ingestor) appendWithRetry(ctx context.Context, msg domain.Message) (domain.Message, bool, error) {
	var lastErr error
	delay := writeRetryDelay
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		stored, inserted, err := i.messages.AppendIncoming(ctx, msg, i.policy)
		if err == nil {
			return stored, inserted, nil
		}
		if errors.Is(err, domain.ErrInvalidIdentifier) {
			return msg, false, err
		}
		lastErr = err
		i.log.Warn().Err(err).Int("attempt", attempt).Msg("message write failed")

		if attempt == writeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return msg, false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return msg, false, lastErr
}
