// Package session owns the per-account connection state machine and its
// control operations. All operations against one session id are serialized;
// different sessions proceed in parallel.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/store"
)

// Config tunes the manager's timeouts and the reconnect watchdog.
type Config struct {
	// OpTimeout bounds every provider call issued by the manager.
	OpTimeout time.Duration
	// ForceInterruptAfter is how long an in-flight operation must have been
	// running before ForceRestart is allowed to interrupt it.
	ForceInterruptAfter time.Duration
	// Reconnect watchdog policy.
	ReconnectMaxAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		OpTimeout:             30 * time.Second,
		ForceInterruptAfter:   30 * time.Second,
		ReconnectMaxAttempts:  5,
		ReconnectInitialDelay: 2 * time.Second,
		ReconnectMaxDelay:     60 * time.Second,
	}
}

// reconnectExhausted is the recorded lastError when the watchdog gives up.
const reconnectExhausted = "reconnect_exhausted"

// liveSession is the in-memory view of one session.
type liveSession struct {
	sess           domain.Session
	challenge      *domain.AuthChallenge
	watchdogCancel context.CancelFunc
}

// Manager is the single source of truth for session state.
type Manager struct {
	connector domain.Connector
	sessions  *store.SessionStore
	cfg       Config
	log       *logging.Logger
	locks     *keyedLocks

	mu        sync.RWMutex
	live      map[string]*liveSession
	listeners []func(domain.Session)
}

// NewManager creates a session manager. It registers itself for the
// connector's status events.
func NewManager(connector domain.Connector, sessions *store.SessionStore, cfg Config, log *logging.Logger) *Manager {
	m := &Manager{
		connector: connector,
		sessions:  sessions,
		cfg:       cfg,
		log:       log.Sub("session"),
		locks:     newKeyedLocks(),
		live:      make(map[string]*liveSession),
	}
	connector.OnStatus(m.HandleStatusEvent)
	return m
}

// Subscribe registers a listener for state changes. Listeners are invoked
// synchronously on the transition path and must not block.
func (m *Manager) Subscribe(fn func(domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Get returns the current view of a session.
func (m *Manager) Get(sessionID string) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.live[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return ls.sess, true
}

// Challenge returns the pending auth challenge for a session, if any.
func (m *Manager) Challenge(sessionID string) (domain.AuthChallenge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.live[sessionID]
	if !ok || ls.challenge == nil {
		return domain.AuthChallenge{}, false
	}
	return *ls.challenge, true
}

// Start brings a session into the auth flow. Idempotent: a session already
// starting, awaiting auth, or connected is returned as-is without a fresh
// provider challenge.
func (m *Manager) Start(ctx context.Context, sessionID, accountID string) (domain.Session, error) {
	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	sess := m.loadLocked(opCtx, sessionID, accountID)
	if sess.State.InStartFlow() {
		m.log.Debug().Str("session", sessionID).Str("state", string(sess.State)).Msg("start is a no-op")
		return sess, nil
	}
	return m.startLocked(opCtx, sess)
}

// startLocked runs the start flow. Caller holds the session lock.
func (m *Manager) startLocked(ctx context.Context, sess domain.Session) (domain.Session, error) {
	m.setState(&sess, domain.StateStarting, "")

	cctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	challenge, err := m.connector.RequestAuthChallenge(cctx, sess.SessionID)
	if err != nil {
		m.setState(&sess, domain.StateFailed, err.Error())
		return sess, fmt.Errorf("%w: %s", domain.ErrSessionStart, err)
	}

	m.setChallenge(sess.SessionID, &challenge)
	if challenge.Kind == domain.ChallengePhoneCode {
		m.setState(&sess, domain.StateAwaitingPhoneCode, "")
	} else {
		m.setState(&sess, domain.StateAwaitingQR, "")
	}
	return sess, nil
}

// SubmitPhoneCode requests a phone pairing code. Valid only while the
// session is starting or awaiting a phone code. ErrUnsupportedAuthMethod is
// terminal and reported to the caller without a state change.
func (m *Manager) SubmitPhoneCode(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer release()

	sess, ok := m.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}
	if sess.State != domain.StateAwaitingPhoneCode && sess.State != domain.StateStarting {
		return "", fmt.Errorf("%w: pairing code not available in state %s", domain.ErrInvalidTransition, sess.State)
	}

	cctx, cancel := context.WithTimeout(opCtx, m.cfg.OpTimeout)
	defer cancel()

	code, err := m.connector.RequestPairingCode(cctx, sessionID, phoneNumber)
	if err != nil {
		return "", err
	}
	if sess.State == domain.StateStarting {
		m.setState(&sess, domain.StateAwaitingPhoneCode, "")
	}
	return code, nil
}

// Stop moves a session to STOPPED from any state. Idempotent; the record is
// retained for audit.
func (m *Manager) Stop(ctx context.Context, sessionID string) (domain.Session, error) {
	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	sess, ok := m.Get(sessionID)
	if !ok {
		persisted, found, err := m.sessions.Get(opCtx, sessionID)
		if err != nil || !found {
			release()
			return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
		}
		sess = persisted
		m.putLive(sess)
	}

	if sess.State != domain.StateStopped {
		m.cancelWatchdog(sessionID)

		cctx, cancel := context.WithTimeout(opCtx, m.cfg.OpTimeout)
		if err := m.connector.CloseSocket(cctx, sessionID); err != nil {
			m.log.Warn().Err(err).Str("session", sessionID).Msg("socket close failed during stop")
		}
		cancel()

		m.setChallenge(sessionID, nil)
		m.setState(&sess, domain.StateStopped, "")
	}

	release()
	m.locks.reap(sessionID)
	return sess, nil
}

// Restart re-enters the start flow from STOPPED, FAILED, or READY and
// increments the retry counter.
func (m *Manager) Restart(ctx context.Context, sessionID string) (domain.Session, error) {
	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	sess, ok := m.getOrResurrect(opCtx, sessionID)
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}
	switch sess.State {
	case domain.StateStopped, domain.StateFailed, domain.StateReady:
	default:
		return sess, fmt.Errorf("%w: restart from %s", domain.ErrInvalidTransition, sess.State)
	}

	m.cancelWatchdog(sessionID)
	if sess.State == domain.StateReady {
		cctx, cancel := context.WithTimeout(opCtx, m.cfg.OpTimeout)
		if err := m.connector.CloseSocket(cctx, sessionID); err != nil {
			m.log.Warn().Err(err).Str("session", sessionID).Msg("socket close failed during restart")
		}
		cancel()
	}

	sess.RetryCount++
	return m.startLocked(opCtx, sess)
}

// ForceRestart is the operator escape hatch: it interrupts an in-flight
// operation that has exceeded the configured hold time, then re-runs the
// start flow regardless of current state. Not idempotent.
func (m *Manager) ForceRestart(ctx context.Context, sessionID string) (domain.Session, error) {
	if m.locks.interruptIfHeldLonger(sessionID, m.cfg.ForceInterruptAfter) {
		m.log.Warn().Str("session", sessionID).Msg("interrupted in-flight operation for force restart")
	}

	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	sess, ok := m.getOrResurrect(opCtx, sessionID)
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}

	m.cancelWatchdog(sessionID)
	sess.RetryCount++
	return m.startLocked(opCtx, sess)
}

// List returns the persisted session records.
func (m *Manager) List(ctx context.Context) ([]domain.Session, error) {
	return m.sessions.List(ctx)
}

// HandleStatusEvent is the internal transition hook for provider-originated
// status events. Not a public control operation; the webhook ingestor and
// the connector both forward into it.
func (m *Manager) HandleStatusEvent(sessionID, event string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()

	opCtx, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		// Provider will redeliver or the next event supersedes this one.
		m.log.Debug().Str("session", sessionID).Str("event", event).Msg("dropping status event, session busy")
		return
	}
	defer release()

	sess, ok := m.Get(sessionID)
	if !ok {
		m.log.Debug().Str("session", sessionID).Str("event", event).Msg("status event for unknown session")
		return
	}

	switch event {
	case domain.StatusAuthenticated:
		switch sess.State {
		case domain.StateStarting, domain.StateAwaitingQR, domain.StateAwaitingPhoneCode:
			m.setChallenge(sessionID, nil)
			m.setState(&sess, domain.StateAuthenticated, "")
			m.openSocketLocked(opCtx, &sess)
		}
	case domain.StatusConnected:
		switch sess.State {
		case domain.StateAuthenticated, domain.StateReconnecting:
			m.setState(&sess, domain.StateReady, "")
		}
	case domain.StatusDisconnected:
		if sess.State == domain.StateReady {
			m.setState(&sess, domain.StateReconnecting, "socket dropped")
			m.startWatchdog(sessionID)
		}
	default:
		m.log.Debug().Str("session", sessionID).Str("event", event).Msg("ignoring status event")
	}
}

// openSocketLocked asks the provider for an event socket after auth. A
// successful return moves the session to READY directly: the caller holds
// the session lock, so a connector that signals connected from inside
// OpenSocket would find the handler busy and the signal would be lost.
func (m *Manager) openSocketLocked(ctx context.Context, sess *domain.Session) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	if err := m.connector.OpenSocket(cctx, sess.SessionID); err != nil {
		m.setState(sess, domain.StateFailed, err.Error())
		return
	}
	m.setState(sess, domain.StateReady, "")
}

// getOrResurrect returns the live session, falling back to the persisted
// record. A process restart loses the socket; surviving connected states
// degrade to STOPPED so a fresh start is required. Caller holds the session
// lock.
func (m *Manager) getOrResurrect(ctx context.Context, sessionID string) (domain.Session, bool) {
	if sess, ok := m.Get(sessionID); ok {
		return sess, true
	}

	sess, ok, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("loading persisted session failed")
		return domain.Session{}, false
	}
	if !ok {
		return domain.Session{}, false
	}
	if sess.State.InStartFlow() {
		sess.State = domain.StateStopped
	}
	m.putLive(sess)
	return sess, true
}

// loadLocked returns the live or persisted session, falling back to a fresh
// UNINITIALIZED one. Caller holds the session lock.
func (m *Manager) loadLocked(ctx context.Context, sessionID, accountID string) domain.Session {
	if sess, ok := m.getOrResurrect(ctx, sessionID); ok {
		return sess
	}

	sess := domain.Session{
		SessionID: sessionID,
		AccountID: accountID,
		State:     domain.StateUninitialized,
	}
	m.putLive(sess)
	return sess
}

// setState applies a transition, persists it, and notifies listeners.
// Illegal transitions are logged and skipped rather than crashing the
// pipeline.
func (m *Manager) setState(sess *domain.Session, next domain.SessionState, lastErr string) {
	if sess.State == next {
		return
	}
	if !sess.State.CanTransitionTo(next) {
		m.log.Error().
			Str("session", sess.SessionID).
			Str("from", string(sess.State)).
			Str("to", string(next)).
			Msg("illegal state transition skipped")
		return
	}

	prev := sess.State
	sess.State = next
	sess.LastError = lastErr
	sess.LastTransitionAt = time.Now()

	if prev == domain.StateReconnecting && next != domain.StateReconnecting {
		m.cancelWatchdog(sess.SessionID)
	}

	m.putLive(*sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.sessions.Save(ctx, *sess); err != nil {
		m.log.Error().Err(err).Str("session", sess.SessionID).Msg("persisting session state failed")
	}
	cancel()

	m.log.Info().
		Str("session", sess.SessionID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("session state changed")

	m.mu.RLock()
	listeners := make([]func(domain.Session), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(*sess)
	}
}

func (m *Manager) putLive(sess domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[sess.SessionID]
	if !ok {
		ls = &liveSession{}
		m.live[sess.SessionID] = ls
	}
	ls.sess = sess
}

func (m *Manager) setChallenge(sessionID string, ch *domain.AuthChallenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.live[sessionID]; ok {
		ls.challenge = ch
	}
}
