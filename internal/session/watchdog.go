package session

import (
	"context"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
)

// startWatchdog launches the reconnect loop for a session that just dropped.
// Any previous watchdog for the session is cancelled first.
func (m *Manager) startWatchdog(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	ls, ok := m.live[sessionID]
	if !ok {
		m.mu.Unlock()
		cancel()
		return
	}
	if ls.watchdogCancel != nil {
		ls.watchdogCancel()
	}
	ls.watchdogCancel = cancel
	m.mu.Unlock()

	go m.runWatchdog(ctx, sessionID)
}

// cancelWatchdog stops the reconnect loop, if one is running. Called on any
// transition away from RECONNECTING (recovery, stop, restart, force-restart).
func (m *Manager) cancelWatchdog(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.live[sessionID]; ok && ls.watchdogCancel != nil {
		ls.watchdogCancel()
		ls.watchdogCancel = nil
	}
}

// runWatchdog retries the provider socket with capped exponential backoff.
// Exhaustion is a terminal FAILED transition; recovery returns the session
// to READY.
func (m *Manager) runWatchdog(ctx context.Context, sessionID string) {
	delay := m.cfg.ReconnectInitialDelay

	for attempt := 1; attempt <= m.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		cctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
		err := m.connector.OpenSocket(cctx, sessionID)
		cancel()

		if err == nil {
			m.transitionFromWatchdog(sessionID, domain.StateReady, "")
			return
		}

		m.log.Warn().
			Err(err).
			Str("session", sessionID).
			Int("attempt", attempt).
			Int("max", m.cfg.ReconnectMaxAttempts).
			Msg("reconnect attempt failed")

		delay *= 2
		if delay > m.cfg.ReconnectMaxDelay {
			delay = m.cfg.ReconnectMaxDelay
		}
	}

	m.transitionFromWatchdog(sessionID, domain.StateFailed, reconnectExhausted)
}

// transitionFromWatchdog applies a watchdog-originated transition under the
// session lock, but only if the session is still RECONNECTING; any other
// state means something else (stop, force-restart) already took over.
func (m *Manager) transitionFromWatchdog(sessionID string, next domain.SessionState, lastErr string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()

	_, release, err := m.locks.acquire(ctx, sessionID)
	if err != nil {
		return
	}
	defer release()

	sess, ok := m.Get(sessionID)
	if !ok || sess.State != domain.StateReconnecting {
		return
	}
	m.setState(&sess, next, lastErr)
}
