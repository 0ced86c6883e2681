package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/store"
)

// fakeConnector is a scriptable connector for manager tests.
type fakeConnector struct {
	mu             sync.Mutex
	challenge      domain.AuthChallenge
	challengeErr   error
	challengeCalls int
	pairingCode    string
	pairingErr     error
	openErr        error
	openCalls      int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		challenge: domain.AuthChallenge{Kind: domain.ChallengeQR, Value: "qr-payload"},
	}
}

func (f *fakeConnector) RequestAuthChallenge(ctx context.Context, sessionID string) (domain.AuthChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challengeCalls++
	if f.challengeErr != nil {
		return domain.AuthChallenge{}, f.challengeErr
	}
	return f.challenge, nil
}

func (f *fakeConnector) RequestPairingCode(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairingErr != nil {
		return "", f.pairingErr
	}
	return f.pairingCode, nil
}

func (f *fakeConnector) OpenSocket(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	return f.openErr
}

func (f *fakeConnector) CloseSocket(ctx context.Context, sessionID string) error { return nil }

func (f *fakeConnector) FetchHistory(ctx context.Context, sessionID, chatID string, limit int) ([]domain.RawMessage, error) {
	return nil, nil
}

func (f *fakeConnector) OnStatus(handler func(sessionID, event string))                  {}
func (f *fakeConnector) OnMessage(handler func(sessionID string, raw domain.RawMessage)) {}

func (f *fakeConnector) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeConnector) calls() (challenges, opens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challengeCalls, f.openCalls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectInitialDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond
	cfg.ReconnectMaxAttempts = 3
	return cfg
}

func newTestManager(t *testing.T, conn domain.Connector, cfg Config) *Manager {
	t.Helper()
	log := logging.New(io.Discard, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(conn, store.NewSessionStore(db), cfg, log)
}

// bringToReady walks a fresh session through the full happy path.
func bringToReady(t *testing.T, m *Manager, fake *fakeConnector, sessionID string) {
	t.Helper()
	_, err := m.Start(context.Background(), sessionID, "acct-1")
	require.NoError(t, err)
	m.HandleStatusEvent(sessionID, domain.StatusAuthenticated)
	m.HandleStatusEvent(sessionID, domain.StatusConnected)

	sess, ok := m.Get(sessionID)
	require.True(t, ok)
	require.Equal(t, domain.StateReady, sess.State)
}

func TestStartIssuesChallenge(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	sess, err := m.Start(context.Background(), "sess-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)

	challenge, ok := m.Challenge("sess-1")
	require.True(t, ok)
	assert.Equal(t, "qr-payload", challenge.Value)
}

func TestStartIsIdempotentWhileAwaitingAuth(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	_, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)

	// A second start must not burn the pending challenge.
	sess, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)

	challenges, _ := fake.calls()
	assert.Equal(t, 1, challenges)
}

func TestStartFailureIsTerminal(t *testing.T) {
	fake := newFakeConnector()
	fake.challengeErr = errors.New("provider down")
	m := newTestManager(t, fake, testConfig())

	sess, err := m.Start(context.Background(), "sess-1", "acct-1")
	require.ErrorIs(t, err, domain.ErrSessionStart)
	assert.Equal(t, domain.StateFailed, sess.State)
	assert.Contains(t, sess.LastError, "provider down")
}

func TestPhoneCodeFlow(t *testing.T) {
	fake := newFakeConnector()
	fake.challenge = domain.AuthChallenge{Kind: domain.ChallengePhoneCode}
	fake.pairingCode = "ABCD-1234"
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	sess, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPhoneCode, sess.State)

	code, err := m.SubmitPhoneCode(ctx, "sess-1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code)
}

func TestPhoneCodeUnsupported(t *testing.T) {
	fake := newFakeConnector()
	fake.challenge = domain.AuthChallenge{Kind: domain.ChallengePhoneCode}
	fake.pairingErr = domain.ErrUnsupportedAuthMethod
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	_, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)

	_, err = m.SubmitPhoneCode(ctx, "sess-1", "+15551234567")
	require.ErrorIs(t, err, domain.ErrUnsupportedAuthMethod)

	// The failure leaves the session where it was.
	sess, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateAwaitingPhoneCode, sess.State)
}

func TestPhoneCodeRejectedOutsideAuthFlow(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	bringToReady(t, m, fake, "sess-1")

	_, err := m.SubmitPhoneCode(ctx, "sess-1", "+15551234567")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStatusEventsDriveLifecycle(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	_, err := m.Start(context.Background(), "sess-1", "acct-1")
	require.NoError(t, err)

	// Auth opens the socket inline; a successful open lands in READY
	// without waiting for the connector's connected signal.
	m.HandleStatusEvent("sess-1", domain.StatusAuthenticated)
	sess, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateReady, sess.State)

	_, opens := fake.calls()
	assert.Equal(t, 1, opens)

	// The pending challenge is consumed on auth.
	_, hasChallenge := m.Challenge("sess-1")
	assert.False(t, hasChallenge)

	// The connector's own connected signal arriving afterwards is a no-op.
	m.HandleStatusEvent("sess-1", domain.StatusConnected)
	sess, _ = m.Get("sess-1")
	assert.Equal(t, domain.StateReady, sess.State)
}

func TestAuthenticatedSocketFailure(t *testing.T) {
	fake := newFakeConnector()
	fake.openErr = errors.New("socket refused")
	m := newTestManager(t, fake, testConfig())

	_, err := m.Start(context.Background(), "sess-1", "acct-1")
	require.NoError(t, err)

	m.HandleStatusEvent("sess-1", domain.StatusAuthenticated)
	sess, _ := m.Get("sess-1")
	assert.Equal(t, domain.StateFailed, sess.State)
	assert.Contains(t, sess.LastError, "socket refused")
}

// reentrantConnector reports connected from inside OpenSocket, the way a
// connector whose dial completes synchronously would.
type reentrantConnector struct {
	*fakeConnector
	manager *Manager
}

func (r *reentrantConnector) OpenSocket(ctx context.Context, sessionID string) error {
	if err := r.fakeConnector.OpenSocket(ctx, sessionID); err != nil {
		return err
	}
	r.manager.HandleStatusEvent(sessionID, domain.StatusConnected)
	return nil
}

func TestSynchronousConnectedSignalReachesReady(t *testing.T) {
	conn := &reentrantConnector{fakeConnector: newFakeConnector()}
	cfg := testConfig()
	cfg.OpTimeout = 50 * time.Millisecond
	m := newTestManager(t, conn, cfg)
	conn.manager = m

	_, err := m.Start(context.Background(), "sess-1", "acct-1")
	require.NoError(t, err)

	// The re-entrant connected signal finds the session lock held and is
	// dropped; the session must still come out READY.
	m.HandleStatusEvent("sess-1", domain.StatusAuthenticated)

	sess, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateReady, sess.State)
}

func TestStatusEventForUnknownSessionIgnored(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	m.HandleStatusEvent("ghost", domain.StatusConnected)
	_, ok := m.Get("ghost")
	assert.False(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	bringToReady(t, m, fake, "sess-1")

	sess, err := m.Stop(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, sess.State)

	sess, err = m.Stop(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, sess.State)
}

func TestStopUnknownSession(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	_, err := m.Stop(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrUnknownSession)
}

func TestRestartFromFailed(t *testing.T) {
	fake := newFakeConnector()
	fake.challengeErr = errors.New("provider down")
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	_, err := m.Start(ctx, "sess-1", "acct-1")
	require.ErrorIs(t, err, domain.ErrSessionStart)

	fake.mu.Lock()
	fake.challengeErr = nil
	fake.mu.Unlock()

	sess, err := m.Restart(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
	assert.Equal(t, 1, sess.RetryCount)
}

func TestRestartRejectedMidAuth(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	_, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)

	_, err = m.Restart(ctx, "sess-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestForceRestartIgnoresState(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	_, err := m.Start(ctx, "sess-1", "acct-1")
	require.NoError(t, err)

	// Force restart works even from AWAITING_QR, where a plain restart
	// would be rejected.
	sess, err := m.ForceRestart(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
	assert.Equal(t, 1, sess.RetryCount)

	challenges, _ := fake.calls()
	assert.Equal(t, 2, challenges)
}

func TestWatchdogRecovers(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	bringToReady(t, m, fake, "sess-1")

	m.HandleStatusEvent("sess-1", domain.StatusDisconnected)
	sess, _ := m.Get("sess-1")
	assert.Equal(t, domain.StateReconnecting, sess.State)

	require.Eventually(t, func() bool {
		sess, _ := m.Get("sess-1")
		return sess.State == domain.StateReady
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatchdogExhaustionFails(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	bringToReady(t, m, fake, "sess-1")

	fake.setOpenErr(errors.New("socket refused"))
	m.HandleStatusEvent("sess-1", domain.StatusDisconnected)

	require.Eventually(t, func() bool {
		sess, _ := m.Get("sess-1")
		return sess.State == domain.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	sess, _ := m.Get("sess-1")
	assert.Equal(t, "reconnect_exhausted", sess.LastError)
}

func TestStopCancelsWatchdog(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())
	ctx := context.Background()

	bringToReady(t, m, fake, "sess-1")

	fake.setOpenErr(errors.New("socket refused"))
	m.HandleStatusEvent("sess-1", domain.StatusDisconnected)

	sess, err := m.Stop(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, sess.State)

	// The watchdog must not resurrect a stopped session.
	time.Sleep(100 * time.Millisecond)
	sess, _ = m.Get("sess-1")
	assert.Equal(t, domain.StateStopped, sess.State)
}

func TestConcurrentStartsSingleChallenge(t *testing.T) {
	fake := newFakeConnector()
	m := newTestManager(t, fake, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start(context.Background(), "sess-1", "acct-1")
		}()
	}
	wg.Wait()

	challenges, _ := fake.calls()
	assert.Equal(t, 1, challenges, "serialized starts collapse to one challenge")

	sess, ok := m.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
}

func TestListSurvivesRestartDegraded(t *testing.T) {
	fake := newFakeConnector()
	log := logging.New(io.Discard, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sessions := store.NewSessionStore(db)

	m1 := NewManager(fake, sessions, testConfig(), log)
	bringToReady(t, m1, fake, "sess-1")

	// A new manager over the same store models a process restart: the
	// socket is gone, so the persisted READY degrades to STOPPED on load.
	m2 := NewManager(fake, sessions, testConfig(), log)
	sess, err := m2.Start(context.Background(), "sess-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
}

func TestRestartResurrectsPersistedSession(t *testing.T) {
	fake := newFakeConnector()
	log := logging.New(io.Discard, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sessions := store.NewSessionStore(db)

	require.NoError(t, sessions.Save(context.Background(), domain.Session{
		SessionID: "sess-1",
		AccountID: "acct-1",
		State:     domain.StateFailed,
		LastError: "reconnect_exhausted",
	}))

	// A fresh manager only knows the persisted record; restart must still
	// find the FAILED session instead of reporting it unknown.
	m := NewManager(fake, sessions, testConfig(), log)
	sess, err := m.Restart(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
	assert.Equal(t, 1, sess.RetryCount)
}

func TestForceRestartResurrectsPersistedSession(t *testing.T) {
	fake := newFakeConnector()
	log := logging.New(io.Discard, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sessions := store.NewSessionStore(db)

	require.NoError(t, sessions.Save(context.Background(), domain.Session{
		SessionID: "sess-1",
		AccountID: "acct-1",
		State:     domain.StateReady,
	}))

	m := NewManager(fake, sessions, testConfig(), log)
	sess, err := m.ForceRestart(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingQR, sess.State)
	assert.Equal(t, 1, sess.RetryCount)
}
