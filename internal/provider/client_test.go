package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgvault/msgvault/internal/config"
	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ProviderConfig{BaseURL: srv.URL, Token: "tok"}, logging.New(io.Discard, "silent"))
}

func TestRequestAuthChallenge(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions/sess-1/auth/challenge", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(domain.AuthChallenge{Kind: domain.ChallengeQR, Value: "payload"})
	}))

	challenge, err := c.RequestAuthChallenge(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeQR, challenge.Kind)
	assert.Equal(t, "payload", challenge.Value)
}

func TestRequestAuthChallengeDefaultsToQR(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"value": "payload"})
	}))

	challenge, err := c.RequestAuthChallenge(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeQR, challenge.Kind)
}

func TestRequestAuthChallengeServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.RequestAuthChallenge(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRequestPairingCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/sess-1/auth/pairing-code", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15551234567", body["phoneNumber"])

		json.NewEncoder(w).Encode(map[string]string{"code": "ABCD-1234"})
	}))

	code, err := c.RequestPairingCode(context.Background(), "sess-1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code)
}

func TestRequestPairingCodeUnsupported(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := c.RequestPairingCode(context.Background(), "sess-1", "+15551234567")
		require.ErrorIs(t, err, domain.ErrUnsupportedAuthMethod, "status %d", status)
	}
}

func TestFetchHistory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/sess-1/chats/123@c.us/messages", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]domain.RawMessage{
			{ID: "m1", ChatID: "123@c.us", Body: "one"},
		})
	}))

	msgs, err := c.FetchHistory(context.Background(), "sess-1", "123@c.us", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestNewAppliesConfiguredTimeout(t *testing.T) {
	log := logging.New(io.Discard, "silent")

	c := New(config.ProviderConfig{BaseURL: "http://provider:3000", TimeoutSeconds: 5}, log)
	assert.Equal(t, 5*time.Second, c.http.Timeout)

	// Zero disables the client-level deadline; callers still bound requests
	// with their context.
	c = New(config.ProviderConfig{BaseURL: "http://provider:3000"}, log)
	assert.Zero(t, c.http.Timeout)
}

func TestEventsURL(t *testing.T) {
	c := New(config.ProviderConfig{BaseURL: "http://provider:3000"}, logging.New(io.Discard, "silent"))
	u, err := c.eventsURL("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://provider:3000/api/sessions/sess-1/events", u)

	c = New(config.ProviderConfig{BaseURL: "https://provider.example/base/"}, logging.New(io.Discard, "silent"))
	u, err = c.eventsURL("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "wss://provider.example/base/api/sessions/sess-1/events", u)
}

func TestEncodeQR(t *testing.T) {
	uri, err := EncodeQR("2@abcdef,ghijkl")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
}
