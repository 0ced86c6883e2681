// Package provider implements the connector contract against a provider
// daemon exposing an HTTP control API and a WebSocket event stream.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msgvault/msgvault/internal/config"
	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
)

// Client talks to the provider daemon. It satisfies domain.Connector.
type Client struct {
	cfg  config.ProviderConfig
	http *http.Client
	log  *logging.Logger

	mu        sync.RWMutex
	onStatus  func(sessionID, event string)
	onMessage func(sessionID string, raw domain.RawMessage)
	sockets   map[string]*socket
}

type socket struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New creates a provider client from configuration.
func New(cfg config.ProviderConfig, log *logging.Logger) *Client {
	httpClient := &http.Client{}
	if cfg.TimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		log:     log.Sub("provider"),
		sockets: make(map[string]*socket),
	}
}

// OnStatus registers the async status event handler.
func (c *Client) OnStatus(handler func(sessionID, event string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = handler
}

// OnMessage registers the async message event handler.
func (c *Client) OnMessage(handler func(sessionID string, raw domain.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// RequestAuthChallenge asks the provider for a fresh QR or pairing challenge.
func (c *Client) RequestAuthChallenge(ctx context.Context, sessionID string) (domain.AuthChallenge, error) {
	var challenge domain.AuthChallenge
	path := fmt.Sprintf("/api/sessions/%s/auth/challenge", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodPost, path, nil, &challenge); err != nil {
		return domain.AuthChallenge{}, fmt.Errorf("requesting auth challenge: %w", err)
	}
	if challenge.Kind == "" {
		challenge.Kind = domain.ChallengeQR
	}
	return challenge, nil
}

// RequestPairingCode asks for a phone pairing code. A 404 or 501 from the
// provider means the deployment has no phone pairing at all.
func (c *Client) RequestPairingCode(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	path := fmt.Sprintf("/api/sessions/%s/auth/pairing-code", url.PathEscape(sessionID))
	body := map[string]string{"phoneNumber": phoneNumber}

	var resp struct {
		Code string `json:"code"`
	}
	err := c.do(ctx, http.MethodPost, path, body, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusNotImplemented) {
			return "", domain.ErrUnsupportedAuthMethod
		}
		return "", fmt.Errorf("requesting pairing code: %w", err)
	}
	return resp.Code, nil
}

// OpenSocket dials the provider event stream for a session and starts the
// read loop. Returns nil if a socket is already open. A successful dial is
// reported to the status handler as connected.
func (c *Client) OpenSocket(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if _, open := c.sockets[sessionID]; open {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	wsURL, err := c.eventsURL(sessionID)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dialing event socket: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sockets[sessionID] = &socket{conn: conn, cancel: cancel}
	c.mu.Unlock()

	go c.readLoop(loopCtx, sessionID, conn)

	// Emitted off the caller's goroutine: OpenSocket runs under the session
	// lock and the status handler acquires that same lock.
	go c.emitStatus(sessionID, domain.StatusConnected)
	return nil
}

// CloseSocket tears down the event stream. Idempotent.
func (c *Client) CloseSocket(_ context.Context, sessionID string) error {
	c.mu.Lock()
	s, open := c.sockets[sessionID]
	if open {
		delete(c.sockets, sessionID)
	}
	c.mu.Unlock()

	if !open {
		return nil
	}
	s.cancel()
	return s.conn.Close()
}

// FetchHistory retrieves up to limit past messages for a chat.
func (c *Client) FetchHistory(ctx context.Context, sessionID, chatID string, limit int) ([]domain.RawMessage, error) {
	path := fmt.Sprintf("/api/sessions/%s/chats/%s/messages?limit=%d",
		url.PathEscape(sessionID), url.PathEscape(chatID), limit)

	var msgs []domain.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return msgs, nil
}

// eventFrame is the wire shape of one provider event.
type eventFrame struct {
	Event   string            `json:"event"`
	Session string            `json:"session,omitempty"`
	Status  string            `json:"status,omitempty"`
	Payload domain.RawMessage `json:"payload,omitempty"`
}

// readLoop decodes event frames until the socket dies, then reports the
// session as disconnected so the watchdog can take over.
func (c *Client) readLoop(ctx context.Context, sessionID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Closed on purpose; no disconnect signal.
				return
			}
			c.log.Warn().Err(err).Str("session", sessionID).Msg("event socket read failed")
			c.mu.Lock()
			delete(c.sockets, sessionID)
			c.mu.Unlock()
			c.emitStatus(sessionID, domain.StatusDisconnected)
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn().Err(err).Str("session", sessionID).Msg("undecodable event frame dropped")
			continue
		}

		switch frame.Event {
		case "message":
			c.emitMessage(sessionID, frame.Payload)
		case "status":
			c.emitStatus(sessionID, frame.Status)
		default:
			c.log.Debug().Str("event", frame.Event).Msg("ignoring provider event")
		}
	}
}

func (c *Client) emitStatus(sessionID, event string) {
	c.mu.RLock()
	handler := c.onStatus
	c.mu.RUnlock()
	if handler != nil {
		handler(sessionID, event)
	}
}

func (c *Client) emitMessage(sessionID string, raw domain.RawMessage) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()
	if handler != nil {
		handler(sessionID, raw)
	}
}

// statusError carries a non-2xx provider response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

// do issues one HTTP request against the provider API and decodes the JSON
// response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// eventsURL derives the WebSocket endpoint from the HTTP base URL.
func (c *Client) eventsURL(sessionID string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing provider base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/events"
	return u.String(), nil
}
