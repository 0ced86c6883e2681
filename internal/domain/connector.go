package domain

import "context"

// ChallengeKind distinguishes the two auth flows a provider can offer.
type ChallengeKind string

const (
	ChallengeQR        ChallengeKind = "qr"
	ChallengePhoneCode ChallengeKind = "phone_code"
)

// AuthChallenge is the provider's response to a session start request:
// either a QR payload to scan or a phone pairing code.
type AuthChallenge struct {
	Kind  ChallengeKind `json:"kind"`
	Value string        `json:"value"`
}

// RawMessage is a provider-pushed message payload before normalization.
// Field population is inconsistent across provider versions; normalization
// must not trust any single field to be present.
type RawMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix seconds, 0 when missing
	GroupName string `json:"groupName,omitempty"`
	IsGroup   bool   `json:"isGroup,omitempty"` // advisory only, may be stale
}

// StatusEvent values pushed by the provider for a session.
const (
	StatusAuthenticated = "authenticated"
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
)

// Connector is the contract with the external provider process. All calls
// are bounded by the passed context; implementations must not hang.
type Connector interface {
	// RequestAuthChallenge asks the provider for a fresh QR or pairing
	// challenge for the session.
	RequestAuthChallenge(ctx context.Context, sessionID string) (AuthChallenge, error)

	// RequestPairingCode asks for a phone pairing code. Returns
	// ErrUnsupportedAuthMethod when the deployment has no phone pairing.
	RequestPairingCode(ctx context.Context, sessionID, phoneNumber string) (string, error)

	// OpenSocket opens the provider event socket for an authenticated
	// session. Events arrive via the handlers registered with OnStatus
	// and OnMessage.
	OpenSocket(ctx context.Context, sessionID string) error

	// CloseSocket tears down the event socket. Idempotent.
	CloseSocket(ctx context.Context, sessionID string) error

	// FetchHistory retrieves up to limit past messages for a chat.
	FetchHistory(ctx context.Context, sessionID, chatID string, limit int) ([]RawMessage, error)

	// OnStatus registers a handler for async session status events.
	OnStatus(handler func(sessionID, event string))

	// OnMessage registers a handler for async message events.
	OnMessage(handler func(sessionID string, raw RawMessage))
}

// Sink is the downstream consumer interface: ingested messages and rule
// matches are handed off here for agents, monitors, and summarizers.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
	OnRuleMatch(ctx context.Context, rule MonitorRule, msg Message) error
}
