// Package domain defines the canonical data shapes shared by the session,
// ingestion, storage, and monitoring components.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Direction classifies a message relative to the connected account.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Vintage records whether a message arrived via the live webhook stream or
// a history backfill.
type Vintage string

const (
	VintageLive     Vintage = "live"
	VintageBackfill Vintage = "backfill"
)

// Message is the normalized, provider-agnostic message record all downstream
// logic operates on.
type Message struct {
	MessageID  string    `json:"messageId"`
	SessionID  string    `json:"sessionId"`
	ChatID     string    `json:"chatId"`
	IsGroup    bool      `json:"isGroup"`
	GroupID    string    `json:"groupId,omitempty"`
	GroupName  string    `json:"groupName,omitempty"`
	SenderID   string    `json:"senderId"`
	Direction  Direction `json:"direction"`
	Body       string    `json:"body"`
	OccurredAt time.Time `json:"occurredAt"`
	IngestedAt time.Time `json:"ingestedAt"`
	Vintage    Vintage   `json:"vintage"`
}

// groupSuffix is the provider's group-chat JID server part.
const groupSuffix = "@g.us"

// IsGroupChat reports whether a chat id addresses a group, derived from the
// identifier shape. Payload flags are not trusted; they can be stale.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// ValidIdentifier reports whether s is usable as a chat or message id.
// Stringified-object artifacts are rejected outright: the upstream structure
// they came from has no confirmed identifier contract, so no field recovery
// is attempted.
func ValidIdentifier(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	if strings.Contains(s, "[object") {
		return false
	}
	return true
}

// BodyHash returns a stable hash of the message body for windowed dedup.
// The body is case-folded and whitespace-collapsed first so trivial
// re-renderings of the same message hash identically.
func BodyHash(body string) string {
	folded := strings.ToLower(strings.Join(strings.Fields(body), " "))
	sum := sha256.Sum256([]byte(folded))
	return hex.EncodeToString(sum[:])
}

// DedupPolicy governs how far back an otherwise-identical
// (chat, sender, body-hash) tuple is still considered a duplicate when the
// provider message id is absent.
type DedupPolicy struct {
	RefreshMode          bool `json:"refreshMode" yaml:"refreshMode"`
	DuplicateWindowHours int  `json:"duplicateWindowHours" yaml:"duplicateWindowHours"`
}

const defaultDuplicateWindowHours = 4

// Window resolves the effective dedup window. Refresh mode shrinks it to
// one hour so a re-scan can pick up recent traffic as new.
func (p DedupPolicy) Window() time.Duration {
	hours := p.DuplicateWindowHours
	if hours <= 0 {
		hours = defaultDuplicateWindowHours
	}
	if p.RefreshMode && hours > 1 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}
