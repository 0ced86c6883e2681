package domain

import (
	"fmt"
	"strings"
	"time"
)

// millisCutoff separates unix-second from unix-millisecond timestamps.
// Anything above it cannot be a plausible second count.
const millisCutoff = int64(1e12)

// Normalize converts a raw provider payload into the canonical Message.
// The chat id must be usable; a message without one cannot be filed
// anywhere and is rejected with ErrInvalidIdentifier. A missing or
// artifact message id is cleared so storage falls back to windowed dedup.
func Normalize(sessionID string, raw RawMessage, vintage Vintage) (Message, error) {
	chatID := strings.TrimSpace(raw.ChatID)
	if chatID == "" {
		if raw.FromMe {
			chatID = strings.TrimSpace(raw.To)
		} else {
			chatID = strings.TrimSpace(raw.From)
		}
	}
	if !ValidIdentifier(chatID) {
		return Message{}, fmt.Errorf("%w: chat id %q", ErrInvalidIdentifier, raw.ChatID)
	}

	messageID := strings.TrimSpace(raw.ID)
	if !ValidIdentifier(messageID) {
		messageID = ""
	}

	direction := DirectionIncoming
	if raw.FromMe {
		direction = DirectionOutgoing
	}

	senderID := strings.TrimSpace(raw.From)
	if senderID == "" {
		senderID = chatID
	}

	msg := Message{
		MessageID:  messageID,
		SessionID:  sessionID,
		ChatID:     chatID,
		SenderID:   senderID,
		Direction:  direction,
		Body:       raw.Body,
		OccurredAt: occurredAt(raw.Timestamp),
		IngestedAt: time.Now().UTC(),
		Vintage:    vintage,
	}

	// Group membership comes from the identifier shape, not the payload flag.
	if IsGroupChat(chatID) {
		msg.IsGroup = true
		msg.GroupID = chatID
		msg.GroupName = strings.TrimSpace(raw.GroupName)
	}
	return msg, nil
}

// occurredAt interprets the provider timestamp, tolerating both seconds and
// milliseconds. A missing timestamp falls back to now.
func occurredAt(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Now().UTC()
	case ts >= millisCutoff:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}
