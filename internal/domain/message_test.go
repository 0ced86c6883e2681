package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"plain id", "12345@c.us", true},
		{"group id", "987-654@g.us", true},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"stringified object", "[object Object]", false},
		{"stringified object embedded", "chat-[object Object]-1", false},
		{"brackets alone are fine", "[chat]", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.id))
		})
	}
}

func TestIsGroupChat(t *testing.T) {
	assert.True(t, IsGroupChat("123-456@g.us"))
	assert.False(t, IsGroupChat("123456@c.us"))
	assert.False(t, IsGroupChat(""))
	assert.False(t, IsGroupChat("g.us@something"))
}

func TestBodyHash(t *testing.T) {
	// Case and whitespace variations hash identically.
	assert.Equal(t, BodyHash("Hello  World"), BodyHash("hello world"))
	assert.Equal(t, BodyHash(" hello\tworld \n"), BodyHash("HELLO WORLD"))

	// Different content does not.
	assert.NotEqual(t, BodyHash("hello world"), BodyHash("hello there"))
	assert.Len(t, BodyHash("anything"), 64)
}

func TestDedupPolicyWindow(t *testing.T) {
	tests := []struct {
		name   string
		policy DedupPolicy
		want   time.Duration
	}{
		{"default", DedupPolicy{}, 4 * time.Hour},
		{"explicit", DedupPolicy{DuplicateWindowHours: 12}, 12 * time.Hour},
		{"refresh caps at one hour", DedupPolicy{RefreshMode: true, DuplicateWindowHours: 12}, time.Hour},
		{"refresh with default", DedupPolicy{RefreshMode: true}, time.Hour},
		{"negative falls back", DedupPolicy{DuplicateWindowHours: -1}, 4 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Window())
		})
	}
}
