package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from SessionState
		to   SessionState
		want bool
	}{
		{"uninitialized to starting", StateUninitialized, StateStarting, true},
		{"starting to awaiting qr", StateStarting, StateAwaitingQR, true},
		{"starting to awaiting phone code", StateStarting, StateAwaitingPhoneCode, true},
		{"awaiting qr to authenticated", StateAwaitingQR, StateAuthenticated, true},
		{"authenticated to ready", StateAuthenticated, StateReady, true},
		{"ready to reconnecting", StateReady, StateReconnecting, true},
		{"reconnecting to ready", StateReconnecting, StateReady, true},
		{"reconnecting to failed", StateReconnecting, StateFailed, true},
		{"failed to starting", StateFailed, StateStarting, true},
		{"stopped to starting", StateStopped, StateStarting, true},
		{"force restart from awaiting qr", StateAwaitingQR, StateStarting, true},
		{"force restart from authenticated", StateAuthenticated, StateStarting, true},

		{"uninitialized to ready", StateUninitialized, StateReady, false},
		{"awaiting qr to ready", StateAwaitingQR, StateReady, false},
		{"ready to authenticated", StateReady, StateAuthenticated, false},
		{"stopped to ready", StateStopped, StateReady, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStopAlwaysLegal(t *testing.T) {
	states := []SessionState{
		StateUninitialized, StateStarting, StateAwaitingQR, StateAwaitingPhoneCode,
		StateAuthenticated, StateReady, StateReconnecting, StateStopped, StateFailed,
	}
	for _, s := range states {
		assert.True(t, s.CanTransitionTo(StateStopped), "stop from %s", s)
	}
}

func TestInStartFlow(t *testing.T) {
	assert.True(t, StateStarting.InStartFlow())
	assert.True(t, StateAwaitingQR.InStartFlow())
	assert.True(t, StateAwaitingPhoneCode.InStartFlow())
	assert.True(t, StateAuthenticated.InStartFlow())
	assert.True(t, StateReady.InStartFlow())
	assert.True(t, StateReconnecting.InStartFlow())

	assert.False(t, StateUninitialized.InStartFlow())
	assert.False(t, StateStopped.InStartFlow())
	assert.False(t, StateFailed.InStartFlow())
}

func TestCanReceive(t *testing.T) {
	assert.True(t, StateAuthenticated.CanReceive())
	assert.True(t, StateReady.CanReceive())

	assert.False(t, StateAwaitingQR.CanReceive())
	assert.False(t, StateReconnecting.CanReceive())
	assert.False(t, StateStopped.CanReceive())
	assert.False(t, StateFailed.CanReceive())
}
