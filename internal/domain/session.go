package domain

import "time"

// SessionState is the lifecycle state of one provider session.
type SessionState string

const (
	StateUninitialized     SessionState = "UNINITIALIZED"
	StateStarting          SessionState = "STARTING"
	StateAwaitingQR        SessionState = "AWAITING_QR"
	StateAwaitingPhoneCode SessionState = "AWAITING_PHONE_CODE"
	StateAuthenticated     SessionState = "AUTHENTICATED"
	StateReady             SessionState = "READY"
	StateReconnecting      SessionState = "RECONNECTING"
	StateStopped           SessionState = "STOPPED"
	StateFailed            SessionState = "FAILED"
)

// transitions is the legality table for state changes. Stop is legal from
// every state and handled separately.
var transitions = map[SessionState][]SessionState{
	StateUninitialized:     {StateStarting},
	StateStarting:          {StateAwaitingQR, StateAwaitingPhoneCode, StateAuthenticated, StateFailed},
	StateAwaitingQR:        {StateAuthenticated, StateStarting, StateFailed},
	StateAwaitingPhoneCode: {StateAuthenticated, StateStarting, StateFailed},
	StateAuthenticated:     {StateReady, StateStarting, StateFailed},
	StateReady:             {StateReconnecting, StateStarting, StateFailed},
	StateReconnecting:      {StateReady, StateFailed, StateStarting},
	StateStopped:           {StateStarting},
	StateFailed:            {StateStarting},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if next == StateStopped {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InStartFlow reports whether a start operation is already underway or
// complete, making a further start a no-op.
func (s SessionState) InStartFlow() bool {
	switch s {
	case StateStarting, StateAwaitingQR, StateAwaitingPhoneCode,
		StateAuthenticated, StateReady, StateReconnecting:
		return true
	}
	return false
}

// CanReceive reports whether webhook events for this session should be
// ingested. Anything below AUTHENTICATED is discarded without error, since
// provider deliveries can race session teardown.
func (s SessionState) CanReceive() bool {
	return s == StateAuthenticated || s == StateReady
}

// Session is the per-account connection record.
type Session struct {
	SessionID        string       `json:"sessionId"`
	AccountID        string       `json:"accountId"`
	State            SessionState `json:"state"`
	LastTransitionAt time.Time    `json:"lastTransitionAt"`
	LastError        string       `json:"lastError,omitempty"`
	RetryCount       int          `json:"retryCount"`
}
