package domain

import (
	"strings"
	"time"
)

// MonitorRule is a user-configured (group, keyword-set) pair evaluated
// against ingested group messages. Rules are written by the external
// configuration layer; the pipeline only reads them and bumps rolling stats.
type MonitorRule struct {
	RuleID    string    `json:"ruleId"`
	OwnerID   string    `json:"ownerId"`
	GroupID   string    `json:"groupId,omitempty"`
	GroupName string    `json:"groupName,omitempty"`
	Keywords  []string  `json:"keywords"`
	IsActive  bool      `json:"isActive"`

	// Rolling stats, best-effort.
	TotalMessages int64     `json:"totalMessages"`
	LastActivity  time.Time `json:"lastActivity"`
}

// AppliesTo reports whether the rule targets the group the message was sent
// in. GroupID wins when set; GroupName is the fallback for records where the
// provider only populated a display name.
func (r MonitorRule) AppliesTo(msg Message) bool {
	if !msg.IsGroup {
		return false
	}
	if r.GroupID != "" {
		return r.GroupID == msg.GroupID || r.GroupID == msg.ChatID
	}
	if r.GroupName != "" {
		return strings.EqualFold(r.GroupName, msg.GroupName)
	}
	return false
}

// MatchKeyword returns the first keyword with a case-insensitive substring
// match against the body, and whether any matched.
func (r MonitorRule) MatchKeyword(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
