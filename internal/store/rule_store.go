package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/msgvault/msgvault/internal/domain"
)

// RuleStore holds group monitor rules. The pipeline reads rules and records
// matches; rule creation and removal belong to the configuration layer.
type RuleStore struct {
	db *DB
}

// NewRuleStore creates a rule store using the given database.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

// Upsert inserts or updates a rule. A missing rule id is generated.
func (r *RuleStore) Upsert(ctx context.Context, rule domain.MonitorRule) (domain.MonitorRule, error) {
	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}
	keywords, err := json.Marshal(rule.Keywords)
	if err != nil {
		return rule, fmt.Errorf("encoding keywords: %w", err)
	}

	_, err = r.db.sql.ExecContext(ctx,
		`INSERT INTO monitor_rules (rule_id, owner_id, group_id, group_name, keywords, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(rule_id) DO UPDATE SET
		   owner_id = excluded.owner_id,
		   group_id = excluded.group_id,
		   group_name = excluded.group_name,
		   keywords = excluded.keywords,
		   is_active = excluded.is_active`,
		rule.RuleID, rule.OwnerID, rule.GroupID, rule.GroupName,
		string(keywords), boolToInt(rule.IsActive),
	)
	if err != nil {
		return rule, fmt.Errorf("upserting rule: %w", err)
	}
	return rule, nil
}

// Delete removes a rule and its match ledger entries.
func (r *RuleStore) Delete(ctx context.Context, ruleID string) error {
	if _, err := r.db.sql.ExecContext(ctx, `DELETE FROM monitor_matches WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("deleting rule matches: %w", err)
	}
	if _, err := r.db.sql.ExecContext(ctx, `DELETE FROM monitor_rules WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return nil
}

// ListActive returns all active rules.
func (r *RuleStore) ListActive(ctx context.Context) ([]domain.MonitorRule, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT rule_id, owner_id, group_id, group_name, keywords, is_active, total_messages, last_activity
		 FROM monitor_rules WHERE is_active = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.MonitorRule
	for rows.Next() {
		var (
			rule         domain.MonitorRule
			keywords     string
			isActive     int
			lastActivity sql.NullString
		)
		if err := rows.Scan(&rule.RuleID, &rule.OwnerID, &rule.GroupID, &rule.GroupName,
			&keywords, &isActive, &rule.TotalMessages, &lastActivity); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rule.IsActive = isActive != 0
		if err := json.Unmarshal([]byte(keywords), &rule.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords for rule %s: %w", rule.RuleID, err)
		}
		if lastActivity.Valid {
			rule.LastActivity = parseTime(lastActivity.String)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// MarkMatch records a (rule, message) match and reports whether it is the
// first occurrence. The primary key makes the check-and-record atomic, which
// is what guarantees at-most-once emission per pair.
func (r *RuleStore) MarkMatch(ctx context.Context, ruleID, messageID string) (bool, error) {
	res, err := r.db.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO monitor_matches (rule_id, message_id) VALUES (?, ?)`,
		ruleID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("marking match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking match: %w", err)
	}
	return n > 0, nil
}

// BumpStats increments a rule's rolling counters. Best-effort by contract:
// callers log failures and move on.
func (r *RuleStore) BumpStats(ctx context.Context, ruleID string, at time.Time) error {
	_, err := r.db.sql.ExecContext(ctx,
		`UPDATE monitor_rules
		 SET total_messages = total_messages + 1, last_activity = ?
		 WHERE rule_id = ?`,
		fmtTime(at), ruleID,
	)
	if err != nil {
		return fmt.Errorf("updating rule stats: %w", err)
	}
	return nil
}
