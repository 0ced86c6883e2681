// Package monitor evaluates group keyword rules over newly stored messages.
package monitor

import (
	"context"
	"time"

	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/store"
)

// Evaluator matches stored group messages against the active rule set and
// emits at most one notification per (rule, message) pair.
type Evaluator struct {
	rules *store.RuleStore
	sink  domain.Sink
	log   *logging.Logger
}

// New creates an evaluator. sink may be nil when no delivery surface exists.
func New(rules *store.RuleStore, sink domain.Sink, log *logging.Logger) *Evaluator {
	return &Evaluator{
		rules: rules,
		sink:  sink,
		log:   log.Sub("monitor"),
	}
}

// Evaluate runs the active rules against one message. Evaluation failures
// never propagate: the message is already stored, so a broken rule must not
// poison the ingest path.
func (e *Evaluator) Evaluate(ctx context.Context, msg domain.Message) {
	if !msg.IsGroup {
		return
	}

	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("listing monitor rules failed")
		return
	}

	for _, rule := range rules {
		if !rule.AppliesTo(msg) {
			continue
		}
		keyword, ok := rule.MatchKeyword(msg.Body)
		if !ok {
			continue
		}

		first, err := e.rules.MarkMatch(ctx, rule.RuleID, msg.MessageID)
		if err != nil {
			e.log.Error().Err(err).Str("rule", rule.RuleID).Msg("recording match failed")
			continue
		}
		if !first {
			continue
		}

		e.log.Info().
			Str("rule", rule.RuleID).
			Str("group", msg.GroupID).
			Str("keyword", keyword).
			Msg("monitor rule matched")

		if e.sink != nil {
			if err := e.sink.OnRuleMatch(ctx, rule, msg); err != nil {
				e.log.Warn().Err(err).Str("rule", rule.RuleID).Msg("delivering rule match failed")
			}
		}
		e.bumpStats(rule.RuleID)
	}
}

// bumpStats updates rolling counters off the hot path. Failures only log;
// stats are advisory.
func (e *Evaluator) bumpStats(ruleID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.rules.BumpStats(ctx, ruleID, time.Now()); err != nil {
			e.log.Warn().Err(err).Str("rule", ruleID).Msg("rule stats update failed")
		}
	}()
}
