package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// RulesEngine evaluates the merged rule set against a flattened evaluation
// context. Conditions within a rule are conjunctive; a rule with zero
// conditions never matches.
type RulesEngine struct {
	logger                *zap.Logger
	store                 RuleStore
	highPriorityThreshold int
}

// NewRulesEngine creates the rules engine. Matched rules with priority above
// threshold short-circuit the evaluation.
func NewRulesEngine(store RuleStore, highPriorityThreshold int, logger *zap.Logger) *RulesEngine {
	return &RulesEngine{
		logger:                logger,
		store:                 store,
		highPriorityThreshold: highPriorityThreshold,
	}
}

// ruleCandidate carries a rule with its ordering metadata.
type ruleCandidate struct {
	rule     *models.Rule
	source   models.RuleSource
	insertID int
}

// Evaluate runs the candidate rules against the context and returns the first
// match in priority order. ShortCircuit is set when the winning rule's
// priority exceeds the high-priority threshold.
func (r *RulesEngine) Evaluate(userID uuid.UUID, evalCtx map[string]interface{}) models.RuleEvaluationResult {
	candidates := r.collectCandidates(userID)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rule.Priority != candidates[j].rule.Priority {
			return candidates[i].rule.Priority > candidates[j].rule.Priority
		}
		if candidates[i].source != candidates[j].source {
			return candidates[i].source < candidates[j].source
		}
		return candidates[i].insertID < candidates[j].insertID
	})

	var first *ruleCandidate
	matched := 0

	for i := range candidates {
		c := &candidates[i]
		if !r.ruleMatches(c.rule, evalCtx) {
			continue
		}
		matched++
		if first == nil {
			first = c
			if c.rule.Priority > r.highPriorityThreshold {
				r.logger.Debug("rule evaluation short-circuited",
					zap.String("rule_id", c.rule.ID),
					zap.Int("priority", c.rule.Priority))
				return models.RuleEvaluationResult{
					Matched:      true,
					Rule:         c.rule,
					Source:       c.source,
					ShortCircuit: true,
				}
			}
		}
	}

	if first == nil {
		return models.RuleEvaluationResult{}
	}

	r.logger.Debug("rule matched",
		zap.String("rule_id", first.rule.ID),
		zap.String("source", first.source.String()),
		zap.Int("total_matches", matched))

	return models.RuleEvaluationResult{
		Matched: true,
		Rule:    first.rule,
		Source:  first.source,
	}
}

// HasUserCustomization reports whether the user carries rules or preferences
// that make their evaluations user-specific.
func (r *RulesEngine) HasUserCustomization(userID uuid.UUID) bool {
	if userID == uuid.Nil {
		return false
	}
	return len(r.store.UserRules(userID)) > 0 || r.store.Preferences(userID) != nil
}

// collectCandidates merges the enabled global rules, the user's rules, and
// rules synthesized from the user's preferences.
func (r *RulesEngine) collectCandidates(userID uuid.UUID) []ruleCandidate {
	var candidates []ruleCandidate
	insertID := 0

	for _, rule := range r.store.GlobalRules() {
		if rule.Enabled {
			candidates = append(candidates, ruleCandidate{rule, models.SourceGlobal, insertID})
		}
		insertID++
	}

	if userID != uuid.Nil {
		for _, rule := range r.store.UserRules(userID) {
			if rule.Enabled {
				candidates = append(candidates, ruleCandidate{rule, models.SourceUser, insertID})
			}
			insertID++
		}

		for _, rule := range synthesizePreferenceRules(r.store.Preferences(userID)) {
			candidates = append(candidates, ruleCandidate{rule, models.SourcePreference, insertID})
			insertID++
		}
	}

	return candidates
}

// synthesizePreferenceRules turns a user's prefix preferences into transient
// rules. Blocked prefixes outrank allowed ones.
func synthesizePreferenceRules(prefs *models.UserPreferences) []*models.Rule {
	if prefs == nil {
		return nil
	}

	var rules []*models.Rule

	for i, prefix := range prefs.BlockedPrefixes {
		rules = append(rules, &models.Rule{
			ID:       fmt.Sprintf("pref_block_%d", i),
			Name:     fmt.Sprintf("Blocked Prefix %s", prefix),
			Enabled:  true,
			Priority: 300,
			Conditions: []models.RuleCondition{
				{Field: "phone", Operator: models.OpStartsWith, Value: prefix},
			},
			Action: models.RuleAction{
				Type:       models.ActionBlock,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("Caller prefix %s is blocked by user preference", prefix),
			},
			UserID: &prefs.UserID,
		})
	}

	for i, prefix := range prefs.AllowedPrefixes {
		rules = append(rules, &models.Rule{
			ID:       fmt.Sprintf("pref_allow_%d", i),
			Name:     fmt.Sprintf("Allowed Prefix %s", prefix),
			Enabled:  true,
			Priority: 250,
			Conditions: []models.RuleCondition{
				{Field: "phone", Operator: models.OpStartsWith, Value: prefix},
			},
			Action: models.RuleAction{
				Type:       models.ActionAllow,
				Confidence: 0.85,
				Reason:     fmt.Sprintf("Caller prefix %s is allowed by user preference", prefix),
				Temporary:  prefs.TemporaryAllowDuration > 0,
				Duration:   prefs.TemporaryAllowDuration,
			},
			UserID: &prefs.UserID,
		})
	}

	return rules
}

// ruleMatches requires every condition to hold. A condition whose field does
// not resolve evaluates to false.
func (r *RulesEngine) ruleMatches(rule *models.Rule, evalCtx map[string]interface{}) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !evaluateCondition(cond, evalCtx) {
			return false
		}
	}
	return true
}

// evaluateCondition applies one operator to the resolved field value. Unknown
// operators fail closed.
func evaluateCondition(cond models.RuleCondition, evalCtx map[string]interface{}) bool {
	value, ok := lookupField(evalCtx, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case models.OpEquals:
		return valuesEqual(value, cond.Value, cond.CaseSensitive)
	case models.OpContains:
		return stringOp(value, cond.Value, cond.CaseSensitive, strings.Contains)
	case models.OpStartsWith:
		return stringOp(value, cond.Value, cond.CaseSensitive, strings.HasPrefix)
	case models.OpEndsWith:
		return stringOp(value, cond.Value, cond.CaseSensitive, strings.HasSuffix)
	case models.OpGreaterThan:
		a, aok := asNumber(value)
		b, bok := asNumber(cond.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := asNumber(value)
		b, bok := asNumber(cond.Value)
		return aok && bok && a < b
	case models.OpMatches:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(asString(value))
	case models.OpIn:
		return valueIn(value, cond.Value, cond.CaseSensitive)
	default:
		return false
	}
}

// lookupField resolves a dot-path against the flattened context, descending
// into nested maps when a path segment is itself a map.
func lookupField(evalCtx map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := evalCtx[field]; ok {
		return v, true
	}

	parts := strings.Split(field, ".")
	var current interface{} = evalCtx
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valuesEqual(a, b interface{}, caseSensitive bool) bool {
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}

	as, bs := asString(a), asString(b)
	if caseSensitive {
		return as == bs
	}
	return strings.EqualFold(as, bs)
}

func stringOp(a, b interface{}, caseSensitive bool, op func(string, string) bool) bool {
	as, bs := asString(a), asString(b)
	if !caseSensitive {
		as, bs = strings.ToLower(as), strings.ToLower(bs)
	}
	return op(as, bs)
}

func valueIn(value, set interface{}, caseSensitive bool) bool {
	switch items := set.(type) {
	case []string:
		for _, item := range items {
			if valuesEqual(value, item, caseSensitive) {
				return true
			}
		}
	case []interface{}:
		for _, item := range items {
			if valuesEqual(value, item, caseSensitive) {
				return true
			}
		}
	}
	return false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
