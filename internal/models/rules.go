package models

import (
	"time"

	"github.com/google/uuid"
)

// ConditionOperator is the closed set of comparison operators a rule condition
// may use. Dispatch is a single switch; unknown operators never match.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpContains    ConditionOperator = "contains"
	OpStartsWith  ConditionOperator = "startsWith"
	OpEndsWith    ConditionOperator = "endsWith"
	OpGreaterThan ConditionOperator = "greaterThan"
	OpLessThan    ConditionOperator = "lessThan"
	OpMatches     ConditionOperator = "matches"
	OpIn          ConditionOperator = "in"
)

// ActionType is the closed set of outcomes a rule can produce.
type ActionType string

const (
	ActionAllow   ActionType = "allow"
	ActionBlock   ActionType = "block"
	ActionAnalyze ActionType = "analyze"
	ActionFlag    ActionType = "flag"
)

// RuleCondition is a single predicate over the flattened evaluation context.
// Field supports dot-path nesting; an unresolved path evaluates to false.
type RuleCondition struct {
	Field         string            `json:"field"`
	Operator      ConditionOperator `json:"operator"`
	Value         interface{}       `json:"value"`
	CaseSensitive bool              `json:"case_sensitive,omitempty"`
}

// RuleAction describes what happens when a rule matches.
type RuleAction struct {
	Type       ActionType    `json:"type"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Temporary  bool          `json:"temporary,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// RuleSource identifies which rule set a rule came from. Precedence on priority
// ties is global, then user, then preference-synthesized.
type RuleSource int

const (
	SourceGlobal RuleSource = iota
	SourceUser
	SourcePreference
)

func (s RuleSource) String() string {
	switch s {
	case SourceGlobal:
		return "global"
	case SourceUser:
		return "user"
	case SourcePreference:
		return "preference"
	default:
		return "unknown"
	}
}

// Rule is a prioritized, conjunctive decision rule. A rule matches iff all of
// its conditions are true; a rule with zero conditions never matches.
type Rule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Enabled    bool            `json:"enabled"`
	Priority   int             `json:"priority"`
	Conditions []RuleCondition `json:"conditions"`
	Action     RuleAction      `json:"action"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RuleEvaluationResult is the outcome of matching a request against the
// candidate rule set.
type RuleEvaluationResult struct {
	Matched      bool       `json:"matched"`
	Rule         *Rule      `json:"rule,omitempty"`
	Source       RuleSource `json:"source"`
	ShortCircuit bool       `json:"short_circuit"`
}

// UserPreferences hold per-user policy knobs. They are compiled into
// synthesized rules at evaluation time.
type UserPreferences struct {
	UserID                 uuid.UUID     `json:"user_id"`
	AllowedPrefixes        []string      `json:"allowed_prefixes,omitempty"`
	BlockedPrefixes        []string      `json:"blocked_prefixes,omitempty"`
	AutoLearnThreshold     float64       `json:"auto_learn_threshold"`
	RequireManualApproval  bool          `json:"require_manual_approval"`
	TemporaryAllowDuration time.Duration `json:"temporary_allow_duration"`
}

// RuleSetExport is the bulk JSON envelope for rule import/export.
type RuleSetExport struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Global     []*Rule               `json:"global"`
	Users      map[uuid.UUID][]*Rule `json:"users,omitempty"`
}
