package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whitelist-engine/internal/models"
)

// RuleStore owns the global and per-user rule sets plus user preferences. It
// is injected into the engine so tests can substitute their own state.
type RuleStore interface {
	GlobalRules() []*models.Rule
	UserRules(userID uuid.UUID) []*models.Rule
	Preferences(userID uuid.UUID) *models.UserPreferences

	AddGlobalRule(rule *models.Rule) error
	AddUserRule(userID uuid.UUID, rule *models.Rule) error
	RemoveUserRule(userID uuid.UUID, ruleID string) error
	SetPreferences(prefs *models.UserPreferences) error

	Export() (*models.RuleSetExport, error)
	Import(export *models.RuleSetExport) error
}

// MemoryRuleStore is the in-process RuleStore implementation. Insertion order
// is preserved per rule set; priority ties resolve to earlier insertions.
type MemoryRuleStore struct {
	logger *zap.Logger

	mu          sync.RWMutex
	globalRules []*models.Rule
	userRules   map[uuid.UUID][]*models.Rule
	preferences map[uuid.UUID]*models.UserPreferences
}

// NewMemoryRuleStore creates a rule store seeded with the built-in global
// rules.
func NewMemoryRuleStore(logger *zap.Logger) *MemoryRuleStore {
	s := &MemoryRuleStore{
		logger:      logger,
		userRules:   make(map[uuid.UUID][]*models.Rule),
		preferences: make(map[uuid.UUID]*models.UserPreferences),
	}

	for _, rule := range builtinGlobalRules() {
		s.globalRules = append(s.globalRules, rule)
	}

	logger.Info("rule store initialized",
		zap.Int("global_rules", len(s.globalRules)))

	return s
}

// builtinGlobalRules are the default rules every deployment carries.
func builtinGlobalRules() []*models.Rule {
	now := time.Now()
	return []*models.Rule{
		{
			ID:       "emergency_allow",
			Name:     "Emergency Number Allow",
			Enabled:  true,
			Priority: 1000,
			Conditions: []models.RuleCondition{
				{Field: "phone", Operator: models.OpIn, Value: []string{"911", "112", "999"}},
			},
			Action: models.RuleAction{
				Type:       models.ActionAllow,
				Confidence: 1.0,
				Reason:     "Emergency service number",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:       "contact_book_allow",
			Name:     "Contact Book Allow",
			Enabled:  true,
			Priority: 800,
			Conditions: []models.RuleCondition{
				{Field: "in_contact_book", Operator: models.OpEquals, Value: true},
			},
			Action: models.RuleAction{
				Type:       models.ActionAllow,
				Confidence: 0.95,
				Reason:     "Caller is in the user's contact book",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:       "high_confidence_spam_block",
			Name:     "High Confidence Spam Block",
			Enabled:  true,
			Priority: 600,
			Conditions: []models.RuleCondition{
				{Field: "ensemble_is_spam", Operator: models.OpEquals, Value: true},
				{Field: "ensemble_confidence", Operator: models.OpGreaterThan, Value: 0.9},
			},
			Action: models.RuleAction{
				Type:       models.ActionBlock,
				Confidence: 0.9,
				Reason:     "Ensemble classified as spam with very high confidence",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:       "tollfree_indicator_review",
			Name:     "Toll-Free With Indicators",
			Enabled:  true,
			Priority: 400,
			Conditions: []models.RuleCondition{
				{Field: "region", Operator: models.OpEquals, Value: "Toll-Free"},
				{Field: "spam_indicator_count", Operator: models.OpGreaterThan, Value: 3.0},
			},
			Action: models.RuleAction{
				Type:       models.ActionAnalyze,
				Confidence: 0.7,
				Reason:     "Toll-free caller with multiple spam indicators",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// GlobalRules returns a snapshot of the global rule set in insertion order.
func (s *MemoryRuleStore) GlobalRules() []*models.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.Rule(nil), s.globalRules...)
}

// UserRules returns a snapshot of one user's rules in insertion order.
func (s *MemoryRuleStore) UserRules(userID uuid.UUID) []*models.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.Rule(nil), s.userRules[userID]...)
}

// Preferences returns the user's policy knobs, or nil if none are set.
func (s *MemoryRuleStore) Preferences(userID uuid.UUID) *models.UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferences[userID]
}

// AddGlobalRule validates and appends a global rule.
func (s *MemoryRuleStore) AddGlobalRule(rule *models.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findGlobal(rule.ID) != nil {
		return fmt.Errorf("global rule already exists: %s", rule.ID)
	}

	rule.UserID = nil
	stampRule(rule)
	s.globalRules = append(s.globalRules, rule)

	s.logger.Info("global rule added",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.Int("priority", rule.Priority))

	return nil
}

// AddUserRule validates and appends a rule to one user's set.
func (s *MemoryRuleStore) AddUserRule(userID uuid.UUID, rule *models.Rule) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.userRules[userID] {
		if existing.ID == rule.ID {
			return fmt.Errorf("user rule already exists: %s", rule.ID)
		}
	}

	rule.UserID = &userID
	stampRule(rule)
	s.userRules[userID] = append(s.userRules[userID], rule)

	s.logger.Info("user rule added",
		zap.String("user_id", userID.String()),
		zap.String("rule_id", rule.ID),
		zap.Int("priority", rule.Priority))

	return nil
}

// RemoveUserRule deletes a rule from one user's set.
func (s *MemoryRuleStore) RemoveUserRule(userID uuid.UUID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := s.userRules[userID]
	for i, rule := range rules {
		if rule.ID == ruleID {
			s.userRules[userID] = append(rules[:i], rules[i+1:]...)
			s.logger.Info("user rule removed",
				zap.String("user_id", userID.String()),
				zap.String("rule_id", ruleID))
			return nil
		}
	}

	return fmt.Errorf("rule not found: %s", ruleID)
}

// SetPreferences stores a user's policy knobs.
func (s *MemoryRuleStore) SetPreferences(prefs *models.UserPreferences) error {
	if prefs == nil || prefs.UserID == uuid.Nil {
		return fmt.Errorf("preferences require a user id")
	}
	if prefs.AutoLearnThreshold < 0 || prefs.AutoLearnThreshold > 1 {
		return fmt.Errorf("auto_learn_threshold must be between 0 and 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[prefs.UserID] = prefs
	return nil
}

// Export produces the bulk JSON envelope of all rule sets.
func (s *MemoryRuleStore) Export() (*models.RuleSetExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export := &models.RuleSetExport{
		Version:    1,
		ExportedAt: time.Now(),
		Global:     append([]*models.Rule(nil), s.globalRules...),
		Users:      make(map[uuid.UUID][]*models.Rule, len(s.userRules)),
	}
	for userID, rules := range s.userRules {
		export.Users[userID] = append([]*models.Rule(nil), rules...)
	}

	return export, nil
}

// Import replaces the rule sets with the envelope's contents. Validation is
// all-or-nothing: a single bad rule rejects the whole import.
func (s *MemoryRuleStore) Import(export *models.RuleSetExport) error {
	if export == nil {
		return fmt.Errorf("empty rule export")
	}
	if export.Version != 1 {
		return fmt.Errorf("unsupported rule export version: %d", export.Version)
	}

	for _, rule := range export.Global {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("invalid global rule %q: %w", rule.ID, err)
		}
	}
	for userID, rules := range export.Users {
		for _, rule := range rules {
			if err := validateRule(rule); err != nil {
				return fmt.Errorf("invalid rule %q for user %s: %w", rule.ID, userID, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.globalRules = append([]*models.Rule(nil), export.Global...)
	s.userRules = make(map[uuid.UUID][]*models.Rule, len(export.Users))
	for userID, rules := range export.Users {
		uid := userID
		for _, rule := range rules {
			rule.UserID = &uid
		}
		s.userRules[userID] = append([]*models.Rule(nil), rules...)
	}

	s.logger.Info("rule sets imported",
		zap.Int("global_rules", len(s.globalRules)),
		zap.Int("user_sets", len(s.userRules)))

	return nil
}

// MarshalExport serializes a rule export envelope to JSON.
func MarshalExport(export *models.RuleSetExport) ([]byte, error) {
	return json.MarshalIndent(export, "", "  ")
}

// UnmarshalExport parses a rule export envelope from JSON.
func UnmarshalExport(data []byte) (*models.RuleSetExport, error) {
	var export models.RuleSetExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse rule export: %w", err)
	}
	return &export, nil
}

func (s *MemoryRuleStore) findGlobal(ruleID string) *models.Rule {
	for _, rule := range s.globalRules {
		if rule.ID == ruleID {
			return rule
		}
	}
	return nil
}

func stampRule(rule *models.Rule) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
}

var validOperators = map[models.ConditionOperator]bool{
	models.OpEquals: true, models.OpContains: true,
	models.OpStartsWith: true, models.OpEndsWith: true,
	models.OpGreaterThan: true, models.OpLessThan: true,
	models.OpMatches: true, models.OpIn: true,
}

var validActions = map[models.ActionType]bool{
	models.ActionAllow: true, models.ActionBlock: true,
	models.ActionAnalyze: true, models.ActionFlag: true,
}

// validateRule rejects malformed rule definitions synchronously so they are
// never partially applied.
func validateRule(rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !validActions[rule.Action.Type] {
		return fmt.Errorf("unknown action type: %s", rule.Action.Type)
	}
	if rule.Action.Confidence < 0 || rule.Action.Confidence > 1 {
		return fmt.Errorf("action confidence must be between 0 and 1")
	}
	for i, cond := range rule.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if !validOperators[cond.Operator] {
			return fmt.Errorf("condition %d: unknown operator: %s", i, cond.Operator)
		}
	}
	return nil
}
