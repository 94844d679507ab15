// Package rules loads the clinical protocol checklist and exposes it as an
// immutable lookup table for the assessment engine.
package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"dentsim/models"
)

// MalformedRuleError reports a rule file entry that cannot be loaded. It is
// fatal to startup; a store is never built from a partially valid document.
type MalformedRuleError struct {
	Index  int
	Reason string
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("malformed rule at index %d: %s", e.Index, e.Reason)
}

// ruleRecord mirrors the rule file schema. ScoreDelta is a pointer so a
// missing field can be told apart from an explicit zero.
type ruleRecord struct {
	Category      string   `json:"category"`
	ActionType    string   `json:"action_type"`
	Criterion     string   `json:"criterion"`
	ScoreDelta    *int     `json:"score_delta"`
	RequiresFlags []string `json:"requires_flags"`
	SetsFlag      string   `json:"sets_flag"`
	Reveals       []string `json:"reveals"`
	Feedback      string   `json:"feedback"`
}

type ruleKey struct {
	category   models.PathologyCategory
	actionType string
	criterion  string
}

// Store is a validated, immutable table of scoring rules keyed by
// (category, action type). Safe for concurrent reads across sessions.
type Store struct {
	byKey map[ruleKey]struct{}
	index map[models.PathologyCategory]map[string][]models.ScoringRule
	count int
}

// Load parses a JSON rule document into a Store. The document is an array of
// rule records; every record needs a known category, a known action type and
// a score delta, and the (category, action_type, criterion) triple must be
// unique.
func Load(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule document: %w", err)
	}

	var records []ruleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}

	store := &Store{
		byKey: make(map[ruleKey]struct{}),
		index: make(map[models.PathologyCategory]map[string][]models.ScoringRule),
	}

	for i, rec := range records {
		if rec.ActionType == "" {
			return nil, &MalformedRuleError{Index: i, Reason: "missing action_type"}
		}
		if rec.ScoreDelta == nil {
			return nil, &MalformedRuleError{Index: i, Reason: "missing score_delta"}
		}
		category, err := models.ParsePathologyCategory(rec.Category)
		if err != nil {
			return nil, &MalformedRuleError{Index: i, Reason: err.Error()}
		}
		if !models.IsKnownActionType(rec.ActionType) {
			return nil, &MalformedRuleError{Index: i, Reason: fmt.Sprintf("unknown action type %q", rec.ActionType)}
		}

		key := ruleKey{category: category, actionType: rec.ActionType, criterion: rec.Criterion}
		if _, dup := store.byKey[key]; dup {
			return nil, &MalformedRuleError{
				Index:  i,
				Reason: fmt.Sprintf("duplicate rule for (%s, %s, %q)", category, rec.ActionType, rec.Criterion),
			}
		}
		store.byKey[key] = struct{}{}

		rule := models.ScoringRule{
			Category:      category,
			ActionType:    rec.ActionType,
			Criterion:     rec.Criterion,
			ScoreDelta:    *rec.ScoreDelta,
			RequiresFlags: append([]string(nil), rec.RequiresFlags...),
			SetsFlag:      rec.SetsFlag,
			Reveals:       append([]string(nil), rec.Reveals...),
			Feedback:      rec.Feedback,
		}

		if store.index[category] == nil {
			store.index[category] = make(map[string][]models.ScoringRule)
		}
		// Declaration order within the document is the evaluation order.
		store.index[category][rec.ActionType] = append(store.index[category][rec.ActionType], rule)
		store.count++
	}

	return store, nil
}

// LoadFile loads a rule document from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// RulesFor returns all rules matching the category and action type, in
// declaration order. An empty slice means no rules match; that is not an
// error.
func (s *Store) RulesFor(category models.PathologyCategory, actionType string) []models.ScoringRule {
	byAction, ok := s.index[category]
	if !ok {
		return nil
	}
	rules := byAction[actionType]
	// Copy so callers can never mutate the table.
	return append([]models.ScoringRule(nil), rules...)
}

// Len returns the number of loaded rules.
func (s *Store) Len() int {
	return s.count
}
