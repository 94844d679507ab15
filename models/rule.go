package models

import "fmt"

// PathologyCategory tags a patient case and the scoring rules that apply to it.
// The set is closed; rule loading rejects anything else.
type PathologyCategory string

const (
	CategoryInfectious    PathologyCategory = "infectious"
	CategoryNeoplastic    PathologyCategory = "neoplastic"
	CategoryImmunologic   PathologyCategory = "immunologic"
	CategoryTraumatic     PathologyCategory = "traumatic"
	CategoryDevelopmental PathologyCategory = "developmental"
	CategoryIdiopathic    PathologyCategory = "idiopathic"
)

var pathologyCategories = map[PathologyCategory]bool{
	CategoryInfectious:    true,
	CategoryNeoplastic:    true,
	CategoryImmunologic:   true,
	CategoryTraumatic:     true,
	CategoryDevelopmental: true,
	CategoryIdiopathic:    true,
}

// ParsePathologyCategory validates a category tag from a rule or case file.
func ParsePathologyCategory(s string) (PathologyCategory, error) {
	c := PathologyCategory(s)
	if !pathologyCategories[c] {
		return "", fmt.Errorf("unknown pathology category %q", s)
	}
	return c, nil
}

// actionTypeList is the closed vocabulary of clinical steps a student can
// attempt, in the stable order the interpreter prompt enumerates. The lookup
// map below is derived from it, so the two can never drift apart.
var actionTypeList = []string{
	"ask_history",
	"ask_symptom_duration",
	"ask_medication_history",
	"examine_oral_mucosa",
	"palpate_lesion",
	"order_biopsy",
	"order_culture",
	"order_radiograph",
	"prescribe_nsaid",
	"prescribe_antibiotic",
	"prescribe_antifungal",
	"prescribe_corticosteroid",
	"refer_specialist",
	"reassure_patient",
}

var actionTypes = func() map[string]bool {
	m := make(map[string]bool, len(actionTypeList))
	for _, t := range actionTypeList {
		m[t] = true
	}
	return m
}()

// IsKnownActionType reports whether s belongs to the action vocabulary.
func IsKnownActionType(s string) bool {
	return actionTypes[s]
}

// ActionTypes returns the vocabulary in a stable order for prompt construction.
func ActionTypes() []string {
	return append([]string(nil), actionTypeList...)
}

// ScoringRule is one entry of the clinical protocol checklist. Rules are
// immutable once loaded and uniquely identified by (category, action type,
// criterion).
type ScoringRule struct {
	Category      PathologyCategory `json:"category"`
	ActionType    string            `json:"action_type"`
	Criterion     string            `json:"criterion,omitempty"`
	ScoreDelta    int               `json:"score_delta"`
	RequiresFlags []string          `json:"requires_flags,omitempty"`
	SetsFlag      string            `json:"sets_flag,omitempty"`
	Reveals       []string          `json:"reveals,omitempty"`
	Feedback      string            `json:"feedback,omitempty"`
}
