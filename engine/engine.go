// Package engine scores structured student actions against the protocol
// checklist. Evaluate is deterministic for identical inputs: it never reads
// the clock, never generates randomness, and performs no I/O beyond the
// injected safety validator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dentsim/models"
	"dentsim/rules"
)

// SafetyPenalty is the fixed score delta applied when a high-risk action is
// contraindicated, or when the safety validator cannot be reached.
const SafetyPenalty = -20

// FeedbackUnrecognized is the feedback text for an action type with no
// candidate rules. Unknown actions are a normal outcome, not a fault.
const FeedbackUnrecognized = "unrecognized action"

// ErrSafetyCapability marks a safety validator fault. The returned decision
// is already fail-closed; the error exists so callers can log the outage.
var ErrSafetyCapability = errors.New("safety validator fault")

// SafetyValidator checks a high-risk action against the patient's current
// state. Implementations are injected; the engine never talks to a vendor
// API directly.
type SafetyValidator interface {
	Validate(ctx context.Context, action models.StructuredAction, state models.ScenarioState) (models.SafetyVerdict, error)
}

// Prescriptions are always high risk. Radiographs join them because of
// pregnancy contraindications.
var highRiskActions = map[string]bool{
	"order_radiograph": true,
}

func isHighRisk(actionType string) bool {
	return strings.HasPrefix(actionType, "prescribe_") || highRiskActions[actionType]
}

// Evaluate produces the scoring decision for one student action against the
// current scenario state.
//
// Candidate rules are taken in declaration order. A rule with an unmet
// precondition flag is skipped; a rule whose criterion does not appear in the
// action parameters is skipped; there is no partial credit. For high-risk
// action types the safety validator is consulted before any rule effect is
// accumulated: a contraindication replaces normal scoring with the fixed
// penalty and short-circuits the remaining rules. A validator fault fails
// closed the same way, and additionally returns ErrSafetyCapability.
//
// An action type with no candidate rules is a normal outcome, not an error.
func Evaluate(ctx context.Context, action models.StructuredAction, state models.ScenarioState, store *rules.Store, validator SafetyValidator) (models.ScoringDecision, error) {
	candidates := store.RulesFor(state.Category, action.ActionType)
	if len(candidates) == 0 {
		return models.ScoringDecision{Feedback: FeedbackUnrecognized}, nil
	}

	var decision models.ScoringDecision
	var notes []string
	fired := 0
	validated := false

	for _, rule := range candidates {
		if !preconditionsMet(rule, state) {
			continue
		}
		if rule.Criterion != "" && !criterionMatches(rule.Criterion, action.Parameters) {
			continue
		}

		if isHighRisk(action.ActionType) && !validated {
			validated = true
			if validator != nil {
				verdict, err := validator.Validate(ctx, action, state)
				if err != nil {
					return failClosed("safety validation unavailable; the action was recorded as unsafe"),
						fmt.Errorf("%w: %v", ErrSafetyCapability, err)
				}
				if verdict.Contraindicated {
					reason := verdict.Reason
					if reason == "" {
						reason = "the action is contraindicated for this patient"
					}
					return failClosed(reason), nil
				}
			}
		}

		decision.ScoreDelta += rule.ScoreDelta
		if rule.SetsFlag != "" && !state.HasFlag(rule.SetsFlag) {
			decision.NewFlags = appendUnique(decision.NewFlags, rule.SetsFlag)
		}
		for _, finding := range rule.Reveals {
			if !state.HasFinding(finding) {
				decision.NewFindings = appendUnique(decision.NewFindings, finding)
			}
		}
		if rule.Feedback != "" {
			notes = append(notes, rule.Feedback)
		}
		fired++
	}

	switch {
	case len(notes) > 0:
		decision.Feedback = strings.Join(notes, " ")
	case fired > 0:
		decision.Feedback = fmt.Sprintf("%s accepted by the protocol", action.ActionType)
	default:
		decision.Feedback = fmt.Sprintf("%s did not satisfy any protocol step", action.ActionType)
	}
	return decision, nil
}

func failClosed(reason string) models.ScoringDecision {
	return models.ScoringDecision{
		ScoreDelta:      SafetyPenalty,
		Feedback:        "Safety violation: " + reason,
		SafetyViolation: true,
	}
}

// preconditionsMet reports whether every flag the rule requires has already
// been triggered. An unmet precondition is a normal skip, not a violation.
func preconditionsMet(rule models.ScoringRule, state models.ScenarioState) bool {
	for _, flag := range rule.RequiresFlags {
		if !state.HasFlag(flag) {
			return false
		}
	}
	return true
}

// criterionMatches looks for the rule's clinical criterion in the action
// parameters, case-insensitively.
func criterionMatches(criterion string, params map[string]string) bool {
	needle := strings.ToLower(criterion)
	for _, value := range params {
		if strings.Contains(strings.ToLower(value), needle) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
