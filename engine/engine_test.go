package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"dentsim/models"
	"dentsim/rules"
)

const testRules = `[
  {
    "category": "immunologic",
    "action_type": "ask_history",
    "score_delta": 5,
    "sets_flag": "anamnesis_completed",
    "feedback": "Thorough history taken."
  },
  {
    "category": "immunologic",
    "action_type": "examine_oral_mucosa",
    "criterion": "Wickham striae",
    "score_delta": 10,
    "reveals": ["reticular white striae on buccal mucosa"]
  },
  {
    "category": "immunologic",
    "action_type": "order_biopsy",
    "criterion": "incisional",
    "score_delta": 15,
    "requires_flags": ["anamnesis_completed"],
    "sets_flag": "biopsy_ordered"
  },
  {
    "category": "immunologic",
    "action_type": "prescribe_nsaid",
    "score_delta": 5
  },
  {
    "category": "immunologic",
    "action_type": "prescribe_corticosteroid",
    "score_delta": 8,
    "requires_flags": ["biopsy_ordered"]
  }
]`

func loadTestStore(t *testing.T) *rules.Store {
	t.Helper()
	store, err := rules.Load(strings.NewReader(testRules))
	if err != nil {
		t.Fatalf("Failed to load test rules: %v", err)
	}
	return store
}

func immunologicState(flags ...string) models.ScenarioState {
	return models.ScenarioState{
		SessionID:      "s1",
		CaseID:         "lichen-planus-01",
		Category:       models.CategoryImmunologic,
		TriggeredFlags: flags,
	}
}

// stubValidator returns a fixed verdict, or an error when failing is set.
type stubValidator struct {
	verdict models.SafetyVerdict
	failing bool
	calls   int
}

func (v *stubValidator) Validate(ctx context.Context, action models.StructuredAction, state models.ScenarioState) (models.SafetyVerdict, error) {
	v.calls++
	if v.failing {
		return models.SafetyVerdict{}, errors.New("validator unreachable")
	}
	return v.verdict, nil
}

func TestEvaluateUnrecognizedAction(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{ActionType: "reassure_patient"}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 0 || len(decision.NewFlags) != 0 || len(decision.NewFindings) != 0 {
		t.Errorf("Expected zero decision, got %+v", decision)
	}
	if decision.Feedback != "unrecognized action" {
		t.Errorf("Expected 'unrecognized action' feedback, got %q", decision.Feedback)
	}
	if decision.SafetyViolation {
		t.Error("Unrecognized action must not be a safety violation")
	}
}

func TestEvaluateCriterionMatch(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{
		ActionType: "examine_oral_mucosa",
		Parameters: map[string]string{"observation": "bilateral Wickham striae on the buccal mucosa"},
	}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 10 {
		t.Errorf("Expected score delta 10, got %d", decision.ScoreDelta)
	}
	if decision.SafetyViolation {
		t.Error("Expected no safety violation")
	}
	if len(decision.NewFindings) != 1 {
		t.Errorf("Expected 1 revealed finding, got %d", len(decision.NewFindings))
	}
}

func TestEvaluateCriterionNotFound(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{
		ActionType: "examine_oral_mucosa",
		Parameters: map[string]string{"observation": "ulceration"},
	}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 0 {
		t.Errorf("Expected no credit without criterion match, got delta %d", decision.ScoreDelta)
	}
}

func TestEvaluateCriterionCaseInsensitive(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{
		ActionType: "examine_oral_mucosa",
		Parameters: map[string]string{"observation": "noted WICKHAM STRIAE bilaterally"},
	}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 10 {
		t.Errorf("Expected case-insensitive criterion match, got delta %d", decision.ScoreDelta)
	}
}

func TestEvaluatePreconditionGating(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{
		ActionType: "order_biopsy",
		Parameters: map[string]string{"technique": "incisional biopsy of the lesion border"},
	}

	// Flag absent: the rule must not fire even though the criterion matches.
	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 0 || len(decision.NewFlags) != 0 {
		t.Errorf("Rule fired despite unmet precondition: %+v", decision)
	}

	// Flag present: same action now scores.
	decision, err = Evaluate(context.Background(), action, immunologicState("anamnesis_completed"), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 15 {
		t.Errorf("Expected score delta 15 with precondition met, got %d", decision.ScoreDelta)
	}
	if len(decision.NewFlags) != 1 || decision.NewFlags[0] != "biopsy_ordered" {
		t.Errorf("Expected biopsy_ordered flag, got %v", decision.NewFlags)
	}
}

func TestEvaluateContraindication(t *testing.T) {
	store := loadTestStore(t)
	validator := &stubValidator{verdict: models.SafetyVerdict{
		Contraindicated: true,
		Reason:          "NSAIDs are contraindicated with an active peptic ulcer",
	}}
	action := models.StructuredAction{ActionType: "prescribe_nsaid"}
	state := immunologicState("peptic_ulcer")

	decision, err := Evaluate(context.Background(), action, state, store, validator)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !decision.SafetyViolation {
		t.Error("Expected safety violation for contraindicated prescription")
	}
	if decision.ScoreDelta != SafetyPenalty {
		t.Errorf("Expected fixed penalty %d overriding the rule delta, got %d", SafetyPenalty, decision.ScoreDelta)
	}
	if len(decision.NewFlags) != 0 || len(decision.NewFindings) != 0 {
		t.Errorf("Contraindication must short-circuit rule effects, got %+v", decision)
	}
}

func TestEvaluateHighRiskApproved(t *testing.T) {
	store := loadTestStore(t)
	validator := &stubValidator{}
	action := models.StructuredAction{ActionType: "prescribe_nsaid"}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, validator)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.SafetyViolation {
		t.Error("Approved prescription must not be a safety violation")
	}
	if decision.ScoreDelta != 5 {
		t.Errorf("Expected normal rule delta 5, got %d", decision.ScoreDelta)
	}
	if validator.calls != 1 {
		t.Errorf("Expected exactly one validator call, got %d", validator.calls)
	}
}

func TestEvaluateValidatorNotConsultedWhenNoRuleFires(t *testing.T) {
	store := loadTestStore(t)
	validator := &stubValidator{}
	// Precondition unmet, so no rule fires and the validator stays idle.
	action := models.StructuredAction{ActionType: "prescribe_corticosteroid"}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, validator)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 0 {
		t.Errorf("Expected zero delta, got %d", decision.ScoreDelta)
	}
	if validator.calls != 0 {
		t.Errorf("Expected no validator call, got %d", validator.calls)
	}
}

func TestEvaluateFailClosed(t *testing.T) {
	store := loadTestStore(t)
	validator := &stubValidator{failing: true}
	action := models.StructuredAction{ActionType: "prescribe_nsaid"}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, validator)
	if !errors.Is(err, ErrSafetyCapability) {
		t.Errorf("Expected ErrSafetyCapability, got %v", err)
	}
	if !decision.SafetyViolation {
		t.Error("Validator fault must fail closed with a safety violation")
	}
	if decision.ScoreDelta != SafetyPenalty {
		t.Errorf("Expected penalty %d on validator fault, got %d", SafetyPenalty, decision.ScoreDelta)
	}
}

func TestEvaluateLowRiskSkipsValidator(t *testing.T) {
	store := loadTestStore(t)
	validator := &stubValidator{failing: true}
	action := models.StructuredAction{ActionType: "ask_history"}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, validator)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if validator.calls != 0 {
		t.Errorf("Low-risk action must not consult the validator, got %d calls", validator.calls)
	}
	if decision.ScoreDelta != 5 {
		t.Errorf("Expected delta 5, got %d", decision.ScoreDelta)
	}
}

func TestEvaluateAlreadyTriggeredEffectsNotRepeated(t *testing.T) {
	store := loadTestStore(t)
	state := immunologicState("anamnesis_completed")
	action := models.StructuredAction{ActionType: "ask_history"}

	decision, err := Evaluate(context.Background(), action, state, store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(decision.NewFlags) != 0 {
		t.Errorf("Already triggered flag must not reappear, got %v", decision.NewFlags)
	}
	// The rule still fires; only the flag effect is absorbed.
	if decision.ScoreDelta != 5 {
		t.Errorf("Expected delta 5, got %d", decision.ScoreDelta)
	}
}

func TestEvaluateMultipleRulesUnion(t *testing.T) {
	// Two rules for the same action type: a criterion-gated one and a
	// fallback, sharing a flag and overlapping reveals.
	doc := `[
	  {
	    "category": "immunologic",
	    "action_type": "examine_oral_mucosa",
	    "criterion": "Wickham striae",
	    "score_delta": 10,
	    "sets_flag": "mucosa_examined",
	    "reveals": ["reticular white striae on buccal mucosa", "bilateral involvement"],
	    "feedback": "Hallmark pattern identified."
	  },
	  {
	    "category": "immunologic",
	    "action_type": "examine_oral_mucosa",
	    "score_delta": 2,
	    "sets_flag": "mucosa_examined",
	    "reveals": ["bilateral involvement"],
	    "feedback": "Examination documented."
	  }
	]`
	store, err := rules.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	action := models.StructuredAction{
		ActionType: "examine_oral_mucosa",
		Parameters: map[string]string{"observation": "Wickham striae on both cheeks"},
	}

	decision, err := Evaluate(context.Background(), action, immunologicState(), store, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ScoreDelta != 12 {
		t.Errorf("Expected summed delta 12 from both rules, got %d", decision.ScoreDelta)
	}
	if len(decision.NewFlags) != 1 || decision.NewFlags[0] != "mucosa_examined" {
		t.Errorf("Expected the shared flag exactly once, got %v", decision.NewFlags)
	}
	wantFindings := []string{"reticular white striae on buccal mucosa", "bilateral involvement"}
	if !reflect.DeepEqual(decision.NewFindings, wantFindings) {
		t.Errorf("Expected deduped findings in declaration order %v, got %v", wantFindings, decision.NewFindings)
	}
	if decision.Feedback != "Hallmark pattern identified. Examination documented." {
		t.Errorf("Expected joined feedback from both rules, got %q", decision.Feedback)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	store := loadTestStore(t)
	action := models.StructuredAction{
		ActionType: "examine_oral_mucosa",
		Parameters: map[string]string{"observation": "Wickham striae", "site": "buccal mucosa"},
	}
	state := immunologicState("anamnesis_completed")

	first, err1 := Evaluate(context.Background(), action, state, store, nil)
	second, err2 := Evaluate(context.Background(), action, state, store, nil)
	if err1 != nil || err2 != nil {
		t.Fatalf("Evaluate returned errors: %v, %v", err1, err2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Non-deterministic decisions:\n%+v\n%+v", first, second)
	}
}
