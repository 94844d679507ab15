package models

import "time"

// PatientCase is one simulated patient with a fixed pathology category and
// ground-truth findings. Cases are loaded from the case catalog at startup.
type PatientCase struct {
	ID          string            `json:"id" bson:"id"`
	Name        string            `json:"name" bson:"name"`
	Age         int               `json:"age" bson:"age"`
	Sex         string            `json:"sex" bson:"sex"`
	Category    PathologyCategory `json:"category" bson:"category"`
	Complaint   string            `json:"complaint" bson:"complaint"`
	History     string            `json:"history" bson:"history"`
	GroundTruth []string          `json:"ground_truth" bson:"groundTruth"`
	Persona     string            `json:"persona" bson:"persona"`
}

// StructuredAction is the interpreter's output for a single student turn.
type StructuredAction struct {
	ActionType string            `json:"action_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
}

// ScenarioState is the state of one encounter session. Revealed findings and
// triggered flags are append-only for the life of the session; only the
// scenario manager mutates the state, by applying a ScoringDecision.
type ScenarioState struct {
	SessionID        string            `json:"sessionId"`
	CaseID           string            `json:"caseId"`
	PatientName      string            `json:"patientName"`
	Category         PathologyCategory `json:"category"`
	RevealedFindings []string          `json:"revealedFindings"`
	TriggeredFlags   []string          `json:"triggeredFlags"`
	Score            int               `json:"score"`
	Turn             int               `json:"turn"`
}

// HasFlag reports whether the flag has been triggered in this session.
func (s ScenarioState) HasFlag(flag string) bool {
	for _, f := range s.TriggeredFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// HasFinding reports whether the finding has already been revealed.
func (s ScenarioState) HasFinding(finding string) bool {
	for _, f := range s.RevealedFindings {
		if f == finding {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can snapshot state without aliasing
// the session's slices.
func (s ScenarioState) Clone() ScenarioState {
	out := s
	out.RevealedFindings = append([]string(nil), s.RevealedFindings...)
	out.TriggeredFlags = append([]string(nil), s.TriggeredFlags...)
	return out
}

// ScoringDecision is the assessment engine's verdict for one action.
type ScoringDecision struct {
	ScoreDelta      int      `json:"scoreDelta"`
	NewFlags        []string `json:"newFlags"`
	NewFindings     []string `json:"newFindings"`
	Feedback        string   `json:"feedback"`
	SafetyViolation bool     `json:"safetyViolation"`
}

// SafetyVerdict is the safety validator's answer for a high-risk action.
type SafetyVerdict struct {
	Contraindicated bool   `json:"contraindicated"`
	Reason          string `json:"reason"`
}

// TurnResult is returned to the presentation layer after a completed turn.
type TurnResult struct {
	Action       StructuredAction `json:"action"`
	Decision     ScoringDecision  `json:"decision"`
	PatientReply string           `json:"patientReply,omitempty"`
	State        ScenarioState    `json:"state"`
}

// EncounterTurn is the transcript record persisted per turn for review and
// analytics. It is write-only: scenario state is never reconstructed from it.
type EncounterTurn struct {
	SessionID       string    `json:"sessionId" bson:"sessionId"`
	CaseID          string    `json:"caseId" bson:"caseId"`
	Turn            int       `json:"turn" bson:"turn"`
	StudentText     string    `json:"studentText" bson:"studentText"`
	ActionType      string    `json:"actionType" bson:"actionType"`
	ScoreDelta      int       `json:"scoreDelta" bson:"scoreDelta"`
	Score           int       `json:"score" bson:"score"`
	SafetyViolation bool      `json:"safetyViolation" bson:"safetyViolation"`
	Feedback        string    `json:"feedback" bson:"feedback"`
	PatientReply    string    `json:"patientReply,omitempty" bson:"patientReply,omitempty"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
}
