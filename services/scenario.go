package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"dentsim/db"
	"dentsim/engine"
	"dentsim/models"
	"dentsim/rules"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrUnknownCase = errors.New("unknown patient case")

// ScenarioService owns all active encounter sessions and drives each student
// turn end to end: interpret, evaluate, apply, respond. Sessions are fully
// independent; the rule store is shared read-only.
type ScenarioService struct {
	store       *rules.Store
	interpreter Interpreter
	validator   engine.SafetyValidator
	patient     PatientResponder

	cases     map[string]models.PatientCase
	caseOrder []string

	mu       sync.RWMutex
	sessions map[string]*session
}

// session serializes turns with turnMu and guards state with mu. External
// collaborator calls never happen while mu is held.
type session struct {
	turnMu sync.Mutex
	mu     sync.RWMutex
	state  models.ScenarioState

	patientCase models.PatientCase
}

func (ss *session) snapshot() models.ScenarioState {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.state.Clone()
}

// apply commits a scoring decision as one atomic update. If the decision
// would break the append-only invariant, the prior state is kept and the
// turn fails.
func (ss *session) apply(decision models.ScoringDecision) (models.ScenarioState, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	next := ss.state.Clone()
	next.Score += decision.ScoreDelta
	for _, flag := range decision.NewFlags {
		if next.HasFlag(flag) {
			return models.ScenarioState{}, fmt.Errorf("invariant check failed: flag %q already triggered", flag)
		}
		next.TriggeredFlags = append(next.TriggeredFlags, flag)
	}
	for _, finding := range decision.NewFindings {
		if next.HasFinding(finding) {
			return models.ScenarioState{}, fmt.Errorf("invariant check failed: finding %q already revealed", finding)
		}
		next.RevealedFindings = append(next.RevealedFindings, finding)
	}
	next.Turn++

	ss.state = next
	return next.Clone(), nil
}

// NewScenarioService wires the engine's collaborators. validator and patient
// may be nil; the engine then scores high-risk actions without a safety
// check and turns carry no patient reply.
func NewScenarioService(store *rules.Store, interpreter Interpreter, validator engine.SafetyValidator, patient PatientResponder, cases []models.PatientCase) *ScenarioService {
	svc := &ScenarioService{
		store:       store,
		interpreter: interpreter,
		validator:   validator,
		patient:     patient,
		cases:       make(map[string]models.PatientCase),
		sessions:    make(map[string]*session),
	}
	for _, c := range cases {
		if _, exists := svc.cases[c.ID]; exists {
			continue
		}
		svc.cases[c.ID] = c
		svc.caseOrder = append(svc.caseOrder, c.ID)
	}
	return svc
}

// CreateSession starts a new encounter for the given case. An empty caseID
// selects the first case in the catalog.
func (s *ScenarioService) CreateSession(caseID string) (models.ScenarioState, models.PatientCase, error) {
	if caseID == "" {
		if len(s.caseOrder) == 0 {
			return models.ScenarioState{}, models.PatientCase{}, ErrUnknownCase
		}
		caseID = s.caseOrder[0]
	}
	patientCase, ok := s.cases[caseID]
	if !ok {
		return models.ScenarioState{}, models.PatientCase{}, fmt.Errorf("%w: %s", ErrUnknownCase, caseID)
	}

	sess := &session{
		state:       newState(uuid.NewString(), patientCase),
		patientCase: patientCase,
	}

	s.mu.Lock()
	s.sessions[sess.state.SessionID] = sess
	s.mu.Unlock()

	return sess.snapshot(), patientCase, nil
}

func newState(sessionID string, patientCase models.PatientCase) models.ScenarioState {
	return models.ScenarioState{
		SessionID:   sessionID,
		CaseID:      patientCase.ID,
		PatientName: patientCase.Name,
		Category:    patientCase.Category,
	}
}

func (s *ScenarioService) session(sessionID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// State returns a snapshot of the session's current state.
func (s *ScenarioService) State(sessionID string) (models.ScenarioState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return models.ScenarioState{}, err
	}
	return sess.snapshot(), nil
}

// ResetSession restarts the encounter with the same patient case. The old
// findings, flags, score and turn counter are discarded.
func (s *ScenarioService) ResetSession(sessionID string) (models.ScenarioState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return models.ScenarioState{}, err
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()
	sess.mu.Lock()
	sess.state = newState(sessionID, sess.patientCase)
	sess.mu.Unlock()
	return sess.snapshot(), nil
}

// EndSession destroys the session. Saved transcripts remain in the database.
func (s *ScenarioService) EndSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// ProcessTurn drives one student turn. Turns on the same session run
// strictly one at a time; an InterpretationError or a failed apply leaves
// the state untouched.
func (s *ScenarioService) ProcessTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return models.TurnResult{}, err
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	snapshot := sess.snapshot()

	action, err := s.interpreter.Interpret(ctx, text)
	if err != nil {
		return models.TurnResult{}, fmt.Errorf("interpretation failed: %w", err)
	}

	decision, evalErr := engine.Evaluate(ctx, action, snapshot, s.store, s.validator)
	if evalErr != nil {
		if !errors.Is(evalErr, engine.ErrSafetyCapability) {
			return models.TurnResult{}, evalErr
		}
		// Fail-closed decision: apply the penalty, surface only a log.
		log.Printf("Safety validator fault for session %s: %v", sessionID, evalErr)
	}

	updated, err := sess.apply(decision)
	if err != nil {
		return models.TurnResult{}, fmt.Errorf("turn not applied: %w", err)
	}

	result := models.TurnResult{
		Action:   action,
		Decision: decision,
		State:    updated,
	}

	if s.patient != nil {
		reply, replyErr := s.patient.Reply(ctx, sess.patientCase, updated, text)
		if replyErr != nil {
			log.Printf("Patient responder error for session %s: %v", sessionID, replyErr)
			reply = fallbackPatientReply
		}
		result.PatientReply = reply
	}

	s.recordTurn(sessionID, text, result)
	return result, nil
}

// recordTurn persists the transcript and analytics records best-effort.
func (s *ScenarioService) recordTurn(sessionID, text string, result models.TurnResult) {
	turn := models.EncounterTurn{
		SessionID:       sessionID,
		CaseID:          result.State.CaseID,
		Turn:            result.State.Turn,
		StudentText:     text,
		ActionType:      result.Action.ActionType,
		ScoreDelta:      result.Decision.ScoreDelta,
		Score:           result.State.Score,
		SafetyViolation: result.Decision.SafetyViolation,
		Feedback:        result.Decision.Feedback,
		PatientReply:    result.PatientReply,
		CreatedAt:       time.Now(),
	}
	if err := db.SaveEncounterTurn(turn); err != nil && !errors.Is(err, db.ErrNotConnected) {
		log.Printf("Failed to save encounter turn: %v", err)
	}

	if result.Decision.Feedback == engine.FeedbackUnrecognized {
		if err := db.LogUnrecognizedAction(sessionID, result.Action.ActionType, text); err != nil && !errors.Is(err, db.ErrNotConnected) {
			log.Printf("Failed to log unrecognized action: %v", err)
		}
	}
}
