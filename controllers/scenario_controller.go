package controllers

import (
	"errors"
	"log"

	"dentsim/db"
	"dentsim/models"
	"dentsim/services"

	"github.com/gin-gonic/gin"
)

var scenarioService *services.ScenarioService

// InitScenarioController injects the scenario service the handlers use.
func InitScenarioController(svc *services.ScenarioService) {
	scenarioService = svc
}

type CreateScenarioRequest struct {
	CaseID string `json:"caseId"`
}

type CreateScenarioResponse struct {
	SessionID   string `json:"sessionId"`
	CaseID      string `json:"caseId"`
	PatientName string `json:"patientName"`
	Complaint   string `json:"complaint"`
}

type TurnRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

type TurnResponse struct {
	SessionID       string   `json:"sessionId"`
	Turn            int      `json:"turn"`
	ActionType      string   `json:"actionType"`
	ScoreDelta      int      `json:"scoreDelta"`
	Flags           []string `json:"flags"`
	Findings        []string `json:"findings"`
	FeedbackText    string   `json:"feedbackText"`
	SafetyViolation bool     `json:"safetyViolation"`
	UpdatedScore    int      `json:"updatedScore"`
	PatientReply    string   `json:"patientReply,omitempty"`
}

// CreateScenario starts a new encounter session. The pathology category is
// deliberately left out of the response: it is the diagnosis the student is
// working toward.
func CreateScenario(c *gin.Context) {
	var req CreateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(400, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	state, patientCase, err := scenarioService.CreateSession(req.CaseID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownCase) {
			c.JSON(404, gin.H{"error": "Unknown patient case"})
			return
		}
		c.JSON(500, gin.H{"error": "Failed to create scenario: " + err.Error()})
		return
	}

	c.JSON(200, CreateScenarioResponse{
		SessionID:   state.SessionID,
		CaseID:      patientCase.ID,
		PatientName: patientCase.Name,
		Complaint:   patientCase.Complaint,
	})
}

// SendTurn processes one student turn: interpret, score, apply, reply.
func SendTurn(c *gin.Context) {
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	result, err := scenarioService.ProcessTurn(c.Request.Context(), req.SessionID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			c.JSON(404, gin.H{"error": "Session not found"})
		case errors.Is(err, services.ErrUninterpretable):
			c.JSON(422, gin.H{"error": "Could not interpret that. Please rephrase your action."})
		default:
			log.Printf("Turn failed for session %s: %v", req.SessionID, err)
			c.JSON(500, gin.H{"error": "Failed to process turn"})
		}
		return
	}

	c.JSON(200, turnResponse(result))
}

func turnResponse(result models.TurnResult) TurnResponse {
	return TurnResponse{
		SessionID:       result.State.SessionID,
		Turn:            result.State.Turn,
		ActionType:      result.Action.ActionType,
		ScoreDelta:      result.Decision.ScoreDelta,
		Flags:           result.Decision.NewFlags,
		Findings:        result.Decision.NewFindings,
		FeedbackText:    result.Decision.Feedback,
		SafetyViolation: result.Decision.SafetyViolation,
		UpdatedScore:    result.State.Score,
		PatientReply:    result.PatientReply,
	}
}

// GetScenarioState returns the current state snapshot of a session.
func GetScenarioState(c *gin.Context) {
	state, err := scenarioService.State(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(200, state)
}

// GetScenarioTranscript returns the saved turns of a session in order.
func GetScenarioTranscript(c *gin.Context) {
	turns, err := db.GetSessionTranscript(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotConnected) {
			c.JSON(503, gin.H{"error": "Transcript storage not available"})
			return
		}
		c.JSON(500, gin.H{"error": "Failed to load transcript: " + err.Error()})
		return
	}
	c.JSON(200, gin.H{"turns": turns})
}

// ResetScenario restarts the session with the same patient case.
func ResetScenario(c *gin.Context) {
	state, err := scenarioService.ResetSession(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(200, state)
}

// EndScenario destroys the session; saved transcripts are kept.
func EndScenario(c *gin.Context) {
	if err := scenarioService.EndSession(c.Param("id")); err != nil {
		c.JSON(404, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(200, gin.H{"message": "Session ended"})
}
