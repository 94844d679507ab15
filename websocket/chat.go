package websocket

import (
	"errors"
	"log"
	"net/http"

	"dentsim/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// In production, adjust the CheckOrigin function to allow only trusted origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var scenarioService *services.ScenarioService

// InitChatHandler injects the scenario service used by the chat endpoint.
func InitChatHandler(svc *services.ScenarioService) {
	scenarioService = svc
}

// ChatMessage is a client frame. Type "turn" carries a student utterance.
type ChatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ChatEvent is a server frame: a turn result, a rephrase request, or an error.
type ChatEvent struct {
	Type            string   `json:"type"`
	Message         string   `json:"message,omitempty"`
	Turn            int      `json:"turn,omitempty"`
	ActionType      string   `json:"actionType,omitempty"`
	ScoreDelta      int      `json:"scoreDelta,omitempty"`
	Flags           []string `json:"flags,omitempty"`
	Findings        []string `json:"findings,omitempty"`
	FeedbackText    string   `json:"feedbackText,omitempty"`
	SafetyViolation bool     `json:"safetyViolation,omitempty"`
	UpdatedScore    int      `json:"updatedScore"`
	PatientReply    string   `json:"patientReply,omitempty"`
}

// ChatHandler handles the live chat for one encounter session. Turns are
// processed one at a time in arrival order; the session must already exist.
func ChatHandler(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID == "" {
		log.Println("WebSocket connection failed: missing session parameter")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session parameter"})
		return
	}
	if _, err := scenarioService.State(sessionID); err != nil {
		log.Printf("WebSocket connection failed: unknown session %s", sessionID)
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()
	log.Printf("Chat connected for session %s", sessionID)

	for {
		var msg ChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Chat read error for session %s: %v", sessionID, err)
			}
			return
		}

		switch msg.Type {
		case "turn":
			handleTurn(conn, sessionID, msg.Content, c)
		case "ping":
			conn.WriteJSON(ChatEvent{Type: "pong"})
		default:
			conn.WriteJSON(ChatEvent{Type: "error", Message: "Unknown message type: " + msg.Type})
		}
	}
}

func handleTurn(conn *websocket.Conn, sessionID, text string, c *gin.Context) {
	result, err := scenarioService.ProcessTurn(c.Request.Context(), sessionID, text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUninterpretable):
			conn.WriteJSON(ChatEvent{Type: "rephrase", Message: "Could not interpret that. Please rephrase your action."})
		case errors.Is(err, services.ErrSessionNotFound):
			conn.WriteJSON(ChatEvent{Type: "error", Message: "Session no longer exists"})
		default:
			log.Printf("Chat turn failed for session %s: %v", sessionID, err)
			conn.WriteJSON(ChatEvent{Type: "error", Message: "Failed to process turn"})
		}
		return
	}

	conn.WriteJSON(ChatEvent{
		Type:            "turn_result",
		Turn:            result.State.Turn,
		ActionType:      result.Action.ActionType,
		ScoreDelta:      result.Decision.ScoreDelta,
		Flags:           result.Decision.NewFlags,
		Findings:        result.Decision.NewFindings,
		FeedbackText:    result.Decision.Feedback,
		SafetyViolation: result.Decision.SafetyViolation,
		UpdatedScore:    result.State.Score,
		PatientReply:    result.PatientReply,
	})
}
