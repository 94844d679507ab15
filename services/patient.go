package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dentsim/config"
	"dentsim/models"
)

// PatientResponder produces the simulated patient's in-character reply to a
// student turn. It is presentation only and never influences scoring.
type PatientResponder interface {
	Reply(ctx context.Context, patient models.PatientCase, state models.ScenarioState, studentText string) (string, error)
}

// GeminiPatient generates patient replies from the case persona.
type GeminiPatient struct {
	backend *geminiBackend
}

func NewGeminiPatient(ctx context.Context, cfg *config.Config) (*GeminiPatient, error) {
	backend, err := newGeminiBackend(ctx, cfg.Gemini.ApiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize patient responder: %w", err)
	}
	return &GeminiPatient{backend: backend}, nil
}

func patientPrompt(patient models.PatientCase, state models.ScenarioState, studentText string) string {
	return fmt.Sprintf(
		`You are %s, a %d-year-old %s dental patient. Stay strictly in character.

Your chief complaint: %s
Your relevant history: %s
Persona notes: %s

What the dentist has uncovered so far: %s

You are not a clinician: describe sensations and history in lay terms, never name a diagnosis, and only mention details the dentist asks about or has already uncovered. If the dentist's message is unclear, ask them to repeat it in your own words. Keep the reply under 80 words.

The dentist says: "%s"

Reply as the patient, with no narration or quotation marks.`,
		patient.Name, patient.Age, patient.Sex,
		patient.Complaint, patient.History, patient.Persona,
		strings.Join(state.RevealedFindings, "; "),
		studentText,
	)
}

func (p *GeminiPatient) Reply(ctx context.Context, patient models.PatientCase, state models.ScenarioState, studentText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reply, err := p.backend.generateText(ctx, patientPrompt(patient, state, studentText))
	if err != nil {
		return "", fmt.Errorf("failed to generate patient reply: %w", err)
	}
	if reply == "" {
		return "", fmt.Errorf("empty patient reply")
	}
	return reply, nil
}

// fallbackPatientReply keeps the chat moving when the model is unavailable.
const fallbackPatientReply = "Sorry, could you say that again? I didn't quite catch it."
