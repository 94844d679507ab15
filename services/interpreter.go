package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dentsim/config"
	"dentsim/models"
)

// ErrUninterpretable is returned when the interpreter cannot produce a
// structured action from the student's utterance. The caller turns it into a
// "please rephrase" outcome; scenario state stays unchanged.
var ErrUninterpretable = errors.New("utterance could not be interpreted")

// Interpreter converts free-text student input into a structured action.
// The core depends only on this interface, never on a specific vendor.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (models.StructuredAction, error)
}

// GeminiInterpreter maps student utterances onto the closed action
// vocabulary using Gemini with a strict-JSON prompt.
type GeminiInterpreter struct {
	backend *geminiBackend
}

func NewGeminiInterpreter(ctx context.Context, cfg *config.Config) (*GeminiInterpreter, error) {
	backend, err := newGeminiBackend(ctx, cfg.Gemini.ApiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini interpreter: %w", err)
	}
	return &GeminiInterpreter{backend: backend}, nil
}

// minConfidence is the cutoff below which an interpretation is treated as
// uninterpretable rather than guessed at.
const minConfidence = 0.3

func interpreterPrompt(text string) string {
	return fmt.Sprintf(
		`Act as a clinical intent parser for a dental patient simulation. Classify the student's utterance into exactly one action type from this closed list:
%s

Extract any clinical details mentioned (observed signs, medications, techniques, sites) into a flat string-to-string "parameters" object. Report your confidence between 0 and 1. If the utterance is empty, off-topic, or does not describe a clinical step, use an empty action_type and confidence 0.

Student utterance: "%s"

Required Output Format:
{
  "action_type": "one_of_the_listed_types_or_empty",
  "parameters": {"key": "value"},
  "confidence": 0.0
}

Provide ONLY the JSON output without additional text or markdown formatting.`,
		strings.Join(models.ActionTypes(), ", "), text,
	)
}

func (i *GeminiInterpreter) Interpret(ctx context.Context, text string) (models.StructuredAction, error) {
	if strings.TrimSpace(text) == "" {
		return models.StructuredAction{}, ErrUninterpretable
	}

	// A hung model call must surface as a rephrase outcome, not a stuck turn.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	response, err := i.backend.generateText(ctx, interpreterPrompt(text))
	if err != nil {
		return models.StructuredAction{}, fmt.Errorf("%w: %v", ErrUninterpretable, err)
	}

	var action models.StructuredAction
	if err := json.Unmarshal([]byte(response), &action); err != nil {
		return models.StructuredAction{}, fmt.Errorf("%w: invalid interpreter output", ErrUninterpretable)
	}

	if action.ActionType == "" || action.Confidence < minConfidence {
		return models.StructuredAction{}, ErrUninterpretable
	}
	if !models.IsKnownActionType(action.ActionType) {
		return models.StructuredAction{}, fmt.Errorf("%w: action type %q outside vocabulary", ErrUninterpretable, action.ActionType)
	}
	if action.Parameters == nil {
		action.Parameters = map[string]string{}
	}
	return action, nil
}
