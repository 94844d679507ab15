package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"dentsim/config"
	"dentsim/models"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSafetyModel = "google/gemma-2-9b-it"

// safetyAttempts bounds the retries for a transient router failure. A second
// miss is a fault and the engine fails closed.
const safetyAttempts = 2

// HFSafetyValidator checks high-risk actions against the patient state using
// a reasoning model behind the Hugging Face router's OpenAI-compatible API.
// Any transport or parsing failure is returned as an error so the engine can
// fail closed.
type HFSafetyValidator struct {
	client *openai.Client
	model  string
}

func NewHFSafetyValidator(cfg *config.Config) *HFSafetyValidator {
	clientConfig := openai.DefaultConfig(cfg.HuggingFace.ApiKey)
	if cfg.HuggingFace.BaseURL != "" {
		clientConfig.BaseURL = cfg.HuggingFace.BaseURL
	}
	model := cfg.HuggingFace.Model
	if model == "" {
		model = defaultSafetyModel
	}
	return &HFSafetyValidator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

func safetyPrompt(action models.StructuredAction, state models.ScenarioState) string {
	var details strings.Builder
	for _, key := range sortedKeys(action.Parameters) {
		details.WriteString(fmt.Sprintf("- %s: %s\n", key, action.Parameters[key]))
	}

	return fmt.Sprintf(
		`Act as a Senior Oral Pathology Examiner. Decide whether the student's clinical action is contraindicated for this patient.

PATIENT STATE:
- Pathology category: %s
- Triggered flags: %s
- Revealed findings: %s

STUDENT ACTION:
- Action type: %s
%s
Required Output Format:
{
  "contraindicated": false,
  "reason": "short clinical justification"
}

Provide ONLY the JSON output without additional text or markdown formatting.`,
		state.Category,
		strings.Join(state.TriggeredFlags, ", "),
		strings.Join(state.RevealedFindings, ", "),
		action.ActionType,
		details.String(),
	)
}

// Validate asks the model for a contraindication verdict. A transient router
// failure is retried once; a persistent error is a fault and the engine
// treats it as a safety violation.
func (v *HFSafetyValidator) Validate(ctx context.Context, action models.StructuredAction, state models.ScenarioState) (models.SafetyVerdict, error) {
	// A timeout here is a fault; the engine converts it to a safety violation.
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	request := openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: safetyPrompt(action, state)},
		},
		MaxTokens:   300,
		Temperature: 0.1,
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 1; attempt <= safetyAttempts; attempt++ {
		resp, err = v.client.CreateChatCompletion(ctx, request)
		if err == nil && len(resp.Choices) == 0 {
			err = fmt.Errorf("safety validation returned no choices")
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil || attempt == safetyAttempts {
			return models.SafetyVerdict{}, fmt.Errorf("safety validation request failed: %w", err)
		}
		log.Printf("Retrying safety validation after transient error: %v", err)
	}

	content := cleanModelOutput(resp.Choices[0].Message.Content)
	var verdict models.SafetyVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return models.SafetyVerdict{}, fmt.Errorf("invalid safety verdict format: %w", err)
	}
	return verdict, nil
}

// sortedKeys keeps prompt construction deterministic across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
