package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
)

const geminiSystemPrompt = "You are a CAPTCHA transcription tool. You are shown a distorted " +
	"text CAPTCHA image and must transcribe exactly the characters it contains. You must " +
	"output your response as a single valid JSON object."

const geminiUserPrompt = `Transcribe the characters in the CAPTCHA image.

Rules:
1. Output exactly one JSON object with two keys:
   - "text": the transcribed characters, no spaces.
   - "confidence": your confidence in the transcription as a number between 0 and 1.
2. Do not include any text before or after the JSON object.
3. If the image is unreadable, use an empty string for "text" and 0 for "confidence".`

// GeminiStrategy decodes challenges with a Vertex AI vision model. The model
// self-reports a confidence which the solver judges against the configured
// threshold like any other automated strategy.
type GeminiStrategy struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *zap.Logger
}

// NewGeminiStrategy dials Vertex AI and configures the model for strict JSON
// output. It authenticates with Application Default Credentials.
func NewGeminiStrategy(ctx context.Context, projectID, location, modelName string, logger *zap.Logger) (*GeminiStrategy, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("gemini strategy requires a project ID and location")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	return &GeminiStrategy{client: client, model: model, logger: logger}, nil
}

// Name identifies the strategy in config and metrics.
func (s *GeminiStrategy) Name() string { return "gemini" }

// Terminal reports that model answers are subject to the confidence threshold.
func (s *GeminiStrategy) Terminal() bool { return false }

// Decode sends the image to the model and parses its JSON answer.
func (s *GeminiStrategy) Decode(ctx context.Context, image []byte) (Result, error) {
	resp, err := s.model.GenerateContent(ctx,
		genai.ImageData("png", image),
		genai.Text(geminiUserPrompt),
	)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	raw := extractText(resp)
	if raw == "" {
		return Result{}, fmt.Errorf("empty model response")
	}

	var parsed struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return Result{}, fmt.Errorf("parse model response %q: %w", raw, err)
	}
	s.logger.Debug("gemini decode",
		zap.Int("text_len", len(parsed.Text)),
		zap.Float64("confidence", parsed.Confidence),
	)
	return Result{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}

// Close releases the Vertex AI client.
func (s *GeminiStrategy) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// stripFences tolerates models that wrap JSON in markdown code fences despite
// the response MIME type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
