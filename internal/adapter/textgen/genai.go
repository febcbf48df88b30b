// internal/adapter/textgen/genai.go

package textgen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"latent/internal/domain/transmission"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.0-flash"

const systemInstruction = "You write short, strange radio transmissions. " +
	"Reply with the transmission text only."

// contentGenerator is the subset of genai.Models used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIGenerator implements transmission.TextGenerator with Google's Gemini API
type GenAIGenerator struct {
	models contentGenerator
	model  string
}

// NewGenAIGenerator creates a new Gemini text generator
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newGenerator(client.Models, model), nil
}

func newGenerator(models contentGenerator, model string) *GenAIGenerator {
	if model == "" {
		model = DefaultModel
	}
	return &GenAIGenerator{
		models: models,
		model:  model,
	}
}

// Generate produces raw text for instruction
func (g *GenAIGenerator) Generate(ctx context.Context, instruction string, params transmission.GenerationParams) (string, error) {
	resp, err := g.models.GenerateContent(ctx,
		g.model,
		genai.Text(instruction),
		requestConfig(params),
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}

	return resp.Text(), nil
}

// requestConfig maps sampling parameters onto the Gemini request.
// Gemini has no multiplicative repetition penalty; the excess over 1 is
// sent as an additive frequency penalty.
func requestConfig(params transmission.GenerationParams) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(params.Temperature)),
		TopP:              genai.Ptr(float32(params.TopP)),
		MaxOutputTokens:   int32(params.MaxOutputTokens),
	}

	if penalty := params.RepetitionPenalty - 1; penalty > 0 {
		config.FrequencyPenalty = genai.Ptr(float32(penalty))
	}

	return config
}

// ErrNotConfigured is returned by Unconfigured for every request
var ErrNotConfigured = errors.New("text generation is not configured")

// Unconfigured stands in when no API key is available. Every generation
// fails, which the engine records as a generation failure.
type Unconfigured struct{}

// Generate always fails with ErrNotConfigured
func (Unconfigured) Generate(context.Context, string, transmission.GenerationParams) (string, error) {
	return "", ErrNotConfigured
}
