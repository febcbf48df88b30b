package textgen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"latent/internal/domain/transmission"
)

type fakeModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	model  string
	config *genai.GenerateContentConfig
	prompt string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestGenerateSendsInstructionAndParams(t *testing.T) {
	fake := &fakeModels{resp: textResponse("the lamps are counting us")}
	g := newGenerator(fake, "")

	text, err := g.Generate(context.Background(), "whisper something", transmission.DefaultGenerationParams())
	require.NoError(t, err)

	assert.Equal(t, "the lamps are counting us", text)
	assert.Equal(t, DefaultModel, fake.model)
	assert.Equal(t, "whisper something", fake.prompt)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, 0.9, *fake.config.Temperature, 1e-6)
	require.NotNil(t, fake.config.TopP)
	assert.InDelta(t, 0.92, *fake.config.TopP, 1e-6)
	assert.Equal(t, int32(120), fake.config.MaxOutputTokens)
	require.NotNil(t, fake.config.FrequencyPenalty)
	assert.InDelta(t, 0.15, *fake.config.FrequencyPenalty, 1e-6)
}

func TestGenerateWithoutPenalty(t *testing.T) {
	params := transmission.DefaultGenerationParams()
	params.RepetitionPenalty = 1
	assert.Nil(t, requestConfig(params).FrequencyPenalty)
}

func TestGenerateErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	g := newGenerator(&fakeModels{err: boom}, "custom")
	_, err := g.Generate(context.Background(), "x", transmission.DefaultGenerationParams())
	assert.ErrorIs(t, err, boom)

	g = newGenerator(&fakeModels{resp: &genai.GenerateContentResponse{}}, "custom")
	_, err = g.Generate(context.Background(), "x", transmission.DefaultGenerationParams())
	assert.Error(t, err)
}

func TestNewGenAIGeneratorRequiresKey(t *testing.T) {
	_, err := NewGenAIGenerator(context.Background(), "", "")
	assert.Error(t, err)
}
