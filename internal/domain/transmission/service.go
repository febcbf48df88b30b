// internal/domain/transmission/service.go

package transmission

import (
	"context"
	"errors"
)

// GenerationParams are the sampling parameters passed to the text generator
type GenerationParams struct {
	Temperature       float64
	MaxOutputTokens   int
	TopP              float64
	RepetitionPenalty float64
}

// DefaultGenerationParams returns the parameters used for transmissions
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:       0.9,
		MaxOutputTokens:   120,
		TopP:              0.92,
		RepetitionPenalty: 1.15,
	}
}

// TextGenerator turns a natural-language instruction into generated text
type TextGenerator interface {
	// Generate returns a single generated string for the instruction.
	// Callers bound the call with ctx.
	Generate(ctx context.Context, instruction string, params GenerationParams) (string, error)
}

// Common errors
var (
	// ErrGenerationFailed wraps any failure of the text generator
	ErrGenerationFailed = errors.New("text generation failed")

	// ErrEmptyGeneration is returned when the generated text is empty after cleanup
	ErrEmptyGeneration = errors.New("text generation returned no usable text")

	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")
)
