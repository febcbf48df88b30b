// internal/service/transmission/assembler.go

package transmission

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"latent/internal/clock"
	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	geoService "latent/internal/service/geo"
	"latent/internal/service/phantom"
)

// Assembler runs one generation cycle: style selection, phantom synthesis,
// prompt construction, text generation and cleanup. It never retries and
// never persists; both belong to the caller.
type Assembler struct {
	synthesizer *phantom.Synthesizer
	generator   transmission.TextGenerator
	clock       clock.Clock
	params      transmission.GenerationParams
	rng         *rand.Rand
	mu          sync.Mutex
}

// NewAssembler creates a new transmission assembler. A nil rng is seeded
// from the wall clock.
func NewAssembler(
	synthesizer *phantom.Synthesizer,
	generator transmission.TextGenerator,
	c clock.Clock,
	rng *rand.Rand,
	params transmission.GenerationParams,
) *Assembler {
	if c == nil {
		c = clock.Real()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Assembler{
		synthesizer: synthesizer,
		generator:   generator,
		clock:       c,
		params:      params,
		rng:         rng,
	}
}

// Assemble produces a transmission for position and anchors. styleOverride
// picks the style when non-nil; otherwise one is drawn uniformly.
// Generation failures wrap transmission.ErrGenerationFailed.
func (a *Assembler) Assemble(
	ctx context.Context,
	position geo.Position,
	anchors []geo.Anchor,
	styleOverride *transmission.Style,
) (*transmission.Transmission, error) {
	style := a.pickStyle(styleOverride)

	voice, err := Voice(style)
	if err != nil {
		return nil, err
	}

	// Anchor sources promise nearest-first order; enforce it
	sorted := make([]geo.Anchor, len(anchors))
	copy(sorted, anchors)
	geoService.SortByDistance(sorted)

	phantomLocation := a.synthesizer.Synthesize(position, sorted)

	instruction, err := NewPromptContext(position, phantomLocation, sorted, style).Instruction()
	if err != nil {
		return nil, err
	}

	raw, err := a.generator.Generate(ctx, instruction, a.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transmission.ErrGenerationFailed, err)
	}

	text := CleanTransmission(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", transmission.ErrGenerationFailed, transmission.ErrEmptyGeneration)
	}

	return &transmission.Transmission{
		Timestamp:           a.clock.Now().UTC(),
		ObserverCoordinates: position.Coordinates(),
		PhantomCoordinates:  phantomLocation.Coordinates(),
		DriftMagnitude:      phantomLocation.DriftMagnitude,
		AnchorTitles:        phantomLocation.AnchorTitles,
		GeneratedText:       text,
		VoiceLabel:          voice.Label,
		Style:               style,
	}, nil
}

// Synthesizer returns the phantom synthesizer used by the assembler
func (a *Assembler) Synthesizer() *phantom.Synthesizer {
	return a.synthesizer
}

func (a *Assembler) pickStyle(override *transmission.Style) transmission.Style {
	if override != nil {
		return *override
	}

	styles := transmission.Styles()

	a.mu.Lock()
	defer a.mu.Unlock()
	return styles[a.rng.Intn(len(styles))]
}
