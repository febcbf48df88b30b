package transmission

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latent/internal/clock"
	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/service/phantom"
)

type fakeGenerator struct {
	text         string
	err          error
	instructions []string
	params       transmission.GenerationParams
}

func (g *fakeGenerator) Generate(_ context.Context, instruction string, params transmission.GenerationParams) (string, error) {
	g.instructions = append(g.instructions, instruction)
	g.params = params
	return g.text, g.err
}

var (
	now      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	position = geo.Position{Latitude: 51.5074, Longitude: -0.1278}
	nearby   = []geo.Anchor{
		{ID: "b", Title: "B", Latitude: 51.5068, Longitude: -0.1285, DistanceMeters: 90},
		{ID: "a", Title: "A", Latitude: 51.5080, Longitude: -0.1270, DistanceMeters: 85},
	}
)

func newTestAssembler(gen transmission.TextGenerator) *Assembler {
	return NewAssembler(
		phantom.NewSeededSynthesizer(1, phantom.DefaultConfig()),
		gen,
		clock.NewManual(now),
		rand.New(rand.NewSource(1)),
		transmission.DefaultGenerationParams(),
	)
}

func TestAssemble(t *testing.T) {
	gen := &fakeGenerator{text: `"the second lamp is listening"`}
	a := newTestAssembler(gen)

	style := transmission.StyleWhisper
	tr, err := a.Assemble(context.Background(), position, nearby, &style)
	require.NoError(t, err)

	assert.Equal(t, "the second lamp is listening.", tr.GeneratedText)
	assert.Equal(t, transmission.StyleWhisper, tr.Style)
	assert.Equal(t, "close-whisper", tr.VoiceLabel)
	assert.Equal(t, now, tr.Timestamp)
	assert.Equal(t, position.Coordinates(), tr.ObserverCoordinates)
	assert.NotEqual(t, position.Coordinates(), tr.PhantomCoordinates)
	assert.Equal(t, []string{"A", "B"}, tr.AnchorTitles, "anchors are sorted by distance first")
	assert.Empty(t, tr.ID, "identifiers are assigned by the store")

	require.Len(t, gen.instructions, 1)
	assert.Contains(t, gen.instructions[0], "Register: whisper.")
	assert.Equal(t, transmission.DefaultGenerationParams(), gen.params)

	assert.Equal(t, "B", nearby[0].Title, "input slice is not reordered")
}

func TestAssembleRandomStyleIsValid(t *testing.T) {
	a := newTestAssembler(&fakeGenerator{text: "ok"})
	for i := 0; i < 20; i++ {
		tr, err := a.Assemble(context.Background(), position, nil, nil)
		require.NoError(t, err)
		_, err = transmission.ParseStyle(string(tr.Style))
		assert.NoError(t, err)
	}
}

func TestAssembleGenerationFailure(t *testing.T) {
	boom := errors.New("model not loaded")
	gen := &fakeGenerator{err: boom}

	tr, err := newTestAssembler(gen).Assemble(context.Background(), position, nearby, nil)
	assert.Nil(t, tr)
	assert.ErrorIs(t, err, transmission.ErrGenerationFailed)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, gen.instructions, 1, "no retries")
}

func TestAssembleEmptyGeneration(t *testing.T) {
	tr, err := newTestAssembler(&fakeGenerator{text: `  ""  `}).Assemble(context.Background(), position, nearby, nil)
	assert.Nil(t, tr)
	assert.ErrorIs(t, err, transmission.ErrGenerationFailed)
	assert.ErrorIs(t, err, transmission.ErrEmptyGeneration)
}
