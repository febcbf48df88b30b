package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"latent/internal/clock"
	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/observability"
	"latent/internal/service/phantom"
	transmissionService "latent/internal/service/transmission"
	"latent/internal/service/trigger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memoryStore struct {
	mu            sync.Mutex
	transmissions []transmission.Transmission
	settings      *transmission.Settings
	saveErr       error
	next          int
}

func (s *memoryStore) SaveTransmission(_ context.Context, t transmission.Transmission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.next++
	t.ID = fmt.Sprintf("t-%d", s.next)
	s.transmissions = append([]transmission.Transmission{t}, s.transmissions...)
	return t.ID, nil
}

func (s *memoryStore) GetTransmission(_ context.Context, id string) (*transmission.Transmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transmissions {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, transmission.ErrNotFound
}

func (s *memoryStore) RecentTransmissions(_ context.Context, limit int) ([]transmission.Transmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.transmissions) {
		limit = len(s.transmissions)
	}
	return append([]transmission.Transmission(nil), s.transmissions[:limit]...), nil
}

func (s *memoryStore) ClearTransmissions(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmissions = nil
	return nil
}

func (s *memoryStore) GetSettings(context.Context) (transmission.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return transmission.DefaultSettings(), nil
	}
	return *s.settings, nil
}

func (s *memoryStore) SaveSettings(_ context.Context, settings transmission.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type stubGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
	block chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, _ string, _ transmission.GenerationParams) (string, error) {
	g.mu.Lock()
	g.calls++
	block, err := g.block, g.err
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "a door that was never built is open", nil
}

type stubSource struct {
	mu      sync.Mutex
	anchors []geo.Anchor
	calls   int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) NearbyAnchors(context.Context, geo.Position, float64) ([]geo.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.anchors, nil
}

type fixture struct {
	engine    *Engine
	clock     *clock.Manual
	store     *memoryStore
	publisher *recordingPublisher
	generator *stubGenerator
	source    *stubSource
	metrics   *observability.Metrics
}

var (
	start  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	london = geo.Position{Latitude: 51.5074, Longitude: -0.1278}
	nearby = []geo.Anchor{
		{ID: "a", Title: "A", Latitude: 51.5080, Longitude: -0.1270, DistanceMeters: 85},
		{ID: "b", Title: "B", Latitude: 51.5068, Longitude: -0.1285, DistanceMeters: 90},
	}
)

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		clock:     clock.NewManual(start),
		store:     &memoryStore{},
		publisher: &recordingPublisher{},
		generator: &stubGenerator{},
		source:    &stubSource{anchors: nearby},
	}

	var err error
	f.metrics, err = observability.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	assembler := transmissionService.NewAssembler(
		phantom.NewSeededSynthesizer(1, phantom.DefaultConfig()),
		f.generator,
		f.clock,
		rand.New(rand.NewSource(1)),
		transmission.DefaultGenerationParams(),
	)
	policy := trigger.NewPolicy(f.clock, trigger.DefaultConfig(), nil)

	f.engine = NewEngine(assembler, f.source, f.store, policy, f.publisher, f.metrics, f.clock, cfg, nil)
	return f
}

func TestObservePositionGeneratesFirstTransmission(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	tr, err := f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Equal(t, "t-1", tr.ID)
	assert.Equal(t, "a door that was never built is open.", tr.GeneratedText)
	assert.Equal(t, []string{"A", "B"}, tr.AnchorTitles)
	assert.Equal(t, 1, f.source.calls)

	require.Len(t, f.publisher.subjects, 1)
	assert.Equal(t, "transmission.created", f.publisher.subjects[0])
	var published transmission.Transmission
	require.NoError(t, json.Unmarshal(f.publisher.payloads[0], &published))
	assert.Equal(t, tr.ID, published.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transmissions.WithLabelValues(string(tr.Style))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TriggerDecisions.WithLabelValues("permitted")))
}

func TestObservePositionRespectsIntervalAndMovement(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	// barely moved: no refetch, interval not elapsed
	f.clock.Advance(30 * time.Second)
	nudged := london
	nudged.Latitude += 0.0001
	tr, err := f.engine.ObservePosition(ctx, nudged)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, 1, f.source.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TriggerDecisions.WithLabelValues("denied")))

	// interval elapsed
	f.clock.Advance(2 * time.Minute)
	tr, err = f.engine.ObservePosition(ctx, nudged)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 2, f.generator.calls)
}

func TestAnchorChangeTriggersAfterCooldown(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	f.source.anchors = []geo.Anchor{
		{ID: "x", Title: "X", Latitude: 51.51, Longitude: -0.13, DistanceMeters: 40},
		{ID: "y", Title: "Y", Latitude: 51.511, Longitude: -0.131, DistanceMeters: 160},
	}
	moved := london
	moved.Latitude += 0.01

	// within the cool-down the change is latched but denied
	f.clock.Advance(5 * time.Second)
	tr, err := f.engine.ObservePosition(ctx, moved)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, 2, f.source.calls)

	// the latched change fires once the cool-down passes, without new anchors
	f.clock.Advance(5 * time.Second)
	tr, err = f.engine.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, []string{"X", "Y"}, tr.AnchorTitles)

	// and is consumed by that generation
	f.clock.Advance(11 * time.Second)
	tr, err = f.engine.Step(ctx)
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestObserveAnchorsLatches(t *testing.T) {
	f := newFixture(t, Config{})

	assert.True(t, f.engine.ObserveAnchors(nearby))
	assert.False(t, f.engine.ObserveAnchors(nearby))
	assert.Equal(t, nearby, f.engine.State().Anchors)
}

func TestStepWithoutPosition(t *testing.T) {
	f := newFixture(t, Config{})

	tr, err := f.engine.Step(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, tr)
	assert.Zero(t, f.generator.calls)
}

func TestGenerationFailureReleasesPolicy(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.generator.err = errors.New("model not loaded")

	_, err := f.engine.ObservePosition(ctx, london)
	require.ErrorIs(t, err, transmission.ErrGenerationFailed)

	state := f.engine.State()
	assert.False(t, state.InFlight)
	assert.Nil(t, state.LastGeneratedAt, "failed generations do not count")
	assert.Empty(t, f.store.transmissions)
	assert.Empty(t, f.publisher.subjects)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationFailures.WithLabelValues("generation")))

	// manual generations are not held back by the failure
	f.generator.err = nil
	tr, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestGenerationFailureBacksOff(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.generator.err = errors.New("quota exhausted")

	_, err = f.engine.Step(ctx)
	require.ErrorIs(t, err, transmission.ErrGenerationFailed)

	// one evaluation every 5s for a minute: only the retry at +30s may run,
	// and its failure pushes the next one to +90s
	var failures int
	for i := 0; i < 12; i++ {
		f.clock.Advance(5 * time.Second)
		if _, err := f.engine.Step(ctx); err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 3, f.generator.calls)
	assert.False(t, f.engine.State().InFlight)

	f.generator.err = nil
	f.clock.Advance(29 * time.Second)
	tr, err := f.engine.Step(ctx)
	require.NoError(t, err)
	assert.Nil(t, tr)

	f.clock.Advance(time.Second)
	tr, err = f.engine.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.GenerationFailures.WithLabelValues("generation")))
}

func TestFailedGenerationKeepsAnchorChange(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	f.source.anchors = []geo.Anchor{
		{ID: "x", Title: "X", Latitude: 51.51, Longitude: -0.13, DistanceMeters: 40},
		{ID: "y", Title: "Y", Latitude: 51.511, Longitude: -0.131, DistanceMeters: 160},
	}
	moved := london
	moved.Latitude += 0.01

	f.clock.Advance(11 * time.Second)
	f.generator.err = errors.New("timeout")
	_, err = f.engine.ObservePosition(ctx, moved)
	require.ErrorIs(t, err, transmission.ErrGenerationFailed)

	// well inside the interval, so only the still-latched change can fire
	f.generator.err = nil
	f.clock.Advance(trigger.DefaultFailureBackoff)
	tr, err := f.engine.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, []string{"X", "Y"}, tr.AnchorTitles)
}

func TestPreviewDoesNotShiftGenerations(t *testing.T) {
	ctx := context.Background()
	previewed := newFixture(t, Config{})
	untouched := newFixture(t, Config{})

	for i := 0; i < 3; i++ {
		_, _, err := previewed.engine.PreviewPhantom(ctx, london, 500)
		require.NoError(t, err)
	}

	a, err := previewed.engine.ObservePosition(ctx, london)
	require.NoError(t, err)
	b, err := untouched.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	assert.Equal(t, b.PhantomCoordinates, a.PhantomCoordinates)
	assert.Equal(t, b.Style, a.Style)
}

func TestPersistenceFailureStillCountsAsGenerated(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.store.saveErr = errors.New("disk full")

	_, err := f.engine.ObservePosition(ctx, london)
	require.Error(t, err)
	assert.NotErrorIs(t, err, transmission.ErrGenerationFailed)

	state := f.engine.State()
	assert.False(t, state.InFlight)
	require.NotNil(t, state.LastGeneratedAt)
	assert.Empty(t, f.publisher.subjects)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationFailures.WithLabelValues("persistence")))

	f.store.saveErr = nil
	tr, err := f.engine.Step(ctx)
	require.NoError(t, err)
	assert.Nil(t, tr, "no immediate re-trigger")
}

func TestGenerateManual(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.Generate(ctx, nil)
	require.ErrorIs(t, err, ErrNoPosition)

	_, err = f.engine.ObservePosition(ctx, london)
	require.NoError(t, err)

	style := transmission.StyleCatalog
	tr, err := f.engine.Generate(ctx, &style)
	require.NoError(t, err)
	assert.Equal(t, transmission.StyleCatalog, tr.Style)
	assert.Equal(t, "archivist", tr.VoiceLabel)

	recent, err := f.engine.RecentTransmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, tr.ID, recent[0].ID)
}

func TestGenerateBusy(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.engine.history.Add(london)
	f.generator.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Generate(ctx, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.engine.State().InFlight }, time.Second, time.Millisecond)

	_, err := f.engine.Generate(ctx, nil)
	assert.ErrorIs(t, err, ErrBusy)

	tr, err := f.engine.Step(ctx)
	assert.NoError(t, err)
	assert.Nil(t, tr)

	close(f.generator.block)
	require.NoError(t, <-done)
	assert.False(t, f.engine.State().InFlight)
}

func TestSettingsValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	err := f.engine.UpdateSettings(ctx, transmission.Settings{})
	assert.Error(t, err)

	updated := transmission.Settings{RadarRangeMeters: 300, GenerationIntervalMillis: 1000, MovementThresholdMeters: 10}
	require.NoError(t, f.engine.UpdateSettings(ctx, updated))

	got, err := f.engine.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestHistoryBounded(t *testing.T) {
	f := newFixture(t, Config{HistorySize: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := london
		p.Latitude += float64(i) * 0.00001
		_, err := f.engine.ObservePosition(ctx, p)
		require.NoError(t, err)
	}

	assert.Len(t, f.engine.History(), 3)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Config{EvaluationPeriod: time.Millisecond})
	f.engine.history.Add(london)

	f.engine.Start()
	require.Eventually(t, func() bool {
		recent, _ := f.store.RecentTransmissions(context.Background(), 1)
		return len(recent) == 1
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.engine.Stop(ctx))
}

func TestRunReturnsOnCancel(t *testing.T) {
	f := newFixture(t, Config{EvaluationPeriod: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
