// internal/service/engine/engine.go

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"latent/internal/clock"
	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/observability"
	geoService "latent/internal/service/geo"
	"latent/internal/service/phantom"
	transmissionService "latent/internal/service/transmission"
	"latent/internal/service/trigger"
)

// Store defines the persistence interface for transmissions and settings
type Store interface {
	// SaveTransmission persists a transmission and returns its assigned ID
	SaveTransmission(ctx context.Context, t transmission.Transmission) (string, error)

	// GetTransmission returns one transmission or transmission.ErrNotFound
	GetTransmission(ctx context.Context, id string) (*transmission.Transmission, error)

	// RecentTransmissions returns up to limit transmissions, newest first
	RecentTransmissions(ctx context.Context, limit int) ([]transmission.Transmission, error)

	// ClearTransmissions removes every stored transmission
	ClearTransmissions(ctx context.Context) error

	// GetSettings returns the stored settings, or the defaults when none exist
	GetSettings(ctx context.Context) (transmission.Settings, error)

	// SaveSettings replaces the stored settings
	SaveSettings(ctx context.Context, s transmission.Settings) error
}

// Publisher publishes events; *nats.Conn satisfies it
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Common errors
var (
	// ErrBusy is returned when a generation is requested while one is in flight
	ErrBusy = errors.New("a transmission is already being generated")

	// ErrNoPosition is returned when no position has been observed yet
	ErrNoPosition = errors.New("no position observed yet")
)

// Config contains configuration for the engine
type Config struct {
	EventsTopic       string
	EvaluationPeriod  time.Duration
	HistorySize       int
	GenerationTimeout time.Duration
}

// State is a read-only view of the engine for clients
type State struct {
	Position        *geo.Position `json:"position,omitempty"`
	Anchors         []geo.Anchor  `json:"anchors"`
	InFlight        bool          `json:"in_flight"`
	LastGeneratedAt *time.Time    `json:"last_generated_at,omitempty"`
}

// Engine owns the trigger state of one observer session and runs
// generation cycles against it
type Engine struct {
	assembler *transmissionService.Assembler
	preview   *phantom.Synthesizer
	anchors   geo.AnchorSource
	store     Store
	policy    *trigger.Policy
	eventBus  Publisher
	metrics   *observability.Metrics
	clock     clock.Clock
	config    Config
	logger    *zap.Logger
	history   *geoService.PositionHistory

	mu                sync.Mutex
	anchorSet         []geo.Anchor
	anchorsChanged    bool
	lastFetchPosition *geo.Position

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new engine. eventBus and metrics may be nil.
func NewEngine(
	assembler *transmissionService.Assembler,
	anchors geo.AnchorSource,
	store Store,
	policy *trigger.Policy,
	eventBus Publisher,
	metrics *observability.Metrics,
	c clock.Clock,
	config Config,
	logger *zap.Logger,
) *Engine {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EventsTopic == "" {
		config.EventsTopic = "transmission"
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		assembler: assembler,
		preview:   phantom.NewSynthesizer(nil, assembler.Synthesizer().Config()),
		anchors:   anchors,
		store:     store,
		policy:    policy,
		eventBus:  eventBus,
		metrics:   metrics,
		clock:     c,
		config:    config,
		logger:    logger,
		history:   geoService.NewPositionHistory(config.HistorySize),
		anchorSet: []geo.Anchor{},
		ctx:       ctx,
		cancel:    cancel,
	}

	policy.OnRecover(func(time.Duration) {
		metrics.InFlightRecovered()
	})

	return e
}

// Start begins periodic trigger evaluation
func (e *Engine) Start() {
	if e.config.EvaluationPeriod <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(e.ctx)
	}()
}

// Stop gracefully stops the engine
func (e *Engine) Stop(ctx context.Context) error {
	// Signal all goroutines to stop
	e.cancel()

	c := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ObservePosition records a new position, refreshes anchors when the
// observer moved far enough and runs one trigger evaluation. It returns the
// transmission generated as a result, or nil when none was permitted.
func (e *Engine) ObservePosition(ctx context.Context, pos geo.Position) (*transmission.Transmission, error) {
	if pos.Timestamp.IsZero() {
		pos.Timestamp = e.clock.Now()
	}
	e.history.Add(pos)

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading settings: %w", err)
	}

	e.mu.Lock()
	lastFetch := e.lastFetchPosition
	e.mu.Unlock()

	if geoService.HasMovedSignificantly(lastFetch, pos, settings.MovementThresholdMeters) {
		anchors, err := e.anchors.NearbyAnchors(ctx, pos, settings.RadarRangeMeters)
		if err != nil {
			return nil, fmt.Errorf("error fetching anchors: %w", err)
		}

		changed := e.ObserveAnchors(anchors)
		e.logger.Debug("Anchors refreshed",
			zap.Int("count", len(anchors)),
			zap.Bool("changed", changed))

		e.mu.Lock()
		fetched := pos
		e.lastFetchPosition = &fetched
		e.mu.Unlock()
	}

	return e.step(ctx, settings)
}

// ObserveAnchors replaces the anchor snapshot and reports whether it
// differs significantly from the previous one. A significant change stays
// latched until the next generation starts.
func (e *Engine) ObserveAnchors(anchors []geo.Anchor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := trigger.AnchorsChangedSignificantly(e.anchorSet, anchors)
	if changed {
		e.anchorsChanged = true
	}

	e.anchorSet = make([]geo.Anchor, len(anchors))
	copy(e.anchorSet, anchors)

	return changed
}

// Step runs one trigger evaluation against the latest position and anchor
// snapshot. It returns nil without error when the policy denies.
func (e *Engine) Step(ctx context.Context) (*transmission.Transmission, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading settings: %w", err)
	}
	return e.step(ctx, settings)
}

// Generate runs a cycle immediately, ignoring interval and cool-down but
// not the single-in-flight rule. style may be nil.
func (e *Engine) Generate(ctx context.Context, style *transmission.Style) (*transmission.Transmission, error) {
	pos, ok := e.history.Latest()
	if !ok {
		return nil, ErrNoPosition
	}

	e.mu.Lock()
	ticket, ok := e.policy.Begin()
	latched := ok && e.anchorsChanged
	if ok {
		e.anchorsChanged = false
	}
	anchors := e.snapshotLocked()
	e.mu.Unlock()

	if !ok {
		return nil, ErrBusy
	}

	return e.run(ctx, ticket, pos, anchors, style, latched)
}

// PreviewPhantom synthesizes a phantom for pos without generating text.
// Previews draw from their own random source so a seeded generation
// sequence is unaffected by them.
func (e *Engine) PreviewPhantom(ctx context.Context, pos geo.Position, radiusMeters float64) (geo.PhantomLocation, []geo.Anchor, error) {
	anchors, err := e.anchors.NearbyAnchors(ctx, pos, radiusMeters)
	if err != nil {
		return geo.PhantomLocation{}, nil, fmt.Errorf("error fetching anchors: %w", err)
	}
	return e.preview.Synthesize(pos, anchors), anchors, nil
}

// NearbyAnchors looks up anchors through the engine's anchor source
func (e *Engine) NearbyAnchors(ctx context.Context, pos geo.Position, radiusMeters float64) ([]geo.Anchor, error) {
	return e.anchors.NearbyAnchors(ctx, pos, radiusMeters)
}

// Transmission returns a stored transmission by ID
func (e *Engine) Transmission(ctx context.Context, id string) (*transmission.Transmission, error) {
	return e.store.GetTransmission(ctx, id)
}

// RecentTransmissions returns up to limit transmissions, newest first
func (e *Engine) RecentTransmissions(ctx context.Context, limit int) ([]transmission.Transmission, error) {
	return e.store.RecentTransmissions(ctx, limit)
}

// ClearTransmissions removes every stored transmission
func (e *Engine) ClearTransmissions(ctx context.Context) error {
	return e.store.ClearTransmissions(ctx)
}

// Settings returns the current settings
func (e *Engine) Settings(ctx context.Context) (transmission.Settings, error) {
	return e.store.GetSettings(ctx)
}

// UpdateSettings validates and stores new settings
func (e *Engine) UpdateSettings(ctx context.Context, s transmission.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return e.store.SaveSettings(ctx, s)
}

// History returns the recorded positions, oldest first
func (e *Engine) History() []geo.Position {
	return e.history.Snapshot()
}

// State returns a snapshot of the engine
func (e *Engine) State() State {
	var state State

	if pos, ok := e.history.Latest(); ok {
		state.Position = &pos
	}

	e.mu.Lock()
	state.Anchors = e.snapshotLocked()
	e.mu.Unlock()

	state.InFlight = e.policy.InFlight()
	if at, ok := e.policy.LastGeneratedAt(); ok {
		state.LastGeneratedAt = &at
	}

	return state
}

func (e *Engine) step(ctx context.Context, settings transmission.Settings) (*transmission.Transmission, error) {
	pos, ok := e.history.Latest()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	ticket, permitted := e.policy.TryBegin(settings.GenerationInterval(), e.anchorsChanged)
	latched := permitted && e.anchorsChanged
	if permitted {
		e.anchorsChanged = false
	}
	anchors := e.snapshotLocked()
	e.mu.Unlock()

	e.metrics.TriggerDecision(permitted)
	if !permitted {
		return nil, nil
	}

	return e.run(ctx, ticket, pos, anchors, nil, latched)
}

// run executes one admitted cycle and always reports completion to the
// policy. latched is the anchor-change flag the cycle consumed; a failed
// generation hands it back.
func (e *Engine) run(
	ctx context.Context,
	ticket trigger.Ticket,
	pos geo.Position,
	anchors []geo.Anchor,
	style *transmission.Style,
	latched bool,
) (*transmission.Transmission, error) {
	start := e.clock.Now()

	genCtx := ctx
	if e.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.config.GenerationTimeout)
		defer cancel()
	}

	t, err := e.assembler.Assemble(genCtx, pos, anchors, style)
	if err != nil {
		if latched {
			e.mu.Lock()
			e.anchorsChanged = true
			e.mu.Unlock()
		}
		e.policy.Complete(ticket, false)
		e.metrics.GenerationFailed("generation")
		e.logger.Error("Transmission generation failed", zap.Error(err))
		return nil, err
	}

	id, err := e.store.SaveTransmission(ctx, *t)
	if err != nil {
		// Still counts as generated so the trigger does not fire again at once
		e.policy.Complete(ticket, true)
		e.metrics.GenerationFailed("persistence")
		e.logger.Error("Transmission persistence failed", zap.Error(err))
		return nil, fmt.Errorf("error saving transmission: %w", err)
	}
	t.ID = id

	e.policy.Complete(ticket, true)
	e.metrics.TransmissionGenerated(string(t.Style), e.clock.Now().Sub(start))

	e.logger.Info("Transmission generated",
		zap.String("id", t.ID),
		zap.String("style", string(t.Style)),
		zap.Int("anchors", len(t.AnchorTitles)),
		zap.Float64("drift", t.DriftMagnitude))

	if err := e.publishTransmission(*t); err != nil {
		// Log error but continue
		e.logger.Warn("Error publishing transmission event", zap.Error(err))
	}

	return t, nil
}

func (e *Engine) snapshotLocked() []geo.Anchor {
	out := make([]geo.Anchor, len(e.anchorSet))
	copy(out, e.anchorSet)
	return out
}

// Run evaluates the trigger every evaluation period until ctx is done.
// Ticks before the first position are no-ops.
func (e *Engine) Run(ctx context.Context) {
	period := e.config.EvaluationPeriod
	if period <= 0 {
		period = time.Second
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Step(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("Periodic evaluation failed", zap.Error(err))
			}
		}
	}
}

// publishTransmission publishes a transmission created event to the event bus
func (e *Engine) publishTransmission(t transmission.Transmission) error {
	if e.eventBus == nil {
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("error marshaling transmission: %w", err)
	}

	return e.eventBus.Publish(CreatedSubject(e.config.EventsTopic), data)
}

// CreatedSubject returns the subject transmissions are published on
func CreatedSubject(topic string) string {
	return fmt.Sprintf("%s.created", topic)
}
