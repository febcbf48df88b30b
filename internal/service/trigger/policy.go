// internal/service/trigger/policy.go

package trigger

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"latent/internal/clock"
	"latent/internal/domain/geo"
)

// DefaultCooldown blocks anchor-driven generations right after a completed one
const DefaultCooldown = 10 * time.Second

// DefaultFailureBackoff is the wait before retrying after a failed generation
const DefaultFailureBackoff = 30 * time.Second

// nearestCompared is how many of the nearest anchors take part in change detection
const nearestCompared = 3

// Config contains configuration for the trigger policy
type Config struct {
	// Cooldown suppresses anchor-change triggers after a generation
	Cooldown time.Duration

	// MaxInFlight reverts a stuck generation to idle once exceeded; zero disables
	MaxInFlight time.Duration

	// FailureBackoff delays automatic retries after a failed generation. It
	// doubles with each consecutive failure up to the generation interval;
	// zero disables
	FailureBackoff time.Duration
}

// DefaultConfig returns the standard policy configuration
func DefaultConfig() Config {
	return Config{
		Cooldown:       DefaultCooldown,
		MaxInFlight:    2 * time.Minute,
		FailureBackoff: DefaultFailureBackoff,
	}
}

// Ticket identifies one generation admitted by the policy
type Ticket uint64

// Policy decides when a new generation may start and enforces that at most
// one is in flight. It is safe for concurrent use.
type Policy struct {
	clock  clock.Clock
	config Config
	logger *zap.Logger

	mu              sync.Mutex
	lastGeneratedAt *time.Time
	generating      bool
	startedAt       time.Time
	current         Ticket
	failures        int
	lastFailedAt    time.Time
	onRecover       func(stuckFor time.Duration)
}

// NewPolicy creates a new trigger policy
func NewPolicy(c clock.Clock, config Config, logger *zap.Logger) *Policy {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		clock:  c,
		config: config,
		logger: logger,
	}
}

// OnRecover registers a callback invoked whenever a stuck generation is
// forced back to idle
func (p *Policy) OnRecover(fn func(stuckFor time.Duration)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecover = fn
}

// Evaluate reports whether a generation would be permitted now. It does
// not change state apart from recovering a stuck generation.
func (p *Policy) Evaluate(interval time.Duration, anchorsChanged bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.recoverLocked(now)
	if p.generating || p.backingOffLocked(now, interval) {
		return false
	}
	return Evaluate(now, p.lastGeneratedAt, interval, p.config.Cooldown, anchorsChanged)
}

// TryBegin evaluates and, when permitted, moves the policy to generating.
// The returned ticket must be passed to Complete.
func (p *Policy) TryBegin(interval time.Duration, anchorsChanged bool) (Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.recoverLocked(now)
	if p.generating || p.backingOffLocked(now, interval) {
		return 0, false
	}
	if !Evaluate(now, p.lastGeneratedAt, interval, p.config.Cooldown, anchorsChanged) {
		return 0, false
	}
	return p.beginLocked(now), true
}

// Begin starts a generation regardless of timing or failure backoff,
// honouring only the single-in-flight rule
func (p *Policy) Begin() (Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.recoverLocked(now)
	if p.generating {
		return 0, false
	}
	return p.beginLocked(now), true
}

// Complete reports the end of the generation identified by ticket. When
// generated is true the last generation time moves to now; otherwise the
// failure starts or extends the retry backoff. A ticket that was already
// recovered leaves the in-flight state alone.
func (p *Policy) Complete(ticket Ticket, generated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if generated {
		p.lastGeneratedAt = &now
		p.failures = 0
	} else {
		p.failures++
		p.lastFailedAt = now
	}

	if !p.generating || ticket != p.current {
		p.logger.Debug("Ignoring completion of stale generation", zap.Uint64("ticket", uint64(ticket)))
		return
	}
	p.generating = false
}

// InFlight reports whether a generation is currently in flight
func (p *Policy) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generating
}

// LastGeneratedAt returns the time of the last reported generation
func (p *Policy) LastGeneratedAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastGeneratedAt == nil {
		return time.Time{}, false
	}
	return *p.lastGeneratedAt, true
}

// RetryAt returns when automatic generation resumes after failures
func (p *Policy) RetryAt(interval time.Duration) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures == 0 || p.config.FailureBackoff <= 0 {
		return time.Time{}, false
	}
	return p.lastFailedAt.Add(p.backoffLocked(interval)), true
}

func (p *Policy) backingOffLocked(now time.Time, interval time.Duration) bool {
	if p.failures == 0 || p.config.FailureBackoff <= 0 {
		return false
	}
	return now.Sub(p.lastFailedAt) < p.backoffLocked(interval)
}

func (p *Policy) backoffLocked(interval time.Duration) time.Duration {
	backoff := p.config.FailureBackoff
	for i := 1; i < p.failures; i++ {
		if interval > 0 && backoff >= interval {
			break
		}
		if backoff > time.Hour {
			break
		}
		backoff *= 2
	}
	if interval > 0 && backoff > interval {
		backoff = interval
	}
	return backoff
}

func (p *Policy) beginLocked(now time.Time) Ticket {
	p.current++
	p.generating = true
	p.startedAt = now
	return p.current
}

func (p *Policy) recoverLocked(now time.Time) {
	if !p.generating || p.config.MaxInFlight <= 0 {
		return
	}

	stuckFor := now.Sub(p.startedAt)
	if stuckFor < p.config.MaxInFlight {
		return
	}

	p.logger.Warn("Generation exceeded maximum in-flight duration, reverting to idle",
		zap.Duration("stuck_for", stuckFor),
		zap.Uint64("ticket", uint64(p.current)))
	p.generating = false

	if p.onRecover != nil {
		p.onRecover(stuckFor)
	}
}

// Evaluate is the pure trigger rule. An anchor change permits a generation
// unless one completed within cooldown; otherwise the first generation is
// always permitted and later ones wait for interval.
func Evaluate(now time.Time, lastGeneratedAt *time.Time, interval, cooldown time.Duration, anchorsChanged bool) bool {
	if anchorsChanged {
		return lastGeneratedAt == nil || now.Sub(*lastGeneratedAt) >= cooldown
	}
	if lastGeneratedAt == nil {
		return true
	}
	return now.Sub(*lastGeneratedAt) >= interval
}

// AnchorsChangedSignificantly compares two anchor sets, each nearest first.
// A size change of two or more counts as a change; otherwise at least two
// of the current nearest three must be new to the previous nearest three.
func AnchorsChangedSignificantly(previous, current []geo.Anchor) bool {
	if len(previous) == 0 && len(current) == 0 {
		return false
	}

	diff := len(current) - len(previous)
	if diff < 0 {
		diff = -diff
	}
	if diff >= 2 {
		return true
	}

	known := make(map[string]bool, nearestCompared)
	for _, a := range nearest(previous) {
		known[a.ID] = true
	}

	fresh := 0
	for _, a := range nearest(current) {
		if !known[a.ID] {
			fresh++
		}
	}

	return fresh >= 2
}

func nearest(anchors []geo.Anchor) []geo.Anchor {
	if len(anchors) > nearestCompared {
		return anchors[:nearestCompared]
	}
	return anchors
}
