package ambient

import (
	"math"
	"math/rand"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// Config shapes the static bed
type Config struct {
	SampleRate  beep.SampleRate
	Volume      float64 // linear gain, 0 silences
	Cutoff      float64 // low-pass corner in Hz
	CrackleRate float64 // expected crackle bursts per second
	FadePeriod  time.Duration
	FadeDepth   float64 // 0..1 share of amplitude removed at the trough
}

// DefaultConfig returns a soft, slowly breathing hiss
func DefaultConfig() Config {
	return Config{
		SampleRate:  beep.SampleRate(44100),
		Volume:      0.35,
		Cutoff:      2400,
		CrackleRate: 3,
		FadePeriod:  7 * time.Second,
		FadeDepth:   0.6,
	}
}

// static streams low-pass filtered noise with crackle and fading
type static struct {
	rng   *rand.Rand
	rate  beep.SampleRate
	cfg   Config
	alpha float64
	pos   int

	lowL, lowR float64
	crackle    float64
	crackleLen int
}

// NewStatic creates an endless static streamer. The output depends only on
// seed and cfg.
func NewStatic(seed int64, cfg Config) beep.Streamer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}

	// one-pole low-pass coefficient
	dt := 1 / float64(cfg.SampleRate)
	rc := 1 / (2 * math.Pi * math.Max(cfg.Cutoff, 1))

	s := &static{
		rng:   rand.New(rand.NewSource(seed)),
		rate:  cfg.SampleRate,
		cfg:   cfg,
		alpha: dt / (rc + dt),
	}
	return newVolume(s, cfg.Volume)
}

func (s *static) Stream(samples [][2]float64) (n int, ok bool) {
	crackleChance := s.cfg.CrackleRate / float64(s.rate)
	fadeSamples := s.rate.N(s.cfg.FadePeriod)

	for i := range samples {
		s.lowL += s.alpha * (s.noise() - s.lowL)
		s.lowR += s.alpha * (s.noise() - s.lowR)

		if s.crackleLen == 0 && s.rng.Float64() < crackleChance {
			s.crackleLen = s.rate.N(time.Duration(2+s.rng.Intn(10)) * time.Millisecond)
			s.crackle = 0.5 + 0.5*s.rng.Float64()
		}

		var burst float64
		if s.crackleLen > 0 {
			burst = s.crackle * s.noise()
			s.crackleLen--
		}

		gain := 1.0
		if fadeSamples > 0 {
			phase := float64(s.pos%fadeSamples) / float64(fadeSamples)
			gain = 1 - s.cfg.FadeDepth*(0.5+0.5*math.Sin(2*math.Pi*phase))
		}

		samples[i][0] = clamp((s.lowL + burst) * gain)
		samples[i][1] = clamp((s.lowR + burst) * gain)
		s.pos++
	}
	return len(samples), true
}

func (s *static) Err() error { return nil }

func (s *static) noise() float64 {
	return s.rng.Float64()*2 - 1
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// math.Log2(0) is -Inf, so zero volume is rendered silent
func newVolume(s beep.Streamer, vol float64) beep.Streamer {
	if vol <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Volume: 0, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(vol), Silent: false}
}
