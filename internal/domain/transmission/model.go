package transmission

import (
	"fmt"
	"time"

	"latent/internal/domain/geo"
)

// Style is the narrative register of a transmission
type Style string

const (
	StyleFragment  Style = "fragment"
	StyleCatalog   Style = "catalog"
	StyleFieldNote Style = "field_note"
	StyleSignal    Style = "signal"
	StyleWhisper   Style = "whisper"
)

// Styles returns every style in declaration order
func Styles() []Style {
	return []Style{StyleFragment, StyleCatalog, StyleFieldNote, StyleSignal, StyleWhisper}
}

// ParseStyle converts a label into a Style
func ParseStyle(s string) (Style, error) {
	for _, st := range Styles() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown transmission style %q", s)
}

// VoiceProfile describes how the playback collaborator should voice a style
type VoiceProfile struct {
	Label     string  `json:"label"`
	VoiceName string  `json:"voice_name"`
	Pitch     float64 `json:"pitch"`
	Rate      float64 `json:"rate"`
}

// Transmission is the output of one generation cycle
type Transmission struct {
	ID                  string          `json:"id"`
	Timestamp           time.Time       `json:"timestamp"`
	ObserverCoordinates geo.Coordinates `json:"observer_coordinates"`
	PhantomCoordinates  geo.Coordinates `json:"phantom_coordinates"`
	DriftMagnitude      float64         `json:"drift_magnitude"`
	AnchorTitles        []string        `json:"anchor_titles"`
	GeneratedText       string          `json:"generated_text"`
	VoiceLabel          string          `json:"voice_label"`
	Style               Style           `json:"style"`
}

// Settings are the user-configurable engine settings, stored as one record
type Settings struct {
	RadarRangeMeters         float64 `json:"radar_range_meters"`
	GenerationIntervalMillis int64   `json:"generation_interval_millis"`
	MovementThresholdMeters  float64 `json:"movement_threshold_meters"`
}

// DefaultSettings returns the settings used before the user changes anything
func DefaultSettings() Settings {
	return Settings{
		RadarRangeMeters:         1000,
		GenerationIntervalMillis: 120000,
		MovementThresholdMeters:  50,
	}
}

// GenerationInterval returns the interval as a duration
func (s Settings) GenerationInterval() time.Duration {
	return time.Duration(s.GenerationIntervalMillis) * time.Millisecond
}

// Validate checks that every setting is positive
func (s Settings) Validate() error {
	if s.RadarRangeMeters <= 0 {
		return fmt.Errorf("radar range must be positive, got %v", s.RadarRangeMeters)
	}
	if s.GenerationIntervalMillis <= 0 {
		return fmt.Errorf("generation interval must be positive, got %d", s.GenerationIntervalMillis)
	}
	if s.MovementThresholdMeters <= 0 {
		return fmt.Errorf("movement threshold must be positive, got %v", s.MovementThresholdMeters)
	}
	return nil
}
