package transmission

import (
	"fmt"

	"latent/internal/domain/transmission"
)

// Instruction returns the narrative direction for a style
func Instruction(style transmission.Style) (string, error) {
	switch style {
	case transmission.StyleFragment:
		return "Write a broken fragment of one or two sentences, as if the signal cut out mid-thought. " +
			"Prefer concrete nouns over explanation.", nil
	case transmission.StyleCatalog:
		return "Write a terse catalog entry listing two to four things that exist at the phantom location " +
			"but appear on no map. Use semicolons between items.", nil
	case transmission.StyleFieldNote:
		return "Write a field researcher's note of two or three sentences, dry and precise, " +
			"recording something slightly wrong about the place.", nil
	case transmission.StyleSignal:
		return "Write a short intercepted radio transmission with the cadence of a numbers station. " +
			"Speak the bearing aloud once.", nil
	case transmission.StyleWhisper:
		return "Write a single hushed sentence addressed directly to the listener, intimate and unsettling.", nil
	}
	return "", fmt.Errorf("no instruction for style %q", style)
}

// Voice returns the playback profile for a style
func Voice(style transmission.Style) (transmission.VoiceProfile, error) {
	switch style {
	case transmission.StyleFragment:
		return transmission.VoiceProfile{Label: "broken-carrier", VoiceName: "en-GB", Pitch: 0.8, Rate: 0.95}, nil
	case transmission.StyleCatalog:
		return transmission.VoiceProfile{Label: "archivist", VoiceName: "en-US", Pitch: 1.0, Rate: 1.05}, nil
	case transmission.StyleFieldNote:
		return transmission.VoiceProfile{Label: "surveyor", VoiceName: "en-GB", Pitch: 0.9, Rate: 1.0}, nil
	case transmission.StyleSignal:
		return transmission.VoiceProfile{Label: "numbers-station", VoiceName: "en-US", Pitch: 0.6, Rate: 0.85}, nil
	case transmission.StyleWhisper:
		return transmission.VoiceProfile{Label: "close-whisper", VoiceName: "en-US", Pitch: 1.2, Rate: 0.8}, nil
	}
	return transmission.VoiceProfile{}, fmt.Errorf("no voice for style %q", style)
}
