package transmission

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// metaPrefix matches the preambles models like to put before the actual text
var metaPrefix = regexp.MustCompile(
	`(?i)^(?:here(?:'s| is) (?:the |your |a |an )?(?:transmission|message|fragment|text|entry|note)[^:\n]*:|` +
		`(?:the )?transmission:|output:|response:)\s*`)

var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'`':  '`',
	'“':  '”',
	'‘':  '’',
	'«':  '»',
}

const terminalPunctuation = ".!?…"

// closers may follow terminal punctuation, as in `he said "stop."`
const closers = `"'”’»)]`

// CleanTransmission normalises raw generated text: surrounding whitespace
// and one layer of matching quotes are removed, a leading meta preamble is
// dropped and a full stop is appended when the text has no terminal
// punctuation. An empty result means nothing usable was generated.
func CleanTransmission(raw string) string {
	text := unquote(strings.TrimSpace(raw))

	if loc := metaPrefix.FindStringIndex(text); loc != nil {
		text = unquote(strings.TrimSpace(text[loc[1]:]))
	}

	if text == "" {
		return ""
	}

	trimmed := strings.TrimRight(text, closers)
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if trimmed == "" || !strings.ContainsRune(terminalPunctuation, last) {
		text += "."
	}

	return text
}

// unquote strips one layer of matching quote characters
func unquote(text string) string {
	if utf8.RuneCountInString(text) < 2 {
		return text
	}

	first, _ := utf8.DecodeRuneInString(text)
	last, size := utf8.DecodeLastRuneInString(text)

	closing, ok := quotePairs[first]
	if !ok || closing != last {
		return text
	}

	return strings.TrimSpace(text[utf8.RuneLen(first) : len(text)-size])
}
