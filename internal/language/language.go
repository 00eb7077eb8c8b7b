// Package language classifies narration text by script.
package language

// Language is the coarse language class used for backend routing.
type Language string

const (
	Japanese Language = "japanese"
	Other    Language = "other"
)

// Parse maps a config value onto a Language. Unknown values report false.
func Parse(value string) (Language, bool) {
	switch Language(value) {
	case Japanese:
		return Japanese, true
	case Other:
		return Other, true
	}
	return "", false
}

// Classify returns Japanese when text contains any Hiragana, Katakana or
// CJK Unified Ideograph code point, Other otherwise.
func Classify(text string) Language {
	if HasJapanese(text) {
		return Japanese
	}
	return Other
}

// HasJapanese reports whether text contains a code point in U+3040-U+309F,
// U+30A0-U+30FF or U+4E00-U+9FAF.
func HasJapanese(text string) bool {
	for _, r := range text {
		switch {
		case r >= 0x3040 && r <= 0x309f:
			return true
		case r >= 0x30a0 && r <= 0x30ff:
			return true
		case r >= 0x4e00 && r <= 0x9faf:
			return true
		}
	}
	return false
}
