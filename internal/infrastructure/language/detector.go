package language

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"

	"BdLens/internal/ports"
)

const sampleRunes = 2000

// Detector tells English from Bengali, the two languages the sources publish in.
type Detector struct {
	detector lingua.LanguageDetector
}

var _ ports.LanguageDetector = (*Detector)(nil)

func NewDetector() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.Bengali).
			Build(),
	}
}

// Detect returns a lowercase ISO 639-1 code, or "" when undecided.
func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) > sampleRunes {
		text = string([]rune(text)[:sampleRunes])
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
