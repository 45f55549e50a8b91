// Package activation decides whether a batch of speech addressed the
// assistant.
package activation

import "strings"

// DefaultPhrases is checked in order; the first hit is reported.
var DefaultPhrases = []string{
	"hey jarvis",
	"hey, jarvis",
	"hi jarvis",
	"hi, jarvis",
	"hello jarvis",
	"hello, jarvis",
	"okay jarvis",
	"okay, jarvis",
	"ok jarvis",
	"ok, jarvis",
}

type Detector struct {
	phrases []string
}

// NewDetector builds a detector over phrases, or DefaultPhrases when none
// are given. Blank phrases are ignored.
func NewDetector(phrases []string) *Detector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	d := &Detector{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		d.phrases = append(d.phrases, p)
	}
	return d
}

// Detect reports the first phrase contained in text, case-insensitively.
// There is no word-boundary check: "hey jarvisaur" activates.
func (d *Detector) Detect(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, ""
	}
	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return true, p
		}
	}
	return false, ""
}

func (d *Detector) Phrases() []string {
	return append([]string(nil), d.phrases...)
}
