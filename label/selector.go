// Package label picks a playable word out of image-recognition labels.
package label

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/methodiva/littleLetters/logger"
)

// Threshold is the exclusive lower bound on a usable label score.
const Threshold = 0.6

// ignoredWords are labels the recognizer returns for almost every photo.
var ignoredWords = map[string]struct{}{
	"PRODUCT": {},
	"BLUE":    {},
}

// Candidate is one recognizer label.
type Candidate struct {
	Text  string
	Score float64
}

// SelectWord returns the best playable word among candidates. Words starting
// with required are preferred; otherwise the best word overall is returned so
// the caller can reject it as a wrong letter. The result is upper-cased.
// ok is false when no candidate survives filtering.
func SelectWord(candidates []Candidate, required rune) (word string, ok bool) {
	filtered := filter(candidates)
	if len(filtered) == 0 {
		logger.Log.Debugf("no playable labels among %d candidates", len(candidates))
		return "", false
	}

	required = unicode.ToUpper(required)
	matching := make([]Candidate, 0, len(filtered))
	for _, c := range filtered {
		if r, _ := utf8.DecodeRuneInString(c.Text); r == required {
			matching = append(matching, c)
		}
	}

	if len(matching) > 0 {
		return best(matching).Text, true
	}
	logger.Log.Debugf("no labels start with %q, falling back to best of %d", required, len(filtered))
	return best(filtered).Text, true
}

func filter(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		text := strings.ToUpper(strings.TrimSpace(c.Text))
		if text == "" || c.Score <= Threshold {
			continue
		}
		if strings.IndexFunc(text, unicode.IsSpace) >= 0 {
			continue
		}
		if _, ignored := ignoredWords[text]; ignored {
			continue
		}
		out = append(out, Candidate{Text: text, Score: c.Score})
	}
	return out
}

// best keeps the longest word, then the higher score; the earliest wins full ties.
func best(candidates []Candidate) Candidate {
	chosen := candidates[0]
	for _, c := range candidates[1:] {
		cl, bl := utf8.RuneCountInString(c.Text), utf8.RuneCountInString(chosen.Text)
		if cl > bl || (cl == bl && c.Score > chosen.Score) {
			chosen = c
		}
	}
	return chosen
}
