// Package phonetic matches spoken names against known records using Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity.
//
// Speech transcription mangles proper nouns: a project called "Novalaunch"
// arrives as "nova lunch", "Eldrinax" as "elder nacks". The matcher recovers
// the intended name in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the spoken name and for each known name. A known name
//     whose codes overlap the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the name with the
//     highest Jaro-Winkler similarity (case-insensitive) wins, provided its
//     score clears the phonetic threshold.
//
//     When no phonetic candidate exists, a secondary pass tests pure
//     Jaro-Winkler similarity against all names using a stricter fuzzy
//     threshold (default 0.85).
//
// Multi-word names ("Nova Launch") are supported: codes are computed per
// word and the best pairwise score across word pairs feeds the ranking.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks known names by phonetic similarity to a spoken name.
// All methods are safe for concurrent use; the Matcher is read-only after
// construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
// Default thresholds are 0.70 for phonetic matches and 0.85 for fuzzy
// fallback matches.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the known name most phonetically similar to spoken.
//
// spoken may be a single word or a space-separated phrase. When spoken
// contains multiple tokens, the matcher checks whether any token phonetically
// aligns with any token of a multi-word name, then ranks by Jaro-Winkler on
// the full strings.
//
// When matched is false, best equals spoken unchanged and confidence is 0.
func (m *Matcher) Match(spoken string, known []string) (best string, confidence float64, matched bool) {
	if len(known) == 0 || strings.TrimSpace(spoken) == "" {
		return spoken, 0, false
	}

	spokenLower := strings.ToLower(strings.TrimSpace(spoken))
	spokenTokens := strings.Fields(spokenLower)

	inputCodes := codesForTokens(spokenTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}

	var top candidate

	for _, name := range known {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		nameCodes := codesForTokens(nameTokens)
		phoneticMatch := codesOverlap(inputCodes, nameCodes)

		jwScore := bestJWScore(spokenTokens, nameTokens, spokenLower, nameLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !top.phonetic || jwScore > top.score {
					top = candidate{name: name, score: jwScore, phonetic: true}
				}
			}
		} else if !top.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > top.score {
				top = candidate{name: name, score: jwScore, phonetic: false}
			}
		}
	}

	if top.name != "" {
		return top.name, top.score, true
	}
	return spoken, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// spoken name and the known name using three strategies:
//
//  1. Full-string comparison (e.g., "elder nacks" vs "eldrinax").
//  2. Space-stripped comparison (e.g., "eldernacks" vs "eldrinax").
//  3. Best pairwise word comparison, the maximum score between any spoken
//     token and any name token (useful when one spoken word corresponds to
//     one word of the name).
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(spokenTokens, nameTokens []string, spokenFull, nameFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(spokenFull, nameFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(spokenTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(spokenTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, st := range spokenTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(st, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
