// Package transcript fixes misheard names in speech-to-text output.
//
// Transcribers are good with everyday words and poor with the invented names
// a campaign is full of. A [Corrector] knows the names that matter (the
// agents, the voiced speakers and any extra vocabulary) and replaces spans of
// a transcript that sound and look like one of them.
//
// A span matches a name when either
//
//  1. its Jaro-Winkler similarity to the name reaches the fuzzy threshold, or
//  2. its similarity reaches the phonetic threshold, it starts with the same
//     letter, and its Double Metaphone codes overlap the name's.
//
// Spans are compared with spaces and punctuation removed, so "elder nacks"
// can match "Eldrinax". A single-word name may be matched by one or two
// spoken words; a multi-word name by exactly as many words as it has.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90

	// minKeyLen keeps short function words ("a", "of", "we") from matching.
	minKeyLen = 3
)

// Correction records one replacement.
type Correction struct {
	// Original is the span as transcribed, without surrounding punctuation.
	Original string

	// Corrected is the name it was replaced with.
	Corrected string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum similarity for spans that also
// sound like the name. Default: 0.80.
func WithPhoneticThreshold(t float64) Option {
	return func(c *Corrector) { c.phonetic = t }
}

// WithFuzzyThreshold sets the minimum similarity for spans accepted on
// spelling alone. Default: 0.90.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Corrector) { c.fuzzy = t }
}

type name struct {
	text  string
	words int
	key   string
	codes [2]string
}

// fits reports whether a window of n words may stand for the name.
func (nm name) fits(n int) bool {
	return n == nm.words || (nm.words == 1 && n == 2)
}

// Corrector replaces misheard names. It is read-only after [New] and safe
// for concurrent use.
type Corrector struct {
	names     []name
	maxWindow int
	phonetic  float64
	fuzzy     float64
}

// New returns a corrector for names. Blank and duplicate names are ignored.
func New(names []string, opts ...Option) *Corrector {
	c := &Corrector{
		phonetic: defaultPhoneticThreshold,
		fuzzy:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		k := key(n)
		if len([]rune(k)) < minKeyLen || seen[k] {
			continue
		}
		seen[k] = true
		p, s := matchr.DoubleMetaphone(k)
		nm := name{text: n, words: len(strings.Fields(n)), key: k, codes: [2]string{p, s}}
		c.names = append(c.names, nm)
		c.maxWindow = max(c.maxWindow, nm.words, min(nm.words+1, 2))
	}
	return c
}

// Names returns the names the corrector knows, in the order given to [New].
func (c *Corrector) Names() []string {
	out := make([]string, len(c.names))
	for i, nm := range c.names {
		out[i] = nm.text
	}
	return out
}

// Correct returns text with misheard names replaced, along with each
// replacement made. Text without corrections is returned unchanged;
// otherwise runs of whitespace are collapsed to single spaces.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.names) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var fixes []Correction

	for i := 0; i < len(tokens); {
		w, nm, score, ok := c.bestAt(tokens, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		if w.core == nm.text {
			out = append(out, tokens[i:i+w.n]...)
		} else {
			out = append(out, w.lead+nm.text+w.trail)
			fixes = append(fixes, Correction{Original: w.core, Corrected: nm.text, Score: score})
		}
		i += w.n
	}
	if len(fixes) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), fixes
}

// bestAt finds the highest scoring name for the windows starting at
// tokens[i]. Ties go to the longer window.
func (c *Corrector) bestAt(tokens []string, i int) (window, name, float64, bool) {
	var (
		best      window
		bestName  name
		bestScore float64
		found     bool
	)
	for n := 1; n <= c.maxWindow && i+n <= len(tokens); n++ {
		w, ok := newWindow(tokens[i : i+n])
		if !ok {
			break
		}
		if len([]rune(w.key)) < minKeyLen {
			continue
		}
		var codes [2]string
		for _, nm := range c.names {
			if !nm.fits(n) {
				continue
			}
			score := matchr.JaroWinkler(w.key, nm.key, false)
			if score < c.phonetic {
				continue
			}
			if score < c.fuzzy {
				if !sameInitial(w.key, nm.key) {
					continue
				}
				if codes[0] == "" {
					codes[0], codes[1] = matchr.DoubleMetaphone(w.key)
				}
				if !overlap(codes, nm.codes) {
					continue
				}
			}
			if !found || score > bestScore || (score == bestScore && n > best.n) {
				best, bestName, bestScore, found = w, nm, score, true
			}
		}
	}
	return best, bestName, bestScore, found
}

// window is a run of transcript tokens considered as one span.
type window struct {
	n int

	// lead and trail are the punctuation (and possessive suffix) kept
	// around a replacement.
	lead, trail string

	// core is the span's words without lead and trail.
	core string

	key string
}

// newWindow builds a window from tokens. It reports false when punctuation
// separates the tokens, since a name never spans a sentence break or a
// comma; longer windows from the same start are then skipped too.
func newWindow(tokens []string) (window, bool) {
	w := window{n: len(tokens)}
	words := make([]string, len(tokens))
	for j, tok := range tokens {
		lead, core, trail := splitPunct(tok)
		if (j > 0 && lead != "") || (j < len(tokens)-1 && trail != "") {
			return window{}, false
		}
		if j == 0 {
			w.lead = lead
		}
		if j == len(tokens)-1 {
			core, trail = splitPossessive(core, trail)
			w.trail = trail
		}
		words[j] = core
	}
	w.core = strings.Join(words, " ")
	w.key = key(w.core)
	return w, true
}

// splitPunct separates leading and trailing punctuation from tok.
func splitPunct(tok string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(tok, unicode.IsPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	return lead, trimmed, core[len(trimmed):]
}

// splitPossessive moves an English possessive suffix from core to trail.
func splitPossessive(core, trail string) (string, string) {
	for _, suffix := range []string{"'s", "’s", "'S", "’S"} {
		if base, ok := strings.CutSuffix(core, suffix); ok && base != "" {
			return base, suffix + trail
		}
	}
	return core, trail
}

// key folds s to lowercase letters and digits.
func key(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func sameInitial(a, b string) bool {
	ra, _ := utf8.DecodeRuneInString(a)
	rb, _ := utf8.DecodeRuneInString(b)
	return ra == rb
}

func overlap(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
