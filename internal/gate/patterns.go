package gate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// stopPatterns are checked first and in order; any match means stop.
var stopPatterns = compileAll(
	`\bbye\b`,
	`\bgoodbye\b`,
	`\b(bye|goodbye|stop|cancel|shut up|nevermind|that's all)\s+(aura|ora|oro|or\s*uh)\b`,
	`\bbye\s+aura\b`,
	`\bgoodbye\s+aura\b`,
	`\bbye\s+oro\b`,
	`\bbye\s+or\s*uh\b`,
	`\b(bye|by)\s+or\b`,
	`\bgoodbye\s+oro\b`,
	`\bstop\s+aura\b`,
	`\bcancel\b`,
	`\bnevermind\b`,
)

// wakePatterns cover salutations followed by the agent name and its common
// mis-hearings.
var wakePatterns = compileAll(
	`\b(hey|hi|hello|yo|ok)\s+(aura|ora|or uh|aara)\b`,
	`\b(hey|hi)\s+or\b`,
)

// salutation captures a greeting and the word after it for phonetic matching.
var salutation = regexp.MustCompile(`\b(hey|hi|hello|yo|ok|okay)\s+([a-z']+)`)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// phrasePatterns holds the compiled literal wake/sleep phrases.
type phrasePatterns struct {
	wake, sleep     string
	wakeRe, sleepRe *regexp.Regexp
}

func compilePhrases(wake, sleep string) *phrasePatterns {
	return &phrasePatterns{
		wake:    wake,
		sleep:   sleep,
		wakeRe:  literalPattern(wake),
		sleepRe: literalPattern(sleep),
	}
}

// literalPattern turns a phrase into a word-bounded, whitespace-tolerant
// pattern over normalized text. Returns nil for a blank phrase.
func literalPattern(phrase string) *regexp.Regexp {
	words := strings.Fields(normalize(phrase))
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)
	if isWordByte(expr[0]) {
		expr = `\b` + expr
	}
	if isWordByte(expr[len(expr)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// normalize lowercases text and blanks out . , ! ? ; : while keeping every
// byte offset aligned with the input. Runes whose lowercase form has a
// different encoded length are left as-is.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte(text[i])
		case strings.ContainsRune(".,!?;:", r):
			b.WriteByte(' ')
		default:
			lr := unicode.ToLower(r)
			if utf8.RuneLen(lr) != size {
				lr = r
			}
			b.WriteRune(lr)
		}
		i += size
	}
	return b.String()
}

// span is a half-open byte range.
type span struct{ start, end int }

// earliest returns the leftmost match across res (longest on ties).
func earliest(res []*regexp.Regexp, s string) (span, bool) {
	best, found := span{}, false
	for _, re := range res {
		if re == nil {
			continue
		}
		loc := re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		if !found || loc[0] < best.start || (loc[0] == best.start && loc[1] > best.end) {
			best, found = span{loc[0], loc[1]}, true
		}
	}
	return best, found
}

// matchPatterns runs the pattern tier. matched reports whether any stop or
// wake pattern fired; the returned decision is always populated so callers
// that treat the tier as authoritative can use it directly.
func (g *Gate) matchPatterns(text string) (d Decision, matched bool) {
	norm := normalize(text)
	phrases := g.phrases.Load()

	d = Decision{Resolved: true, Tier: TierPattern, WakeEnd: -1, StopStart: -1}

	// The configured sleep phrase marks the split when present, so a query
	// that itself says "cancel" or "stop" keeps those words.
	s, ok := earliest([]*regexp.Regexp{phrases.sleepRe}, norm)
	if !ok {
		s, ok = earliest(stopPatterns, norm)
	}
	if ok {
		d.Stop = true
		d.StopStart = s.start
		return d, true
	}

	wakes := append(wakePatterns[:len(wakePatterns):len(wakePatterns)], phrases.wakeRe)
	w, ok := earliest(wakes, norm)
	if g.phoneticWake {
		if pw, pok := g.phoneticWakeMatch(norm); pok && (!ok || pw.start < w.start) {
			w, ok = pw, true
		}
	}
	if ok {
		d.Wake = true
		d.WakeEnd = w.end
		return d, true
	}
	return d, false
}

// phoneticThreshold is the minimum Jaro-Winkler score for a phonetically
// matching word to count as the agent name.
const phoneticThreshold = 0.70

// phoneticWakeMatch finds a salutation followed by a word that sounds like
// the agent name: Double Metaphone codes must overlap and Jaro-Winkler must
// clear phoneticThreshold. Spelling similarity alone is not enough, so
// "hey laura" stays asleep.
func (g *Gate) phoneticWakeMatch(norm string) (span, bool) {
	nameCodes := metaphoneCodes(g.agentName)
	for _, m := range salutation.FindAllStringSubmatchIndex(norm, -1) {
		word := norm[m[4]:m[5]]
		score := matchr.JaroWinkler(word, g.agentName, false)
		if score >= phoneticThreshold && overlaps(metaphoneCodes(word), nameCodes) {
			return span{m[0], m[5]}, true
		}
	}
	return span{}, false
}

func metaphoneCodes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	var out []string
	for _, c := range []string{p, s} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
