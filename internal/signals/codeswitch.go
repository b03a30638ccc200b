package signals

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minObfuscatedTermRunes keeps very short terms out of the collapsed search,
// where they would match across ordinary word gaps.
const minObfuscatedTermRunes = 4

// maxSplitSegmentRunes is the longest separator-delimited fragment accepted
// inside a split term ("i.d.i.o.t", "gh abi") when nothing else marks the span
// as obfuscated.
const maxSplitSegmentRunes = 3

var collapseFold = foldOptions{lower: true, arabic: true, confusables: true, dropSeparators: true}

// CodeSwitchExtractor finds lexicon terms that only match once homoglyphs are
// folded and separators, invisible characters and script switches inside the
// term are collapsed, the way a toxic term is hidden by splitting it across a
// language switch.
type CodeSwitchExtractor struct {
	lexicon *Lexicon
}

func NewCodeSwitchExtractor(lexicon *Lexicon) *CodeSwitchExtractor {
	return &CodeSwitchExtractor{lexicon: lexicon}
}

func (e *CodeSwitchExtractor) Name() string {
	return "code_switch"
}

func (e *CodeSwitchExtractor) Extract(text string) []Finding {
	plain := fold(text, lexiconFold)
	var plainSpans [][2]int
	for _, t := range e.lexicon.terms {
		for _, loc := range findTerm(plain.text, t.Text) {
			s, en := plain.span(loc[0], loc[1])
			plainSpans = append(plainSpans, [2]int{s, en})
		}
	}

	collapsed := fold(text, collapseFold)
	if collapsed.text == "" {
		return nil
	}

	var out []Finding
	for _, t := range e.lexicon.terms {
		needle := stripSeparators(t.Text)
		if utf8.RuneCountInString(needle) < minObfuscatedTermRunes {
			continue
		}

		from := 0
		for from <= len(collapsed.text)-len(needle) {
			idx := strings.Index(collapsed.text[from:], needle)
			if idx < 0 {
				break
			}
			cStart := from + idx
			cEnd := cStart + len(needle)
			_, step := utf8.DecodeRuneInString(collapsed.text[cStart:])
			from = cStart + step

			start := collapsed.offsets[cStart]
			last := collapsed.offsets[cEnd-1]
			_, size := utf8.DecodeRuneInString(text[last:])
			end := last + size

			if !atWordBoundary(text, start, end) || overlapsAny(plainSpans, start, end) {
				continue
			}
			if !looksObfuscated(text[start:end]) {
				continue
			}
			out = append(out, Finding{
				Category:   CategoryCodeSwitchObfuscation,
				Start:      start,
				End:        end,
				Confidence: t.Weight,
				Detail:     "obfuscated lexicon term (" + t.Lang + "): " + t.Detail,
			})
		}
	}
	return out
}

// looksObfuscated reports whether a span that collapses to a lexicon term was
// disguised: it mixes scripts, uses homoglyphs or invisible characters, or is
// split into short fragments.
func looksObfuscated(span string) bool {
	var scripts [ScriptOther + 1]bool
	nScripts := 0
	segment := 0
	maxSegment := 0
	splitByNonSpace := false

	for _, r := range span {
		if isInvisible(r) {
			return true
		}
		if _, ok := confusables[unicode.ToLower(r)]; ok {
			return true
		}
		if sc := scriptOf(r); sc != ScriptUnknown {
			if !scripts[sc] {
				scripts[sc] = true
				nScripts++
			}
			segment++
			if segment > maxSegment {
				maxSegment = segment
			}
			continue
		}
		if unicode.IsDigit(r) || isArabicMark(r) {
			segment++
			continue
		}
		if !unicode.IsSpace(r) {
			splitByNonSpace = true
		}
		segment = 0
	}

	if nScripts > 1 || splitByNonSpace {
		return true
	}
	return maxSegment <= maxSplitSegmentRunes
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func overlapsAny(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}
