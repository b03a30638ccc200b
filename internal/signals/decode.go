package signals

import (
	"fmt"
	"unicode/utf8"
)

// DecodeExtractor reports malformed UTF-8 and invisible formatting characters
// (zero-width, bidi overrides, tag characters) that can hide content from a
// reader or split a term across a script switch.
type DecodeExtractor struct{}

func NewDecodeExtractor() *DecodeExtractor {
	return &DecodeExtractor{}
}

func (e *DecodeExtractor) Name() string {
	return "decode"
}

func (e *DecodeExtractor) Extract(text string) []Finding {
	var out []Finding

	badStart := -1
	flushBad := func(end int) {
		if badStart < 0 {
			return
		}
		out = append(out, Finding{
			Category:   CategoryDecodeError,
			Start:      badStart,
			End:        end,
			Confidence: 1.0,
			Detail:     fmt.Sprintf("invalid UTF-8 sequence (%d bytes)", end-badStart),
		})
		badStart = -1
	}

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			if badStart < 0 {
				badStart = i
			}
			i++
			continue
		}
		flushBad(i)

		// A leading BOM is legitimate; anywhere else it is a zero-width space.
		if isInvisible(r) && !(r == 0xFEFF && i == 0) {
			out = append(out, Finding{
				Category:   CategoryInvisibleChar,
				Start:      i,
				End:        i + size,
				Confidence: 0.6,
				Detail:     fmt.Sprintf("invisible character U+%04X", r),
			})
		}
		i += size
	}
	flushBad(len(text))

	return out
}

// isInvisible reports zero-width, bidi control and Unicode tag characters.
// ZWNJ/ZWJ are excluded: Persian orthography and emoji sequences rely on them.
func isInvisible(r rune) bool {
	switch {
	case r == 0x200B, r == 0x2060, r == 0xFEFF, r == 0x00AD, r == 0x180E:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	case r >= 0xE0000 && r <= 0xE007F:
		return true
	}
	return false
}
