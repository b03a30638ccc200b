package signals

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// foldOptions selects the transforms applied by fold. Digit folding
// (Arabic-Indic and Extended Arabic-Indic to ASCII) and NFKC are always on.
type foldOptions struct {
	lower          bool
	arabic         bool // strip diacritics/tatweel, unify alef/yeh/teh marbuta
	confusables    bool // map Cyrillic/Greek homoglyphs to Latin
	dropSeparators bool // drop everything that is not a letter or digit
}

// folded is a normalized view of a text. offsets[i] is the byte offset in the
// original text of the rune that produced byte i of text; offsets[len(text)]
// is len(original).
type folded struct {
	text    string
	offsets []int
}

// span maps a byte range of the folded text back to the original text.
func (f folded) span(start, end int) (int, int) {
	return f.offsets[start], f.offsets[end]
}

func fold(text string, opts foldOptions) folded {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)

	emit := func(r rune, origin int) {
		n := utf8.RuneLen(r)
		if n < 0 {
			return
		}
		b.WriteRune(r)
		for k := 0; k < n; k++ {
			offsets = append(offsets, origin)
		}
	}

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		origin := i
		i += size

		if r == utf8.RuneError && size == 1 {
			continue
		}
		if isInvisible(r) {
			continue
		}
		if opts.arabic && isArabicMark(r) {
			continue
		}
		if opts.dropSeparators && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}

		if r < utf8.RuneSelf {
			emit(transformRune(r, opts), origin)
			continue
		}
		for _, nr := range norm.NFKC.String(string(r)) {
			if opts.arabic && isArabicMark(nr) {
				continue
			}
			emit(transformRune(nr, opts), origin)
		}
	}
	offsets = append(offsets, len(text))

	return folded{text: b.String(), offsets: offsets}
}

func transformRune(r rune, opts foldOptions) rune {
	switch {
	case r >= 0x0660 && r <= 0x0669:
		return '0' + (r - 0x0660)
	case r >= 0x06F0 && r <= 0x06F9:
		return '0' + (r - 0x06F0)
	}
	if opts.lower {
		r = unicode.ToLower(r)
	}
	if opts.arabic {
		switch r {
		case 'أ', 'إ', 'آ', 'ٱ':
			return 'ا'
		case 'ى', 'ئ':
			return 'ي'
		case 'ة':
			return 'ه'
		case 'ؤ':
			return 'و'
		}
	}
	if opts.confusables {
		if l, ok := confusables[r]; ok {
			return l
		}
	}
	return r
}

// isArabicMark reports harakat, superscript alef and tatweel.
func isArabicMark(r rune) bool {
	return (r >= 0x064B && r <= 0x065F) || r == 0x0670 || r == 0x0640
}

// confusables maps lower-case Cyrillic and Greek letters that render like Latin.
var confusables = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'і': 'i', 'ј': 'j', 'ѕ': 's', 'ԁ': 'd', 'һ': 'h', 'ӏ': 'l', 'к': 'k',
	'м': 'm', 'т': 't', 'в': 'b', 'н': 'h',
	'α': 'a', 'ο': 'o', 'ρ': 'p', 'ι': 'i', 'κ': 'k', 'ν': 'v', 'τ': 't',
	'υ': 'u', 'χ': 'x', 'ε': 'e',
}

// isWordRune reports letters and digits for boundary checks.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || isArabicMark(r)
}

// atWordBoundary reports whether the byte range [start,end) of s is not
// glued to a neighbouring letter or digit.
func atWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}
