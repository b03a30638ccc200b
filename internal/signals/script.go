package signals

import (
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// Script is a coarse writing-system class.
type Script int

const (
	ScriptUnknown Script = iota
	ScriptLatin
	ScriptArabic
	ScriptCyrillic
	ScriptGreek
	ScriptHebrew
	ScriptDevanagari
	ScriptHan
	ScriptOther
)

func (s Script) String() string {
	switch s {
	case ScriptLatin:
		return "latin"
	case ScriptArabic:
		return "arabic"
	case ScriptCyrillic:
		return "cyrillic"
	case ScriptGreek:
		return "greek"
	case ScriptHebrew:
		return "hebrew"
	case ScriptDevanagari:
		return "devanagari"
	case ScriptHan:
		return "han"
	case ScriptOther:
		return "other"
	default:
		return "unknown"
	}
}

// scriptOf classifies a letter. Non-letters return ScriptUnknown.
func scriptOf(r rune) Script {
	if !unicode.IsLetter(r) {
		return ScriptUnknown
	}
	switch {
	case unicode.Is(unicode.Latin, r):
		return ScriptLatin
	case unicode.Is(unicode.Arabic, r):
		return ScriptArabic
	case unicode.Is(unicode.Cyrillic, r):
		return ScriptCyrillic
	case unicode.Is(unicode.Greek, r):
		return ScriptGreek
	case unicode.Is(unicode.Hebrew, r):
		return ScriptHebrew
	case unicode.Is(unicode.Devanagari, r):
		return ScriptDevanagari
	case unicode.Is(unicode.Han, r):
		return ScriptHan
	default:
		return ScriptOther
	}
}

// DetectScripts returns the scripts present in text in order of first
// appearance. Invalid bytes are skipped.
func DetectScripts(text string) []Script {
	var out []Script
	var seen [ScriptOther + 1]bool
	for _, r := range text {
		sc := scriptOf(r)
		if sc == ScriptUnknown || seen[sc] {
			continue
		}
		seen[sc] = true
		out = append(out, sc)
	}
	return out
}

// Arabizi writes Arabic with Latin letters and digits standing in for letters
// that have no Latin equivalent (2=ء, 3=ع, 5=خ, 7=ح, 9=ق). A digit must sit
// inside a word, or lead a word of at least two letters.
var arabiziToken = regexp.MustCompile(`(?i)\b(?:[a-z]+[23579][a-z]+[a-z0-9]*|[23579][a-z]{2,})\b`)

// HasArabizi reports whether text contains Arabizi-style tokens.
func HasArabizi(text string) bool {
	return arabiziToken.MatchString(text)
}

// ScriptExtractor emits a finding at each boundary where consecutive letters
// change script, and one finding per Arabizi token.
type ScriptExtractor struct{}

func NewScriptExtractor() *ScriptExtractor {
	return &ScriptExtractor{}
}

func (e *ScriptExtractor) Name() string {
	return "script"
}

func (e *ScriptExtractor) Extract(text string) []Finding {
	var out []Finding

	prev := ScriptUnknown
	for i, r := range text {
		if r == utf8.RuneError {
			continue
		}
		sc := scriptOf(r)
		if sc == ScriptUnknown {
			continue
		}
		if prev != ScriptUnknown && sc != prev {
			out = append(out, Finding{
				Category:   CategoryScriptSwitch,
				Start:      i,
				End:        i + utf8.RuneLen(r),
				Confidence: 1.0,
				Detail:     fmt.Sprintf("script switch %s→%s", prev, sc),
			})
		}
		prev = sc
	}

	for _, loc := range arabiziToken.FindAllStringIndex(text, -1) {
		out = append(out, Finding{
			Category:   CategoryArabizi,
			Start:      loc[0],
			End:        loc[1],
			Confidence: 0.7,
			Detail:     "arabizi token",
		})
	}

	return out
}
