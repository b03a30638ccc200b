package signals

import (
	"regexp"
)

// Pre-compiled jailbreak and instruction-override patterns. They run on the
// lower-cased, Arabic-folded view of the text.
var jailbreakPatterns = []struct {
	re         *regexp.Regexp
	confidence float32
	detail     string
}{
	// DAN (Do Anything Now) variants
	{regexp.MustCompile(`\bdan\b.*\bdo\s+anything\s+now\b`), 0.95, "DAN jailbreak: Do Anything Now"},
	{regexp.MustCompile(`you\s+are\s+dan\b`), 0.90, "DAN jailbreak: you are DAN"},
	{regexp.MustCompile(`dan\s+mode\s+(enabled|activated|on)`), 0.95, "DAN jailbreak: DAN mode enabled"},

	// Developer / debug mode jailbreaks
	{regexp.MustCompile(`enter\s+(developer|debug|maintenance|god|sudo)\s+mode`), 0.90, "mode jailbreak: developer/debug mode"},
	{regexp.MustCompile(`unlock\s+(all\s+)?(restrictions|capabilities|limitations)`), 0.85, "jailbreak: unlock restrictions"},

	// Roleplay-based jailbreaks
	{regexp.MustCompile(`roleplay\s+as\s+(an?\s+)?(evil|unfiltered|unrestricted|uncensored)`), 0.90, "roleplay jailbreak: evil/unfiltered character"},
	{regexp.MustCompile(`you\s+have\s+no\s+(restrictions|rules|limitations|guidelines|filters)`), 0.90, "jailbreak: no restrictions claim"},
	{regexp.MustCompile(`without\s+(any\s+)?(ethical|moral|safety)\s+(guidelines|restrictions|constraints|considerations)`), 0.85, "jailbreak: without ethical guidelines"},

	// Instruction override
	{regexp.MustCompile(`ignore\s+(all\s+)?(previous|above|prior)\s+instructions`), 0.95, "override: ignore previous instructions"},
	{regexp.MustCompile(`disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), 0.95, "override: disregard instructions"},
	{regexp.MustCompile(`bypass\s+(the\s+)?(safety|security|content)\s+(filter|check|policy|rules)`), 0.95, "explicit bypass attempt"},
	{regexp.MustCompile(`reveal\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), 0.90, "system prompt extraction"},

	// Token manipulation / encoding tricks
	{regexp.MustCompile(`respond\s+(only\s+)?in\s+(base64|hex|rot13|binary|morse)`), 0.80, "encoding trick: respond in encoded format"},

	// Hypothetical / fictional framing
	{regexp.MustCompile(`in\s+a\s+(hypothetical|fictional)\s+(world|scenario|universe)\s+where\s+(there\s+are\s+)?no\s+(rules|restrictions|laws)`), 0.80, "fictional framing: hypothetical world without rules"},
	{regexp.MustCompile(`for\s+(educational|research|academic)\s+purposes\s+only.*\b(how\s+to|explain|describe)\b`), 0.65, "educational framing: may be legitimate or jailbreak"},

	// Arabic
	{regexp.MustCompile(`تجاهل\s+(كل|جميع)\s+(التعليمات|الاوامر|القواعد)`), 0.95, "override (ar): ignore all instructions"},
	{regexp.MustCompile(`(بدون|دون|بلا)\s+(اي\s+)?(قيود|ضوابط|رقابه)`), 0.85, "jailbreak (ar): without restrictions"},
	{regexp.MustCompile(`(وضع|نمط)\s+(المطور|المطورين|الاله)`), 0.90, "mode jailbreak (ar): developer mode"},
	{regexp.MustCompile(`انت\s+الان\s+(بلا|بدون)\s+(قواعد|قيود)`), 0.90, "jailbreak (ar): no rules claim"},

	// Explicit jailbreak keywords
	{regexp.MustCompile(`\bjailbreak\b`), 0.75, "explicit jailbreak keyword"},
	{regexp.MustCompile(`\buncensored\s+mode\b`), 0.90, "jailbreak: uncensored mode"},
}

// JailbreakExtractor scans text for known jailbreak templates and techniques.
type JailbreakExtractor struct{}

func NewJailbreakExtractor() *JailbreakExtractor {
	return &JailbreakExtractor{}
}

func (e *JailbreakExtractor) Name() string {
	return "jailbreak"
}

func (e *JailbreakExtractor) Extract(text string) []Finding {
	view := fold(text, lexiconFold)

	var out []Finding
	for _, p := range jailbreakPatterns {
		loc := p.re.FindStringIndex(view.text)
		if loc == nil {
			continue
		}
		start, end := view.span(loc[0], loc[1])
		out = append(out, Finding{
			Category:   CategoryJailbreak,
			Start:      start,
			End:        end,
			Confidence: p.confidence,
			Detail:     p.detail,
		})
	}
	return out
}
