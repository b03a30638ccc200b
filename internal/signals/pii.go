package signals

import (
	"regexp"
)

// Pre-compiled PII patterns: high precision, targeted per PII type. They run
// on a digit-folded view so Arabic-Indic numerals cannot smuggle a number past.
var piiPatterns = []struct {
	re         *regexp.Regexp
	confidence float32
	detail     string
}{
	// SSN: 123-45-6789 or 123 45 6789
	{regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), 0.90, "PII: Social Security Number"},

	// Credit card numbers (Visa, MC, Amex, Discover, optional spaces/dashes)
	{regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Visa)"},
	{regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Mastercard)"},
	{regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), 0.90, "PII: credit card (Amex)"},
	{regexp.MustCompile(`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), 0.90, "PII: credit card (Discover)"},

	// Email addresses
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), 0.85, "PII: email address"},

	// Phone numbers (US formats): (123) 456-7890, 123-456-7890, +1-123-456-7890.
	// A bare run of ten digits is arithmetic, not a phone number.
	{regexp.MustCompile(`(?:\+1[-\s.]?\d{3}[-\s.]?\d{3}[-\s.]?\d{4}|\(\d{3}\)\s?\d{3}[-\s.]?\d{4}|\b\d{3}[-\s.]\d{3}[-\s.]\d{4})\b`), 0.75, "PII: phone number (US)"},

	// International phone with country code
	{regexp.MustCompile(`\+\d{1,3}[-\s]?\d{1,4}[-\s]?\d{3,4}[-\s]?\d{3,4}\b`), 0.70, "PII: phone number (international)"},

	// North African / Gulf mobile without country code: 0[5-7]xx xx xx xx
	{regexp.MustCompile(`\b0[5-7]\d{2}[-\s.]?\d{2}[-\s.]?\d{2}[-\s.]?\d{2}\b`), 0.70, "PII: phone number (mobile)"},

	// IBAN (International Bank Account Number)
	{regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), 0.90, "PII: IBAN"},
}

// PIIExtractor scans text for personally identifiable information.
type PIIExtractor struct{}

func NewPIIExtractor() *PIIExtractor {
	return &PIIExtractor{}
}

func (e *PIIExtractor) Name() string {
	return "pii"
}

func (e *PIIExtractor) Extract(text string) []Finding {
	view := fold(text, foldOptions{})

	var out []Finding
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(view.text, -1) {
			start, end := view.span(loc[0], loc[1])
			out = append(out, Finding{
				Category:   CategoryPII,
				Start:      start,
				End:        end,
				Confidence: p.confidence,
				Detail:     p.detail,
			})
		}
	}
	return out
}
