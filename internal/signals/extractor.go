package signals

// Extractor turns raw text into findings. Implementations must be pure: no I/O,
// no shared mutable state, and time linear in len(text).
type Extractor interface {
	// Name returns the extractor's unique identifier (e.g., "pii").
	Name() string

	// Extract scans text and returns its findings. It never fails; malformed
	// input is reported as a finding.
	Extract(text string) []Finding
}

// DefaultExtractors returns the standard extractor set in evaluation order.
func DefaultExtractors() []Extractor {
	lex := DefaultLexicon()
	return []Extractor{
		NewDecodeExtractor(),
		NewScriptExtractor(),
		NewPIIExtractor(),
		NewJailbreakExtractor(),
		NewLexiconExtractor(lex),
		NewCodeSwitchExtractor(lex),
	}
}

// Extract runs every extractor against text and combines the results with the
// derived script mixture.
func Extract(text string, extractors ...Extractor) Set {
	set := Set{
		Scripts: DetectScripts(text),
		Arabizi: HasArabizi(text),
	}
	for _, e := range extractors {
		set.Findings = append(set.Findings, e.Extract(text)...)
	}
	return set
}
