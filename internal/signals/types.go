package signals

import (
	"sort"
	"strings"
)

// Category classifies a single finding.
type Category int

const (
	CategoryUnspecified           Category = iota
	CategoryDecodeError                    // DECODE_ERROR
	CategoryInvisibleChar                  // INVISIBLE_CHAR
	CategoryScriptSwitch                   // SCRIPT_SWITCH
	CategoryArabizi                        // ARABIZI
	CategoryPII                            // PII
	CategoryToxicity                       // TOXICITY
	CategoryJailbreak                      // JAILBREAK
	CategoryCodeSwitchObfuscation          // CODE_SWITCH_OBFUSCATION
)

// String returns the upper-case category tag used in audit output.
func (c Category) String() string {
	switch c {
	case CategoryDecodeError:
		return "DECODE_ERROR"
	case CategoryInvisibleChar:
		return "INVISIBLE_CHAR"
	case CategoryScriptSwitch:
		return "SCRIPT_SWITCH"
	case CategoryArabizi:
		return "ARABIZI"
	case CategoryPII:
		return "PII"
	case CategoryToxicity:
		return "TOXICITY"
	case CategoryJailbreak:
		return "JAILBREAK"
	case CategoryCodeSwitchObfuscation:
		return "CODE_SWITCH_OBFUSCATION"
	default:
		return "UNSPECIFIED"
	}
}

// Severity is the ordinal risk classification LOW < MED < HIGH < CRITICAL.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMed
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMed:
		return "MED"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNSPECIFIED"
	}
}

// ParseSeverity parses LOW/MED/HIGH/CRITICAL (case-insensitive). MEDIUM is
// accepted as an alias for MED.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, true
	case "MED", "MEDIUM":
		return SeverityMed, true
	case "HIGH":
		return SeverityHigh, true
	case "CRITICAL":
		return SeverityCritical, true
	default:
		return 0, false
	}
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// Finding is one tagged signal. Start and End are byte offsets into the
// original text; they are kept for audit during the pipeline's lifetime only.
type Finding struct {
	Category   Category
	Start      int
	End        int
	Confidence float32 // 0.0 – 1.0
	Detail     string
}

// Set is the combined output of all extractors for one message.
type Set struct {
	Findings []Finding
	Scripts  []Script // scripts present, in order of first appearance
	Arabizi  bool
}

// Has reports whether any finding of the category is present.
func (s Set) Has(c Category) bool {
	for _, f := range s.Findings {
		if f.Category == c {
			return true
		}
	}
	return false
}

// ByCategory returns the findings of one category in extraction order.
func (s Set) ByCategory(c Category) []Finding {
	var out []Finding
	for _, f := range s.Findings {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

// MaxConfidence returns the strongest confidence among findings of a category.
func (s Set) MaxConfidence(c Category) float32 {
	var best float32
	for _, f := range s.Findings {
		if f.Category == c && f.Confidence > best {
			best = f.Confidence
		}
	}
	return best
}

// Categories returns the distinct categories present, sorted.
func (s Set) Categories() []Category {
	seen := make(map[Category]struct{}, len(s.Findings))
	var out []Category
	for _, f := range s.Findings {
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MixtureBucket returns a coarse, non-identifying label for the language/script
// mixture, e.g. "mono:latin", "mixed:arabic+latin", "arabizi", "none".
func (s Set) MixtureBucket() string {
	if s.Arabizi {
		if len(s.Scripts) > 1 {
			return "arabizi+mixed"
		}
		return "arabizi"
	}
	switch len(s.Scripts) {
	case 0:
		return "none"
	case 1:
		return "mono:" + s.Scripts[0].String()
	}
	names := make([]string, len(s.Scripts))
	for i, sc := range s.Scripts {
		names[i] = sc.String()
	}
	sort.Strings(names)
	return "mixed:" + strings.Join(names, "+")
}
