package signals

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Term is one lexicon entry. Weight doubles as the finding confidence.
type Term struct {
	Text   string
	Lang   string // "en", "ar", "arabizi", "fr"
	Weight float32
	Detail string
}

// Lexicon is a multilingual toxicity lexicon. Terms are stored in folded form
// (lower-case, Arabic marks stripped, letter variants unified) so a single
// comparison covers spelling variants.
type Lexicon struct {
	terms    []Term
	patterns []lexiconPattern
}

type lexiconPattern struct {
	re         *regexp.Regexp
	confidence float32
	detail     string
}

var lexiconFold = foldOptions{lower: true, arabic: true}

// NewLexicon builds a lexicon, folding each term once at construction.
func NewLexicon(terms []Term) *Lexicon {
	l := &Lexicon{terms: make([]Term, 0, len(terms))}
	for _, t := range terms {
		t.Text = fold(t.Text, lexiconFold).text
		if t.Text == "" {
			continue
		}
		l.terms = append(l.terms, t)
	}
	return l
}

// Terms returns the folded terms.
func (l *Lexicon) Terms() []Term {
	return l.terms
}

// DefaultLexicon returns the built-in lexicon. Weights below the pre-check
// toxicity cutoff defer to the verification loop; self-harm incitement and
// explicit harm instructions are weighted above it.
func DefaultLexicon() *Lexicon {
	l := NewLexicon([]Term{
		// English insults
		{"idiot", "en", 0.45, "insult"},
		{"stupid", "en", 0.40, "insult"},
		{"moron", "en", 0.50, "insult"},
		{"loser", "en", 0.35, "insult"},
		{"worthless", "en", 0.50, "demeaning"},
		{"shut up", "en", 0.35, "hostile"},
		{"i hate you", "en", 0.55, "hostile"},
		{"kill yourself", "en", 0.95, "self-harm incitement"},
		{"go die", "en", 0.85, "self-harm incitement"},

		// Arabic (MSA and dialect)
		{"غبي", "ar", 0.45, "insult"},
		{"حمار", "ar", 0.50, "insult"},
		{"يا كلب", "ar", 0.60, "insult"},
		{"تافه", "ar", 0.45, "demeaning"},
		{"اخرس", "ar", 0.40, "hostile"},
		{"اكرهك", "ar", 0.55, "hostile"},
		{"اقتل نفسك", "ar", 0.95, "self-harm incitement"},
		{"موت يا", "ar", 0.80, "death wish"},

		// Arabizi
		{"ghabi", "arabizi", 0.45, "insult"},
		{"7mar", "arabizi", 0.50, "insult"},
		{"ya kalb", "arabizi", 0.60, "insult"},
		{"tafeh", "arabizi", 0.45, "demeaning"},
		{"o5ros", "arabizi", 0.40, "hostile"},
		{"2otol nafsak", "arabizi", 0.95, "self-harm incitement"},

		// French (Maghreb code-switching)
		{"connard", "fr", 0.55, "insult"},
		{"imbécile", "fr", 0.45, "insult"},
		{"ta gueule", "fr", 0.40, "hostile"},
		{"tue-toi", "fr", 0.95, "self-harm incitement"},
	})

	// Pre-compiled harm patterns, applied to the folded text.
	l.patterns = []lexiconPattern{
		// Violence - explicit
		{regexp.MustCompile(`\b(how\s+to\s+)?(make|build|create|construct)\s+(a\s+)?(bomb|explosive|weapon|gun|firearm)\b`), 0.90, "violence: weapon/explosive creation instructions"},
		{regexp.MustCompile(`\b(how\s+to\s+)?(kill|murder|assassinate|poison)\s+(a\s+)?(person|someone|people|human)\b`), 0.95, "violence: instructions to harm people"},
		{regexp.MustCompile(`(كيف|طريقة)\s+(اصنع|صنع|تصنيع)\s+(قنبله|متفجرات|سلاح)`), 0.90, "violence: weapon/explosive creation instructions"},

		// Self-harm
		{regexp.MustCompile(`\b(how\s+to\s+)(commit\s+suicide|kill\s+(myself|yourself)|end\s+(my|your)\s+life)\b`), 0.95, "self-harm: suicide instructions"},
		{regexp.MustCompile(`\b(methods|ways)\s+(of|to|for)\s+(committing\s+)?suicide\b`), 0.90, "self-harm: suicide methods"},
		{regexp.MustCompile(`(كيف|طريقة)\s+(انتحر|الانتحار)`), 0.95, "self-harm: suicide instructions"},

		// CSAM
		{regexp.MustCompile(`\b(child|minor|underage|kid)\s+(sexual|porn|nude|naked|explicit)\b`), 0.99, "CSAM: child sexual content"},
		{regexp.MustCompile(`\b(sexual|porn|nude|naked|explicit)\s+(child|minor|underage|kid)\b`), 0.99, "CSAM: child sexual content"},

		// Illegal activities
		{regexp.MustCompile(`\b(synthesize|manufacture|produce|cook)\s+(methamphetamine|fentanyl|heroin|cocaine|meth)\b`), 0.95, "illegal: drug manufacturing instructions"},
	}
	return l
}

// findTerm returns the byte ranges in folded text where term occurs on word
// boundaries.
func findTerm(haystack, term string) [][2]int {
	var out [][2]int
	from := 0
	for from <= len(haystack)-len(term) {
		idx := strings.Index(haystack[from:], term)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(term)
		if atWordBoundary(haystack, start, end) {
			out = append(out, [2]int{start, end})
		}
		_, size := utf8.DecodeRuneInString(haystack[start:])
		from = start + size
	}
	return out
}

// LexiconExtractor reports toxicity lexicon hits and harm patterns.
type LexiconExtractor struct {
	lexicon *Lexicon
}

func NewLexiconExtractor(lexicon *Lexicon) *LexiconExtractor {
	return &LexiconExtractor{lexicon: lexicon}
}

func (e *LexiconExtractor) Name() string {
	return "lexicon"
}

func (e *LexiconExtractor) Extract(text string) []Finding {
	view := fold(text, lexiconFold)

	var out []Finding
	for _, t := range e.lexicon.terms {
		for _, loc := range findTerm(view.text, t.Text) {
			start, end := view.span(loc[0], loc[1])
			out = append(out, Finding{
				Category:   CategoryToxicity,
				Start:      start,
				End:        end,
				Confidence: t.Weight,
				Detail:     "lexicon(" + t.Lang + "): " + t.Detail,
			})
		}
	}
	for _, p := range e.lexicon.patterns {
		for _, loc := range p.re.FindAllStringIndex(view.text, -1) {
			start, end := view.span(loc[0], loc[1])
			out = append(out, Finding{
				Category:   CategoryToxicity,
				Start:      start,
				End:        end,
				Confidence: p.confidence,
				Detail:     p.detail,
			})
		}
	}
	return out
}
