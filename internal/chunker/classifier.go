package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// Classifier judges chunk text: whether it introduces a definition and
// which key terms it carries. The chunking algorithm only depends on
// this interface, so the regex heuristics below can be swapped for a
// learned classifier without touching the scan.
type Classifier interface {
	IsFoundational(text string) bool
	KeyTerms(text string) []string
}

const maxKeyTerms = 10

// Patterns that signal definitional language in lowercase text.
var definitionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\w+\s+is\s+(?:a|an|the)\s+`),
	regexp.MustCompile(`\bwhat\s+is\s+`),
	regexp.MustCompile(`\bdefined\s+as\b`),
	regexp.MustCompile(`\bmeans\s+that\b`),
	regexp.MustCompile(`\brefers\s+to\b`),
	regexp.MustCompile(`\bin\s+simple\s+terms\b`),
	regexp.MustCompile(`\bwe\s+call\s+this\b`),
	regexp.MustCompile(`\bthis\s+is\s+called\b`),
}

// "this is a ..." / "these are the ..." style definitions.
var demonstrativePattern = regexp.MustCompile(`\b(?:this|these)\s+(?:is|are)\s+(?:a|an|the)?\s*\w+`)

// Patterns whose first capture group is the term being defined.
var termPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([a-z]+)\s+is\s+(?:a|an|the)\s+`),
	regexp.MustCompile(`\bwe\s+call\s+this\s+([a-z]+)`),
	regexp.MustCompile(`\bthis\s+is\s+called\s+([a-z]+)`),
}

// PatternClassifier is the default regex-based Classifier.
type PatternClassifier struct{}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// IsFoundational reports whether the text contains definitional
// language. Pure text test, independent of position in the video.
func (p *PatternClassifier) IsFoundational(text string) bool {
	lower := strings.ToLower(text)
	for _, re := range definitionalPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return demonstrativePattern.MatchString(lower)
}

// KeyTerms extracts up to maxKeyTerms lowercase terms: subjects of
// definitional patterns plus capitalized words that do not open a
// sentence. Deduplicated preserving first-seen order.
func (p *PatternClassifier) KeyTerms(text string) []string {
	var terms []string

	lower := strings.ToLower(text)
	for _, re := range termPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			if t := m[1]; len(t) > 2 {
				terms = append(terms, t)
			}
		}
	}

	words := strings.Fields(text)
	for i, word := range words {
		sentenceStart := i == 0 || endsSentence(words[i-1])
		if sentenceStart {
			continue
		}
		runes := []rune(word)
		if !unicode.IsUpper(runes[0]) {
			continue
		}
		clean := stripNonLetters(word)
		if len(clean) > 2 {
			terms = append(terms, strings.ToLower(clean))
		}
	}

	seen := make(map[string]struct{}, len(terms))
	unique := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
		if len(unique) == maxKeyTerms {
			break
		}
	}
	return unique
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") ||
		strings.HasSuffix(word, "!") ||
		strings.HasSuffix(word, "?")
}

func stripNonLetters(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Filler words and phrases stripped before embedding. Multi-word
// entries must precede their single-word prefixes in the alternation.
var fillerPattern = regexp.MustCompile(`\b(?:um|uh|you know|i mean|kind of|sort of|like|basically|actually|literally|right|okay|so|well)\b`)

// CleanForEmbedding normalizes text for the embedding model: lowercase,
// filler words removed, whitespace collapsed. The verbatim chunk text
// is never modified.
func CleanForEmbedding(text string) string {
	t := strings.ToLower(text)
	t = fillerPattern.ReplaceAllString(t, "")
	return strings.Join(strings.Fields(t), " ")
}
