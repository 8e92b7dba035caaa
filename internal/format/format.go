// Package format turns raw assistant text into cleaned, segmented sections.
// The pipeline is a fixed sequence of pure stages: vocabulary substitution,
// tone normalization, blank-line segmentation, list/paragraph classification
// with bounded paragraph chunking, and spaced-letter collapsing.
package format

import (
	"regexp"
	"strings"
)

// DefaultChunkLen bounds a rendered sub-paragraph; it is presentation
// tuning, not an invariant, and is overridable per Formatter.
const DefaultChunkLen = 300

type SectionKind string

const (
	SectionList      SectionKind = "list"
	SectionParagraph SectionKind = "paragraph"
)

// Section is one renderable block of formatted output.
type Section struct {
	Header     string      `json:"header,omitempty"`
	Kind       SectionKind `json:"kind"`
	Items      []string    `json:"items,omitempty"`
	Paragraphs []string    `json:"paragraphs,omitempty"`
}

// vocabulary maps internal system wording to user-facing terms. Matching is
// case-insensitive and whole-word; singular and plural share a target.
var vocabulary = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bagents?\b`), "team"},
	{regexp.MustCompile(`(?i)\bcontexts?\b`), "details"},
	{regexp.MustCompile(`(?i)\bdatasets?\b`), "data"},
	{regexp.MustCompile(`(?i)\bsources?\b`), "references"},
}

// tonePrefixes are stock prefacing phrases stripped at the start of a
// sentence or paragraph, whatever the punctuation or case that follows.
var tonePrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\n|[.!?]\s+)Based on analysis[,:]?\s*`),
	regexp.MustCompile(`(?i)(^|\n|[.!?]\s+)This reflects[,:]?\s*`),
	regexp.MustCompile(`(?i)(^|\n|[.!?]\s+)The provided details[,:]?\s*`),
}

var (
	sectionSplit = regexp.MustCompile(`\n[ \t]*\n+`)
	listMarker   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+`)
	headerLine   = regexp.MustCompile(`^[A-Z][A-Za-z0-9][A-Za-z0-9 \-&/',()]*:?$`)
	sentenceEnd  = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
)

const (
	maxHeaderLen   = 60
	maxHeaderWords = 8
)

type Formatter struct {
	chunkLen int
}

func New(chunkLen int) *Formatter {
	if chunkLen <= 0 {
		chunkLen = DefaultChunkLen
	}
	return &Formatter{chunkLen: chunkLen}
}

// Format runs the full pipeline over assistant-authored text.
func (f *Formatter) Format(text string) []Section {
	text = substituteVocabulary(text)
	text = normalizeTone(text)
	return f.segment(text)
}

func substituteVocabulary(text string) string {
	for _, v := range vocabulary {
		text = v.pattern.ReplaceAllString(text, v.replacement)
	}
	return text
}

func normalizeTone(text string) string {
	for _, p := range tonePrefixes {
		text = p.ReplaceAllString(text, "$1")
	}
	return text
}

// segment splits normalized text on blank-line boundaries and shapes each
// section into a header plus a list or chunked paragraphs.
func (f *Formatter) segment(text string) []Section {
	sections := []Section{}
	for _, block := range sectionSplit.Split(strings.TrimSpace(text), -1) {
		lines := nonEmptyLines(block)
		if len(lines) == 0 {
			continue
		}

		var section Section
		if len(lines) > 1 && isHeader(lines[0]) {
			section.Header = strings.TrimSuffix(lines[0], ":")
			lines = lines[1:]
		}

		if isList(lines) {
			section.Kind = SectionList
			for _, line := range lines {
				item := listMarker.ReplaceAllString(line, "")
				section.Items = append(section.Items, CollapseSpacedLetters(item))
			}
		} else {
			section.Kind = SectionParagraph
			joined := CollapseSpacedLetters(strings.Join(lines, " "))
			section.Paragraphs = f.chunk(joined)
		}
		sections = append(sections, section)
	}
	return sections
}

func nonEmptyLines(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// isHeader matches a short capitalized line, optionally colon-terminated.
func isHeader(line string) bool {
	if len(line) > maxHeaderLen {
		return false
	}
	if len(strings.Fields(line)) > maxHeaderWords {
		return false
	}
	return headerLine.MatchString(line)
}

// isList classifies a section as a list when at least two lines carry a
// marker, or when a section of three or more lines carries at least one.
func isList(lines []string) bool {
	marked := 0
	for _, line := range lines {
		if listMarker.MatchString(line) {
			marked++
		}
	}
	if marked >= 2 {
		return true
	}
	return len(lines) >= 3 && marked >= 1
}

// chunk splits a paragraph into sub-paragraphs bounded by the chunk length,
// preferring sentence boundaries. A sentence that fits the bound is never
// split; only an oversized single sentence falls back to whitespace splits.
func (f *Formatter) chunk(text string) []string {
	if len(text) <= f.chunkLen {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, sentence := range splitSentences(text) {
		if len(sentence) > f.chunkLen {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, splitOnWhitespace(sentence, f.chunkLen)...)
			continue
		}
		if current == "" {
			current = sentence
		} else if len(current)+1+len(sentence) <= f.chunkLen {
			current += " " + sentence
		} else {
			chunks = append(chunks, current)
			current = sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func splitOnWhitespace(sentence string, max int) []string {
	var chunks []string
	current := ""
	for _, word := range strings.Fields(sentence) {
		if current == "" {
			current = word
		} else if len(current)+1+len(word) <= max {
			current += " " + word
		} else {
			chunks = append(chunks, current)
			current = word
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// Render flattens sections back into plain text. Re-running the pipeline on
// rendered marker-free output reproduces the same sections, which keeps the
// formatter idempotent over already-clean text.
func Render(sections []Section) string {
	var blocks []string
	for _, s := range sections {
		var lines []string
		if s.Header != "" {
			lines = append(lines, s.Header+":")
		}
		if s.Kind == SectionList {
			for _, item := range s.Items {
				lines = append(lines, "- "+item)
			}
		} else {
			lines = append(lines, s.Paragraphs...)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}
