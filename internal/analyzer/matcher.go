// Package analyzer finds search terms in text gathered alongside media, such
// as alt text and the title of the page an image was found on.
package analyzer

import (
	"strings"
	"unicode"
)

// TermMatch represents occurrences of a search term within a text.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

// FindTermMatches scans content for each term, case-insensitively, and returns
// one TermMatch per term found with the sentences containing it. Sentences
// are split on '.', '!' and '?'.
func FindTermMatches(content string, terms []string) []TermMatch {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	lowerContent := strings.ToLower(content)
	sentences := splitIntoSentences(content)

	results := make([]TermMatch, 0, len(terms))
	for _, term := range terms {
		lowerTerm := strings.ToLower(strings.TrimSpace(term))
		if lowerTerm == "" {
			continue
		}
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}
		var matched []string
		for _, s := range sentences {
			if strings.Contains(s.lower, lowerTerm) {
				matched = append(matched, s.original)
			}
		}
		results = append(results, TermMatch{Term: term, Count: count, Sentences: matched})
	}
	return results
}

// TextKeys are the metadata keys holding text found next to gathered media.
var TextKeys = []string{"alt", "title", "page_title", "description", "name"}

// MetadataText joins the non-empty text values of metadata into sentences.
func MetadataText(metadata map[string]any) string {
	var text []string
	for _, k := range TextKeys {
		if s, ok := metadata[k].(string); ok && strings.TrimSpace(s) != "" {
			text = append(text, strings.TrimRight(strings.TrimSpace(s), ".!?"))
		}
	}
	if len(text) == 0 {
		return ""
	}
	return strings.Join(text, ". ") + "."
}

// ContainsAny reports whether content mentions at least one term.
func ContainsAny(content string, terms []string) bool {
	lower := strings.ToLower(content)
	for _, term := range terms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

type sentence struct {
	original string
	lower    string
}

// splitIntoSentences keeps each delimiter at the end of its sentence.
func splitIntoSentences(text string) []sentence {
	sentences := make([]sentence, 0, max(len(text)/50, 1))
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, sentence{original: s, lower: strings.ToLower(s)})
		}
	}

	start := 0
	for i, r := range text {
		if i < start {
			continue
		}
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			add(text[start:end])
			start = end
		}
	}
	if start < len(text) {
		add(text[start:])
	}
	return sentences
}
