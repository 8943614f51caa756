package chunk

import "unicode"

// splitSentences splits text at sentence-ending punctuation ('.', '?', '!')
// followed by a single whitespace rune. Two guards keep common non-terminal
// periods intact: inner-dotted tokens ("e.g.", "U.S.", "v1.2.") and
// capitalized two-letter abbreviations ("Mr.", "Dr.", "St.").
//
// The whitespace delimiter is consumed; segments keep their punctuation.
// Text without any boundary comes back as a single segment.
func splitSentences(text string) []string {
	runes := []rune(text)

	var sentences []string
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if !isSentenceEnd(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if guardedBoundary(runes, i) {
			continue
		}
		sentences = append(sentences, string(runes[start:i+1]))
		start = i + 2
		i++ // skip the consumed whitespace
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

// guardedBoundary reports whether the boundary candidate at runes[i] sits
// inside an abbreviation-like token and must not end a sentence.
func guardedBoundary(runes []rune, i int) bool {
	// Inner-dot tokens: a word rune, a period, and a word rune immediately
	// before the candidate, as in "e.g." or "v1.2.".
	if i >= 3 && isWordRune(runes[i-3]) && runes[i-2] == '.' && isWordRune(runes[i-1]) {
		return true
	}
	// Capitalized abbreviations: uppercase then lowercase immediately before
	// a period, as in "Mr." or "Dr.".
	if runes[i] == '.' && i >= 2 && unicode.IsUpper(runes[i-2]) && unicode.IsLower(runes[i-1]) {
		return true
	}
	return false
}

// isWordRune mirrors the \w character class: letters, digits, underscore.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
