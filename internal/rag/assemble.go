package rag

import (
	"fmt"
	"strings"
)

// contextSeparator joins the assembled context units.
const contextSeparator = "\n\n---\n\n"

// assembleContext concatenates texts in order until adding the next one
// would exceed the word budget. Exact duplicates are skipped without
// consuming budget. When even the first unit exceeds the budget on its
// own it is truncated to the budget rather than dropped, so the answer
// never loses its single best source.
func assembleContext(texts []string, budgetWords int) string {
	var parts []string
	seen := make(map[string]bool, len(texts))
	used := 0
	for _, text := range texts {
		if text == "" || seen[text] {
			continue
		}
		words := len(strings.Fields(text))
		if used+words > budgetWords {
			if len(parts) == 0 {
				parts = append(parts, strings.Join(strings.Fields(text)[:budgetWords], " "))
			}
			break
		}
		seen[text] = true
		parts = append(parts, text)
		used += words
	}
	return strings.Join(parts, contextSeparator)
}

// buildPrompt renders the grounded generation prompt: instructions, the
// assembled context, optional trailing chat history, and the question.
func buildPrompt(contextText, query string, history []Message) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the question using only the provided context.\n")
	b.WriteString("If the context does not contain the answer, say so instead of guessing.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", query)
	return b.String()
}

// hydePrompt asks the generator for a short hypothetical passage that
// could answer the query. The passage is embedded alongside the query so
// retrieval matches document prose rather than question phrasing.
func hydePrompt(query string) string {
	return fmt.Sprintf(
		"Write a short passage of at most one paragraph that directly answers the following question, as if it were an excerpt from a reference document. Do not mention the question itself.\n\nQuestion: %s\n\nPassage:",
		query,
	)
}
