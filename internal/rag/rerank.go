package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koopa0/lore/internal/store"
)

// rerankDocLimit caps each candidate's text inside the rerank prompt so
// the instruction list stays within the generator's comfortable window.
const rerankDocLimit = 500

// rerankParents asks the generator to order candidates by relevance to
// the query. Any failure, from the call itself to an unusable reply,
// keeps the original retrieval order.
func (e *Engine) rerankParents(ctx context.Context, query string, parents []store.Chunk) []store.Chunk {
	reply, err := e.generator.Generate(ctx, rerankPrompt(query, parents))
	if err != nil {
		e.logger.Debug("rerank call failed, keeping retrieval order", "error", err)
		return parents
	}

	ranking := parseRanking(reply, len(parents))
	if ranking == nil {
		e.logger.Debug("rerank reply unusable, keeping retrieval order", "reply", reply)
		return parents
	}

	reordered := make([]store.Chunk, len(ranking))
	for i, idx := range ranking {
		reordered[i] = parents[idx]
	}
	return reordered
}

// rerankPrompt lists the candidates as numbered excerpts and asks for a
// comma-separated ordering.
func rerankPrompt(query string, parents []store.Chunk) string {
	var b strings.Builder
	b.WriteString("Rank the following documents by relevance to the question.\n")
	b.WriteString("Reply with only the document numbers, most relevant first, separated by commas (for example: 2,1,3).\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, p := range parents {
		fmt.Fprintf(&b, "Document %d:\n%s\n\n", i+1, truncateRunes(p.Content, rerankDocLimit))
	}
	b.WriteString("Ranking:")
	return b.String()
}

// parseRanking extracts a permutation of [0, n) from a model reply
// carrying 1-based, comma-separated indices. Out-of-range entries and
// repeats are skipped; indices the reply never mentions are appended in
// their original order. Returns nil when no index at all can be parsed.
func parseRanking(reply string, n int) []int {
	if n <= 0 {
		return nil
	}

	seen := make(map[int]bool, n)
	order := make([]int, 0, n)
	for _, field := range strings.Split(reply, ",") {
		field = strings.TrimSpace(field)
		field = strings.TrimSuffix(field, ".")
		field = strings.TrimSpace(field)
		v, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		idx := v - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil
	}

	for i := range n {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}

// truncateRunes shortens s to at most limit runes.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
