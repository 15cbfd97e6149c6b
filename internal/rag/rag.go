// Package rag retrieves knowledge-base snippets for the search_docs tool.
package rag

import (
	"context"
	"fmt"
	"strings"
)

// Result is one retrieved snippet.
type Result struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Retriever searches the knowledge base. topK candidates are fetched and the
// best topN after reranking are returned.
type Retriever interface {
	Search(ctx context.Context, query string, topK, topN int) ([]Result, error)
}

// NoResults is the block returned when nothing matched.
const NoResults = "<doc rank='0' score='0.000'>NO_RESULTS</doc>"

// Format renders results as ranked doc blocks for the model.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("<doc rank='%d' score='%.3f'>\n%s\n</doc>", i+1, r.Score, r.Text)
	}
	return strings.Join(blocks, "\n")
}
