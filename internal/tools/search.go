package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/rag"
)

// SearchDocs retrieves knowledge-base snippets.
type SearchDocs struct {
	retriever rag.Retriever
	rewriter  *rag.Rewriter
	topK      int
	topN      int
	logger    *slog.Logger
}

// NewSearchDocs creates the tool. A nil rewriter searches with the raw query.
func NewSearchDocs(retriever rag.Retriever, rewriter *rag.Rewriter, topK, topN int, logger *slog.Logger) *SearchDocs {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchDocs{retriever: retriever, rewriter: rewriter, topK: topK, topN: topN, logger: logger}
}

func (t *SearchDocs) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "search_docs",
		Description: "Retrieve relevant documents/snippets from the KB",
		InputSchema: schema([]string{"query"}, map[string]interface{}{
			"query": prop("string", "Query to Search"),
		}),
	}
}

func (t *SearchDocs) Invoke(ctx context.Context, inv Invocation) (string, error) {
	query := stringArg(inv.Input, "query")
	if query == "" {
		return "", errors.New("query is required")
	}
	q := t.rewriter.Rewrite(ctx, inv.Memory, query)
	t.logger.Info("rag search query", "session_id", inv.SessionID, "query", q)

	results, err := t.retriever.Search(ctx, q, t.topK, t.topN)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	t.logger.Info("rag hits", "session_id", inv.SessionID, "count", len(results))
	return rag.Format(results), nil
}
