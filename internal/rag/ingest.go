package rag

import (
	"context"
	"fmt"
	"log/slog"
)

// Document is one knowledge-base page ready for indexing.
type Document struct {
	ID    string
	Title string
	Text  string
}

// Source lists the documents of the knowledge base.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

// Indexer writes documents to the search index.
type Indexer interface {
	Upsert(ctx context.Context, docs []Document) (int, error)
}

// Ingest copies every document of src into idx and returns how many records
// were written.
func Ingest(ctx context.Context, src Source, idx Indexer, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	docs, err := src.Documents(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}
	for _, d := range docs {
		logger.Debug("document exported", "id", d.ID, "title", d.Title, "chars", len(d.Text))
	}
	n, err := idx.Upsert(ctx, docs)
	if err != nil {
		return n, err
	}
	logger.Info("knowledge base indexed", "documents", len(docs), "records", n)
	return n, nil
}
