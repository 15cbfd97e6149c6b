package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
)

// Pinecone caps integrated-embedding upserts at 96 records per request.
const upsertBatchSize = 96

// Record field names of the integrated index. The index embeds textField.
const (
	textField  = "text"
	titleField = "title"
)

// RecordIndex is the subset of *pinecone.IndexConnection used here.
type RecordIndex interface {
	SearchRecords(ctx context.Context, in *pinecone.SearchRecordsRequest) (*pinecone.SearchRecordsResponse, error)
	UpsertRecords(ctx context.Context, records []*pinecone.IntegratedRecord) error
}

// PineconeIndex searches and fills an integrated-embedding Pinecone index.
// Hits are reranked server side when a rerank model is set.
type PineconeIndex struct {
	index       RecordIndex
	rerankModel string
}

// NewPineconeIndex wraps an index connection.
func NewPineconeIndex(index RecordIndex, rerankModel string) *PineconeIndex {
	return &PineconeIndex{index: index, rerankModel: rerankModel}
}

// DialPinecone connects to the index data plane at host, scoped to namespace.
func DialPinecone(apiKey, host, namespace string) (*pinecone.IndexConnection, error) {
	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone client: %w", err)
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	conn, err := pc.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("pinecone index %s: %w", host, err)
	}
	return conn, nil
}

// Search runs one search-and-rerank request.
func (p *PineconeIndex) Search(ctx context.Context, query string, topK, topN int) ([]Result, error) {
	req := &pinecone.SearchRecordsRequest{
		Query: pinecone.SearchRecordsQuery{
			TopK:   int32(topK),
			Inputs: &map[string]interface{}{textField: query},
		},
		Fields: &[]string{textField},
	}
	if p.rerankModel != "" {
		n := int32(topN)
		req.Rerank = &pinecone.SearchRecordsRerank{
			Model:      p.rerankModel,
			TopN:       &n,
			RankFields: []string{textField},
			Parameters: &map[string]interface{}{"truncate": "END"},
		}
	}

	resp, err := p.index.SearchRecords(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("pinecone search: %w", err)
	}
	results := make([]Result, 0, len(resp.Result.Hits))
	for _, h := range resp.Result.Hits {
		text, _ := h.Fields[textField].(string)
		results = append(results, Result{ID: h.Id, Text: text, Score: float64(h.Score)})
	}
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// Upsert writes docs as integrated records, replacing records with the same
// id. Documents without text are skipped.
func (p *PineconeIndex) Upsert(ctx context.Context, docs []Document) (int, error) {
	records := make([]*pinecone.IntegratedRecord, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		records = append(records, &pinecone.IntegratedRecord{
			"_id":      d.ID,
			titleField: d.Title,
			textField:  d.Text,
		})
	}
	for start := 0; start < len(records); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(records))
		if err := p.index.UpsertRecords(ctx, records[start:end]); err != nil {
			return start, fmt.Errorf("pinecone upsert: %w", err)
		}
	}
	return len(records), nil
}
