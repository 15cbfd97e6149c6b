package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
)

type fakeIndex struct {
	searches []*pinecone.SearchRecordsRequest
	hits     []pinecone.Hit
	batches  [][]*pinecone.IntegratedRecord
	err      error
}

func (f *fakeIndex) SearchRecords(_ context.Context, in *pinecone.SearchRecordsRequest) (*pinecone.SearchRecordsResponse, error) {
	f.searches = append(f.searches, in)
	if f.err != nil {
		return nil, f.err
	}
	resp := &pinecone.SearchRecordsResponse{}
	resp.Result.Hits = f.hits
	return resp, nil
}

func (f *fakeIndex) UpsertRecords(_ context.Context, records []*pinecone.IntegratedRecord) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func TestPineconeSearch(t *testing.T) {
	fake := &fakeIndex{hits: []pinecone.Hit{
		{Id: "a", Score: 0.9, Fields: map[string]interface{}{"text": "first"}},
		{Id: "b", Score: 0.7, Fields: map[string]interface{}{"text": "second"}},
		{Id: "c", Score: 0.1, Fields: map[string]interface{}{"text": "third"}},
	}}
	p := NewPineconeIndex(fake, "bge-reranker-v2-m3")

	results, err := p.Search(context.Background(), "go experience", 40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].Text != "second" {
		t.Errorf("results = %+v", results)
	}

	req := fake.searches[0]
	if req.Query.TopK != 40 || req.Query.Inputs == nil || (*req.Query.Inputs)["text"] != "go experience" {
		t.Errorf("query = %+v", req.Query)
	}
	if req.Rerank == nil || req.Rerank.Model != "bge-reranker-v2-m3" || req.Rerank.TopN == nil || *req.Rerank.TopN != 2 {
		t.Fatalf("rerank = %+v", req.Rerank)
	}
	if req.Rerank.Parameters == nil || (*req.Rerank.Parameters)["truncate"] != "END" {
		t.Errorf("rerank parameters = %v", req.Rerank.Parameters)
	}
}

func TestPineconeSearchWithoutRerank(t *testing.T) {
	fake := &fakeIndex{}
	p := NewPineconeIndex(fake, "")
	results, err := p.Search(context.Background(), "q", 5, 5)
	if err != nil || len(results) != 0 {
		t.Fatalf("Search = %v, %v", results, err)
	}
	if fake.searches[0].Rerank != nil {
		t.Error("rerank sent without a model")
	}
}

func TestPineconeSearchError(t *testing.T) {
	p := NewPineconeIndex(&fakeIndex{err: errors.New("401 unauthorized")}, "")
	if _, err := p.Search(context.Background(), "q", 5, 5); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v", err)
	}
}

func TestPineconeUpsertBatches(t *testing.T) {
	fake := &fakeIndex{}
	p := NewPineconeIndex(fake, "")

	docs := make([]Document, 0, 201)
	for i := 0; i < 200; i++ {
		docs = append(docs, Document{ID: fmt.Sprintf("page-%d", i), Title: "T", Text: "body"})
	}
	docs = append(docs, Document{ID: "blank", Title: "Empty", Text: "  "})

	n, err := p.Upsert(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 200 {
		t.Errorf("upserted %d records, want 200", n)
	}
	sizes := make([]int, len(fake.batches))
	for i, b := range fake.batches {
		sizes[i] = len(b)
	}
	if fmt.Sprint(sizes) != "[96 96 8]" {
		t.Errorf("batch sizes = %v", sizes)
	}
	first := *fake.batches[0][0]
	if first["_id"] != "page-0" || first["title"] != "T" || first["text"] != "body" {
		t.Errorf("record = %v", first)
	}
}
