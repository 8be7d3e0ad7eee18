// Package vectorindex wraps chromem-go as the per-folder nearest-neighbor
// structure. Each build gets its own in-memory collection; there is no
// mutation path, a changed folder means a full rebuild. Similarity is cosine
// (chromem normalizes stored and query vectors), matching what the Gemini and
// OpenAI embedding models are trained for.
package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/padhai/ragserver/internal/model"
)

type Index struct {
	collection *chromem.Collection
	count      int

	Owner      string
	Folder     string
	EmbedModel string
	// Fingerprint identifies the document set the index was built from so
	// staleness can be detected without rebuilding.
	Fingerprint string
	// Documents and Skipped record which files the build consumed, so any
	// caller holding the index can report the build outcome.
	Documents int
	Skipped   []string
	BuiltAt   time.Time
}

type Options struct {
	Owner       string
	Folder      string
	EmbedModel  string
	Fingerprint string
	Documents   int
	Skipped     []string
}

// Build constructs an index from chunks and their precomputed vectors.
// vectors[i] must embed chunks[i]; all vectors must come from the same
// embedding model.
func Build(ctx context.Context, opts Options, chunks []model.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	db := chromem.NewDB()
	collection, err := db.CreateCollection("folder", nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      strconv.Itoa(i),
			Content: chunk.Text,
			Metadata: map[string]string{
				"document": chunk.Document,
				"position": strconv.Itoa(chunk.Position),
			},
			Embedding: vectors[i],
		})
	}
	// Embeddings are precomputed, so no concurrency is needed here.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("add documents: %w", err)
	}
	return &Index{
		collection:  collection,
		count:       len(chunks),
		Owner:       opts.Owner,
		Folder:      opts.Folder,
		EmbedModel:  opts.EmbedModel,
		Fingerprint: opts.Fingerprint,
		Documents:   opts.Documents,
		Skipped:     opts.Skipped,
		BuiltAt:     time.Now(),
	}, nil
}

// Query returns at most k chunks ordered by descending cosine similarity to
// the query vector. k is capped at the index size (chromem rejects asking for
// more results than stored documents).
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > ix.count {
		k = ix.count
	}
	results, err := ix.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	scored := make([]model.ScoredChunk, 0, len(results))
	for _, res := range results {
		position, _ := strconv.Atoi(res.Metadata["position"])
		scored = append(scored, model.ScoredChunk{
			Chunk: model.Chunk{
				Document: res.Metadata["document"],
				Position: position,
				Text:     res.Content,
			},
			Score: res.Similarity,
		})
	}
	return scored, nil
}

func (ix *Index) Len() int {
	return ix.count
}

// rejectEmbedding is installed as the collection's embedding func. Every
// vector is supplied explicitly at build and query time; chromem falling back
// to its built-in OpenAI embedder would silently mix models.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("implicit embedding disabled: vectors must be precomputed")
}
