// Package docstore stores user documents as embedded chunks and retrieves
// the most relevant passages for a question. Each user gets an isolated
// collection so document queries never cross account boundaries.
package docstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Passage is a retrieved document chunk with its relevance score.
type Passage struct {
	Content  string  `json:"content"`
	Section  string  `json:"section,omitempty"`
	Document string  `json:"document"`
	Score    float32 `json:"score"`
}

// Store holds per-user document collections backed by chromem-go.
type Store struct {
	db        *chromem.DB
	embedder  Embedder
	chunkSize int
	topK      int
}

// Options configure chunking and retrieval.
type Options struct {
	ChunkSize int // maximum characters per chunk
	TopK      int // passages returned per query
}

// New creates a document store persisted under path. An empty path keeps
// everything in memory, which tests use.
func New(path string, embedder Embedder, opts Options) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("docstore: embedder is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("docstore: open db: %w", err)
		}
	}

	return &Store{
		db:        db,
		embedder:  embedder,
		chunkSize: opts.ChunkSize,
		topK:      opts.TopK,
	}, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Generate(ctx, text)
	}
}

func collectionName(userID uuid.UUID) string {
	return "docs-" + userID.String()
}

func (s *Store) collection(userID uuid.UUID) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("docstore: collection for user %s: %w", userID, err)
	}
	return col, nil
}

// Ingest chunks a markdown or plain text document, embeds each chunk, and
// stores it in the user's collection. Returns the number of chunks stored.
func (s *Store) Ingest(ctx context.Context, userID uuid.UUID, name, content string) (int, error) {
	chunks := ChunkMarkdown(content, s.chunkSize)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("docstore: no usable content in %q", name)
	}

	col, err := s.collection(userID)
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		emb, err := s.embedder.Generate(ctx, c.Text)
		if err != nil {
			return 0, fmt.Errorf("docstore: embed chunk %d of %q: %w", i, name, err)
		}
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s#%d", name, i),
			Content:   c.Text,
			Embedding: emb,
			Metadata: map[string]string{
				"document": name,
				"section":  c.Section,
			},
		})
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("docstore: add documents: %w", err)
	}
	return len(docs), nil
}

// Query returns the most relevant passages for the question from the user's
// documents, best match first.
func (s *Store) Query(ctx context.Context, userID uuid.UUID, question string) ([]Passage, error) {
	col := s.db.GetCollection(collectionName(userID), s.embeddingFunc())
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	k := s.topK
	if n := col.Count(); k > n {
		k = n
	}

	results, err := col.Query(ctx, question, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: query: %w", err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, Passage{
			Content:  r.Content,
			Section:  r.Metadata["section"],
			Document: r.Metadata["document"],
			Score:    r.Similarity,
		})
	}
	return passages, nil
}

// HasDocuments reports whether the user has ingested any documents.
func (s *Store) HasDocuments(userID uuid.UUID) bool {
	col := s.db.GetCollection(collectionName(userID), s.embeddingFunc())
	return col != nil && col.Count() > 0
}
