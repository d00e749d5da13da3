package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	openai "github.com/sashabaranov/go-openai"
)

// StoreConfig configures a document store.
type StoreConfig struct {
	// Path is the on-disk location of the vector database.
	Path string

	// Collection is the collection name documents are indexed under.
	Collection string

	// APIKey authenticates embedding requests.
	APIKey string

	// EmbeddingModel names the embedding model. Defaults to
	// text-embedding-3-small.
	EmbeddingModel string

	// ChunkWords and OverlapWords control document chunking. A zero
	// ChunkWords uses the package default; a zero OverlapWords means
	// no overlap.
	ChunkWords   int
	OverlapWords int

	// TopK is how many chunks a Lookup returns. Defaults to 3.
	TopK int

	// Embedder overrides the embedding function, mainly for tests.
	Embedder chromem.EmbeddingFunc
}

// Store is an on-disk vector index over document chunks.
type Store struct {
	cfg    StoreConfig
	logger *slog.Logger
	db     *chromem.DB
	col    *chromem.Collection
}

// NewStore opens (or creates) the database at cfg.Path and its
// collection.
func NewStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	embedder := cfg.Embedder
	if embedder == nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required for embeddings")
		}
		embedder = newOpenAIEmbedder(cfg.APIKey, cfg.EmbeddingModel)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db at %s: %w", cfg.Path, err)
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embedder)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", cfg.Collection, err)
	}

	return &Store{
		cfg:    cfg,
		logger: logger,
		db:     db,
		col:    col,
	}, nil
}

// newOpenAIEmbedder embeds text through the embeddings API.
func newOpenAIEmbedder(apiKey, model string) chromem.EmbeddingFunc {
	client := openai.NewClient(apiKey)
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("embedding response contained no data")
		}
		return resp.Data[0].Embedding, nil
	}
}

// IndexText chunks and indexes a single document body under the given
// source name. Chunk IDs are deterministic so re-indexing the same
// source overwrites rather than duplicates.
func (s *Store) IndexText(ctx context.Context, source, text string) (int, error) {
	chunks := ChunkText(text, s.cfg.ChunkWords, s.cfg.OverlapWords)
	if len(chunks) == 0 {
		return 0, nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Content: chunk,
			Metadata: map[string]string{
				"source": source,
			},
		})
	}

	if err := s.col.AddDocuments(ctx, docs, 4); err != nil {
		return 0, fmt.Errorf("index %s: %w", source, err)
	}

	s.logger.Info("indexed document", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// IndexFile extracts and indexes a single PDF file.
func (s *Store) IndexFile(ctx context.Context, path string) (int, error) {
	text, err := ExtractPDF(path)
	if err != nil {
		return 0, err
	}
	return s.IndexText(ctx, filepath.Base(path), text)
}

// IndexDir indexes every PDF in a directory. Returns the number of
// files indexed.
func (s *Store) IndexDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}

	indexed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := s.IndexFile(ctx, path); err != nil {
			s.logger.Warn("skipping file", "path", path, "error", err)
			continue
		}
		indexed++
	}

	if indexed == 0 {
		s.logger.Warn("no PDF files indexed", "dir", dir)
	}

	return indexed, nil
}

// Lookup returns the most relevant chunks for a query, joined into a
// single context block. An empty index yields an empty string.
func (s *Store) Lookup(ctx context.Context, query string) (string, error) {
	count := s.col.Count()
	if count == 0 {
		return "", nil
	}

	k := s.cfg.TopK
	if k > count {
		k = count
	}

	results, err := s.col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}

	return strings.Join(parts, "\n\n"), nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count() int {
	return s.col.Count()
}
