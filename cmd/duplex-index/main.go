// Command duplex-index builds the local document index that
// duplex-chat's lookup tool queries. It extracts text from PDFs, splits
// it into overlapping chunks, embeds each chunk, and persists the
// vectors on disk.
//
// Usage:
//
//	go run ./cmd/duplex-index --pdf ./docs
//	go run ./cmd/duplex-index --pdf ./docs --db ./duplex-index
//
// Environment variables:
//
//	OPENAI_API_KEY - required (embeddings)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openspoken/go-duplex/internal/config"
	"github.com/openspoken/go-duplex/internal/log"
	"github.com/openspoken/go-duplex/pkg/retrieval"
)

func main() {
	pdfDir := flag.String("pdf", "", "Directory of PDF files to index (required)")
	dbPath := flag.String("db", config.DefaultIndexPath, "Path to the on-disk index")
	collection := flag.String("collection", config.DefaultCollection, "Collection name")
	chunkWords := flag.Int("chunk-words", retrieval.DefaultChunkWords, "Words per chunk")
	overlap := flag.Int("overlap", retrieval.DefaultOverlapWords, "Overlapping words between chunks")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	godotenv.Load()

	if *debug {
		log.Init("debug")
	} else {
		log.Init("info")
	}
	logger := log.L()

	if *pdfDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --pdf directory is required")
		flag.Usage()
		os.Exit(1)
	}

	store, err := retrieval.NewStore(retrieval.StoreConfig{
		Path:         *dbPath,
		Collection:   *collection,
		APIKey:       config.OpenAIKey(),
		ChunkWords:   *chunkWords,
		OverlapWords: *overlap,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📚 Indexing PDFs from %s into %s...\n", *pdfDir, *dbPath)

	indexed, err := store.IndexDir(ctx, *pdfDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Indexed %d file(s), %d chunk(s) total.\n", indexed, store.Count())
}
