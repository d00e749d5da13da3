// Package retrieval builds and queries a local document index used to
// ground assistant answers. PDFs are split into overlapping word-window
// chunks, embedded, and stored in an on-disk vector collection.
package retrieval

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// DefaultChunkWords is the window size, in words, for document chunks.
	DefaultChunkWords = 500
	// DefaultOverlapWords is how many words consecutive chunks share.
	DefaultOverlapWords = 50
)

// ExtractPDF reads all text content from a PDF file.
func ExtractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text from %s: %w", path, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return "", fmt.Errorf("read text from %s: %w", path, err)
	}

	return sb.String(), nil
}

// ChunkText splits text into overlapping word windows. A non-positive
// chunkWords or overlap falls back to the defaults; overlap is clamped
// below chunkWords so the window always advances.
func ChunkText(text string, chunkWords, overlap int) []string {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	if overlap < 0 {
		overlap = DefaultOverlapWords
	}
	if overlap >= chunkWords {
		overlap = chunkWords - 1
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := chunkWords - overlap
	if step < 1 {
		step = 1
	}

	// A window starts at every step, so a trailing window shorter than
	// chunkWords is still emitted rather than folded into its neighbor.
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}

	return chunks
}
