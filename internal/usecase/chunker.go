package usecase

import "strings"

// Chunk is one window of a document's text.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits text into fixed-size rune windows that overlap by a fixed
// amount, so content spanning a boundary appears whole in one window.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker; an overlap outside [0, size) is treated as 0.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Chunker{size: size, overlap: overlap}
}

// Split windows text. Windows advance by size-overlap and stop once one
// reaches the end of the text. Whitespace-only windows are dropped without
// consuming an index.
func (c Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	step := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: window})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
