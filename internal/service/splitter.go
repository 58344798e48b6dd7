package service

import (
	"fmt"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter splits text into chunks of at most ChunkSize characters,
// trying paragraph, line and word boundaries in that order. Consecutive
// chunks share up to ChunkOverlap characters.
type TextSplitter struct {
	ChunkSize    int
	ChunkOverlap int

	splitter textsplitter.RecursiveCharacter
}

// NewTextSplitter creates a splitter with the default separators.
func NewTextSplitter(size, overlap int) *TextSplitter {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &TextSplitter{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// Split returns the chunks of text. Blank input yields no chunks.
func (s *TextSplitter) Split(text string) ([]string, error) {
	chunks, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return chunks, nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
