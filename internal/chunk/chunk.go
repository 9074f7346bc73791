// Package chunk splits raw text into overlapping windows for embedding.
//
// Chunking is a pure function over rune offsets: the same input always
// produces the same sequence, which keeps ingestion reproducible.
package chunk

import (
	"errors"
	"fmt"
)

// Default window parameters, tuned for embedding models with a few
// thousand tokens of context.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// ErrInvalidChunking indicates an invalid size/overlap combination.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Split slices text into windows of size runes, each window starting
// size-overlap runes after the previous one. The final chunk may be
// shorter than size. Requires 0 <= overlap < size and size > 0.
//
// Offsets are rune-based so multi-byte input never splits a character.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunking, overlap, size)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}, nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
