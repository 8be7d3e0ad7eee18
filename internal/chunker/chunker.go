// Package chunker splits extracted text into fixed-size overlapping windows.
//
// The windows are measured in runes so multi-byte text never gets cut inside
// a code point. Splitting is deterministic, and the original text can be
// reconstructed exactly by concatenating the first chunk with every later
// chunk minus its leading overlap.
package chunker

import "fmt"

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split windows text into chunks of at most Size runes where consecutive
// chunks share exactly Overlap runes. The final chunk may be shorter.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}
	stride := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+stride-1)/stride)
	for start := 0; ; start += stride {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Join reverses Split: it drops the leading overlap of every chunk after the
// first and concatenates the rest. Split followed by Join is the identity.
func (c *Chunker) Join(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0])
	for _, chunk := range chunks[1:] {
		runes := []rune(chunk)
		if len(runes) <= c.overlap {
			continue
		}
		out = append(out, runes[c.overlap:]...)
	}
	return string(out)
}
