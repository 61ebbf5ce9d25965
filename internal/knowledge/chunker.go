package knowledge

import (
	"strings"
	"unicode/utf8"
)

// Defaults applied when the configuration leaves chunking unset.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping chunks sized for the embedding
// model's input window. Cut points prefer paragraph breaks, then line
// breaks, then word breaks, falling back to a hard cut for unbroken runs.
type Chunker struct {
	size    int // maximum chunk length in runes
	overlap int // runes shared between consecutive chunks
}

// NewChunker creates a Chunker. Non-positive sizes fall back to
// DefaultChunkSize; overlaps outside [0, size) fall back to
// DefaultChunkOverlap, capped at a fifth of the size so the window stride
// stays positive.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/5)
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split divides content into chunks of at most size runes each. Whitespace
// is trimmed from chunk edges; whitespace-only content yields nothing.
func (c *Chunker) Split(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	runes := []rune(content)

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+c.size, len(runes))
		if end < len(runes) {
			if cut := breakPoint(runes[start:end], c.size-c.overlap); cut > 0 {
				end = start + cut
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			// Overlap at least half the size can stall the window; give
			// up the overlap for this step rather than loop forever.
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint picks the best cut inside window, preferring the last
// paragraph break, then the last line break, then the last word break.
// Cuts at or before minCut are rejected so a break near the window start
// cannot produce a sliver chunk; 0 means cut hard at the window end.
func breakPoint(window []rune, minCut int) int {
	text := string(window)

	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(text, sep); i >= 0 {
			cut := utf8.RuneCountInString(text[:i+len(sep)])
			if cut > minCut {
				return cut
			}
		}
	}
	return 0
}
