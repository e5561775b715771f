package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

// LineChunker splits a document into memory-sized passages. Lines are packed
// up to maxTokens, and once a passage is half full it ends at the next blank
// line so paragraphs stay whole.
type LineChunker struct {
	maxTokens int
	overlap   int
	tokenizer port.Tokenizer
}

func NewLineChunker(maxTokens, overlap int, tokenizer port.Tokenizer) *LineChunker {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	return &LineChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
		tokenizer: tokenizer,
	}
}

func (c *LineChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	var chunks []domain.Chunk
	start := 0
	for start < len(lines) {
		// Leading blank lines never open a passage.
		for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
			start++
		}
		if start >= len(lines) {
			break
		}

		end, tokens := c.extend(lines, start)
		last := end
		for last > start+1 && strings.TrimSpace(lines[last-1]) == "" {
			last--
		}
		text := strings.TrimRight(strings.Join(lines[start:last], "\n"), " \t\n")

		chunks = append(chunks, domain.Chunk{
			ID:        chunkID(doc.ID, start, end),
			DocID:     doc.ID,
			StartLine: start + 1,
			EndLine:   last,
			Tokens:    c.tokenizer.Tokenize(text),
			Text:      text,
		})
		if end >= len(lines) {
			break
		}

		next := end - c.overlapLines(lines, start, end, tokens)
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// extend returns the exclusive end line of the passage opened at start and
// its token count. A single oversized line still forms a passage.
func (c *LineChunker) extend(lines []string, start int) (int, int) {
	end := start
	tokens := 0
	for end < len(lines) {
		line := lines[end]
		n := c.tokenizer.CountTokens(line)
		if tokens > 0 && tokens+n > c.maxTokens {
			break
		}
		tokens += n
		end++
		if strings.TrimSpace(line) == "" && tokens*2 >= c.maxTokens {
			break
		}
	}
	if end == start {
		end++
	}
	return end, tokens
}

func (c *LineChunker) overlapLines(lines []string, start, end, total int) int {
	if c.overlap == 0 || total <= c.overlap {
		return 0
	}
	n, tokens := 0, 0
	for i := end - 1; i > start && tokens < c.overlap; i-- {
		tokens += c.tokenizer.CountTokens(lines[i])
		n++
	}
	return n
}

func chunkID(docID string, start, end int) string {
	data := fmt.Sprintf("%s:%d-%d", docID, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
