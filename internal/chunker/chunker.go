package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/tender-engine/backend/pkg/logger"
)

const (
	DefaultTargetSize = 5000
	DefaultOverlap    = 300

	// Boundary search is confined to the last 40% of the window: a cut is
	// only taken when it lands past this fraction of the target size.
	boundaryRatio = 0.6
)

// Chunk is one bounded segment of a larger text. Offsets are rune positions
// in the original, untrimmed text; Text carries the trimmed content.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Split cuts text into ordered, overlapping segments of at most targetSize
// runes. When a window does not reach the end of the text, it is shrunk back
// to the rightmost sentence terminator or newline found in its last 40%, so
// segments avoid breaking mid-sentence when a natural boundary is close.
//
// The union of [StartOffset, EndOffset) ranges covers every rune of the
// input, and each window starts strictly after the previous one, so the
// sequence always terminates. Empty or whitespace-only input yields no
// chunks.
func Split(text string, targetSize, overlap int) ([]Chunk, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("target size must be positive, got %d", targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", targetSize, overlap)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	length := len(runes)

	var chunks []Chunk
	start := 0

	for start < length {
		end := start + targetSize
		if end > length {
			end = length
		} else {
			if cut := boundaryCut(runes[start:end]); cut >= 0 {
				end = start + cut + 1
			}
		}

		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Text:        segment,
				StartOffset: start,
				EndOffset:   end,
			})
		}

		// Step back by the overlap, but never stall: the next window must
		// start past the current one or a shrunk window could loop forever.
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	logger.Debug("text chunked",
		zap.Int("length", length),
		zap.Int("chunks", len(chunks)),
	)

	return chunks, nil
}

// boundaryCut returns the index of the rightmost sentence terminator or
// newline within the window, or -1 when none falls in the last 40%.
func boundaryCut(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			if float64(i) > float64(len(window))*boundaryRatio {
				return i
			}
			return -1
		}
	}
	return -1
}

// Covers reports whether the chunk ranges jointly cover every rune offset of
// a text of the given length. It exists for verification; Split guarantees
// it holds.
func Covers(chunks []Chunk, length int) bool {
	if length == 0 {
		return true
	}
	covered := 0
	for _, c := range chunks {
		if c.StartOffset > covered {
			return false
		}
		if c.EndOffset > covered {
			covered = c.EndOffset
		}
	}
	return covered >= length
}

// IsBlank reports whether a text holds no printable content at all.
func IsBlank(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
