package requirements

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/chunker"
	"github.com/tender-engine/backend/pkg/logger"
)

// ChunkExtractor asks a model for the categorized requirements of one text
// chunk. The production implementation lives in the llm package.
type ChunkExtractor interface {
	ExtractRequirements(ctx context.Context, categories []string, chunk string) (map[string][]string, error)
}

// Parser turns the combined text of the requirement documents into a
// deduplicated, categorized Set. A chunk whose extraction fails is skipped
// and the rest of the document still contributes; partial requirement
// coverage beats an aborted run.
type Parser struct {
	extractor  ChunkExtractor
	targetSize int
	overlap    int
}

func NewParser(extractor ChunkExtractor, targetSize, overlap int) *Parser {
	if targetSize <= 0 {
		targetSize = chunker.DefaultTargetSize
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = chunker.DefaultOverlap
	}
	return &Parser{
		extractor:  extractor,
		targetSize: targetSize,
		overlap:    overlap,
	}
}

// Parse extracts requirements from the full requirement-document text.
// FailedChunks in the result reports how many chunks were dropped, so the
// caller can surface partial-evidence caveats.
type ParseResult struct {
	Set          *Set
	Chunks       int
	FailedChunks int
}

func (p *Parser) Parse(ctx context.Context, fullText string) (*ParseResult, error) {
	chunks, err := chunker.Split(fullText, p.targetSize, p.overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk requirement text: %w", err)
	}

	result := &ParseResult{
		Set:    NewSet(),
		Chunks: len(chunks),
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		extracted, err := p.extractor.ExtractRequirements(ctx, Categories, chunk.Text)
		if err != nil {
			logger.Warn("requirement extraction failed for chunk",
				zap.Int("chunk", chunk.Index),
				zap.Error(err),
			)
			result.FailedChunks++
			continue
		}

		result.Set.Merge(extracted)
	}

	logger.Info("requirement extraction complete",
		zap.Int("chunks", result.Chunks),
		zap.Int("failed_chunks", result.FailedChunks),
		zap.Int("requirements", result.Set.Len()),
	)

	return result, nil
}
