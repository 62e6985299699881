package extract

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/pkg/logger"
)

type pdfDecoder struct{}

// Decode extracts plain text from a PDF. The underlying library panics on
// some malformed files, so the recover is part of the never-fail contract.
func (pdfDecoder) Decode(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("pdf extraction panicked", zap.Any("cause", r))
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn("pdf open failed", zap.Error(err))
		return ""
	}

	content, err := reader.GetPlainText()
	if err != nil {
		logger.Warn("pdf text extraction failed", zap.Error(err))
		return ""
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, content); err != nil {
		return ""
	}

	return strings.TrimSpace(sb.String())
}
