package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tender-engine/backend/pkg/logger"
)

type docxDecoder struct{}

// Decode reads word/document.xml out of the DOCX package and flattens its
// runs to text, one line per paragraph.
func (docxDecoder) Decode(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn("docx open failed", zap.Error(err))
		return ""
	}

	var doc []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			logger.Warn("docx document.xml open failed", zap.Error(err))
			return ""
		}
		doc, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return ""
		}
		break
	}

	if doc == nil {
		return ""
	}

	return wordMLText(doc)
}

func wordMLText(doc []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(doc))

	var sb strings.Builder
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			// paragraph and tab markers keep word boundaries intact
			if t.Name.Local == "p" {
				sb.WriteByte('\n')
			}
		case xml.StartElement:
			if t.Name.Local == "tab" || t.Name.Local == "br" {
				sb.WriteByte(' ')
			}
		}
	}

	return strings.TrimSpace(sb.String())
}
