package extract

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/pkg/logger"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

type xmlDecoder struct{}

// Decode collects all character data of an XML document, which is how
// signed-container payloads degrade when their ZIP layer is unreadable.
func (xmlDecoder) Decode(data []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false

	var parts []string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			if text := strings.TrimSpace(string(cd)); text != "" {
				parts = append(parts, text)
			}
		}
	}

	if len(parts) == 0 {
		// not parseable as XML at all, fall back to a plain-text read
		return textDecoder{}.Decode(data)
	}

	return strings.Join(parts, " ")
}

type htmlDecoder struct{}

func (htmlDecoder) Decode(data []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		logger.Warn("html parse failed", zap.Error(err))
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	text = whitespaceRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
