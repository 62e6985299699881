package extract

import (
	"strings"
	"unicode/utf8"
)

// Decoder turns raw member bytes into best-effort text. Implementations
// never fail: any internal error yields an empty string, because a
// partially readable archive is still worth reporting on.
type Decoder interface {
	Decode(data []byte) string
}

func defaultDecoders() map[EntryType]Decoder {
	return map[EntryType]Decoder{
		TypePDF:  pdfDecoder{},
		TypeDOCX: docxDecoder{},
		TypeText: textDecoder{},
		TypeHTML: htmlDecoder{},
		TypeXML:  xmlDecoder{},
	}
}

type textDecoder struct{}

func (textDecoder) Decode(data []byte) string {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
