package extract

import (
	"path/filepath"
	"strings"
)

// EntryType classifies one container member by format.
type EntryType string

const (
	TypePDF     EntryType = "pdf"
	TypeDOCX    EntryType = "docx"
	TypeSigned  EntryType = "signed_container"
	TypeText    EntryType = "text"
	TypeHTML    EntryType = "html"
	TypeXML     EntryType = "xml"
	TypeArchive EntryType = "archive"
	TypeUnknown EntryType = "unknown"
)

// Member records one entry attempted during a walk, readable or not, so the
// caller can audit which files contributed to the combined text.
type Member struct {
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Type EntryType `json:"type"`
}

// Result is the outcome of extracting one top-level upload. Truncated is
// true when any resource limit (depth, member count, member size) cut the
// walk short; the flag must survive into the final report.
type Result struct {
	CombinedText string   `json:"combined_text"`
	Members      []Member `json:"members"`
	Truncated    bool     `json:"truncated"`
}

var extensionTypes = map[string]EntryType{
	".pdf":   TypePDF,
	".docx":  TypeDOCX,
	".edoc":  TypeSigned,
	".asice": TypeSigned,
	".txt":   TypeText,
	".md":    TypeText,
	".html":  TypeHTML,
	".htm":   TypeHTML,
	".xml":   TypeXML,
	".zip":   TypeArchive,
}

// DetectType infers a member's format from its extension, falling back to
// magic-byte sniffing when the extension is not recognized.
func DetectType(name string, data []byte) EntryType {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return sniffType(data)
}

func sniffType(data []byte) EntryType {
	switch {
	case len(data) >= 4 && string(data[:4]) == "%PDF":
		return TypePDF
	case len(data) >= 4 && string(data[:4]) == "PK\x03\x04":
		return TypeArchive
	case len(data) >= 5 && string(data[:5]) == "<?xml":
		return TypeXML
	default:
		return TypeUnknown
	}
}

// isContainer reports whether a type must be descended into rather than
// decoded as a leaf.
func isContainer(t EntryType) bool {
	return t == TypeArchive || t == TypeSigned
}
