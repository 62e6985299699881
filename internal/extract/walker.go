package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tender-engine/backend/pkg/logger"
)

var (
	// ErrBadArchive marks a top-level container that cannot even be opened.
	// Unlike per-member failures this is a hard, caller-visible error.
	ErrBadArchive = errors.New("unreadable archive")

	// ErrUnsupportedType marks a top-level upload of a format nothing can decode.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Limits bound one archive walk. They are per-walk counters, never shared
// across requests.
type Limits struct {
	MaxDepth      int
	MaxMembers    int
	MaxMemberSize int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxDepth:      3,
		MaxMembers:    100,
		MaxMemberSize: 50 * 1024 * 1024,
	}
}

// Walker descends into nested containers (ZIP-of-ZIPs, signed-document
// containers) and dispatches leaf members to format decoders. Limit
// violations degrade to partial results with Truncated set; only an
// unreadable top-level input is a hard failure.
type Walker struct {
	limits   Limits
	decoders map[EntryType]Decoder
}

func NewWalker(limits Limits) *Walker {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits().MaxDepth
	}
	if limits.MaxMembers <= 0 {
		limits.MaxMembers = DefaultLimits().MaxMembers
	}
	if limits.MaxMemberSize <= 0 {
		limits.MaxMemberSize = DefaultLimits().MaxMemberSize
	}
	return &Walker{
		limits:   limits,
		decoders: defaultDecoders(),
	}
}

// Walk extracts all reachable text from one uploaded file, container or
// leaf. Members lists every entry attempted, including ones that produced
// no text.
func (w *Walker) Walk(data []byte, name string) (*Result, error) {
	rootType := DetectType(name, data)

	if rootType == TypeUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, name)
	}

	result := &Result{}

	if isContainer(rootType) {
		var sb strings.Builder
		if err := w.walkArchive(data, name, 0, result, &sb); err != nil {
			if rootType == TypeSigned {
				// some signed documents are bare XML rather than a ZIP envelope
				return w.leafResult(TypeXML, data, name), nil
			}
			return nil, err
		}
		result.CombinedText = strings.TrimSpace(sb.String())
		return result, nil
	}

	return w.leafResult(rootType, data, name), nil
}

func (w *Walker) leafResult(t EntryType, data []byte, name string) *Result {
	return &Result{
		CombinedText: w.decode(t, data),
		Members: []Member{{
			Name: name,
			Size: int64(len(data)),
			Type: t,
		}},
	}
}

// walkArchive processes one container level. It returns an error only for
// an unopenable archive; the caller decides whether that is hard (depth 0)
// or soft (nested member).
func (w *Walker) walkArchive(data []byte, name string, depth int, result *Result, sb *strings.Builder) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadArchive, name, err)
	}

	logger.Debug("walking archive",
		zap.String("name", name),
		zap.Int("depth", depth),
		zap.Int("entries", len(zr.File)),
	)

	entries := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, f)
	}

	if len(entries) > w.limits.MaxMembers {
		logger.Warn("archive member count exceeds limit",
			zap.String("name", name),
			zap.Int("entries", len(entries)),
			zap.Int("limit", w.limits.MaxMembers),
		)
		entries = entries[:w.limits.MaxMembers]
		result.Truncated = true
	}

	for _, f := range entries {
		w.walkEntry(f, depth, result, sb)
	}

	return nil
}

func (w *Walker) walkEntry(f *zip.File, depth int, result *Result, sb *strings.Builder) {
	entryType := DetectType(f.Name, nil)
	declaredSize := int64(f.UncompressedSize64)

	member := Member{
		Name: f.Name,
		Size: declaredSize,
		Type: entryType,
	}
	result.Members = append(result.Members, member)

	if entryType == TypeUnknown {
		logger.Debug("skipping unsupported member", zap.String("name", f.Name))
		return
	}

	if declaredSize > w.limits.MaxMemberSize {
		logger.Warn("member exceeds size limit",
			zap.String("name", f.Name),
			zap.Int64("size", declaredSize),
			zap.Int64("limit", w.limits.MaxMemberSize),
		)
		result.Truncated = true
		return
	}

	data, ok := w.readEntry(f)
	if !ok {
		return
	}
	if int64(len(data)) > w.limits.MaxMemberSize {
		// declared size lied; refuse to keep the oversized payload
		result.Truncated = true
		return
	}

	if isContainer(entryType) {
		if depth+1 > w.limits.MaxDepth {
			logger.Warn("container depth limit reached, skipping subtree",
				zap.String("name", f.Name),
				zap.Int("depth", depth+1),
			)
			result.Truncated = true
			return
		}

		if err := w.walkArchive(data, f.Name, depth+1, result, sb); err != nil {
			if entryType == TypeSigned {
				w.appendText(sb, w.decode(TypeXML, data))
				return
			}
			// corrupt nested archive: soft failure, entry stays on record
			logger.Warn("nested archive unreadable", zap.String("name", f.Name), zap.Error(err))
		}
		return
	}

	w.appendText(sb, w.decode(entryType, data))
}

func (w *Walker) readEntry(f *zip.File) ([]byte, bool) {
	rc, err := f.Open()
	if err != nil {
		logger.Warn("member open failed", zap.String("name", f.Name), zap.Error(err))
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, w.limits.MaxMemberSize+1))
	if err != nil {
		logger.Warn("member read failed", zap.String("name", f.Name), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (w *Walker) decode(t EntryType, data []byte) string {
	decoder, ok := w.decoders[t]
	if !ok {
		return ""
	}
	return decoder.Decode(data)
}

func (w *Walker) appendText(sb *strings.Builder, text string) {
	if text == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString(text)
}
