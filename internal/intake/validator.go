// Package intake turns raw candidates into validated file entries. Anything
// that does not declare an image type is dropped without an error: the
// caller offered a mixed set of files and only the images are kept.
package intake

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

// DefaultPrefixes is the accepted image-type class.
var DefaultPrefixes = []string{"image/"}

// sniffLen mirrors the amount of data http.DetectContentType considers.
const sniffLen = 512

// Options configures a Validator. MaxFileBytes of zero disables the limit.
type Options struct {
	AcceptedPrefixes []string
	MaxFileBytes     int64
}

// Validator accepts image candidates and assigns them identities.
type Validator struct {
	prefixes []string
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New builds a Validator. An empty prefix set falls back to DefaultPrefixes.
func New(opts Options, logger *slog.Logger) *Validator {
	prefixes := make([]string, 0, len(opts.AcceptedPrefixes))
	for _, p := range opts.AcceptedPrefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		prefixes = append(prefixes, DefaultPrefixes...)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		prefixes: prefixes,
		maxBytes: opts.MaxFileBytes,
		logger:   logger.With("component", "intake"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Submit validates one candidate. It returns the new entry and true, or nil
// and false when the candidate is not an acceptable image. Two identical
// candidates yield two distinct entries.
func (v *Validator) Submit(c model.Candidate) (*model.FileEntry, bool) {
	declared := c.DeclaredType
	if strings.TrimSpace(declared) == "" && len(c.Bytes) > 0 {
		declared = sniff(c.Bytes)
	}
	mimeType := normalizeType(declared)
	if !v.Accepts(mimeType) {
		v.logger.Debug("candidate rejected", "name", c.Name, "type", declared)
		return nil, false
	}
	if len(c.Bytes) == 0 {
		v.logger.Debug("candidate rejected", "name", c.Name, "reason", "empty")
		return nil, false
	}
	if v.maxBytes > 0 && int64(len(c.Bytes)) > v.maxBytes {
		v.logger.Debug("candidate rejected", "name", c.Name, "reason", "too large", "size", len(c.Bytes))
		return nil, false
	}
	entry := &model.FileEntry{
		ID:           v.newID(),
		OriginalName: c.Name,
		MimeType:     mimeType,
		Size:         int64(len(c.Bytes)),
		AddedAt:      v.now().UTC(),
		Payload:      c.Bytes,
	}
	return entry, true
}

// SubmitAll validates candidates in order and returns the accepted entries
// in the same relative order.
func (v *Validator) SubmitAll(candidates []model.Candidate) []*model.FileEntry {
	out := make([]*model.FileEntry, 0, len(candidates))
	for _, c := range candidates {
		if entry, ok := v.Submit(c); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Accepts reports whether mimeType falls into the accepted class.
func (v *Validator) Accepts(mimeType string) bool {
	mimeType = normalizeType(mimeType)
	for _, p := range v.prefixes {
		if strings.HasPrefix(mimeType, p) {
			return true
		}
	}
	return false
}

func normalizeType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func sniff(data []byte) string {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return http.DetectContentType(data)
}
