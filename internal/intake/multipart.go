package intake

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

// FilePartName is the multipart form field carrying uploaded images.
const FilePartName = "file"

// genericType is what most HTTP clients declare when they do not know the
// file type. It is treated as undeclared so the bytes get sniffed.
const genericType = "application/octet-stream"

// ReadParts turns every "file" part of mr into a candidate, in request order.
// When maxBytes is positive a part is read up to maxBytes+1 bytes, which is
// enough for Submit to reject it as oversized, and the rest is discarded.
func ReadParts(mr *multipart.Reader, maxBytes int64) ([]model.Candidate, error) {
	var out []model.Candidate
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != FilePartName {
			part.Close()
			continue
		}
		c, err := readPart(part, maxBytes)
		part.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

func readPart(part *multipart.Part, maxBytes int64) (model.Candidate, error) {
	var r io.Reader = part
	if maxBytes > 0 {
		r = io.LimitReader(part, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Candidate{}, fmt.Errorf("read part %q: %w", part.FileName(), err)
	}
	if _, err := io.Copy(io.Discard, part); err != nil {
		return model.Candidate{}, fmt.Errorf("drain part %q: %w", part.FileName(), err)
	}
	declared := part.Header.Get("Content-Type")
	if strings.EqualFold(normalizeType(declared), genericType) {
		declared = ""
	}
	return model.Candidate{
		Name:         part.FileName(),
		DeclaredType: declared,
		Bytes:        data,
	}, nil
}
