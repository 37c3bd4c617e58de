package result

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

// WriteZip streams the succeeded artifacts of r into a zip archive, one file
// per artifact in result order.
func WriteZip(w io.Writer, r *BatchResult) error {
	zw := zip.NewWriter(w)
	modified := time.Now()
	for _, a := range r.Succeeded {
		hdr := &zip.FileHeader{
			Name:     a.OutputName,
			Method:   compressionFor(a.TargetFormat),
			Modified: modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", a.OutputName, err)
		}
		if _, err := fw.Write(a.Payload); err != nil {
			return fmt.Errorf("write zip entry %s: %w", a.OutputName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

// compressionFor stores formats that are already compressed.
func compressionFor(f model.Format) uint16 {
	switch f {
	case model.FormatBMP:
		return zip.Deflate
	default:
		return zip.Store
	}
}
