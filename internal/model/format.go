// Package model contains the struct definitions shared across packages: the
// intake entries, the conversion jobs built from them and the formats they
// convert to.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Format is a target (or source) raster format. Declaring it as a named
// string type keeps arbitrary strings from sneaking into job definitions.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
	FormatWEBP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// ErrUnknownFormat is returned by ParseFormat for tags outside the supported set.
var ErrUnknownFormat = errors.New("unknown image format")

// Formats lists every supported format in the order the UI offers them.
func Formats() []Format {
	return []Format{FormatPNG, FormatJPG, FormatWEBP, FormatGIF, FormatBMP, FormatTIFF}
}

// ParseFormat normalizes user input such as "JPEG", ".tif" or "webp".
func ParseFormat(s string) (Format, error) {
	tag := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch tag {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	case "webp":
		return FormatWEBP, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	for _, known := range Formats() {
		if f == known {
			return true
		}
	}
	return false
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type used when serving artifacts of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPG:
		return "image/jpeg"
	case FormatTIFF:
		return "image/tiff"
	case FormatPNG, FormatWEBP, FormatGIF, FormatBMP:
		return "image/" + string(f)
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	return string(f)
}
