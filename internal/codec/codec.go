// Package codec provides the decode/encode collaborator used by the
// orchestrator. The orchestrator only sees the Codec interface; Std is the
// default pure-Go implementation.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	// Registers the webp decoder with image.Decode.
	_ "golang.org/x/image/webp"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

var (
	// ErrDecode wraps every failure to interpret source bytes as an image.
	ErrDecode = errors.New("decode image")
	// ErrEncode wraps every failure to serialize an image to a target format.
	ErrEncode = errors.New("encode image")
)

// Codec decodes raster images and encodes them to a target format.
// Implementations must be safe for concurrent use.
type Codec interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
	Encode(ctx context.Context, img image.Image, format model.Format) ([]byte, error)
}

// DefaultJPEGQuality is used when Std.JPEGQuality is zero.
const DefaultJPEGQuality = 90

// Std implements Codec with the standard library and golang.org/x/image.
// WebP output is lossless.
type Std struct {
	JPEGQuality int
}

// NewStd returns a Std codec using the given JPEG quality (1-100).
func NewStd(jpegQuality int) *Std {
	return &Std{JPEGQuality: jpegQuality}
}

// Decode sniffs the format from the data itself; the declared type is not
// consulted.
func (c *Std) Decode(_ context.Context, data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}
	return img, nil
}

// Encode serializes img to format.
func (c *Std) Encode(_ context.Context, img image.Image, format model.Format) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrEncode)
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case model.FormatPNG:
		err = png.Encode(&buf, img)
	case model.FormatJPG:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: c.quality()})
	case model.FormatGIF:
		err = gif.Encode(&buf, img, nil)
	case model.FormatBMP:
		err = bmp.Encode(&buf, img)
	case model.FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case model.FormatWEBP:
		err = nativewebp.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("%w: unsupported target format %q", ErrEncode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, format, err)
	}
	return buf.Bytes(), nil
}

func (c *Std) quality() int {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return DefaultJPEGQuality
	}
	return c.JPEGQuality
}

// flatten composites img over white. JPEG has no alpha channel and the
// encoder would otherwise turn transparent pixels black.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
