package codec

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

func sample() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 120, A: 255})
		}
	}
	return img
}

func TestRoundTripEveryFormat(t *testing.T) {
	ctx := context.Background()
	c := NewStd(80)
	for _, f := range model.Formats() {
		t.Run(string(f), func(t *testing.T) {
			data, err := c.Encode(ctx, sample(), f)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			img, err := c.Decode(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, 8, img.Bounds().Dx())
			assert.Equal(t, 6, img.Bounds().Dy())
		})
	}
}

func TestDecodeCorruptBytes(t *testing.T) {
	c := NewStd(0)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, sample()))
	corrupt := buf.Bytes()[:20]

	_, err := c.Decode(context.Background(), corrupt)
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = c.Decode(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	c := NewStd(0)
	_, err := c.Encode(context.Background(), sample(), model.Format("heic"))
	assert.True(t, errors.Is(err, ErrEncode))

	_, err = c.Encode(context.Background(), nil, model.FormatPNG)
	assert.True(t, errors.Is(err, ErrEncode))
}

func TestQualityFallback(t *testing.T) {
	assert.Equal(t, DefaultJPEGQuality, NewStd(0).quality())
	assert.Equal(t, DefaultJPEGQuality, NewStd(500).quality())
	assert.Equal(t, 55, NewStd(55).quality())
}

func TestJPEGFlattensTransparencyOntoWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	c := NewStd(100)
	out, err := c.Encode(context.Background(), img, model.FormatJPG)
	require.NoError(t, err)

	decoded, err := c.Decode(context.Background(), out)
	require.NoError(t, err)
	r, g, b, _ := decoded.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}
