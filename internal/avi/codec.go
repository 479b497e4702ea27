package avi

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/m35/jpsxdec-sub004/internal/mdec"
)

// Codec turns a decoded frame into one video chunk payload.
type Codec interface {
	// Handler is the strh handler FourCC.
	Handler() string
	// Compression is the BITMAPINFOHEADER compression FourCC; zero for RGB.
	Compression() [4]byte
	// ChunkType is "db" for uncompressed chunks and "dc" for compressed.
	ChunkType() string
	BitCount() uint16
	// ImageSize is the nominal payload size of a width x height frame.
	ImageSize(width, height int) uint32
	// Encode appends the top-left width x height region of img to dst.
	Encode(dst []byte, img *image.YCbCr, width, height int) ([]byte, error)
}

// DIB stores frames as 24-bit bottom-up BGR bitmaps.
type DIB struct {
	Quality mdec.Quality
	rgba    *image.RGBA
}

// NewDIB creates an uncompressed RGB codec converting with quality.
func NewDIB(quality mdec.Quality) *DIB {
	return &DIB{Quality: quality}
}

func (c *DIB) Handler() string      { return "DIB " }
func (c *DIB) Compression() [4]byte { return [4]byte{} }
func (c *DIB) ChunkType() string    { return "db" }
func (c *DIB) BitCount() uint16     { return 24 }
func (c *DIB) ImageSize(w, h int) uint32 {
	return uint32(dibStride(w) * h)
}

func dibStride(width int) int {
	return (width*3 + 3) &^ 3
}

func (c *DIB) Encode(dst []byte, img *image.YCbCr, width, height int) ([]byte, error) {
	if c.rgba == nil || c.rgba.Rect.Dx() != width || c.rgba.Rect.Dy() != height {
		c.rgba = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	mdec.ToRGB(img, c.rgba, c.Quality)

	stride := dibStride(width)
	pad := stride - width*3
	for y := height - 1; y >= 0; y-- {
		row := c.rgba.Pix[y*c.rgba.Stride:]
		for x := 0; x < width; x++ {
			p := row[x*4:]
			dst = append(dst, p[2], p[1], p[0])
		}
		for i := 0; i < pad; i++ {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}

// YUV stores frames as planar YV12. The convention selects between the
// Rec.601 studio range and the full JFIF range.
type YUV struct {
	Convention mdec.Convention
}

// NewYUV creates a planar YV12 codec.
func NewYUV(conv mdec.Convention) *YUV {
	return &YUV{Convention: conv}
}

func (c *YUV) Handler() string      { return "YV12" }
func (c *YUV) Compression() [4]byte { return FourCC("YV12") }
func (c *YUV) ChunkType() string    { return "db" }
func (c *YUV) BitCount() uint16     { return 12 }
func (c *YUV) ImageSize(w, h int) uint32 {
	return uint32(mdec.YV12Size(w, h))
}

func (c *YUV) Encode(dst []byte, img *image.YCbCr, width, height int) ([]byte, error) {
	if width%2 != 0 || height%2 != 0 {
		return dst, fmt.Errorf("yv12 needs even dimensions, got %dx%d", width, height)
	}
	return mdec.AppendYV12(dst, img, width, height, c.Convention), nil
}

// MJPEG stores every frame as a baseline JPEG image.
type MJPEG struct {
	Quality int
	buf     bytes.Buffer
}

// NewMJPEG creates a motion-JPEG codec. quality is the JPEG quality 1-100.
func NewMJPEG(quality int) *MJPEG {
	return &MJPEG{Quality: quality}
}

func (c *MJPEG) Handler() string      { return "MJPG" }
func (c *MJPEG) Compression() [4]byte { return FourCC("MJPG") }
func (c *MJPEG) ChunkType() string    { return "dc" }
func (c *MJPEG) BitCount() uint16     { return 24 }
func (c *MJPEG) ImageSize(w, h int) uint32 {
	return uint32(w * h * 3)
}

func (c *MJPEG) Encode(dst []byte, img *image.YCbCr, width, height int) ([]byte, error) {
	c.buf.Reset()
	sub := img.SubImage(image.Rect(0, 0, width, height))
	if err := jpeg.Encode(&c.buf, sub, &jpeg.Options{Quality: c.Quality}); err != nil {
		return dst, fmt.Errorf("encoding jpeg frame: %w", err)
	}
	return append(dst, c.buf.Bytes()...), nil
}
