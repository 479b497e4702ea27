package mdec

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
)

// Quality selects the numeric precision of the inverse transform.
type Quality int

// Decoder quality variants.
const (
	// QualityHigh uses a floating point IDCT and interpolated chroma.
	QualityHigh Quality = iota
	// QualityFast uses a fixed point IDCT and nearest-neighbour chroma.
	QualityFast
)

// String returns the quality name used in configuration.
func (q Quality) String() string {
	if q == QualityFast {
		return "fast"
	}
	return "high"
}

// ParseQuality maps a configuration value to a Quality.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "high", "":
		return QualityHigh, nil
	case "fast":
		return QualityFast, nil
	default:
		return QualityHigh, fmt.Errorf("unknown decode quality %q", s)
	}
}

// ErrTruncated reports a frame that ended before all macroblocks were decoded.
var ErrTruncated = errors.New("mdec: frame truncated")

// quantTable is the PlayStation default intra quantisation matrix in
// natural (row-major) order.
var quantTable = [64]int{
	2, 16, 19, 22, 26, 27, 29, 34,
	16, 16, 22, 24, 27, 29, 34, 37,
	19, 22, 26, 27, 29, 34, 34, 38,
	22, 22, 26, 27, 29, 34, 37, 40,
	22, 26, 27, 29, 32, 35, 40, 48,
	26, 27, 29, 32, 35, 40, 48, 58,
	26, 27, 29, 34, 38, 46, 56, 69,
	27, 29, 35, 38, 46, 56, 69, 83,
}

// zigzag maps zig-zag scan position to natural order index.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

const fixedShift = 12

var (
	cosTable      [8][8]float64
	cosTableFixed [8][8]int64
)

func init() {
	for x := 0; x < 8; x++ {
		for u := 0; u < 8; u++ {
			c := 1.0
			if u == 0 {
				c = 1 / math.Sqrt2
			}
			v := c * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16) / 2
			cosTable[x][u] = v
			cosTableFixed[x][u] = int64(math.Round(v * (1 << fixedShift)))
		}
	}
}

// Decoder turns MDEC blocks into YCbCr pixels. A Decoder holds scratch
// state only; the destination image is owned by the caller and reused
// across frames.
type Decoder struct {
	quality Quality
	block   Block
	coefs   [64]float64
	fixed   [64]int64
	out     [64]int
}

// NewDecoder creates a decoder of the given quality.
func NewDecoder(quality Quality) *Decoder {
	return &Decoder{quality: quality}
}

// Quality returns the decoder's quality.
func (d *Decoder) Quality() Quality {
	return d.quality
}

// NewFrameBuffer allocates a 4:2:0 buffer for width x height pixels rounded
// up to macroblock granularity.
func NewFrameBuffer(width, height int) *image.YCbCr {
	mbw, mbh := MacroblockDims(width, height)
	return image.NewYCbCr(image.Rect(0, 0, mbw*16, mbh*16), image.YCbCrSubsampleRatio420)
}

// Decode reads every block of one frame from src into dst. When the data
// runs out or is corrupt, the macroblocks decoded so far stay in dst and an
// error is returned.
func (d *Decoder) Decode(src BlockSource, dst *image.YCbCr) error {
	b := dst.Rect
	if b.Dx()%16 != 0 || b.Dy()%16 != 0 || dst.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return fmt.Errorf("mdec: frame buffer %v is not 4:2:0 at macroblock granularity", b)
	}
	mbw, mbh := b.Dx()/16, b.Dy()/16

	for mbx := 0; mbx < mbw; mbx++ {
		for mby := 0; mby < mbh; mby++ {
			for kind := 0; kind < BlocksPerMacroblock; kind++ {
				if err := src.Next(&d.block); err != nil {
					if errors.Is(err, io.EOF) {
						return fmt.Errorf("%w at macroblock (%d,%d) block %d", ErrTruncated, mbx, mby, kind)
					}
					return fmt.Errorf("reading macroblock (%d,%d) block %d: %w", mbx, mby, kind, err)
				}
				if err := d.block.Validate(); err != nil {
					return fmt.Errorf("macroblock (%d,%d) block %d: %w", mbx, mby, kind, err)
				}
				d.transform(&d.block)
				d.store(dst, kind, mbx, mby)
			}
		}
	}
	return nil
}

// transform dequantises the block and runs the inverse DCT into d.out.
func (d *Decoder) transform(blk *Block) {
	d.coefs = [64]float64{}
	d.coefs[0] = float64(blk.DC * quantTable[0])
	pos := 0
	for _, rl := range blk.AC {
		pos += rl.Run + 1
		n := zigzag[pos]
		d.coefs[n] = float64(rl.Level*quantTable[n]*blk.Qscale) / 8
	}

	if d.quality == QualityFast {
		d.idctFixed()
		return
	}
	d.idctFloat()
}

func (d *Decoder) idctFloat() {
	var tmp [64]float64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			var sum float64
			for u := 0; u < 8; u++ {
				sum += cosTable[x][u] * d.coefs[y*8+u]
			}
			tmp[y*8+x] = sum
		}
	}
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			var sum float64
			for v := 0; v < 8; v++ {
				sum += cosTable[y][v] * tmp[v*8+x]
			}
			d.out[y*8+x] = int(math.Round(sum))
		}
	}
}

func (d *Decoder) idctFixed() {
	for i, c := range d.coefs {
		d.fixed[i] = int64(c)
	}
	var tmp [64]int64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			var sum int64
			for u := 0; u < 8; u++ {
				sum += cosTableFixed[x][u] * d.fixed[y*8+u]
			}
			tmp[y*8+x] = sum >> fixedShift
		}
	}
	const round = 1 << (fixedShift - 1)
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			var sum int64
			for v := 0; v < 8; v++ {
				sum += cosTableFixed[y][v] * tmp[v*8+x]
			}
			d.out[y*8+x] = int((sum + round) >> fixedShift)
		}
	}
}

// store writes d.out into the plane for the given block kind.
func (d *Decoder) store(dst *image.YCbCr, kind, mbx, mby int) {
	var plane []byte
	var stride, ox, oy int
	switch kind {
	case BlockCr:
		plane, stride, ox, oy = dst.Cr, dst.CStride, mbx*8, mby*8
	case BlockCb:
		plane, stride, ox, oy = dst.Cb, dst.CStride, mbx*8, mby*8
	case BlockY1:
		plane, stride, ox, oy = dst.Y, dst.YStride, mbx*16, mby*16
	case BlockY2:
		plane, stride, ox, oy = dst.Y, dst.YStride, mbx*16+8, mby*16
	case BlockY3:
		plane, stride, ox, oy = dst.Y, dst.YStride, mbx*16, mby*16+8
	default:
		plane, stride, ox, oy = dst.Y, dst.YStride, mbx*16+8, mby*16+8
	}
	for y := 0; y < 8; y++ {
		row := plane[(oy+y)*stride+ox:]
		for x := 0; x < 8; x++ {
			row[x] = clamp8(d.out[y*8+x] + 128)
		}
	}
}

// Clear fills dst with black.
func Clear(dst *image.YCbCr) {
	for i := range dst.Y {
		dst.Y[i] = 0
	}
	for i := range dst.Cb {
		dst.Cb[i] = 128
		dst.Cr[i] = 128
	}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
