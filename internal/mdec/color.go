package mdec

import (
	"fmt"
	"image"
)

// Convention selects the YCbCr range written to planar YUV output.
type Convention int

// YUV conventions.
const (
	// ConventionRec601 scales luma to 16-235 and chroma to 16-240.
	ConventionRec601 Convention = iota
	// ConventionJFIF keeps the decoder's full 0-255 range.
	ConventionJFIF
)

// String returns the convention name used in configuration.
func (c Convention) String() string {
	if c == ConventionJFIF {
		return "jfif"
	}
	return "rec601"
}

// ParseConvention maps a configuration value to a Convention.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "rec601", "":
		return ConventionRec601, nil
	case "jfif":
		return ConventionJFIF, nil
	default:
		return ConventionRec601, fmt.Errorf("unknown yuv convention %q", s)
	}
}

// ToRGB converts the top-left dst-sized region of src into dst using the
// full-range conversion the PlayStation MDEC performs. With QualityHigh the
// chroma planes are bilinearly interpolated; with QualityFast each chroma
// sample covers its 2x2 pixels.
func ToRGB(src *image.YCbCr, dst *image.RGBA, quality Quality) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	cw, ch := src.Rect.Dx()/2, src.Rect.Dy()/2
	for y := 0; y < h; y++ {
		yrow := src.Y[y*src.YStride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			var cb, cr int
			if quality == QualityFast {
				ci := (y/2)*src.CStride + x/2
				cb, cr = int(src.Cb[ci]), int(src.Cr[ci])
			} else {
				cb, cr = bilinearChroma(src, x, y, cw, ch)
			}
			r, g, b := ycbcrToRGB(int(yrow[x]), cb, cr)
			o := x * 4
			out[o] = r
			out[o+1] = g
			out[o+2] = b
			out[o+3] = 0xFF
		}
	}
}

// bilinearChroma samples chroma at pixel (x, y) with chroma sited between
// the four luma samples it covers.
func bilinearChroma(src *image.YCbCr, x, y, cw, ch int) (int, int) {
	// positions in chroma space, scaled by 4 to stay integral
	fx := 2*x - 1
	fy := 2*y - 1
	x0, y0 := floorDiv(fx, 4), floorDiv(fy, 4)
	wx, wy := fx-x0*4, fy-y0*4
	x1, y1 := clampInt(x0+1, 0, cw-1), clampInt(y0+1, 0, ch-1)
	x0, y0 = clampInt(x0, 0, cw-1), clampInt(y0, 0, ch-1)

	sample := func(plane []byte) int {
		a := int(plane[y0*src.CStride+x0])
		b := int(plane[y0*src.CStride+x1])
		c := int(plane[y1*src.CStride+x0])
		d := int(plane[y1*src.CStride+x1])
		top := a*(4-wx) + b*wx
		bot := c*(4-wx) + d*wx
		return (top*(4-wy) + bot*wy + 8) / 16
	}
	return sample(src.Cb), sample(src.Cr)
}

func ycbcrToRGB(y, cb, cr int) (uint8, uint8, uint8) {
	// 16.16 fixed point of 1.402, 0.344136, 0.714136, 1.772
	cb -= 128
	cr -= 128
	yy := y<<16 + 1<<15
	r := (yy + 91881*cr) >> 16
	g := (yy - 22554*cb - 46802*cr) >> 16
	b := (yy + 116130*cb) >> 16
	return clamp8(r), clamp8(g), clamp8(b)
}

// YV12Size returns the byte size of a planar 4:2:0 frame of w x h pixels.
// Odd dimensions are rounded up to even.
func YV12Size(w, h int) int {
	w, h = (w+1)&^1, (h+1)&^1
	return w*h + 2*(w/2)*(h/2)
}

// AppendYV12 appends the top-left w x h region of src as planar YV12
// (Y, then Cr, then Cb) using conv's value range.
func AppendYV12(dst []byte, src *image.YCbCr, w, h int, conv Convention) []byte {
	w, h = (w+1)&^1, (h+1)&^1
	for y := 0; y < h; y++ {
		for _, v := range src.Y[y*src.YStride : y*src.YStride+w] {
			dst = append(dst, scaleLuma(v, conv))
		}
	}
	for _, plane := range [][]byte{src.Cr, src.Cb} {
		for y := 0; y < h/2; y++ {
			for _, v := range plane[y*src.CStride : y*src.CStride+w/2] {
				dst = append(dst, scaleChroma(v, conv))
			}
		}
	}
	return dst
}

func scaleLuma(v uint8, conv Convention) uint8 {
	if conv == ConventionJFIF {
		return v
	}
	return uint8(16 + (int(v)*219+127)/255)
}

func scaleChroma(v uint8, conv Convention) uint8 {
	if conv == ConventionJFIF {
		return v
	}
	return uint8(128 + ((int(v)-128)*224+(sign(int(v)-128)*127))/255)
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
