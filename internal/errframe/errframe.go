// Package errframe draws placeholder frames for frames that failed to decode.
package errframe

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const margin = 4

var (
	background = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xFF}
	foreground = color.RGBA{R: 0xFF, G: 0x40, B: 0x40, A: 0xFF}
)

// RenderRGBA draws msg onto a blank width x height canvas.
func RenderRGBA(width, height int, msg string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(foreground), Face: face}
	lineHeight := face.Metrics().Height.Ceil()
	y := margin + face.Metrics().Ascent.Ceil()
	for _, line := range wrap(msg, (width-2*margin)/face.Advance) {
		if y > height {
			break
		}
		d.Dot = fixed.P(margin, y)
		d.DrawString(line)
		y += lineHeight
	}
	return img
}

// Render draws msg into the top-left width x height region of dst, a 4:2:0
// frame buffer. Each chroma sample takes the colour of its top-left pixel.
func Render(dst *image.YCbCr, width, height int, msg string) {
	src := RenderRGBA(width, height, msg)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := src.RGBAAt(x, y)
			yy, cb, cr := color.RGBToYCbCr(p.R, p.G, p.B)
			dst.Y[dst.YOffset(x, y)] = yy
			if x%2 == 0 && y%2 == 0 {
				ci := dst.COffset(x, y)
				dst.Cb[ci] = cb
				dst.Cr[ci] = cr
			}
		}
	}
}

// wrap breaks s into lines of at most width characters, splitting on spaces
// where possible.
func wrap(s string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for len(word) > width {
				if line != "" {
					lines = append(lines, line)
					line = ""
				}
				lines = append(lines, word[:width])
				word = word[width:]
			}
			switch {
			case line == "":
				line = word
			case len(line)+1+len(word) <= width:
				line += " " + word
			default:
				lines = append(lines, line)
				line = word
			}
		}
		lines = append(lines, line)
	}
	return lines
}
