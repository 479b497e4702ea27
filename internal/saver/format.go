package saver

import (
	"fmt"
	"strings"

	"github.com/m35/jpsxdec-sub004/internal/vdp"
)

// Format is an output format a save can produce.
type Format string

// Output formats.
const (
	FormatBitstream Format = "bitstream"
	FormatMdec      Format = "mdec"
	FormatPNG       Format = "png"
	FormatBMP       Format = "bmp"
	FormatJPG       Format = "jpg"
	FormatAviRGB    Format = "avi:rgb"
	FormatAviYUV    Format = "avi:yuv"
	FormatAviJYUV   Format = "avi:jyuv"
	FormatAviMJPEG  Format = "avi:mjpg"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{
		FormatBitstream, FormatMdec, FormatPNG, FormatBMP, FormatJPG,
		FormatAviRGB, FormatAviYUV, FormatAviJYUV, FormatAviMJPEG,
	}
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "jpeg" {
		f = FormatJPG
	}
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// IsAVI reports whether the format writes a single AVI file.
func (f Format) IsAVI() bool {
	return strings.HasPrefix(string(f), "avi:")
}

// Ext returns the extension of the files the format writes.
func (f Format) Ext() string {
	switch f {
	case FormatBitstream:
		return "bs"
	case FormatMdec:
		return "mdec"
	case FormatPNG, FormatBMP, FormatJPG:
		return string(f)
	default:
		return "avi"
	}
}

// Topology returns the pipeline shape producing the format.
func (f Format) Topology() vdp.Topology {
	switch f {
	case FormatBitstream:
		return vdp.Topology{Source: vdp.SourceBitstream, Output: vdp.OutputFile}
	case FormatMdec:
		return vdp.Topology{Source: vdp.SourceMdec, Output: vdp.OutputFile}
	case FormatJPG:
		return vdp.Topology{Source: vdp.SourceMdec, Output: vdp.OutputJPEG}
	case FormatPNG, FormatBMP:
		return vdp.Topology{Source: vdp.SourceDecoded, Output: vdp.OutputImage}
	case FormatAviRGB:
		return vdp.Topology{Source: vdp.SourceDecoded, Output: vdp.OutputAviRGB}
	case FormatAviYUV:
		return vdp.Topology{Source: vdp.SourceDecoded, Output: vdp.OutputAviYUV}
	case FormatAviJYUV:
		return vdp.Topology{Source: vdp.SourceDecoded, Output: vdp.OutputAviJYUV}
	default:
		return vdp.Topology{Source: vdp.SourceDecoded, Output: vdp.OutputAviMJPEG}
	}
}

func (f Format) imageFormat() vdp.ImageFormat {
	switch f {
	case FormatBMP:
		return vdp.ImageBMP
	case FormatJPG:
		return vdp.ImageJPEG
	default:
		return vdp.ImagePNG
	}
}

// decodes reports whether the format runs MDEC decoding, and so whether
// decoder quality matters.
func (f Format) decodes() bool {
	return f != FormatBitstream && f != FormatMdec
}
