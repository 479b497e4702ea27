// Package vdp is the video decoding pipeline: the chain of stages that
// turns one frame's compressed bitstream into a dump file, MDEC codes, an
// image, or a frame in an AVI file.
package vdp

import (
	"errors"
	"fmt"
	"image"

	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
)

// ErrNoListener is returned when a stage is fed before its downstream
// listener has been attached.
var ErrNoListener = errors.New("vdp: no listener attached")

// Frame identifies the frame flowing through the pipeline.
type Frame struct {
	Number disc.FrameNumber
	// EndSector is the frame's presentation sector.
	EndSector int
}

// FrameError replaces a frame that could not be identified or decoded.
// Sinks receive it in place of the frame's data and decide how to
// represent the failure.
type FrameError struct {
	Message   string
	Frame     disc.FrameNumber
	EndSector int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s (end sector %d): %s", e.Frame, e.EndSector, e.Message)
}

// BitstreamListener consumes one frame's compressed bytes.
type BitstreamListener interface {
	Bitstream(buf []byte, n int, f Frame) error
}

// MdecListener consumes one frame's MDEC block stream.
type MdecListener interface {
	Mdec(src mdec.BlockSource, f Frame) error
	FrameError(fe *FrameError) error
}

// DecodedListener consumes one frame's pixels. The image is owned by the
// pipeline and is overwritten by the next frame.
type DecodedListener interface {
	Decoded(img *image.YCbCr, f Frame) error
	FrameError(fe *FrameError) error
}
