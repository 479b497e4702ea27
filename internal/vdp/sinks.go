package vdp

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"

	"golang.org/x/image/bmp"

	"github.com/m35/jpsxdec-sub004/internal/avi"
	"github.com/m35/jpsxdec-sub004/internal/errframe"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/naming"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// FileStore creates output files. storage.OutputDir implements it.
type FileStore interface {
	Create(path string) (*os.File, error)
	AtomicWriteReader(path string, r io.Reader) error
}

// ImageFormat is the raster format of image sequence output.
type ImageFormat int

// Image formats.
const (
	ImagePNG ImageFormat = iota
	ImageBMP
	ImageJPEG
)

// Ext returns the file extension without the dot.
func (f ImageFormat) Ext() string {
	switch f {
	case ImageBMP:
		return "bmp"
	case ImageJPEG:
		return "jpg"
	default:
		return "png"
	}
}

// ParseImageFormat maps an extension to an ImageFormat.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch s {
	case "png":
		return ImagePNG, nil
	case "bmp":
		return ImageBMP, nil
	case "jpg", "jpeg":
		return ImageJPEG, nil
	default:
		return ImagePNG, fmt.Errorf("unknown image format %q", s)
	}
}

// BitstreamFileSink writes each frame's compressed bytes to its own file.
type BitstreamFileSink struct {
	names *naming.Formatter
	store FileStore
}

// NewBitstreamFileSink creates a sink writing to paths from names.
func NewBitstreamFileSink(names *naming.Formatter, store FileStore) *BitstreamFileSink {
	return &BitstreamFileSink{names: names, store: store}
}

// Bitstream implements BitstreamListener.
func (s *BitstreamFileSink) Bitstream(buf []byte, n int, f Frame) error {
	path, err := s.names.Path(&f.Number)
	if err != nil {
		return err
	}
	return s.store.AtomicWriteReader(path, bytes.NewReader(buf[:n]))
}

// MdecFileSink writes each frame's MDEC codes to its own file.
type MdecFileSink struct {
	names  *naming.Formatter
	store  FileStore
	logger *slog.Logger
	block  mdec.Block
	codes  []byte
}

// NewMdecFileSink creates a sink writing to paths from names.
func NewMdecFileSink(names *naming.Formatter, store FileStore, logger *slog.Logger) *MdecFileSink {
	return &MdecFileSink{names: names, store: store, logger: observability.WithComponent(logger, "mdec_file_sink")}
}

// Mdec implements MdecListener. Blocks read before a stream error are
// still written.
func (s *MdecFileSink) Mdec(src mdec.BlockSource, f Frame) error {
	s.codes = s.codes[:0]
	for {
		err := src.Next(&s.block)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("block stream ended early",
				slog.String("frame", f.Number.String()),
				slog.String("error", err.Error()),
			)
			break
		}
		s.codes = s.block.AppendCodes(s.codes)
	}
	path, err := s.names.Path(&f.Number)
	if err != nil {
		return err
	}
	return s.store.AtomicWriteReader(path, bytes.NewReader(s.codes))
}

// FrameError implements MdecListener. There is no MDEC representation of
// a failed frame, so none is written.
func (s *MdecFileSink) FrameError(fe *FrameError) error {
	s.logger.Warn("skipping frame", slog.String("frame", fe.Frame.String()), slog.String("error", fe.Message))
	return nil
}

// JpegFileSink decodes MDEC codes straight to JPEG files.
type JpegFileSink struct {
	names   *naming.Formatter
	store   FileStore
	logger  *slog.Logger
	decoder *mdec.Decoder
	frame   *image.YCbCr
	bounds  image.Rectangle
	opts    jpeg.Options
	buf     bytes.Buffer
}

// NewJpegFileSink creates a sink for width x height frames.
func NewJpegFileSink(names *naming.Formatter, store FileStore, quality mdec.Quality, width, height, jpegQuality int, logger *slog.Logger) *JpegFileSink {
	return &JpegFileSink{
		names:   names,
		store:   store,
		logger:  observability.WithComponent(logger, "jpeg_file_sink"),
		decoder: mdec.NewDecoder(quality),
		frame:   mdec.NewFrameBuffer(width, height),
		bounds:  image.Rect(0, 0, width, height),
		opts:    jpeg.Options{Quality: jpegQuality},
	}
}

// Mdec implements MdecListener.
func (s *JpegFileSink) Mdec(src mdec.BlockSource, f Frame) error {
	if err := s.decoder.Decode(src, s.frame); err != nil {
		s.logger.Warn("frame decode failed, writing partial frame",
			slog.String("frame", f.Number.String()),
			slog.String("error", err.Error()),
		)
	}
	return s.write(s.frame.SubImage(s.bounds), f)
}

// FrameError implements MdecListener.
func (s *JpegFileSink) FrameError(fe *FrameError) error {
	img := errframe.RenderRGBA(s.bounds.Dx(), s.bounds.Dy(), fe.Message)
	return s.write(img, Frame{Number: fe.Frame, EndSector: fe.EndSector})
}

func (s *JpegFileSink) write(img image.Image, f Frame) error {
	path, err := s.names.Path(&f.Number)
	if err != nil {
		return err
	}
	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, img, &s.opts); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.store.AtomicWriteReader(path, &s.buf)
}

// ImageFileSink writes decoded frames as an image sequence.
type ImageFileSink struct {
	names   *naming.Formatter
	store   FileStore
	format  ImageFormat
	quality mdec.Quality
	bounds  image.Rectangle
	rgba    *image.RGBA
	opts    jpeg.Options
	buf     bytes.Buffer
}

// NewImageFileSink creates a sink for width x height frames.
func NewImageFileSink(names *naming.Formatter, store FileStore, format ImageFormat, quality mdec.Quality, width, height, jpegQuality int) *ImageFileSink {
	bounds := image.Rect(0, 0, width, height)
	return &ImageFileSink{
		names:   names,
		store:   store,
		format:  format,
		quality: quality,
		bounds:  bounds,
		rgba:    image.NewRGBA(bounds),
		opts:    jpeg.Options{Quality: jpegQuality},
	}
}

// Decoded implements DecodedListener.
func (s *ImageFileSink) Decoded(img *image.YCbCr, f Frame) error {
	if s.format == ImageJPEG {
		return s.write(img.SubImage(s.bounds), f)
	}
	mdec.ToRGB(img, s.rgba, s.quality)
	return s.write(s.rgba, f)
}

// FrameError implements DecodedListener.
func (s *ImageFileSink) FrameError(fe *FrameError) error {
	img := errframe.RenderRGBA(s.bounds.Dx(), s.bounds.Dy(), fe.Message)
	return s.write(img, Frame{Number: fe.Frame, EndSector: fe.EndSector})
}

func (s *ImageFileSink) write(img image.Image, f Frame) error {
	path, err := s.names.Path(&f.Number)
	if err != nil {
		return err
	}
	s.buf.Reset()
	switch s.format {
	case ImageBMP:
		err = bmp.Encode(&s.buf, img)
	case ImageJPEG:
		err = jpeg.Encode(&s.buf, img, &s.opts)
	default:
		err = png.Encode(&s.buf, img)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.store.AtomicWriteReader(path, &s.buf)
}

// AviSink writes decoded frames to an AVI file.
type AviSink struct {
	writer *avi.Writer
}

// NewAviSink wraps w.
func NewAviSink(w *avi.Writer) *AviSink {
	return &AviSink{writer: w}
}

// Decoded implements DecodedListener.
func (s *AviSink) Decoded(img *image.YCbCr, f Frame) error {
	return s.writer.WriteFrame(img, f.EndSector, &f.Number)
}

// FrameError implements DecodedListener. The failed frame becomes an
// error-text frame so the video keeps its timing.
func (s *AviSink) FrameError(fe *FrameError) error {
	return s.writer.WriteErrorFrame(fe.Message, fe.EndSector, &fe.Frame)
}
