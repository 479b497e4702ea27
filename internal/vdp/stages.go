package vdp

import (
	"image"
	"log/slog"

	"github.com/m35/jpsxdec-sub004/internal/bitstream"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// MdecStage identifies each frame's bitstream format and hands the
// resulting block stream to its listener. Frames no format accepts reach
// the listener as a FrameError.
type MdecStage struct {
	identifier *bitstream.Identifier
	listener   MdecListener
	logger     *slog.Logger
}

// NewMdecStage creates a stage that identifies width x height frames
// against registry.
func NewMdecStage(registry *bitstream.Registry, width, height int, logger *slog.Logger) *MdecStage {
	logger = observability.WithComponent(logger, "mdec_stage")
	return &MdecStage{
		identifier: bitstream.NewIdentifier(registry, width, height, logger),
		logger:     logger,
	}
}

// SetListener attaches the downstream listener.
func (s *MdecStage) SetListener(l MdecListener) {
	s.listener = l
}

// Format returns the name of the last identified format.
func (s *MdecStage) Format() string {
	return s.identifier.Format()
}

// Bitstream implements BitstreamListener.
func (s *MdecStage) Bitstream(buf []byte, n int, f Frame) error {
	if s.listener == nil {
		return ErrNoListener
	}
	dec, err := s.identifier.Feed(buf, n)
	if err != nil {
		s.logger.Warn("frame not identified",
			slog.String("frame", f.Number.String()),
			slog.Int("end_sector", f.EndSector),
			slog.Int("bytes", n),
			slog.String("error", err.Error()),
		)
		return s.listener.FrameError(&FrameError{
			Message:   err.Error(),
			Frame:     f.Number,
			EndSector: f.EndSector,
		})
	}
	return s.listener.Mdec(dec, f)
}

// DecodeStage decodes block streams into a frame buffer it owns and reuses
// for every frame.
type DecodeStage struct {
	decoder  *mdec.Decoder
	frame    *image.YCbCr
	listener DecodedListener
	logger   *slog.Logger
}

// NewDecodeStage creates a stage decoding width x height frames.
func NewDecodeStage(quality mdec.Quality, width, height int, logger *slog.Logger) *DecodeStage {
	return &DecodeStage{
		decoder: mdec.NewDecoder(quality),
		frame:   mdec.NewFrameBuffer(width, height),
		logger:  observability.WithComponent(logger, "decode_stage"),
	}
}

// SetListener attaches the downstream listener.
func (s *DecodeStage) SetListener(l DecodedListener) {
	s.listener = l
}

// Mdec implements MdecListener. A decode failure is logged and the
// partially decoded frame is still passed on.
func (s *DecodeStage) Mdec(src mdec.BlockSource, f Frame) error {
	if s.listener == nil {
		return ErrNoListener
	}
	if err := s.decoder.Decode(src, s.frame); err != nil {
		s.logger.Warn("frame decode failed, passing partial frame",
			slog.String("frame", f.Number.String()),
			slog.Int("end_sector", f.EndSector),
			slog.String("error", err.Error()),
		)
	}
	return s.listener.Decoded(s.frame, f)
}

// FrameError implements MdecListener.
func (s *DecodeStage) FrameError(fe *FrameError) error {
	if s.listener == nil {
		return ErrNoListener
	}
	return s.listener.FrameError(fe)
}
