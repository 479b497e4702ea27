package avi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/big"
	"os"

	"github.com/m35/jpsxdec-sub004/internal/avsync"
	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/errframe"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// File is the destination of a Writer. *os.File satisfies it.
type File interface {
	io.Writer
	io.WriterAt
	io.Closer
}

// AudioFormat describes the PCM stream muxed with the video.
type AudioFormat struct {
	Channels int
	// Sync aligns audio with video. Its VideoSync is used for the video
	// stream, overriding Options.Sync.
	Sync *avsync.AudioVideoSync
}

// Options configure a Writer.
type Options struct {
	Width  int
	Height int
	Codec  Codec
	// Sync schedules video frames against the disc clock.
	Sync *avsync.VideoSync
	// Audio is nil for a video-only file.
	Audio *AudioFormat
	// Software is written to the INFO list when set.
	Software string
	// Create opens the output file. Defaults to os.Create.
	Create func(path string) (File, error)
	Logger *slog.Logger
}

// Writer streams frames into an AVI file and fixes up the headers on Close.
// A Writer is not safe for concurrent use.
type Writer struct {
	path   string
	opts   Options
	video  *avsync.VideoSync
	logger *slog.Logger

	file   File
	bw     *bufio.Writer
	pos    int64
	opened bool
	closed bool

	// offsets patched on close
	riffSizeAt   int64
	avihAt       int64
	videoStrhAt  int64
	audioStrhAt  int64
	moviSizeAt   int64
	moviStart    int64
	index        []IndexEntry
	maxChunkSize uint32

	framesWritten  int64
	samplesWritten int64
	audioStarted   bool

	videoID [4]byte
	audioID [4]byte
	frame   []byte
	last    []byte
	blank   []byte
	errBuf  *image.YCbCr
	silence []byte
	pcm     []byte
}

// NewWriter validates opts and returns a writer for path. The file is not
// created until Open.
func NewWriter(path string, opts Options) (*Writer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, &Error{Op: "configure", Path: path, Err: fmt.Errorf("invalid dimensions %dx%d", opts.Width, opts.Height)}
	}
	if opts.Codec == nil {
		return nil, &Error{Op: "configure", Path: path, Err: errors.New("no codec")}
	}
	if _, ok := opts.Codec.(*YUV); ok && (opts.Width%2 != 0 || opts.Height%2 != 0) {
		return nil, &Error{Op: "configure", Path: path, Err: fmt.Errorf("yv12 needs even dimensions, got %dx%d", opts.Width, opts.Height)}
	}
	video := opts.Sync
	if opts.Audio != nil {
		if opts.Audio.Sync == nil {
			return nil, &Error{Op: "configure", Path: path, Err: errors.New("audio stream without audio sync")}
		}
		if opts.Audio.Channels != 1 && opts.Audio.Channels != 2 {
			return nil, &Error{Op: "configure", Path: path, Err: fmt.Errorf("unsupported channel count %d", opts.Audio.Channels)}
		}
		video = opts.Audio.Sync.VideoSync
	}
	if video == nil {
		return nil, &Error{Op: "configure", Path: path, Err: errors.New("no video sync")}
	}
	if opts.Create == nil {
		opts.Create = func(p string) (File, error) { return os.Create(p) }
	}
	return &Writer{
		path:    path,
		opts:    opts,
		video:   video,
		logger:  observability.WithComponent(observability.OrDiscard(opts.Logger), "avi"),
		videoID: MakeChunkID(0, opts.Codec.ChunkType()),
		audioID: MakeChunkID(1, "wb"),
	}, nil
}

// Path returns the output path.
func (w *Writer) Path() string {
	return w.path
}

// FramesWritten returns the number of video chunks written so far.
func (w *Writer) FramesWritten() int64 {
	return w.framesWritten
}

// SamplesWritten returns the number of audio sample frames written so far.
func (w *Writer) SamplesWritten() int64 {
	return w.samplesWritten
}

// Open creates the file and writes the headers. Calling Open again after a
// successful call does nothing.
func (w *Writer) Open() error {
	if w.closed {
		return &Error{Op: "open", Path: w.path, Err: ErrClosed}
	}
	if w.opened {
		return nil
	}
	f, err := w.opts.Create(w.path)
	if err != nil {
		return &Error{Op: "open", Path: w.path, Err: err}
	}
	w.file = f
	w.bw = bufio.NewWriterSize(f, 64*1024)
	w.pos = 0
	if err := w.writeHeaders(); err != nil {
		_ = f.Close()
		w.file = nil
		return &Error{Op: "write headers", Path: w.path, Err: err}
	}
	w.opened = true
	w.logger.Debug("opened avi",
		slog.String("path", w.path),
		slog.String("codec", w.opts.Codec.Handler()),
		slog.Bool("audio", w.opts.Audio != nil),
	)
	return nil
}

func (w *Writer) write(v any) error {
	if err := binary.Write(w.bw, binary.LittleEndian, v); err != nil {
		return err
	}
	w.pos += int64(binary.Size(v))
	return nil
}

func (w *Writer) writeBytes(b []byte) error {
	n, err := w.bw.Write(b)
	w.pos += int64(n)
	return err
}

func (w *Writer) writeHeaders() error {
	hasAudio := w.opts.Audio != nil
	streams := uint32(1)
	if hasAudio {
		streams = 2
	}

	videoStrl := uint32(4 + 8 + streamHeaderSize + 8 + bitmapInfoSize)
	audioStrl := uint32(4 + 8 + streamHeaderSize + 8 + waveFormatSize)
	hdrlSize := uint32(4+8+mainHeaderSize) + 8 + videoStrl
	if hasAudio {
		hdrlSize += 8 + audioStrl
	}

	w.riffSizeAt = 4
	if err := w.write(&RIFFHeader{Signature: FourCC(RIFFSignature), Type: FourCC(AVISignature)}); err != nil {
		return err
	}
	if err := w.write(&LISTHeader{ChunkHeader: ChunkHeader{ID: FourCC(LISTSignature), Size: hdrlSize}, Type: FourCC(HDRLList)}); err != nil {
		return err
	}

	fps := w.video.FramesPerSecond()
	w.avihAt = w.pos + 8
	if err := w.write(&ChunkHeader{ID: FourCC(AVIHChunk), Size: mainHeaderSize}); err != nil {
		return err
	}
	if err := w.write(w.mainHeader(fps, streams)); err != nil {
		return err
	}

	// video stream
	if err := w.write(&LISTHeader{ChunkHeader: ChunkHeader{ID: FourCC(LISTSignature), Size: videoStrl}, Type: FourCC(STRLList)}); err != nil {
		return err
	}
	w.videoStrhAt = w.pos + 8
	if err := w.write(&ChunkHeader{ID: FourCC(STRHChunk), Size: streamHeaderSize}); err != nil {
		return err
	}
	if err := w.write(w.videoStreamHeader(fps)); err != nil {
		return err
	}
	if err := w.write(&ChunkHeader{ID: FourCC(STRFChunk), Size: bitmapInfoSize}); err != nil {
		return err
	}
	if err := w.write(w.bitmapInfo()); err != nil {
		return err
	}

	if hasAudio {
		if err := w.write(&LISTHeader{ChunkHeader: ChunkHeader{ID: FourCC(LISTSignature), Size: audioStrl}, Type: FourCC(STRLList)}); err != nil {
			return err
		}
		w.audioStrhAt = w.pos + 8
		if err := w.write(&ChunkHeader{ID: FourCC(STRHChunk), Size: streamHeaderSize}); err != nil {
			return err
		}
		if err := w.write(w.audioStreamHeader()); err != nil {
			return err
		}
		if err := w.write(&ChunkHeader{ID: FourCC(STRFChunk), Size: waveFormatSize}); err != nil {
			return err
		}
		if err := w.write(w.waveFormat()); err != nil {
			return err
		}
	}

	if w.opts.Software != "" {
		if err := w.writeInfo(w.opts.Software); err != nil {
			return err
		}
	}

	w.moviSizeAt = w.pos + 4
	if err := w.write(&LISTHeader{ChunkHeader: ChunkHeader{ID: FourCC(LISTSignature)}, Type: FourCC(MOVIList)}); err != nil {
		return err
	}
	w.moviStart = w.pos - 4
	return nil
}

func (w *Writer) writeInfo(software string) error {
	data := append([]byte(software), 0)
	size := uint32(len(data))
	if err := w.write(&LISTHeader{
		ChunkHeader: ChunkHeader{ID: FourCC(LISTSignature), Size: 4 + 8 + AlignSize(size)},
		Type:        FourCC(INFOList),
	}); err != nil {
		return err
	}
	if err := w.write(&ChunkHeader{ID: FourCC(ISFTChunk), Size: size}); err != nil {
		return err
	}
	if size%2 == 1 {
		data = append(data, 0)
	}
	return w.writeBytes(data)
}

func (w *Writer) mainHeader(fps *big.Rat, streams uint32) *MainHeader {
	usec := new(big.Rat).Quo(big.NewRat(1_000_000, 1), fps)
	f, _ := usec.Float64()
	return &MainHeader{
		MicroSecPerFrame: uint32(f + 0.5),
		Flags:            flagHasIndex | flagIsInterleaved | flagTrustCKType,
		TotalFrames:      uint32(w.framesWritten),
		Streams:          streams,
		Width:            uint32(w.opts.Width),
		Height:           uint32(w.opts.Height),
	}
}

func (w *Writer) videoStreamHeader(fps *big.Rat) *StreamHeader {
	rate, scale := ratParts(fps)
	h := &StreamHeader{
		Type:                FourCC(StreamTypeVideo),
		Handler:             FourCC(w.opts.Codec.Handler()),
		Scale:               scale,
		Rate:                rate,
		Length:              uint32(w.framesWritten),
		SuggestedBufferSize: w.maxChunkSize,
		Quality:             0xFFFFFFFF,
	}
	h.Frame.Right = uint16(w.opts.Width)
	h.Frame.Bottom = uint16(w.opts.Height)
	return h
}

func (w *Writer) audioStreamHeader() *StreamHeader {
	align := uint32(w.blockAlign())
	rate := uint32(w.opts.Audio.Sync.SamplesPerSecond())
	return &StreamHeader{
		Type:       FourCC(StreamTypeAudio),
		Scale:      align,
		Rate:       rate * align,
		Length:     uint32(w.samplesWritten),
		Quality:    0xFFFFFFFF,
		SampleSize: align,
	}
}

func (w *Writer) bitmapInfo() *BitmapInfoHeader {
	c := w.opts.Codec
	return &BitmapInfoHeader{
		Size:        bitmapInfoSize,
		Width:       int32(w.opts.Width),
		Height:      int32(w.opts.Height),
		Planes:      1,
		BitCount:    c.BitCount(),
		Compression: c.Compression(),
		SizeImage:   c.ImageSize(w.opts.Width, w.opts.Height),
	}
}

func (w *Writer) waveFormat() *WaveFormat {
	align := w.blockAlign()
	rate := uint32(w.opts.Audio.Sync.SamplesPerSecond())
	return &WaveFormat{
		FormatTag:      waveFormatPCM,
		Channels:       uint16(w.opts.Audio.Channels),
		SamplesPerSec:  rate,
		AvgBytesPerSec: rate * uint32(align),
		BlockAlign:     align,
		BitsPerSample:  16,
	}
}

func (w *Writer) blockAlign() uint16 {
	return uint16(w.opts.Audio.Channels * 2)
}

// ratParts reduces r to a numerator and denominator that fit uint32.
func ratParts(r *big.Rat) (uint32, uint32) {
	num, den := new(big.Int).Set(r.Num()), new(big.Int).Set(r.Denom())
	limit := big.NewInt(1 << 32)
	for num.Cmp(limit) >= 0 || den.Cmp(limit) >= 0 {
		num.Rsh(num, 1)
		den.Rsh(den, 1)
	}
	if den.Sign() == 0 {
		den.SetInt64(1)
	}
	return uint32(num.Uint64()), uint32(den.Uint64())
}

func (w *Writer) writeChunk(id [4]byte, data []byte, keyframe bool) error {
	offset := w.pos - w.moviStart
	size := uint32(len(data))
	if err := w.write(&ChunkHeader{ID: id, Size: size}); err != nil {
		return err
	}
	if err := w.writeBytes(data); err != nil {
		return err
	}
	if size%2 == 1 {
		if err := w.writeBytes([]byte{0}); err != nil {
			return err
		}
	}
	var flags uint32
	if keyframe {
		flags = indexKeyframe
	}
	w.index = append(w.index, IndexEntry{ChunkID: id, Flags: flags, Offset: uint32(offset), Size: size})
	w.maxChunkSize = max(w.maxChunkSize, size)
	return nil
}

// WriteFrame writes the frame presented at endSector, preceded by any
// duplicate frames the sync clock asks for. frame is only used for logging.
func (w *Writer) WriteFrame(img *image.YCbCr, endSector int, frame *disc.FrameNumber) error {
	if err := w.checkOpen("write frame"); err != nil {
		return err
	}
	if err := w.prepareForFrame(endSector, frame); err != nil {
		return err
	}
	var err error
	w.frame, err = w.opts.Codec.Encode(w.frame[:0], img, w.opts.Width, w.opts.Height)
	if err != nil {
		return &Error{Op: "encode frame", Path: w.path, Err: err}
	}
	return w.writeVideo(w.frame)
}

// WriteErrorFrame writes a frame showing msg in place of a frame that could
// not be decoded, keeping the frame count in step with the disc clock.
func (w *Writer) WriteErrorFrame(msg string, endSector int, frame *disc.FrameNumber) error {
	if err := w.checkOpen("write error frame"); err != nil {
		return err
	}
	if w.errBuf == nil {
		w.errBuf = mdec.NewFrameBuffer(w.opts.Width, w.opts.Height)
	}
	mdec.Clear(w.errBuf)
	errframe.Render(w.errBuf, w.opts.Width, w.opts.Height, msg)
	return w.WriteFrame(w.errBuf, endSector, frame)
}

func (w *Writer) writeVideo(data []byte) error {
	if err := w.writeChunk(w.videoID, data, true); err != nil {
		return &Error{Op: "write frame", Path: w.path, Err: err}
	}
	w.last = append(w.last[:0], data...)
	w.framesWritten++
	return nil
}

// prepareForFrame writes the duplicates needed before the next real frame.
// With nothing written yet the first duplicate is a blank frame.
func (w *Writer) prepareForFrame(endSector int, frame *disc.FrameNumber) error {
	catchUp := w.video.FramesToCatchUp(endSector, w.framesWritten)
	if catchUp < 0 {
		attrs := []any{
			slog.Int("end_sector", endSector),
			slog.Int64("frames_written", w.framesWritten),
			slog.Int64("catch_up", catchUp),
		}
		if frame != nil {
			attrs = append(attrs, slog.String("frame", frame.String()))
		}
		w.logger.Warn("frame arrived ahead of the disc clock", attrs...)
		return nil
	}
	for ; catchUp > 0; catchUp-- {
		if w.framesWritten == 0 {
			if err := w.writeBlank(); err != nil {
				return err
			}
			continue
		}
		if err := w.writeChunkDup(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeBlank() error {
	if w.blank == nil {
		buf := mdec.NewFrameBuffer(w.opts.Width, w.opts.Height)
		mdec.Clear(buf)
		data, err := w.opts.Codec.Encode(nil, buf, w.opts.Width, w.opts.Height)
		if err != nil {
			return &Error{Op: "encode blank frame", Path: w.path, Err: err}
		}
		w.blank = data
	}
	return w.writeVideo(w.blank)
}

func (w *Writer) writeChunkDup() error {
	if err := w.writeChunk(w.videoID, w.last, true); err != nil {
		return &Error{Op: "write frame", Path: w.path, Err: err}
	}
	w.framesWritten++
	return nil
}

// WriteAudio writes interleaved 16-bit PCM presented at presentationSector.
// The first call writes the stream's initial silence; every call first
// pads with the silence the sync clock asks for.
func (w *Writer) WriteAudio(pcm []int16, presentationSector *big.Rat) error {
	if err := w.checkOpen("write audio"); err != nil {
		return err
	}
	if w.opts.Audio == nil {
		return &Error{Op: "write audio", Path: w.path, Err: errors.New("file has no audio stream")}
	}
	channels := w.opts.Audio.Channels
	if len(pcm)%channels != 0 {
		return &Error{Op: "write audio", Path: w.path, Err: fmt.Errorf("%d samples is not a whole number of %d-channel frames", len(pcm), channels)}
	}
	avs := w.opts.Audio.Sync

	if !w.audioStarted {
		w.audioStarted = true
		if n := avs.InitialAudio(); n > 0 {
			if err := w.writeSilence(n); err != nil {
				return err
			}
		}
	}
	catchUp := avs.AudioToCatchUp(presentationSector, w.samplesWritten)
	if catchUp < 0 {
		w.logger.Warn("audio ahead of the disc clock",
			slog.String("sector", presentationSector.FloatString(2)),
			slog.Int64("catch_up", catchUp),
		)
	} else if catchUp > 0 {
		if err := w.writeSilence(catchUp); err != nil {
			return err
		}
	}

	w.pcm = w.pcm[:0]
	for _, s := range pcm {
		w.pcm = binary.LittleEndian.AppendUint16(w.pcm, uint16(s))
	}
	if err := w.writeChunk(w.audioID, w.pcm, true); err != nil {
		return &Error{Op: "write audio", Path: w.path, Err: err}
	}
	w.samplesWritten += int64(len(pcm) / channels)
	return nil
}

// writeSilence writes n silent sample frames, at most one second per chunk.
func (w *Writer) writeSilence(n int64) error {
	align := int64(w.blockAlign())
	perChunk := int64(w.opts.Audio.Sync.SamplesPerSecond())
	for n > 0 {
		count := min(n, perChunk)
		size := int(count * align)
		if cap(w.silence) < size {
			w.silence = make([]byte, size)
		}
		if err := w.writeChunk(w.audioID, w.silence[:size], true); err != nil {
			return &Error{Op: "write silence", Path: w.path, Err: err}
		}
		w.samplesWritten += count
		n -= count
	}
	return nil
}

func (w *Writer) checkOpen(op string) error {
	if w.closed {
		return &Error{Op: op, Path: w.path, Err: ErrClosed}
	}
	if !w.opened {
		return &Error{Op: op, Path: w.path, Err: ErrNotOpen}
	}
	return nil
}

// Close writes the index, patches the header sizes and counts, and closes
// the file. It does nothing when the writer was never opened or is already
// closed.
func (w *Writer) Close() error {
	if w.closed || !w.opened {
		w.closed = true
		return nil
	}
	w.closed = true

	err := w.finish()
	if cerr := w.file.Close(); err == nil && cerr != nil {
		err = &Error{Op: "close", Path: w.path, Err: cerr}
	}
	w.logger.Debug("closed avi",
		slog.String("path", w.path),
		slog.Int64("frames", w.framesWritten),
		slog.Int64("samples", w.samplesWritten),
	)
	return err
}

func (w *Writer) finish() error {
	moviEnd := w.pos
	if err := w.write(&ChunkHeader{ID: FourCC(IDX1Chunk), Size: uint32(len(w.index) * indexEntrySize)}); err != nil {
		return &Error{Op: "write index", Path: w.path, Err: err}
	}
	for i := range w.index {
		if err := w.write(&w.index[i]); err != nil {
			return &Error{Op: "write index", Path: w.path, Err: err}
		}
	}
	if err := w.bw.Flush(); err != nil {
		return &Error{Op: "flush", Path: w.path, Err: err}
	}

	fps := w.video.FramesPerSecond()
	patches := []struct {
		at int64
		v  any
	}{
		{w.riffSizeAt, uint32(w.pos - 8)},
		{w.moviSizeAt, uint32(moviEnd - w.moviStart)},
		{w.avihAt, w.mainHeader(fps, w.streams())},
		{w.videoStrhAt, w.videoStreamHeader(fps)},
	}
	if w.opts.Audio != nil {
		patches = append(patches, struct {
			at int64
			v  any
		}{w.audioStrhAt, w.audioStreamHeader()})
	}
	for _, p := range patches {
		if err := w.patch(p.at, p.v); err != nil {
			return &Error{Op: "patch header", Path: w.path, Err: err}
		}
	}
	return nil
}

func (w *Writer) streams() uint32 {
	if w.opts.Audio != nil {
		return 2
	}
	return 1
}

func (w *Writer) patch(at int64, v any) error {
	buf := make([]byte, 0, binary.Size(v))
	buf, err := binary.Append(buf, binary.LittleEndian, v)
	if err != nil {
		return err
	}
	_, err = w.file.WriteAt(buf, at)
	return err
}
