package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// Format is an audio file container.
type Format int

// Audio file formats.
const (
	WAV Format = iota
	AIFF
)

// String returns the format's file extension.
func (f Format) String() string {
	if f == AIFF {
		return "aiff"
	}
	return "wav"
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "wav", "":
		return WAV, nil
	case "aiff", "aif":
		return AIFF, nil
	default:
		return WAV, fmt.Errorf("unknown audio format %q", s)
	}
}

// File is the destination of a FileWriter. *os.File satisfies it.
type File interface {
	io.Writer
	io.WriterAt
	io.Closer
}

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("audio: writer closed")

// FileWriter writes 16-bit PCM to a WAV or AIFF file. Samples pushed with
// Write travel through a pipe to a worker goroutine that encodes them;
// Close waits for the worker to drain the pipe and finish the header, so to
// the caller the writer behaves like blocking file I/O.
type FileWriter struct {
	path     string
	format   Format
	rate     int
	channels int
	logger   *slog.Logger

	pw     *io.PipeWriter
	group  *errgroup.Group
	mu     sync.Mutex
	closed bool
	buf    []byte
	frames int64
}

// FileWriterOptions configure NewFileWriter.
type FileWriterOptions struct {
	Format     Format
	SampleRate int
	Channels   int
	// Create opens the output file. Defaults to os.Create.
	Create func(path string) (File, error)
	Logger *slog.Logger
}

// NewFileWriter creates path, writes a provisional header and starts the
// encoding worker. It returns once the worker is running.
func NewFileWriter(path string, opts FileWriterOptions) (*FileWriter, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", opts.SampleRate)
	}
	if opts.Channels != 1 && opts.Channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", opts.Channels)
	}
	create := opts.Create
	if create == nil {
		create = func(p string) (File, error) { return os.Create(p) }
	}
	f, err := create(path)
	if err != nil {
		return nil, fmt.Errorf("creating audio file %s: %w", path, err)
	}

	pr, pw := io.Pipe()
	w := &FileWriter{
		path:     path,
		format:   opts.Format,
		rate:     opts.SampleRate,
		channels: opts.Channels,
		logger:   observability.WithComponent(observability.OrDiscard(opts.Logger), "audio_writer"),
		pw:       pw,
		group:    new(errgroup.Group),
	}

	started := make(chan struct{})
	w.group.Go(func() error {
		close(started)
		err := w.encode(f, pr)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		// unblock a writer still pushing after a failure
		_ = pr.CloseWithError(err)
		return err
	})
	<-started
	return w, nil
}

// Path returns the output path.
func (w *FileWriter) Path() string {
	return w.path
}

// Frames returns the sample frames written so far.
func (w *FileWriter) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Write pushes interleaved samples to the worker.
func (w *FileWriter) Write(pcm []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if len(pcm)%w.channels != 0 {
		return fmt.Errorf("audio: %d samples is not a whole number of %d-channel frames", len(pcm), w.channels)
	}
	w.buf = w.buf[:0]
	for _, s := range pcm {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(s))
	}
	if _, err := w.pw.Write(w.buf); err != nil {
		return fmt.Errorf("writing audio to %s: %w", w.path, err)
	}
	w.frames += int64(len(pcm) / w.channels)
	return nil
}

// WriteSilence pushes n silent sample frames.
func (w *FileWriter) WriteSilence(n int64, silence *SilenceBuffer) error {
	for n > 0 {
		chunk := silence.Frames(n, w.channels)
		if err := w.Write(chunk); err != nil {
			return err
		}
		n -= int64(len(chunk) / w.channels)
	}
	return nil
}

// Close ends the stream and waits for the worker to finish the file.
// Closing twice returns nil.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	_ = w.pw.Close()
	w.mu.Unlock()

	if err := w.group.Wait(); err != nil {
		return fmt.Errorf("finishing audio file %s: %w", w.path, err)
	}
	w.logger.Debug("closed audio file",
		slog.String("path", w.path),
		slog.String("format", w.format.String()),
		slog.Int64("frames", w.Frames()),
	)
	return nil
}

// encode runs on the worker goroutine.
func (w *FileWriter) encode(f File, r io.Reader) error {
	bw := bufio.NewWriter(f)
	header := w.header(0)
	if _, err := bw.Write(header); err != nil {
		return err
	}

	var dataBytes int64
	buf := make([]byte, 32*1024)
	for {
		n, err := io.ReadFull(r, buf)
		n &^= 1
		if n > 0 {
			if w.format == AIFF {
				swap16(buf[:n])
			}
			if _, werr := bw.Write(buf[:n]); werr != nil {
				return werr
			}
			dataBytes += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	_, err := f.WriteAt(w.header(dataBytes), 0)
	return err
}

func swap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

func (w *FileWriter) header(dataBytes int64) []byte {
	if w.format == AIFF {
		return aiffHeader(w.rate, w.channels, dataBytes)
	}
	return wavHeader(w.rate, w.channels, dataBytes)
}

func wavHeader(rate, channels int, dataBytes int64) []byte {
	align := channels * 2
	h := make([]byte, 0, 44)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(36+dataBytes))
	h = append(h, "WAVEfmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1)
	h = binary.LittleEndian.AppendUint16(h, uint16(channels))
	h = binary.LittleEndian.AppendUint32(h, uint32(rate))
	h = binary.LittleEndian.AppendUint32(h, uint32(rate*align))
	h = binary.LittleEndian.AppendUint16(h, uint16(align))
	h = binary.LittleEndian.AppendUint16(h, 16)
	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(dataBytes))
	return h
}

func aiffHeader(rate, channels int, dataBytes int64) []byte {
	frames := dataBytes / int64(channels*2)
	h := make([]byte, 0, 54)
	h = append(h, "FORM"...)
	h = binary.BigEndian.AppendUint32(h, uint32(46+dataBytes))
	h = append(h, "AIFFCOMM"...)
	h = binary.BigEndian.AppendUint32(h, 18)
	h = binary.BigEndian.AppendUint16(h, uint16(channels))
	h = binary.BigEndian.AppendUint32(h, uint32(frames))
	h = binary.BigEndian.AppendUint16(h, 16)
	h = appendExtended(h, uint64(rate))
	h = append(h, "SSND"...)
	h = binary.BigEndian.AppendUint32(h, uint32(8+dataBytes))
	h = binary.BigEndian.AppendUint32(h, 0) // offset
	h = binary.BigEndian.AppendUint32(h, 0) // block size
	return h
}

// appendExtended appends v as an 80-bit IEEE 754 extended float.
func appendExtended(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, make([]byte, 10)...)
	}
	e := bits.Len64(v) - 1
	dst = binary.BigEndian.AppendUint16(dst, uint16(16383+e))
	return binary.BigEndian.AppendUint64(dst, v<<(63-e))
}

// SilenceBuffer hands out zeroed sample slices without reallocating.
type SilenceBuffer struct {
	buf []int16
	max int
}

// NewSilenceBuffer creates a buffer that hands out at most maxFrames
// frames per call.
func NewSilenceBuffer(maxFrames int) *SilenceBuffer {
	return &SilenceBuffer{max: max(maxFrames, 1)}
}

// Frames returns up to n silent frames of the given channel count.
func (s *SilenceBuffer) Frames(n int64, channels int) []int16 {
	count := int(min(n, int64(s.max)))
	size := count * channels
	if cap(s.buf) < size {
		s.buf = make([]int16, size)
	}
	return s.buf[:size]
}
