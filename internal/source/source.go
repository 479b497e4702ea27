// Package source turns a directory of per-frame bitstream dumps, plus an
// optional raw XA audio file, into the sector stream a save consumes. It
// stands in for a disc index when only demuxed frames are available.
package source

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"

	"github.com/m35/jpsxdec-sub004/internal/audio"
	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// VideoPayloadSize is the user data one video sector carries.
const VideoPayloadSize = 2016

// Options configure Open.
type Options struct {
	// StartSector is the number given to the first frame's first sector.
	StartSector      int
	SectorsPerFrame  *big.Rat
	SectorsPerSecond int
	// AudioPath names a file of concatenated XA sector payloads. Empty
	// for video only.
	AudioPath   string
	AudioRate   int
	AudioStereo bool
	Logger      *slog.Logger
}

type frameLayout struct {
	path   string
	size   int
	start  int
	chunks int
}

func (f frameLayout) end() int { return f.start + f.chunks - 1 }

// Dir is a frame-dump directory laid out on a synthetic disc.
type Dir struct {
	opts   Options
	frames []frameLayout
	logger *slog.Logger

	audioSectors   int
	audioStride    *big.Rat
	audioPerSector int

	// iteration state
	frame     int
	chunk     int
	data      []byte
	audioNext int
	audioFile *os.File
}

// Open scans dir and lays the frames out on sectors. Frame i starts at
// StartSector + floor(i * SectorsPerFrame), or right after the previous
// frame when that one ran long.
func Open(dir string, opts Options) (*Dir, error) {
	if opts.SectorsPerFrame == nil || opts.SectorsPerFrame.Sign() <= 0 {
		return nil, errors.New("source: sectors per frame must be positive")
	}
	if opts.SectorsPerSecond <= 0 {
		opts.SectorsPerSecond = 150
	}
	d := &Dir{opts: opts, logger: observability.WithComponent(opts.Logger, "source")}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	audioAbs, _ := filepath.Abs(opts.AudioPath)
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if abs, _ := filepath.Abs(path); opts.AudioPath != "" && abs == audioAbs {
			continue
		}
		names = append(names, path)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("source: no frame files in %s", dir)
	}

	next := opts.StartSector
	for i, path := range names {
		size, err := frameSize(path)
		if err != nil {
			return nil, err
		}
		nominal := opts.StartSector + floorMul(i, opts.SectorsPerFrame)
		start := max(nominal, next)
		chunks := max((size+VideoPayloadSize-1)/VideoPayloadSize, 1)
		d.frames = append(d.frames, frameLayout{path: path, size: size, start: start, chunks: chunks})
		next = start + chunks
	}

	if opts.AudioPath != "" {
		if err := d.layoutAudio(); err != nil {
			return nil, err
		}
	}
	d.logger.Debug("opened frame dump",
		slog.String("dir", dir),
		slog.Int("frames", len(d.frames)),
		slog.Int("audio_sectors", d.audioSectors),
	)
	return d, nil
}

func (d *Dir) layoutAudio() error {
	if d.opts.AudioRate <= 0 {
		return errors.New("source: audio rate must be positive")
	}
	info, err := os.Stat(d.opts.AudioPath)
	if err != nil {
		return fmt.Errorf("reading audio file: %w", err)
	}
	dec, err := audio.NewXADecoder(4, d.opts.AudioStereo)
	if err != nil {
		return err
	}
	d.audioSectors = int(info.Size() / audio.SectorPayloadSize)
	d.audioPerSector = dec.SamplesPerSector()
	// sectors between audio sectors so that each plays for exactly its length
	d.audioStride = big.NewRat(int64(d.opts.SectorsPerSecond*d.audioPerSector), int64(d.opts.AudioRate))
	return nil
}

func floorMul(i int, r *big.Rat) int {
	p := new(big.Rat).Mul(big.NewRat(int64(i), 1), r)
	return int(new(big.Int).Div(p.Num(), p.Denom()).Int64())
}

// Frames returns the number of frame files.
func (d *Dir) Frames() int {
	return len(d.frames)
}

// Item describes the dump as a disc item.
func (d *Dir) Item(name string, width, height, discSpeed int) disc.Item {
	last := d.frames[len(d.frames)-1].end()
	item := disc.Item{
		Name:                    name,
		Width:                   width,
		Height:                  height,
		StartSector:             d.opts.StartSector,
		EndSector:               last,
		FrameCount:              len(d.frames),
		DiscSpeed:               discSpeed,
		SectorsPerFrame:         new(big.Rat).Set(d.opts.SectorsPerFrame),
		FirstPresentationSector: d.frames[0].end(),
	}
	if d.audioSectors > 0 {
		item.Audio = &disc.AudioInfo{
			SampleRate:              d.opts.AudioRate,
			Stereo:                  d.opts.AudioStereo,
			FirstPresentationSector: d.audioSector(0),
		}
		item.EndSector = max(item.EndSector, d.audioSector(d.audioSectors-1))
	}
	return item
}

func (d *Dir) audioSector(k int) int {
	return d.opts.StartSector + floorMul(k, d.audioStride)
}

// Next implements disc.Iterator. Sectors come out in sector order; an
// audio sector sharing a number with a video sector comes first.
func (d *Dir) Next(ctx context.Context) (disc.Sector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	haveVideo := d.frame < len(d.frames)
	haveAudio := d.audioNext < d.audioSectors
	switch {
	case haveAudio && (!haveVideo || d.audioSector(d.audioNext) <= d.frames[d.frame].start+d.chunk):
		return d.nextAudio()
	case haveVideo:
		return d.nextVideo()
	default:
		return nil, io.EOF
	}
}

func (d *Dir) nextVideo() (disc.Sector, error) {
	f := d.frames[d.frame]
	if d.chunk == 0 {
		data, err := readFrame(f.path)
		if err != nil {
			return nil, err
		}
		d.data = data
	}
	payload := make([]byte, VideoPayloadSize)
	if off := d.chunk * VideoPayloadSize; off < len(d.data) {
		copy(payload, d.data[off:])
	}
	s := &videoSector{
		number:     f.start + d.chunk,
		frame:      d.frame + 1,
		chunk:      d.chunk,
		chunkCount: f.chunks,
		payload:    payload,
	}
	d.chunk++
	if d.chunk == f.chunks {
		d.frame++
		d.chunk = 0
		d.data = nil
	}
	return s, nil
}

func (d *Dir) nextAudio() (disc.Sector, error) {
	if d.audioFile == nil {
		f, err := os.Open(d.opts.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("opening audio file: %w", err)
		}
		d.audioFile = f
	}
	payload := make([]byte, audio.SectorPayloadSize)
	if _, err := io.ReadFull(d.audioFile, payload); err != nil {
		return nil, fmt.Errorf("reading audio sector %d: %w", d.audioNext, err)
	}
	s := &audioSector{
		number:  d.audioSector(d.audioNext),
		rate:    d.opts.AudioRate,
		stereo:  d.opts.AudioStereo,
		payload: payload,
	}
	d.audioNext++
	if d.audioNext == d.audioSectors {
		d.audioFile.Close()
		d.audioFile = nil
	}
	return s, nil
}

// Close releases the audio file if iteration stopped early.
func (d *Dir) Close() error {
	if d.audioFile != nil {
		err := d.audioFile.Close()
		d.audioFile = nil
		return err
	}
	return nil
}

func frameSize(path string) (int, error) {
	rc, err := openFrame(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return int(n), nil
}

func readFrame(path string) ([]byte, error) {
	rc, err := openFrame(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// openFrame opens a frame file, decompressing it when its magic bytes
// say gzip, bzip2 or xz, or its extension says brotli.
func openFrame(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	rc := &readCloser{closers: []io.Closer{f}}

	if strings.EqualFold(filepath.Ext(path), ".br") {
		rc.Reader = brotli.NewReader(f)
		return rc, nil
	}

	br := bufio.NewReader(f)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("peeking header of %s: %w", path, err)
	}

	rc.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		rc.Reader = gzr
		rc.closers = append([]io.Closer{gzr}, rc.closers...)

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		rc.Reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		rc.Reader = xzr
	}
	return rc, nil
}

type videoSector struct {
	number     int
	frame      int
	chunk      int
	chunkCount int
	payload    []byte
}

func (s *videoSector) Number() int           { return s.number }
func (s *videoSector) Kind() disc.StreamKind { return disc.StreamVideo }
func (s *videoSector) Payload() []byte       { return s.payload }
func (s *videoSector) FrameNumber() int      { return s.frame }
func (s *videoSector) Chunk() int            { return s.chunk }
func (s *videoSector) ChunkCount() int       { return s.chunkCount }

type audioSector struct {
	number  int
	rate    int
	stereo  bool
	payload []byte
}

func (s *audioSector) Number() int           { return s.number }
func (s *audioSector) Kind() disc.StreamKind { return disc.StreamAudio }
func (s *audioSector) Payload() []byte       { return s.payload }
func (s *audioSector) SampleRate() int       { return s.rate }
func (s *audioSector) Stereo() bool          { return s.stereo }
func (s *audioSector) BitsPerSample() int    { return 4 }

var (
	_ disc.VideoSector = (*videoSector)(nil)
	_ disc.AudioSector = (*audioSector)(nil)
)
