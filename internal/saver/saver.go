// Package saver drives one save: it pulls sectors for a disc item,
// reassembles video frames, pushes them through the decoding pipeline and
// routes audio into the AVI or a standalone audio file.
package saver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/m35/jpsxdec-sub004/internal/audio"
	"github.com/m35/jpsxdec-sub004/internal/avi"
	"github.com/m35/jpsxdec-sub004/internal/avsync"
	"github.com/m35/jpsxdec-sub004/internal/bitstream"
	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/naming"
	"github.com/m35/jpsxdec-sub004/internal/observability"
	"github.com/m35/jpsxdec-sub004/internal/progress"
	"github.com/m35/jpsxdec-sub004/internal/storage"
	"github.com/m35/jpsxdec-sub004/internal/vdp"
	"github.com/m35/jpsxdec-sub004/pkg/format"
)

// Options are the user's choices for a save.
type Options struct {
	Format      Format
	OutputDir   string
	Naming      naming.Scheme
	Quality     mdec.Quality
	Convention  mdec.Convention
	JPEGQuality int
	// SaveAudio muxes audio into AVI output, or writes it to a separate
	// file for image sequence output.
	SaveAudio   bool
	AudioFormat audio.Format
	EmulateAV   bool
	// Software is recorded in AVI files.
	Software string
}

// Deps are the collaborators a save uses.
type Deps struct {
	// Registry defaults to bitstream.DefaultRegistry.
	Registry *bitstream.Registry
	// Reporter defaults to progress.NilReporter.
	Reporter progress.Reporter
	Logger   *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	// Err is nil on success. Frame-level failures never end up here.
	Err error
	// Files lists every file produced, including on failure.
	Files []string
	// Frames is the number of video frames pushed through the pipeline.
	Frames int
	// AudioSectors is the number of audio sectors decoded.
	AudioSectors int
}

// Saver is one runnable save. It is not safe for concurrent use and runs
// once.
type Saver struct {
	id     string
	item   disc.Item
	iter   disc.Iterator
	opts   Options
	deps   Deps
	logger *slog.Logger

	out *storage.OutputDir
	ran bool
}

type operationIDer interface {
	OperationID() string
}

// MakeSaver validates the save and returns it ready to Run.
func MakeSaver(item disc.Item, iter disc.Iterator, opts Options, deps Deps) (*Saver, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if iter == nil {
		return nil, errors.New("saver: no sector iterator")
	}
	f, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	opts.Format = f
	if !opts.Format.IsAVI() && opts.Naming == naming.Single && item.FrameCount > 1 {
		return nil, fmt.Errorf("saver: %s output of %d frames needs numbered file names", opts.Format, item.FrameCount)
	}
	if (opts.Format == FormatAviYUV || opts.Format == FormatAviJYUV) && (item.Width%2 != 0 || item.Height%2 != 0) {
		return nil, fmt.Errorf("saver: %s needs even dimensions, got %dx%d", opts.Format, item.Width, item.Height)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 90
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("saver: jpeg quality %d outside 1-100", opts.JPEGQuality)
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.NilReporter{}
	}

	id := ulid.Make().String()
	if r, ok := deps.Reporter.(operationIDer); ok {
		id = r.OperationID()
	}
	logger := observability.WithComponent(deps.Logger, "saver")
	logger = observability.WithSave(logger, id).With(slog.String("item", item.Name))

	return &Saver{
		id:     id,
		item:   item,
		iter:   iter,
		opts:   opts,
		deps:   deps,
		logger: logger,
	}, nil
}

// ID returns the save's operation ID.
func (s *Saver) ID() string {
	return s.id
}

// Files returns the files produced so far, or nil before Run starts.
func (s *Saver) Files() []string {
	if s.out == nil {
		return nil
	}
	return s.out.Files()
}

func (s *Saver) hasAudio() bool {
	return s.opts.SaveAudio && s.item.Audio != nil
}

func (s *Saver) aviName() string {
	return s.item.Name + ".avi"
}

func (s *Saver) audioName() string {
	return s.item.Name + "." + s.opts.AudioFormat.String()
}

func (s *Saver) names() *naming.Formatter {
	maxValue := s.item.EndSector
	if s.opts.Naming == naming.Index {
		maxValue = s.item.FrameCount - 1
		if s.item.FrameCount <= 0 {
			maxValue = s.item.EndSector - s.item.StartSector
		}
	}
	return naming.NewFormatter("", s.item.Name, s.opts.Format.Ext(), s.opts.Naming, maxValue)
}

// Summary describes the chosen options for display before a save.
func (s *Saver) Summary() string {
	var b strings.Builder
	fps := s.item.FramesPerSecond()

	fmt.Fprintf(&b, "Item: %s (%dx%d)\n", s.item.Name, s.item.Width, s.item.Height)
	fmt.Fprintf(&b, "Format: %s", s.opts.Format)
	if s.opts.Format.decodes() {
		fmt.Fprintf(&b, ", %s quality decoding", s.opts.Quality)
	}
	switch s.opts.Format {
	case FormatJPG, FormatAviMJPEG:
		fmt.Fprintf(&b, ", JPEG quality %d", s.opts.JPEGQuality)
	case FormatAviYUV:
		fmt.Fprintf(&b, ", %s levels", s.opts.Convention)
	}
	b.WriteString("\n")

	if s.opts.Format.IsAVI() {
		fmt.Fprintf(&b, "Output: %s\n", joinDir(s.opts.OutputDir, s.aviName()))
	} else {
		fmt.Fprintf(&b, "Output: %s\n", joinDir(s.opts.OutputDir, s.names().Pattern()))
	}

	fmt.Fprintf(&b, "Frames: %s at %s (%s sectors/s)\n",
		format.Number(int64(s.item.FrameCount)),
		format.Rate(fps, "fps"),
		format.Number(int64(s.item.SectorsPerSecond())),
	)
	if s.item.FrameCount > 0 {
		seconds := new(big.Rat).Quo(big.NewRat(int64(s.item.FrameCount), 1), fps)
		fmt.Fprintf(&b, "Duration: %s\n", format.Timecode(seconds))
	}

	switch {
	case s.item.Audio == nil:
		b.WriteString("Audio: none\n")
	case !s.opts.SaveAudio:
		b.WriteString("Audio: not saved\n")
	default:
		channels := "mono"
		if s.item.Audio.Stereo {
			channels = "stereo"
		}
		where := "muxed"
		if !s.opts.Format.IsAVI() {
			where = joinDir(s.opts.OutputDir, s.audioName())
		}
		fmt.Fprintf(&b, "Audio: %s Hz %s, %s", format.Number(int64(s.item.Audio.SampleRate)), channels, where)
		if s.opts.EmulateAV && s.opts.Format.IsAVI() {
			b.WriteString(", emulating hardware timing")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func joinDir(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

// Run performs the save. Cancelling ctx stops it between sectors; output
// flushed so far stays on disk.
func (s *Saver) Run(ctx context.Context) Result {
	if s.ran {
		return Result{Err: errors.New("saver: already run"), Files: s.Files()}
	}
	s.ran = true

	var err error
	done := observability.TimedOperationWithError(ctx, s.logger, "save", &err)
	defer done()

	res := Result{}
	s.out, err = storage.NewOutputDir(s.opts.OutputDir)
	if err != nil {
		res.Err = err
		s.deps.Reporter.End(err)
		return res
	}
	s.out.Begin()
	s.warnOverwrites()
	if n, cerr := s.out.CleanupOrphanedTemp(s.logger, storage.DefaultCleanupAge); cerr != nil {
		s.logger.Warn("temp file cleanup failed", slog.String("error", cerr.Error()))
	} else if n > 0 {
		s.logger.Info("cleaned orphaned temp files", slog.Int("removed_count", n))
	}

	err = s.run(ctx, &res)
	if err != nil {
		err = fmt.Errorf("saving %s: %w", s.item.Name, err)
	}
	res.Err = err
	res.Files = s.out.Files()
	s.deps.Reporter.End(err)

	s.logger.Info("save finished",
		slog.Int("frames", res.Frames),
		slog.Int("audio_sectors", res.AudioSectors),
		slog.Int("files", len(res.Files)),
		slog.String("size", format.Bytes(totalSize(res.Files))),
	)
	return res
}

// warnOverwrites logs the single-file outputs this save is about to replace.
func (s *Saver) warnOverwrites() {
	var paths []string
	if s.opts.Format.IsAVI() {
		paths = append(paths, s.aviName())
	} else if s.hasAudio() {
		paths = append(paths, s.audioName())
	}
	for _, p := range paths {
		exists, err := s.out.Exists(p)
		if err != nil {
			observability.WithError(s.logger, err).Warn("cannot check output file", slog.String("path", p))
			continue
		}
		if exists {
			s.logger.Warn("overwriting existing file", slog.String("path", p))
		}
	}
}

func totalSize(files []string) int64 {
	var n int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			n += info.Size()
		}
	}
	return n
}

// run owns the pipeline and audio writer lifetimes. Close errors are only
// reported when the loop itself succeeded.
func (s *Saver) run(ctx context.Context, res *Result) (err error) {
	st, err := s.newState()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := st.pipeline.Open(); err != nil {
		return err
	}

	start, end := s.item.StartSector, s.item.EndSector
	s.deps.Reporter.Start(end - start + 1)
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("save cancelled", slog.Int("frames", res.Frames))
			return err
		}
		sector, err := s.iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading sector: %w", err)
		}
		n := sector.Number()
		if n < start || n > end {
			continue
		}

		switch sec := sector.(type) {
		case disc.VideoSector:
			if err := st.video(sec, res); err != nil {
				return err
			}
		case disc.AudioSector:
			if err := st.audio(sec, res); err != nil {
				return err
			}
		}
		s.deps.Reporter.Update(n-start+1, fmt.Sprintf("frame %d", res.Frames))
	}
	return st.flush(res)
}

// state is the per-run machinery.
type state struct {
	s        *Saver
	pipeline *vdp.Pipeline
	buf      *vdp.GrowBuffer

	// demux
	pending     bool
	frameNumber int
	firstSector int
	lastSector  int
	received    int
	chunkCount  int

	// frame number of the first video sector seen; indexes count from it
	baseFrame int
	haveBase  bool

	// audio
	audioLog     *slog.Logger
	audioWriter  *audio.FileWriter
	audioSync    *avsync.AudioVideoSync
	audioStarted bool
	silence      *audio.SilenceBuffer
	xa           *audio.XADecoder
	pcm          []int16
}

func (s *Saver) newState() (*state, error) {
	st := &state{
		s:        s,
		buf:      vdp.NewGrowBuffer(16 * 1024),
		audioLog: observability.WithOperation(s.logger, "audio"),
	}
	item := s.item
	sps := item.SectorsPerSecond()

	deps := vdp.Deps{
		Width:       item.Width,
		Height:      item.Height,
		Registry:    s.deps.Registry,
		Quality:     s.opts.Quality,
		Convention:  s.opts.Convention,
		Names:       s.names(),
		Store:       s.out,
		ImageFormat: s.opts.Format.imageFormat(),
		JPEGQuality: s.opts.JPEGQuality,
		Software:    s.opts.Software,
		Logger:      s.logger,
	}

	if s.opts.Format.IsAVI() {
		deps.AviPath = s.aviName()
		if s.hasAudio() {
			avs, err := avsync.NewAudioVideoSync(
				item.FirstPresentationSector, sps, item.SectorsPerFrame,
				item.Audio.FirstPresentationSector, item.Audio.SampleRate, s.opts.EmulateAV,
			)
			if err != nil {
				return nil, err
			}
			deps.Audio = &avi.AudioFormat{Channels: item.Audio.Channels(), Sync: avs}
		} else {
			vs, err := avsync.NewVideoSync(item.FirstPresentationSector, sps, item.SectorsPerFrame, 0)
			if err != nil {
				return nil, err
			}
			deps.VideoSync = vs
		}
	}

	p, err := vdp.Build(s.opts.Format.Topology(), deps)
	if err != nil {
		return nil, err
	}
	st.pipeline = p

	if s.hasAudio() && !s.opts.Format.IsAVI() {
		// the standalone file keeps the same clock as a muxed AVI would
		avs, err := avsync.NewAudioVideoSync(
			item.FirstPresentationSector, sps, item.SectorsPerFrame,
			item.Audio.FirstPresentationSector, item.Audio.SampleRate, s.opts.EmulateAV,
		)
		if err != nil {
			return nil, err
		}
		w, err := audio.NewFileWriter(s.audioName(), audio.FileWriterOptions{
			Format:     s.opts.AudioFormat,
			SampleRate: item.Audio.SampleRate,
			Channels:   item.Audio.Channels(),
			Create:     func(path string) (audio.File, error) { return s.out.Create(path) },
			Logger:     st.audioLog,
		})
		if err != nil {
			return nil, err
		}
		st.audioSync = avs
		st.audioWriter = w
		st.silence = audio.NewSilenceBuffer(item.Audio.SampleRate)
	}
	return st, nil
}

func (st *state) video(sec disc.VideoSector, res *Result) error {
	if st.pending && sec.FrameNumber() != st.frameNumber {
		st.s.logger.Warn("frame incomplete, pushing what arrived",
			slog.Int("frame", st.frameNumber),
			slog.Int("chunks", st.received),
			slog.Int("expected", st.chunkCount),
		)
		if err := st.push(res); err != nil {
			return err
		}
	}
	if !st.haveBase {
		st.haveBase = true
		st.baseFrame = sec.FrameNumber()
	}
	if !st.pending {
		st.pending = true
		st.frameNumber = sec.FrameNumber()
		st.firstSector = sec.Number()
		st.chunkCount = sec.ChunkCount()
		st.received = 0
		st.buf.Reset()
	}
	payload := sec.Payload()
	st.buf.WriteAt(payload, sec.Chunk()*len(payload))
	st.received++
	st.lastSector = sec.Number()
	if st.received >= st.chunkCount {
		return st.push(res)
	}
	return nil
}

func (st *state) push(res *Result) error {
	st.pending = false
	f := vdp.Frame{
		Number:    disc.FrameNumber{Index: st.frameNumber - st.baseFrame, Sector: st.firstSector},
		EndSector: st.lastSector,
	}
	res.Frames++
	return st.pipeline.Frame(st.buf.Bytes(), st.buf.Len(), f)
}

func (st *state) flush(res *Result) error {
	if !st.pending {
		return nil
	}
	st.s.logger.Warn("last frame incomplete", slog.Int("chunks", st.received), slog.Int("expected", st.chunkCount))
	return st.push(res)
}

func (st *state) audio(sec disc.AudioSector, res *Result) error {
	if !st.s.hasAudio() {
		return nil
	}
	if st.xa == nil {
		dec, err := audio.NewXADecoder(sec.BitsPerSample(), sec.Stereo())
		if err != nil {
			return err
		}
		st.xa = dec
	}
	var err error
	st.pcm, err = st.xa.DecodeSector(st.pcm[:0], sec.Payload())
	if err != nil {
		st.audioLog.Warn("audio sector not decoded",
			slog.Int("sector", sec.Number()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	res.AudioSectors++

	presentation := big.NewRat(int64(sec.Number()), 1)
	if st.audioWriter != nil {
		return st.writeAudioFile(presentation)
	}
	return st.pipeline.AVI().WriteAudio(st.pcm, presentation)
}

// writeAudioFile pads the standalone file with silence so each sector lands
// at its disc time, as the AVI writer does for muxed audio.
func (st *state) writeAudioFile(presentation *big.Rat) error {
	if !st.audioStarted {
		st.audioStarted = true
		if n := st.audioSync.InitialAudio(); n > 0 {
			if err := st.audioWriter.WriteSilence(n, st.silence); err != nil {
				return err
			}
		}
	}
	catchUp := st.audioSync.AudioToCatchUp(presentation, st.audioWriter.Frames())
	if catchUp < 0 {
		st.audioLog.Warn("audio ahead of the disc clock",
			slog.String("sector", presentation.FloatString(2)),
			slog.Int64("catch_up", catchUp),
		)
	} else if catchUp > 0 {
		if err := st.audioWriter.WriteSilence(catchUp, st.silence); err != nil {
			return err
		}
	}
	return st.audioWriter.Write(st.pcm)
}

func (st *state) close() error {
	var errs []error
	if st.audioWriter != nil {
		errs = append(errs, st.audioWriter.Close())
	}
	errs = append(errs, st.pipeline.Close())
	return errors.Join(errs...)
}
