package vdp

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/m35/jpsxdec-sub004/internal/avi"
	"github.com/m35/jpsxdec-sub004/internal/avsync"
	"github.com/m35/jpsxdec-sub004/internal/bitstream"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/naming"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// Source is the representation the terminal sink consumes.
type Source int

// Pipeline sources.
const (
	SourceBitstream Source = iota
	SourceMdec
	SourceDecoded
)

func (s Source) String() string {
	switch s {
	case SourceBitstream:
		return "bitstream"
	case SourceMdec:
		return "mdec"
	case SourceDecoded:
		return "decoded"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Output is the terminal sink kind.
type Output int

// Pipeline outputs.
const (
	// OutputFile dumps the source representation, one file per frame.
	OutputFile Output = iota
	// OutputJPEG decodes MDEC codes straight to JPEG files.
	OutputJPEG
	// OutputImage writes decoded frames as PNG, BMP or JPEG files.
	OutputImage
	OutputAviRGB
	OutputAviYUV
	OutputAviJYUV
	OutputAviMJPEG
)

func (o Output) String() string {
	switch o {
	case OutputFile:
		return "file"
	case OutputJPEG:
		return "jpeg"
	case OutputImage:
		return "image"
	case OutputAviRGB:
		return "avi:rgb"
	case OutputAviYUV:
		return "avi:yuv"
	case OutputAviJYUV:
		return "avi:jyuv"
	case OutputAviMJPEG:
		return "avi:mjpg"
	default:
		return fmt.Sprintf("output(%d)", int(o))
	}
}

// IsAVI reports whether the output is an AVI container.
func (o Output) IsAVI() bool {
	return o >= OutputAviRGB && o <= OutputAviMJPEG
}

// Topology selects one of the supported pipeline shapes.
type Topology struct {
	Source Source
	Output Output
}

func (t Topology) String() string {
	return t.Source.String() + "->" + t.Output.String()
}

// Validate rejects combinations the pipeline cannot build.
func (t Topology) Validate() error {
	switch {
	case t.Source == SourceBitstream && t.Output == OutputFile,
		t.Source == SourceMdec && (t.Output == OutputFile || t.Output == OutputJPEG),
		t.Source == SourceDecoded && (t.Output == OutputImage || t.Output.IsAVI()):
		return nil
	}
	return fmt.Errorf("unsupported pipeline topology %s", t)
}

// Deps carries what Build needs to construct a pipeline.
type Deps struct {
	Width  int
	Height int
	// Registry defaults to bitstream.DefaultRegistry.
	Registry *bitstream.Registry
	Quality  mdec.Quality
	// Convention applies to OutputAviYUV; OutputAviJYUV is always JFIF.
	Convention mdec.Convention

	// file outputs
	Names       *naming.Formatter
	Store       FileStore
	ImageFormat ImageFormat
	JPEGQuality int

	// AVI outputs
	AviPath   string
	VideoSync *avsync.VideoSync
	Audio     *avi.AudioFormat
	Software  string

	Logger *slog.Logger
}

// Pipeline is one save's chain of stages. It is not safe for concurrent
// use.
type Pipeline struct {
	topology Topology
	entry    BitstreamListener
	mdec     *MdecStage
	avi      *avi.Writer
}

// Build wires the stages for t.
func Build(t Topology, deps Deps) (*Pipeline, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if deps.Width <= 0 || deps.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", deps.Width, deps.Height)
	}
	logger := observability.OrDiscard(deps.Logger)
	p := &Pipeline{topology: t}

	if t.Output.IsAVI() {
		w, err := newAviWriter(t.Output, deps, logger)
		if err != nil {
			return nil, err
		}
		p.avi = w
	} else if deps.Names == nil || deps.Store == nil {
		return nil, errors.New("file output needs a name formatter and a file store")
	}

	if t.Source == SourceBitstream {
		p.entry = NewBitstreamFileSink(deps.Names, deps.Store)
		return p, nil
	}

	p.mdec = NewMdecStage(deps.Registry, deps.Width, deps.Height, logger)
	p.entry = p.mdec

	switch t.Source {
	case SourceMdec:
		if t.Output == OutputJPEG {
			p.mdec.SetListener(NewJpegFileSink(deps.Names, deps.Store, deps.Quality, deps.Width, deps.Height, deps.JPEGQuality, logger))
		} else {
			p.mdec.SetListener(NewMdecFileSink(deps.Names, deps.Store, logger))
		}
	case SourceDecoded:
		decode := NewDecodeStage(deps.Quality, deps.Width, deps.Height, logger)
		if p.avi != nil {
			decode.SetListener(NewAviSink(p.avi))
		} else {
			decode.SetListener(NewImageFileSink(deps.Names, deps.Store, deps.ImageFormat, deps.Quality, deps.Width, deps.Height, deps.JPEGQuality))
		}
		p.mdec.SetListener(decode)
	}
	return p, nil
}

func newAviWriter(out Output, deps Deps, logger *slog.Logger) (*avi.Writer, error) {
	var codec avi.Codec
	switch out {
	case OutputAviRGB:
		codec = avi.NewDIB(deps.Quality)
	case OutputAviYUV:
		codec = avi.NewYUV(deps.Convention)
	case OutputAviJYUV:
		codec = avi.NewYUV(mdec.ConventionJFIF)
	default:
		codec = avi.NewMJPEG(deps.JPEGQuality)
	}
	opts := avi.Options{
		Width:    deps.Width,
		Height:   deps.Height,
		Codec:    codec,
		Sync:     deps.VideoSync,
		Audio:    deps.Audio,
		Software: deps.Software,
		Logger:   logger,
	}
	if deps.Store != nil {
		opts.Create = func(path string) (avi.File, error) { return deps.Store.Create(path) }
	}
	return avi.NewWriter(deps.AviPath, opts)
}

// Topology returns the pipeline's shape.
func (p *Pipeline) Topology() Topology {
	return p.topology
}

// AVI returns the pipeline's container writer, or nil for file outputs.
func (p *Pipeline) AVI() *avi.Writer {
	return p.avi
}

// Format returns the last identified bitstream format, if the pipeline
// identifies formats.
func (p *Pipeline) Format() string {
	if p.mdec == nil {
		return ""
	}
	return p.mdec.Format()
}

// Open prepares the output. For AVI outputs it creates the file and
// writes the headers; it is safe to call more than once.
func (p *Pipeline) Open() error {
	if p.avi != nil {
		return p.avi.Open()
	}
	return nil
}

// Frame pushes the first n bytes of buf through the pipeline as frame f.
// Per-frame identify and decode failures are handled inside; a returned
// error means an output failed.
func (p *Pipeline) Frame(buf []byte, n int, f Frame) error {
	if err := p.Open(); err != nil {
		return err
	}
	return p.entry.Bitstream(buf, n, f)
}

// Close finishes the output. It is a no-op for file outputs and for an
// AVI that was never opened.
func (p *Pipeline) Close() error {
	if p.avi != nil {
		return p.avi.Close()
	}
	return nil
}
