package vdp

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/m35/jpsxdec-sub004/internal/avi"
	"github.com/m35/jpsxdec-sub004/internal/avsync"
	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/naming"
	"github.com/m35/jpsxdec-sub004/internal/storage"
)

const (
	testWidth  = 32
	testHeight = 16
)

// rawFrame encodes a flat frame in the raw MDEC code format.
func rawFrame(yDC int) []byte {
	var out []byte
	for i := 0; i < mdec.BlockCount(testWidth, testHeight); i++ {
		b := mdec.Block{Qscale: 1}
		if i%mdec.BlocksPerMacroblock >= mdec.BlockY1 {
			b.DC = yDC
		}
		out = b.AppendCodes(out)
	}
	return out
}

func frameAt(i int) Frame {
	return Frame{Number: disc.FrameNumber{Index: i, Sector: i * 10}, EndSector: i*10 + 9}
}

type recordingListener struct {
	decoded []uint8
	errors  []*FrameError
	blocks  int
}

func (l *recordingListener) Decoded(img *image.YCbCr, _ Frame) error {
	l.decoded = append(l.decoded, img.Y[0])
	return nil
}

func (l *recordingListener) Mdec(src mdec.BlockSource, _ Frame) error {
	var b mdec.Block
	for src.Next(&b) == nil {
		l.blocks++
	}
	return nil
}

func (l *recordingListener) FrameError(fe *FrameError) error {
	l.errors = append(l.errors, fe)
	return nil
}

func TestStages_RequireListener(t *testing.T) {
	ms := NewMdecStage(nil, testWidth, testHeight, nil)
	assert.ErrorIs(t, ms.Bitstream(rawFrame(0), len(rawFrame(0)), frameAt(0)), ErrNoListener)

	ds := NewDecodeStage(mdec.QualityHigh, testWidth, testHeight, nil)
	assert.ErrorIs(t, ds.Mdec(&mdec.SliceSource{}, frameAt(0)), ErrNoListener)
	assert.ErrorIs(t, ds.FrameError(&FrameError{}), ErrNoListener)
}

func TestMdecStage_UnidentifiedBecomesFrameError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rec := &recordingListener{}
	ms := NewMdecStage(nil, testWidth, testHeight, logger)
	ms.SetListener(rec)

	junk := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, ms.Bitstream(junk, len(junk), frameAt(3)))

	require.Len(t, rec.errors, 1)
	assert.Equal(t, 3, rec.errors[0].Frame.Index)
	assert.Equal(t, 39, rec.errors[0].EndSector)
	assert.NotEmpty(t, rec.errors[0].Message)
	assert.Contains(t, logs.String(), "frame not identified")

	good := rawFrame(100)
	require.NoError(t, ms.Bitstream(good, len(good), frameAt(4)))
	assert.Equal(t, mdec.BlockCount(testWidth, testHeight), rec.blocks)
	assert.Equal(t, "mdec", ms.Format())
}

func TestDecodeStage_PartialFrameStillDelivered(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rec := &recordingListener{}
	ds := NewDecodeStage(mdec.QualityHigh, testWidth, testHeight, logger)
	ds.SetListener(rec)

	// only the first macroblock's blocks
	src := &mdec.SliceSource{Blocks: make([]mdec.Block, mdec.BlocksPerMacroblock)}
	for i := mdec.BlockY1; i < mdec.BlocksPerMacroblock; i++ {
		src.Blocks[i] = mdec.Block{Qscale: 1, DC: 100}
	}
	require.NoError(t, ds.Mdec(src, frameAt(0)))

	assert.Equal(t, []uint8{153}, rec.decoded)
	assert.Contains(t, logs.String(), "frame decode failed")
}

func TestFrameError_Error(t *testing.T) {
	fe := &FrameError{Message: "bad", Frame: disc.FrameNumber{Index: 2, Sector: 20}, EndSector: 29}
	assert.Equal(t, "frame 2@20 (end sector 29): bad", fe.Error())
}

func TestTopology_Validate(t *testing.T) {
	tests := []struct {
		topology Topology
		valid    bool
	}{
		{Topology{SourceBitstream, OutputFile}, true},
		{Topology{SourceMdec, OutputFile}, true},
		{Topology{SourceMdec, OutputJPEG}, true},
		{Topology{SourceDecoded, OutputImage}, true},
		{Topology{SourceDecoded, OutputAviRGB}, true},
		{Topology{SourceDecoded, OutputAviYUV}, true},
		{Topology{SourceDecoded, OutputAviJYUV}, true},
		{Topology{SourceDecoded, OutputAviMJPEG}, true},
		{Topology{SourceBitstream, OutputAviRGB}, false},
		{Topology{SourceBitstream, OutputImage}, false},
		{Topology{SourceDecoded, OutputFile}, false},
		{Topology{SourceMdec, OutputAviMJPEG}, false},
	}
	for _, tt := range tests {
		t.Run(tt.topology.String(), func(t *testing.T) {
			err := tt.topology.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func newStore(t *testing.T) *storage.OutputDir {
	t.Helper()
	od, err := storage.NewOutputDir(t.TempDir())
	require.NoError(t, err)
	od.Begin()
	return od
}

func fileDeps(store *storage.OutputDir, ext string, format ImageFormat) Deps {
	return Deps{
		Width:       testWidth,
		Height:      testHeight,
		Quality:     mdec.QualityHigh,
		Names:       naming.NewFormatter("", "MOVIE", ext, naming.Index, 9),
		Store:       store,
		ImageFormat: format,
		JPEGQuality: 90,
	}
}

func readOutput(t *testing.T, store *storage.OutputDir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(store.BaseDir(), name))
	require.NoError(t, err)
	return data
}

func TestBuild_BitstreamFile(t *testing.T) {
	store := newStore(t)
	p, err := Build(Topology{SourceBitstream, OutputFile}, fileDeps(store, "bin", ImagePNG))
	require.NoError(t, err)

	buf := []byte("compressed frame bytes plus slack")
	require.NoError(t, p.Frame(buf, 10, frameAt(1)))
	require.NoError(t, p.Close())

	assert.Equal(t, []byte("compressed"), readOutput(t, store, "MOVIE_1.bin"))
	assert.Len(t, store.Files(), 1)
	assert.Nil(t, p.AVI())
}

func TestBuild_MdecFile(t *testing.T) {
	store := newStore(t)
	p, err := Build(Topology{SourceMdec, OutputFile}, fileDeps(store, "mdec", ImagePNG))
	require.NoError(t, err)

	frame := rawFrame(100)
	padded := append(append([]byte{}, frame...), 0, 0, 0, 0)
	require.NoError(t, p.Frame(padded, len(padded), frameAt(0)))

	junk := []byte{1, 2, 3}
	require.NoError(t, p.Frame(junk, len(junk), frameAt(1)))

	assert.Equal(t, frame, readOutput(t, store, "MOVIE_0.mdec"))
	assert.Len(t, store.Files(), 1, "failed frame has no mdec file")
	assert.Equal(t, "mdec", p.Format())
}

func TestBuild_JpegDirect(t *testing.T) {
	store := newStore(t)
	p, err := Build(Topology{SourceMdec, OutputJPEG}, fileDeps(store, "jpg", ImageJPEG))
	require.NoError(t, err)

	frame := rawFrame(100)
	require.NoError(t, p.Frame(frame, len(frame), frameAt(0)))
	junk := []byte{1, 2, 3}
	require.NoError(t, p.Frame(junk, len(junk), frameAt(1)))

	for _, name := range []string{"MOVIE_0.jpg", "MOVIE_1.jpg"} {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(readOutput(t, store, name)))
		require.NoError(t, err, name)
		assert.Equal(t, testWidth, cfg.Width)
		assert.Equal(t, testHeight, cfg.Height)
	}
}

func TestBuild_ImageSequence(t *testing.T) {
	tests := []struct {
		format ImageFormat
		decode func([]byte) (image.Image, error)
		exact  bool
	}{
		{ImagePNG, func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) }, true},
		{ImageBMP, func(b []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(b)) }, true},
		{ImageJPEG, func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.format.Ext(), func(t *testing.T) {
			store := newStore(t)
			p, err := Build(Topology{SourceDecoded, OutputImage}, fileDeps(store, tt.format.Ext(), tt.format))
			require.NoError(t, err)

			frame := rawFrame(100)
			require.NoError(t, p.Frame(frame, len(frame), frameAt(0)))
			junk := []byte{0xFF}
			require.NoError(t, p.Frame(junk, len(junk), frameAt(1)))
			assert.Len(t, store.Files(), 2)

			img, err := tt.decode(readOutput(t, store, "MOVIE_0."+tt.format.Ext()))
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, testWidth, testHeight), img.Bounds())
			r, g, b, _ := img.At(5, 5).RGBA()
			if tt.exact {
				assert.Equal(t, []uint32{153, 153, 153}, []uint32{r >> 8, g >> 8, b >> 8})
			} else {
				assert.InDelta(t, 153, float64(r>>8), 3)
			}

			errImg, err := tt.decode(readOutput(t, store, "MOVIE_1."+tt.format.Ext()))
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, testWidth, testHeight), errImg.Bounds())
		})
	}
}

func TestBuild_AviKeepsTimingAcrossErrors(t *testing.T) {
	store := newStore(t)
	vs, err := avsync.NewVideoSync(0, 150, big.NewRat(10, 1), 0)
	require.NoError(t, err)

	deps := Deps{
		Width:       testWidth,
		Height:      testHeight,
		Quality:     mdec.QualityFast,
		Store:       store,
		AviPath:     "MOVIE.avi",
		VideoSync:   vs,
		JPEGQuality: 80,
		Software:    "psxav test",
	}
	outputs := []Output{OutputAviRGB, OutputAviYUV, OutputAviJYUV, OutputAviMJPEG}
	for _, out := range outputs {
		t.Run(out.String(), func(t *testing.T) {
			p, err := Build(Topology{SourceDecoded, out}, deps)
			require.NoError(t, err)
			require.NotNil(t, p.AVI())

			frame := rawFrame(100)
			for i := 0; i < 4; i++ {
				buf := frame
				if i == 2 {
					buf = []byte{0xBA, 0xD0}
				}
				require.NoError(t, p.Frame(buf, len(buf), Frame{
					Number:    disc.FrameNumber{Index: i, Sector: i * 10},
					EndSector: i * 10,
				}))
			}
			require.NoError(t, p.Close())
			require.NoError(t, p.Close())

			f, err := os.Open(filepath.Join(store.BaseDir(), "MOVIE.avi"))
			require.NoError(t, err)
			defer f.Close()
			info, err := avi.ReadInfo(f)
			require.NoError(t, err)
			assert.Equal(t, uint32(4), info.TotalFrames)
			assert.Equal(t, "psxav test", info.Software)
			assert.Equal(t, "15", info.FrameRate().RatString())
		})
	}
}

func TestBuild_Validation(t *testing.T) {
	_, err := Build(Topology{SourceBitstream, OutputAviRGB}, Deps{Width: 16, Height: 16})
	assert.Error(t, err)

	_, err = Build(Topology{SourceBitstream, OutputFile}, Deps{Width: 16, Height: 16})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "name formatter"))

	_, err = Build(Topology{SourceDecoded, OutputAviRGB}, Deps{Width: 0, Height: 16})
	assert.Error(t, err)

	_, err = Build(Topology{SourceDecoded, OutputAviRGB}, Deps{Width: 16, Height: 16, AviPath: "x.avi"})
	assert.Error(t, err, "missing video sync")
}

func TestParseImageFormat(t *testing.T) {
	for _, s := range []string{"png", "bmp", "jpg", "jpeg"} {
		f, err := ParseImageFormat(s)
		require.NoError(t, err)
		if s == "jpeg" {
			assert.Equal(t, "jpg", f.Ext())
		} else {
			assert.Equal(t, s, f.Ext())
		}
	}
	_, err := ParseImageFormat("tga")
	assert.Error(t, err)
}
