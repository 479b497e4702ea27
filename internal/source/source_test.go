package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/m35/jpsxdec-sub004/internal/audio"
	"github.com/m35/jpsxdec-sub004/internal/disc"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func bzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func xzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write(data)
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func brotlied(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

// testDump writes four frames of 2, 1, 13 and 1 sectors using every
// supported compression.
func testDump(t *testing.T) (string, [][]byte) {
	t.Helper()
	dir := t.TempDir()
	frames := [][]byte{
		pattern(3000, 1),
		pattern(100, 2),
		pattern(25000, 3),
		pattern(10, 4),
	}
	writeFile(t, filepath.Join(dir, "f0000.bin"), frames[0])
	writeFile(t, filepath.Join(dir, "f0001.bin.gz"), gzipped(t, frames[1]))
	writeFile(t, filepath.Join(dir, "f0002.bin.bz2"), bzipped(t, frames[2]))
	writeFile(t, filepath.Join(dir, "f0003.bin.xz"), xzipped(t, frames[3]))
	writeFile(t, filepath.Join(dir, ".hidden"), []byte("ignored"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	return dir, frames
}

func drain(t *testing.T, it disc.Iterator) []disc.Sector {
	t.Helper()
	var out []disc.Sector
	for {
		s, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, s)
	}
}

func TestOpen_Layout(t *testing.T) {
	dir, _ := testDump(t)
	d, err := Open(dir, Options{SectorsPerFrame: big.NewRat(10, 1)})
	require.NoError(t, err)
	assert.Equal(t, 4, d.Frames())

	item := d.Item("MOVIE", 320, 240, 2)
	require.NoError(t, item.Validate())
	assert.Equal(t, 0, item.StartSector)
	assert.Equal(t, 33, item.EndSector)
	assert.Equal(t, 4, item.FrameCount)
	assert.Equal(t, 1, item.FirstPresentationSector)
	assert.Nil(t, item.Audio)

	var numbers []int
	for _, s := range drain(t, d) {
		numbers = append(numbers, s.Number())
	}
	want := []int{0, 1, 10}
	for n := 20; n <= 32; n++ {
		want = append(want, n)
	}
	want = append(want, 33)
	assert.Equal(t, want, numbers)
}

func TestOpen_ReassemblesCompressedFrames(t *testing.T) {
	dir, frames := testDump(t)
	d, err := Open(dir, Options{SectorsPerFrame: big.NewRat(10, 1)})
	require.NoError(t, err)

	got := map[int][]byte{}
	for _, s := range drain(t, d) {
		vs, ok := s.(disc.VideoSector)
		require.True(t, ok)
		assert.Equal(t, disc.StreamVideo, vs.Kind())
		assert.Len(t, vs.Payload(), VideoPayloadSize)
		got[vs.FrameNumber()] = append(got[vs.FrameNumber()], vs.Payload()...)
	}
	require.Len(t, got, 4)
	for i, want := range frames {
		data := got[i+1]
		assert.Equal(t, want, data[:len(want)], "frame %d", i)
		assert.Equal(t, make([]byte, len(data)-len(want)), data[len(want):], "frame %d padding", i)
	}
}

func TestOpen_Brotli(t *testing.T) {
	dir := t.TempDir()
	data := pattern(5000, 9)
	writeFile(t, filepath.Join(dir, "frame.br"), brotlied(t, data))

	d, err := Open(dir, Options{SectorsPerFrame: big.NewRat(15, 2)})
	require.NoError(t, err)
	sectors := drain(t, d)
	require.Len(t, sectors, 3)
	assert.Equal(t, data[:VideoPayloadSize], sectors[0].Payload())
}

func TestOpen_FractionalSectorsPerFrame(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		writeFile(t, filepath.Join(dir, "f"+string(rune('a'+i))), pattern(10, byte(i)))
	}
	d, err := Open(dir, Options{StartSector: 100, SectorsPerFrame: big.NewRat(15, 2)})
	require.NoError(t, err)

	var numbers []int
	for _, s := range drain(t, d) {
		numbers = append(numbers, s.Number())
	}
	assert.Equal(t, []int{100, 107, 115, 122}, numbers)
}

func TestOpen_InterleavesAudio(t *testing.T) {
	dir, _ := testDump(t)
	audioPath := filepath.Join(t.TempDir(), "audio.xa")
	writeFile(t, audioPath, make([]byte, 3*audio.SectorPayloadSize))

	d, err := Open(dir, Options{
		SectorsPerFrame:  big.NewRat(10, 1),
		SectorsPerSecond: 150,
		AudioPath:        audioPath,
		AudioRate:        37800,
		AudioStereo:      true,
	})
	require.NoError(t, err)

	item := d.Item("MOVIE", 320, 240, 2)
	require.NotNil(t, item.Audio)
	assert.Equal(t, 2, item.Audio.Channels())
	assert.Equal(t, 0, item.Audio.FirstPresentationSector)

	var audioNumbers []int
	var kinds []disc.StreamKind
	for _, s := range drain(t, d) {
		kinds = append(kinds, s.Kind())
		if as, ok := s.(disc.AudioSector); ok {
			audioNumbers = append(audioNumbers, as.Number())
			assert.Equal(t, 37800, as.SampleRate())
			assert.True(t, as.Stereo())
			assert.Equal(t, 4, as.BitsPerSample())
		}
	}
	assert.Equal(t, []int{0, 8, 16}, audioNumbers)
	assert.Equal(t, disc.StreamAudio, kinds[0])
	assert.Equal(t, disc.StreamAudio, kinds[3])
	require.NoError(t, d.Close())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(t.TempDir(), Options{SectorsPerFrame: big.NewRat(10, 1)})
	assert.Error(t, err, "empty directory")

	_, err = Open(t.TempDir(), Options{})
	assert.Error(t, err, "no sectors per frame")

	_, err = Open(filepath.Join(t.TempDir(), "missing"), Options{SectorsPerFrame: big.NewRat(10, 1)})
	assert.Error(t, err)

	dir, _ := testDump(t)
	_, err = Open(dir, Options{SectorsPerFrame: big.NewRat(10, 1), AudioPath: filepath.Join(dir, "nope.xa"), AudioRate: 37800})
	assert.Error(t, err)
}

func TestNext_Cancelled(t *testing.T) {
	dir, _ := testDump(t)
	d, err := Open(dir, Options{SectorsPerFrame: big.NewRat(10, 1)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
