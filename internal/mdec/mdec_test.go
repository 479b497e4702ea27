package mdec

import (
	"encoding/binary"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatFrame builds blocks for a frame where every luma block has DC yDC and
// every chroma block has DC 0.
func flatFrame(width, height, yDC int) []Block {
	blocks := make([]Block, 0, BlockCount(width, height))
	for i := 0; i < BlockCount(width, height); i++ {
		b := Block{Qscale: 1}
		if i%BlocksPerMacroblock >= BlockY1 {
			b.DC = yDC
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func TestMacroblockDims(t *testing.T) {
	mbw, mbh := MacroblockDims(320, 240)
	assert.Equal(t, 20, mbw)
	assert.Equal(t, 15, mbh)

	mbw, mbh = MacroblockDims(33, 1)
	assert.Equal(t, 3, mbw)
	assert.Equal(t, 1, mbh)

	assert.Equal(t, 20*15*6, BlockCount(320, 240))
}

func TestBlock_AppendCodes(t *testing.T) {
	b := Block{Qscale: 5, DC: -3, AC: []RunLevel{{Run: 0, Level: 7}, {Run: 4, Level: -2}}}
	codes := b.AppendCodes(nil)
	require.Len(t, codes, 8)

	assert.Equal(t, uint16(5<<10|(0x3FF&uint16(0xFFFD))), binary.LittleEndian.Uint16(codes[0:]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(codes[2:]))
	second := binary.LittleEndian.Uint16(codes[4:])
	assert.Equal(t, 4, int(second>>10))
	assert.Equal(t, -2, SignExtend10(second))
	assert.Equal(t, EndOfBlock, binary.LittleEndian.Uint16(codes[6:]))
}

func TestBlock_Validate(t *testing.T) {
	tests := []struct {
		name  string
		block Block
		ok    bool
	}{
		{"dc only", Block{Qscale: 1, DC: 10}, true},
		{"full block", Block{Qscale: 1, AC: []RunLevel{{Run: 62, Level: 1}}}, true},
		{"run overflow", Block{Qscale: 1, AC: []RunLevel{{Run: 63, Level: 1}}}, false},
		{"qscale too big", Block{Qscale: 64}, false},
		{"dc too big", Block{Qscale: 1, DC: 600}, false},
		{"level too small", Block{Qscale: 1, AC: []RunLevel{{Level: -513}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCorrupt)
			}
		})
	}
}

func TestDecoder_FlatFrame(t *testing.T) {
	for _, q := range []Quality{QualityHigh, QualityFast} {
		t.Run(q.String(), func(t *testing.T) {
			buf := NewFrameBuffer(32, 16)
			dec := NewDecoder(q)

			// DC 100 dequantises to 200, which the IDCT spreads as 200/8 = 25
			err := dec.Decode(&SliceSource{Blocks: flatFrame(32, 16, 100)}, buf)
			require.NoError(t, err)

			for _, v := range buf.Y {
				require.Equal(t, uint8(153), v)
			}
			for i := range buf.Cb {
				require.Equal(t, uint8(128), buf.Cb[i])
				require.Equal(t, uint8(128), buf.Cr[i])
			}
		})
	}
}

func TestDecoder_ColumnMajorOrder(t *testing.T) {
	buf := NewFrameBuffer(16, 32)
	blocks := flatFrame(16, 32, 0)
	// second macroblock in stream order is the one below the first
	for i := BlocksPerMacroblock + BlockY1; i < 2*BlocksPerMacroblock; i++ {
		blocks[i].DC = 40
	}

	require.NoError(t, NewDecoder(QualityHigh).Decode(&SliceSource{Blocks: blocks}, buf))

	assert.Equal(t, uint8(128), buf.Y[0])
	assert.Equal(t, uint8(138), buf.Y[20*buf.YStride])
}

func TestDecoder_Truncated(t *testing.T) {
	buf := NewFrameBuffer(32, 16)
	blocks := flatFrame(32, 16, 100)[:BlocksPerMacroblock]

	err := NewDecoder(QualityHigh).Decode(&SliceSource{Blocks: blocks}, buf)
	require.ErrorIs(t, err, ErrTruncated)

	// first macroblock is decoded, second left untouched
	assert.Equal(t, uint8(153), buf.Y[0])
	assert.Equal(t, uint8(0), buf.Y[16])
}

func TestDecoder_Corrupt(t *testing.T) {
	buf := NewFrameBuffer(16, 16)
	blocks := flatFrame(16, 16, 0)
	blocks[2].AC = []RunLevel{{Run: 70, Level: 1}}

	err := NewDecoder(QualityFast).Decode(&SliceSource{Blocks: blocks}, buf)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecoder_RejectsUnalignedBuffer(t *testing.T) {
	buf := image.NewYCbCr(image.Rect(0, 0, 20, 16), image.YCbCrSubsampleRatio420)
	err := NewDecoder(QualityHigh).Decode(&SliceSource{}, buf)
	assert.Error(t, err)
}

func TestToRGB_Gray(t *testing.T) {
	src := NewFrameBuffer(16, 16)
	for i := range src.Y {
		src.Y[i] = 128
	}
	for i := range src.Cb {
		src.Cb[i], src.Cr[i] = 128, 128
	}

	for _, q := range []Quality{QualityHigh, QualityFast} {
		dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
		ToRGB(src, dst, q)
		assert.Equal(t, []uint8{128, 128, 128, 255}, dst.Pix[0:4])
		assert.Equal(t, []uint8{128, 128, 128, 255}, dst.Pix[len(dst.Pix)-4:])
	}
}

func TestToRGB_Red(t *testing.T) {
	src := NewFrameBuffer(16, 16)
	for i := range src.Y {
		src.Y[i] = 76
	}
	for i := range src.Cb {
		src.Cb[i], src.Cr[i] = 85, 255
	}
	dst := image.NewRGBA(image.Rect(0, 0, 16, 16))
	ToRGB(src, dst, QualityHigh)

	r, g, b := dst.Pix[0], dst.Pix[1], dst.Pix[2]
	assert.InDelta(t, 254, int(r), 2)
	assert.InDelta(t, 0, int(g), 2)
	assert.InDelta(t, 0, int(b), 2)
}

func TestAppendYV12(t *testing.T) {
	src := NewFrameBuffer(16, 16)
	for i := range src.Y {
		src.Y[i] = 255
	}
	for i := range src.Cb {
		src.Cb[i], src.Cr[i] = 0, 255
	}

	jfif := AppendYV12(nil, src, 4, 2, ConventionJFIF)
	require.Len(t, jfif, YV12Size(4, 2))
	assert.Equal(t, []byte{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 0, 0}, jfif)

	rec := AppendYV12(nil, src, 4, 2, ConventionRec601)
	assert.Equal(t, byte(235), rec[0])
	// Cr plane precedes Cb
	assert.Equal(t, byte(240), rec[8])
	assert.Equal(t, byte(16), rec[10])
}

func TestParseQualityAndConvention(t *testing.T) {
	q, err := ParseQuality("fast")
	require.NoError(t, err)
	assert.Equal(t, QualityFast, q)
	_, err = ParseQuality("best")
	assert.Error(t, err)

	c, err := ParseConvention("jfif")
	require.NoError(t, err)
	assert.Equal(t, ConventionJFIF, c)
	_, err = ParseConvention("bt709")
	assert.Error(t, err)
}
