package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewXADecoder_Validation(t *testing.T) {
	_, err := NewXADecoder(16, false)
	assert.Error(t, err)

	tests := []struct {
		bits    int
		stereo  bool
		frames  int
		channel int
	}{
		{4, false, 4032, 1},
		{4, true, 2016, 2},
		{8, false, 2016, 1},
		{8, true, 1008, 2},
	}
	for _, tt := range tests {
		d, err := NewXADecoder(tt.bits, tt.stereo)
		require.NoError(t, err)
		assert.Equal(t, tt.frames, d.SamplesPerSector())
		assert.Equal(t, tt.channel, d.Channels())
	}
}

func TestXADecoder_SilentSector(t *testing.T) {
	d, err := NewXADecoder(4, true)
	require.NoError(t, err)

	pcm, err := d.DecodeSector(nil, make([]byte, SectorPayloadSize))
	require.NoError(t, err)
	require.Len(t, pcm, d.SamplesPerSector()*2)
	for _, s := range pcm {
		if s != 0 {
			t.Fatalf("expected silence, got %d", s)
		}
	}
}

func TestXADecoder_ShortPayload(t *testing.T) {
	d, err := NewXADecoder(8, false)
	require.NoError(t, err)
	_, err = d.DecodeSector(nil, make([]byte, 100))
	assert.Error(t, err)
}

func TestXADecoder_FilterPrediction(t *testing.T) {
	d, err := NewXADecoder(4, false)
	require.NoError(t, err)

	payload := make([]byte, SectorPayloadSize)
	payload[4] = 0x10 // unit 0: filter 1, shift 0
	payload[soundGroupHeader] = 0x01

	pcm, err := d.DecodeSector(nil, payload)
	require.NoError(t, err)
	assert.Equal(t, []int16{4096, 3840, 3600}, pcm[:3])
}

func TestXADecoder_NegativeNibble(t *testing.T) {
	d, err := NewXADecoder(4, false)
	require.NoError(t, err)

	payload := make([]byte, SectorPayloadSize)
	payload[4] = 0x02 // shift 2
	payload[soundGroupHeader] = 0x0F

	pcm, err := d.DecodeSector(nil, payload)
	require.NoError(t, err)
	assert.Equal(t, int16(-1024), pcm[0])
}

func TestXADecoder_StereoInterleave(t *testing.T) {
	d, err := NewXADecoder(8, true)
	require.NoError(t, err)

	payload := make([]byte, SectorPayloadSize)
	payload[soundGroupHeader+0] = 1    // left
	payload[soundGroupHeader+1] = 0xFE // right, -2

	pcm, err := d.DecodeSector(nil, payload)
	require.NoError(t, err)
	assert.Equal(t, []int16{256, -512}, pcm[:2])
}

func TestXADecoder_HistoryAcrossSectors(t *testing.T) {
	d, err := NewXADecoder(8, false)
	require.NoError(t, err)

	first := make([]byte, SectorPayloadSize)
	last := (SoundGroupsPerSec-1)*SoundGroupSize + soundGroupHeader + (SamplesPerUnit-1)*4 + 3
	first[last] = 1

	_, err = d.DecodeSector(nil, first)
	require.NoError(t, err)

	second := make([]byte, SectorPayloadSize)
	second[4] = 0x10
	pcm, err := d.DecodeSector(nil, second)
	require.NoError(t, err)
	assert.Equal(t, int16(240), pcm[0])

	d.Reset()
	pcm, err = d.DecodeSector(pcm[:0], second)
	require.NoError(t, err)
	assert.Equal(t, int16(0), pcm[0])
}

func TestClamp16(t *testing.T) {
	assert.Equal(t, 32767, clamp16(40000))
	assert.Equal(t, -32768, clamp16(-40000))
	assert.Equal(t, 12, clamp16(12))
}
