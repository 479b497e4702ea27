// Package audio decodes CD-XA ADPCM sound and writes PCM audio files.
package audio

import (
	"fmt"
)

// CD-XA layout constants.
const (
	SoundGroupSize    = 128
	SoundGroupsPerSec = 18
	SamplesPerUnit    = 28
	soundGroupHeader  = 16

	// SectorPayloadSize is the audio data carried by one XA sector.
	SectorPayloadSize = SoundGroupSize * SoundGroupsPerSec
)

// filter coefficients scaled by 64
var filterK = [4][2]int{
	{0, 0},
	{60, 0},
	{115, -52},
	{98, -55},
}

// XADecoder decodes CD-XA ADPCM sectors of one stream into interleaved
// 16-bit PCM. It keeps the per-channel prediction history between sectors,
// so one decoder must see a stream's sectors in order.
type XADecoder struct {
	bits   int
	stereo bool
	hist   [2][2]int
}

// NewXADecoder creates a decoder for 4 or 8 bit samples.
func NewXADecoder(bitsPerSample int, stereo bool) (*XADecoder, error) {
	if bitsPerSample != 4 && bitsPerSample != 8 {
		return nil, fmt.Errorf("xa: unsupported bits per sample %d", bitsPerSample)
	}
	return &XADecoder{bits: bitsPerSample, stereo: stereo}, nil
}

// Channels returns 2 for stereo streams and 1 otherwise.
func (d *XADecoder) Channels() int {
	if d.stereo {
		return 2
	}
	return 1
}

// SamplesPerSector returns the sample frames one sector decodes to.
func (d *XADecoder) SamplesPerSector() int {
	units := d.unitsPerGroup()
	return SoundGroupsPerSec * units * SamplesPerUnit / d.Channels()
}

func (d *XADecoder) unitsPerGroup() int {
	if d.bits == 4 {
		return 8
	}
	return 4
}

// Reset clears the prediction history.
func (d *XADecoder) Reset() {
	d.hist = [2][2]int{}
}

// DecodeSector appends the PCM of one sector's sound groups to dst.
func (d *XADecoder) DecodeSector(dst []int16, payload []byte) ([]int16, error) {
	if len(payload) < SectorPayloadSize {
		return dst, fmt.Errorf("xa: sector payload of %d bytes, need %d", len(payload), SectorPayloadSize)
	}
	var unit [SamplesPerUnit]int16
	var right [SamplesPerUnit]int16
	units := d.unitsPerGroup()
	for g := 0; g < SoundGroupsPerSec; g++ {
		group := payload[g*SoundGroupSize : (g+1)*SoundGroupSize]
		for u := 0; u < units; u++ {
			ch := 0
			if d.stereo {
				ch = u & 1
			}
			if ch == 0 {
				d.decodeUnit(group, u, ch, unit[:])
				if !d.stereo {
					dst = append(dst, unit[:]...)
				}
				continue
			}
			d.decodeUnit(group, u, ch, right[:])
			for i := range unit {
				dst = append(dst, unit[i], right[i])
			}
		}
	}
	return dst, nil
}

func (d *XADecoder) decodeUnit(group []byte, u, ch int, out []int16) {
	param := group[4+u]
	shift := int(param & 0x0F)
	filter := int(param>>4) & 0x03
	k0, k1 := filterK[filter][0], filterK[filter][1]
	p1, p2 := d.hist[ch][0], d.hist[ch][1]

	for j := 0; j < SamplesPerUnit; j++ {
		var s int
		if d.bits == 4 {
			b := group[soundGroupHeader+j*4+u/2]
			nib := int(b & 0x0F)
			if u&1 == 1 {
				nib = int(b >> 4)
			}
			s = int(int32(uint32(nib)<<28)>>28) << 12 >> shift
		} else {
			s = int(int8(group[soundGroupHeader+j*4+u])) << 8 >> shift
		}
		s += (p1*k0 + p2*k1 + 32) >> 6
		s = clamp16(s)
		out[j] = int16(s)
		p2, p1 = p1, s
	}
	d.hist[ch][0], d.hist[ch][1] = p1, p2
}

func clamp16(v int) int {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return v
}
