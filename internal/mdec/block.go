// Package mdec models the PlayStation motion-decoder coefficient domain and
// turns it into pixels.
//
// A frame is a column-major sequence of 16x16 macroblocks; every macroblock
// is six 8x8 blocks in the order Cr, Cb, Y1, Y2, Y3, Y4. Each block is a
// quantisation scale, a DC coefficient and run/level pairs in zig-zag order.
package mdec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BlocksPerMacroblock is the number of 8x8 blocks in one macroblock.
const BlocksPerMacroblock = 6

// EndOfBlock is the 16-bit MDEC code terminating a block.
const EndOfBlock uint16 = 0xFE00

// Block kinds in macroblock order.
const (
	BlockCr = iota
	BlockCb
	BlockY1
	BlockY2
	BlockY3
	BlockY4
)

// ErrCorrupt reports coefficient data that cannot be a valid block.
var ErrCorrupt = errors.New("mdec: corrupt block")

// RunLevel is one AC coefficient: Run zero coefficients then Level.
type RunLevel struct {
	Run   int
	Level int
}

// Block is one 8x8 block of quantised coefficients.
type Block struct {
	Qscale int
	DC     int
	AC     []RunLevel
}

// Reset clears the block for reuse, keeping the AC slice capacity.
func (b *Block) Reset() {
	b.Qscale = 0
	b.DC = 0
	b.AC = b.AC[:0]
}

// Validate checks the run lengths fit in an 8x8 block and that values fit
// their MDEC code fields.
func (b *Block) Validate() error {
	if b.Qscale < 0 || b.Qscale > 63 {
		return fmt.Errorf("%w: qscale %d out of range", ErrCorrupt, b.Qscale)
	}
	if b.DC < -512 || b.DC > 511 {
		return fmt.Errorf("%w: dc %d out of range", ErrCorrupt, b.DC)
	}
	pos := 0
	for _, rl := range b.AC {
		pos += rl.Run + 1
		if rl.Run < 0 || pos > 63 {
			return fmt.Errorf("%w: run overflows block at position %d", ErrCorrupt, pos)
		}
		if rl.Level < -512 || rl.Level > 511 {
			return fmt.Errorf("%w: level %d out of range", ErrCorrupt, rl.Level)
		}
	}
	return nil
}

// AppendCodes appends the block as little-endian 16-bit MDEC codes,
// terminated by EndOfBlock.
func (b *Block) AppendCodes(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(b.Qscale&0x3F)<<10|uint16(b.DC)&0x3FF)
	for _, rl := range b.AC {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(rl.Run&0x3F)<<10|uint16(rl.Level)&0x3FF)
	}
	return binary.LittleEndian.AppendUint16(dst, EndOfBlock)
}

// SignExtend10 interprets the low 10 bits of code as a signed value.
func SignExtend10(code uint16) int {
	v := int(code & 0x3FF)
	if v&0x200 != 0 {
		v -= 0x400
	}
	return v
}

// BlockSource yields the blocks of one frame in stream order. Next returns
// io.EOF once every block has been produced.
type BlockSource interface {
	Next(b *Block) error
}

// MacroblockDims returns the frame size in macroblocks.
func MacroblockDims(width, height int) (int, int) {
	return (width + 15) / 16, (height + 15) / 16
}

// BlockCount returns the number of blocks a width x height frame holds.
func BlockCount(width, height int) int {
	mbw, mbh := MacroblockDims(width, height)
	return mbw * mbh * BlocksPerMacroblock
}

// SliceSource is a BlockSource over blocks already in memory.
type SliceSource struct {
	Blocks []Block
	pos    int
}

// Next implements BlockSource.
func (s *SliceSource) Next(b *Block) error {
	if s.pos >= len(s.Blocks) {
		return io.EOF
	}
	src := &s.Blocks[s.pos]
	s.pos++
	b.Qscale = src.Qscale
	b.DC = src.DC
	b.AC = append(b.AC[:0], src.AC...)
	return nil
}
