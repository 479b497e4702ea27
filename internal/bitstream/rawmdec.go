package bitstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/m35/jpsxdec-sub004/internal/mdec"
)

// RawMdecName is the name of the uncompressed MDEC code stream format.
const RawMdecName = "mdec"

// RawMdecFormat is a frame stored as plain little-endian 16-bit MDEC codes,
// the layout the MDEC file sink writes. A buffer is accepted when it holds
// exactly one frame's worth of blocks, optionally followed by zero padding.
type RawMdecFormat struct{}

// Name implements Format.
func (RawMdecFormat) Name() string { return RawMdecName }

// Identify implements Format.
func (RawMdecFormat) Identify(buf []byte, width, height int) (Decoder, bool) {
	d := &rawMdecDecoder{blocks: mdec.BlockCount(width, height)}
	if !d.Reset(buf) {
		return nil, false
	}
	return d, true
}

type rawMdecDecoder struct {
	blocks int
	buf    []byte
	pos    int
	read   int
}

func (d *rawMdecDecoder) Format() string { return RawMdecName }

func (d *rawMdecDecoder) Reset(buf []byte) bool {
	if !validRawFrame(buf, d.blocks) {
		return false
	}
	d.buf = buf
	d.pos = 0
	d.read = 0
	return true
}

func (d *rawMdecDecoder) Next(b *mdec.Block) error {
	if d.read >= d.blocks {
		return io.EOF
	}
	b.Reset()
	code, ok := d.code()
	if !ok {
		return fmt.Errorf("%w: block %d has no header", mdec.ErrCorrupt, d.read)
	}
	b.Qscale = int(code >> 10)
	b.DC = mdec.SignExtend10(code)
	for {
		code, ok = d.code()
		if !ok {
			return fmt.Errorf("%w: block %d not terminated", mdec.ErrCorrupt, d.read)
		}
		if code == mdec.EndOfBlock {
			break
		}
		b.AC = append(b.AC, mdec.RunLevel{Run: int(code >> 10), Level: mdec.SignExtend10(code)})
	}
	d.read++
	return nil
}

func (d *rawMdecDecoder) code() (uint16, bool) {
	if d.pos+2 > len(d.buf) {
		return 0, false
	}
	c := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return c, true
}

// validRawFrame walks buf as MDEC codes and checks it holds exactly blocks
// blocks whose runs stay inside 8x8.
func validRawFrame(buf []byte, blocks int) bool {
	if blocks <= 0 {
		return false
	}
	pos := 0
	for n := 0; n < blocks; n++ {
		if pos+2 > len(buf) {
			return false
		}
		pos += 2
		coef := 0
		for {
			if pos+2 > len(buf) {
				return false
			}
			c := binary.LittleEndian.Uint16(buf[pos:])
			pos += 2
			if c == mdec.EndOfBlock {
				break
			}
			coef += int(c>>10) + 1
			if coef > 63 {
				return false
			}
		}
	}
	for _, b := range buf[pos:] {
		if b != 0 {
			return false
		}
	}
	return true
}
