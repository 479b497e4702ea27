// Package avi writes and inspects RIFF AVI files holding one video stream
// and an optional 16-bit PCM audio stream.
package avi

import (
	"errors"
	"fmt"
)

// RIFF and AVI identifiers.
const (
	RIFFSignature = "RIFF"
	AVISignature  = "AVI "
	LISTSignature = "LIST"

	HDRLList = "hdrl"
	STRLList = "strl"
	MOVIList = "movi"
	INFOList = "INFO"

	AVIHChunk = "avih"
	STRHChunk = "strh"
	STRFChunk = "strf"
	IDX1Chunk = "idx1"
	ISFTChunk = "ISFT"

	StreamTypeVideo = "vids"
	StreamTypeAudio = "auds"
)

// Header flags.
const (
	flagHasIndex      = 0x10
	flagIsInterleaved = 0x100
	flagTrustCKType   = 0x800

	indexKeyframe = 0x10

	waveFormatPCM = 1
)

// Structure sizes as written to disk.
const (
	mainHeaderSize   = 56
	streamHeaderSize = 56
	bitmapInfoSize   = 40
	waveFormatSize   = 16
	indexEntrySize   = 16
)

// RIFFHeader is the file header.
type RIFFHeader struct {
	Signature [4]byte
	FileSize  uint32
	Type      [4]byte
}

// ChunkHeader precedes every chunk.
type ChunkHeader struct {
	ID   [4]byte
	Size uint32
}

// LISTHeader is a chunk header followed by the list type.
type LISTHeader struct {
	ChunkHeader
	Type [4]byte
}

// MainHeader is the avih chunk body.
type MainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

// StreamHeader is the strh chunk body.
type StreamHeader struct {
	Type                [4]byte
	Handler             [4]byte
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               struct {
		Left   uint16
		Top    uint16
		Right  uint16
		Bottom uint16
	}
}

// BitmapInfoHeader is the video strf chunk body.
type BitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   [4]byte
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// WaveFormat is the audio strf chunk body for PCM.
type WaveFormat struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
}

// IndexEntry is one idx1 record. Offset counts from the "movi" list type.
type IndexEntry struct {
	ChunkID [4]byte
	Flags   uint32
	Offset  uint32
	Size    uint32
}

// MakeChunkID builds a stream chunk ID such as "00dc" or "01wb".
func MakeChunkID(streamIndex int, twoCC string) [4]byte {
	var id [4]byte
	id[0] = byte('0' + (streamIndex / 10))
	id[1] = byte('0' + (streamIndex % 10))
	id[2] = twoCC[0]
	id[3] = twoCC[1]
	return id
}

// FourCC converts a string of up to four bytes to a chunk ID.
func FourCC(s string) [4]byte {
	var id [4]byte
	copy(id[:], s)
	return id
}

// AlignSize rounds size up to the RIFF word boundary.
func AlignSize(size uint32) uint32 {
	return (size + 1) &^ 1
}

// ErrNotOpen is returned when data is written before Open.
var ErrNotOpen = errors.New("avi: writer not open")

// ErrClosed is returned when a closed writer is used.
var ErrClosed = errors.New("avi: writer closed")

// Error is an AVI operation failure naming the file involved.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("avi: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("avi: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
