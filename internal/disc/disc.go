// Package disc defines the contracts psxav needs from disc indexing and
// sector iteration. Disc image parsing itself lives outside this module;
// anything that can produce identified sectors in increasing disc order can
// drive a save.
package disc

import (
	"context"
	"fmt"
	"math/big"
)

// StreamKind identifies which logical stream a sector belongs to.
type StreamKind int

// Stream kinds.
const (
	StreamNone StreamKind = iota
	StreamVideo
	StreamAudio
)

// String returns the stream kind name.
func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "none"
	}
}

// Sector is one identified disc sector.
type Sector interface {
	// Number is the absolute sector number on the disc.
	Number() int
	// Kind reports the logical stream the sector belongs to.
	Kind() StreamKind
	// Payload returns the user data of the sector.
	Payload() []byte
}

// VideoSector is a sector carrying one chunk of a compressed video frame.
type VideoSector interface {
	Sector
	// FrameNumber is the frame number recorded in the sector header.
	FrameNumber() int
	// Chunk is the zero-based position of this sector within its frame.
	Chunk() int
	// ChunkCount is the number of sectors that make up the frame.
	ChunkCount() int
}

// AudioSector is a sector carrying CD-XA ADPCM sound groups.
type AudioSector interface {
	Sector
	SampleRate() int
	Stereo() bool
	BitsPerSample() int
}

// Iterator yields sectors in increasing disc order. Next returns io.EOF
// after the last sector.
type Iterator interface {
	Next(ctx context.Context) (Sector, error)
}

// FrameNumber identifies one video frame. Index is the sequential position
// of the frame within the item; Sector is the first disc sector the frame
// was read from. Frame numbers order by Index.
type FrameNumber struct {
	Index  int
	Sector int
}

// String returns a compact representation for logs.
func (f FrameNumber) String() string {
	return fmt.Sprintf("%d@%d", f.Index, f.Sector)
}

// Less reports whether f comes before other.
func (f FrameNumber) Less(other FrameNumber) bool {
	return f.Index < other.Index
}

// Item is the per-item context supplied by the disc index.
type Item struct {
	// Name is the suggested base name for output files.
	Name string
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
	// StartSector and EndSector bound the item on the disc, inclusive.
	StartSector int
	EndSector   int
	// FrameCount is the number of frames in the item.
	FrameCount int
	// DiscSpeed is 1 for single speed, 2 for double speed, 0 when unknown.
	DiscSpeed int
	// SectorsPerFrame is the exact number of sectors between frames.
	SectorsPerFrame *big.Rat
	// FirstPresentationSector is the presentation sector of frame 0.
	FirstPresentationSector int
	// Audio describes the interleaved audio stream, nil when there is none.
	Audio *AudioInfo
}

// AudioInfo describes an item's audio stream.
type AudioInfo struct {
	SampleRate int
	Stereo     bool
	// FirstPresentationSector is the sector of the first audio sector.
	FirstPresentationSector int
}

// Channels returns the number of interleaved PCM channels.
func (a *AudioInfo) Channels() int {
	if a.Stereo {
		return 2
	}
	return 1
}

// SectorsPerSecond derives the sector rate from the disc speed: single speed
// reads 75 sectors per second, double speed or unknown reads 150.
func (i *Item) SectorsPerSecond() int {
	if i.DiscSpeed == 1 {
		return 75
	}
	return 150
}

// FramesPerSecond returns sectorsPerSecond / sectorsPerFrame as an exact rational.
func (i *Item) FramesPerSecond() *big.Rat {
	if i.SectorsPerFrame == nil || i.SectorsPerFrame.Sign() <= 0 {
		return big.NewRat(15, 1)
	}
	return new(big.Rat).Quo(big.NewRat(int64(i.SectorsPerSecond()), 1), i.SectorsPerFrame)
}

// Validate checks the item carries what a save needs.
func (i *Item) Validate() error {
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("item %q: invalid dimensions %dx%d", i.Name, i.Width, i.Height)
	}
	if i.SectorsPerFrame == nil || i.SectorsPerFrame.Sign() <= 0 {
		return fmt.Errorf("item %q: sectors per frame must be positive", i.Name)
	}
	if i.EndSector < i.StartSector {
		return fmt.Errorf("item %q: end sector %d before start sector %d", i.Name, i.EndSector, i.StartSector)
	}
	if i.Name == "" {
		return fmt.Errorf("item has no name")
	}
	return nil
}

// ParseRat parses an exact rational such as "10", "15/2" or "7.5".
func ParseRat(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid rational %q", s)
	}
	return r, nil
}
