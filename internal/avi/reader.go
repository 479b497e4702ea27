package avi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// StreamInfo is what a strl list says about one stream.
type StreamInfo struct {
	Type    string
	Handler string
	Scale   uint32
	Rate    uint32
	Length  uint32

	// video
	Compression [4]byte
	BitCount    uint16
	Width       int32
	Height      int32

	// audio
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Info summarises an AVI file's headers and index.
type Info struct {
	MicroSecPerFrame uint32
	TotalFrames      uint32
	Width            uint32
	Height           uint32
	Streams          []StreamInfo
	Software         string
	// Chunks counts idx1 entries by chunk ID.
	Chunks map[string]int
}

// Video returns the first video stream, or nil.
func (i *Info) Video() *StreamInfo {
	return i.stream(StreamTypeVideo)
}

// Audio returns the first audio stream, or nil.
func (i *Info) Audio() *StreamInfo {
	return i.stream(StreamTypeAudio)
}

func (i *Info) stream(kind string) *StreamInfo {
	for n := range i.Streams {
		if i.Streams[n].Type == kind {
			return &i.Streams[n]
		}
	}
	return nil
}

// FrameRate returns the video stream's rate/scale as an exact rational.
func (i *Info) FrameRate() *big.Rat {
	v := i.Video()
	if v == nil || v.Scale == 0 {
		return new(big.Rat)
	}
	return big.NewRat(int64(v.Rate), int64(v.Scale))
}

// ReadInfo parses the headers and index of an AVI file.
func ReadInfo(r io.ReadSeeker) (*Info, error) {
	var riff RIFFHeader
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, &Error{Op: "read riff header", Err: err}
	}
	if string(riff.Signature[:]) != RIFFSignature || string(riff.Type[:]) != AVISignature {
		return nil, &Error{Op: "read riff header", Err: errors.New("not an AVI file")}
	}

	info := &Info{Chunks: make(map[string]int)}
	end := int64(riff.FileSize) + 8
	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, &Error{Op: "seek", Err: err}
		}
		if pos+8 > end {
			break
		}
		var h ChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &Error{Op: "read chunk header", Err: err}
		}
		switch string(h.ID[:]) {
		case LISTSignature:
			if err := readList(r, h.Size, info); err != nil {
				return nil, err
			}
		case IDX1Chunk:
			if err := readIndex(r, h.Size, info); err != nil {
				return nil, err
			}
		default:
			if _, err := r.Seek(int64(AlignSize(h.Size)), io.SeekCurrent); err != nil {
				return nil, &Error{Op: "skip chunk", Err: err}
			}
		}
	}
	return info, nil
}

func readList(r io.ReadSeeker, size uint32, info *Info) error {
	if size < 4 {
		return &Error{Op: "read list", Err: fmt.Errorf("list size %d too small", size)}
	}
	var kind [4]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return &Error{Op: "read list type", Err: err}
	}
	body := AlignSize(size) - 4
	switch string(kind[:]) {
	case HDRLList, STRLList, INFOList:
		data := make([]byte, body)
		if _, err := io.ReadFull(r, data); err != nil {
			return &Error{Op: "read " + string(kind[:]), Err: err}
		}
		return parseChunks(data, info)
	default:
		if _, err := r.Seek(int64(body), io.SeekCurrent); err != nil {
			return &Error{Op: "skip list", Err: err}
		}
	}
	return nil
}

// parseChunks walks the chunks of an in-memory header list.
func parseChunks(data []byte, info *Info) error {
	for len(data) >= 8 {
		id := string(data[:4])
		size := binary.LittleEndian.Uint32(data[4:8])
		data = data[8:]
		if uint32(len(data)) < size {
			return &Error{Op: "read " + id, Err: io.ErrUnexpectedEOF}
		}
		body := data[:size]
		switch id {
		case LISTSignature:
			if size < 4 {
				return &Error{Op: "read list", Err: fmt.Errorf("list size %d too small", size)}
			}
			if err := parseChunks(body[4:], info); err != nil {
				return err
			}
		case AVIHChunk:
			var h MainHeader
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &h); err != nil {
				return &Error{Op: "read avih", Err: err}
			}
			info.MicroSecPerFrame = h.MicroSecPerFrame
			info.TotalFrames = h.TotalFrames
			info.Width = h.Width
			info.Height = h.Height
		case STRHChunk:
			var h StreamHeader
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &h); err != nil {
				return &Error{Op: "read strh", Err: err}
			}
			info.Streams = append(info.Streams, StreamInfo{
				Type:    string(h.Type[:]),
				Handler: string(h.Handler[:]),
				Scale:   h.Scale,
				Rate:    h.Rate,
				Length:  h.Length,
			})
		case STRFChunk:
			if len(info.Streams) == 0 {
				return &Error{Op: "read strf", Err: errors.New("strf before strh")}
			}
			if err := readStreamFormat(body, &info.Streams[len(info.Streams)-1]); err != nil {
				return err
			}
		case ISFTChunk:
			info.Software = string(bytes.TrimRight(body, "\x00"))
		}
		adv := AlignSize(size)
		if uint32(len(data)) < adv {
			break
		}
		data = data[adv:]
	}
	return nil
}

func readStreamFormat(body []byte, s *StreamInfo) error {
	switch s.Type {
	case StreamTypeVideo:
		var bih BitmapInfoHeader
		if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &bih); err != nil {
			return &Error{Op: "read bitmap info", Err: err}
		}
		s.Compression = bih.Compression
		s.BitCount = bih.BitCount
		s.Width = bih.Width
		s.Height = bih.Height
	case StreamTypeAudio:
		var wf WaveFormat
		if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &wf); err != nil {
			return &Error{Op: "read wave format", Err: err}
		}
		s.Channels = wf.Channels
		s.SampleRate = wf.SamplesPerSec
		s.BitsPerSample = wf.BitsPerSample
	}
	return nil
}

func readIndex(r io.Reader, size uint32, info *Info) error {
	for n := uint32(0); n < size/indexEntrySize; n++ {
		var e IndexEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return &Error{Op: "read index entry", Err: err}
		}
		info.Chunks[string(e.ChunkID[:])]++
	}
	return nil
}
