// Package avsync computes how many duplicate frames or silent samples keep a
// variable-rate disc stream aligned with a fixed-rate container clock.
//
// All timing runs on the disc sector clock. Sector rates and the number of
// sectors between frames are exact rationals so long saves never drift.
package avsync

import (
	"fmt"
	"math/big"
)

// VideoSync maps disc sectors to container frame indexes.
type VideoSync struct {
	start           int
	sectorsPerSec   int
	sectorsPerFrame *big.Rat
	initialVideo    int64
	emulate         bool
}

// NewVideoSync creates a video clock. startSector is the presentation
// sector of the first frame and initialVideo the number of frames the
// container holds before that first frame.
func NewVideoSync(startSector, sectorsPerSecond int, sectorsPerFrame *big.Rat, initialVideo int) (*VideoSync, error) {
	if sectorsPerSecond <= 0 {
		return nil, fmt.Errorf("avsync: sectors per second must be positive, got %d", sectorsPerSecond)
	}
	if sectorsPerFrame == nil || sectorsPerFrame.Sign() <= 0 {
		return nil, fmt.Errorf("avsync: sectors per frame must be positive")
	}
	if initialVideo < 0 {
		return nil, fmt.Errorf("avsync: initial video offset %d is negative", initialVideo)
	}
	return &VideoSync{
		start:           startSector,
		sectorsPerSec:   sectorsPerSecond,
		sectorsPerFrame: new(big.Rat).Set(sectorsPerFrame),
		initialVideo:    int64(initialVideo),
	}, nil
}

// InitialVideo returns the number of frames preceding the first real frame.
func (s *VideoSync) InitialVideo() int64 {
	return s.initialVideo
}

// SectorsPerSecond returns the disc sector rate.
func (s *VideoSync) SectorsPerSecond() int {
	return s.sectorsPerSec
}

// SectorsPerFrame returns a copy of the sectors-per-frame ratio.
func (s *VideoSync) SectorsPerFrame() *big.Rat {
	return new(big.Rat).Set(s.sectorsPerFrame)
}

// FramesPerSecond returns sectorsPerSecond / sectorsPerFrame.
func (s *VideoSync) FramesPerSecond() *big.Rat {
	return new(big.Rat).Quo(big.NewRat(int64(s.sectorsPerSec), 1), s.sectorsPerFrame)
}

// SecondsPerFrame returns sectorsPerFrame / sectorsPerSecond.
func (s *VideoSync) SecondsPerFrame() *big.Rat {
	return new(big.Rat).Quo(s.sectorsPerFrame, big.NewRat(int64(s.sectorsPerSec), 1))
}

// IdealFrame returns the container frame index a frame presented at
// endSector belongs at. The index truncates toward the frame boundary so a
// frame is never considered early because of rounding.
func (s *VideoSync) IdealFrame(endSector int) int64 {
	pos := new(big.Rat).Quo(big.NewRat(int64(endSector-s.start), 1), s.sectorsPerFrame)
	if s.emulate {
		return s.initialVideo + roundHalfUp(pos)
	}
	return s.initialVideo + floorRat(pos)
}

// FramesToCatchUp returns how many frames must be written before the frame
// presented at endSector. A negative result means the frame arrived ahead of
// the disc clock; callers log it and write no duplicates.
func (s *VideoSync) FramesToCatchUp(endSector int, framesWritten int64) int64 {
	return s.IdealFrame(endSector) - framesWritten
}

// AudioVideoSync aligns an audio stream and a video stream that share one
// container. The container starts at whichever stream is presented first.
type AudioVideoSync struct {
	*VideoSync

	containerStart   int
	samplesPerSecond int
	initialAudio     int64
}

// NewAudioVideoSync creates the combined clock. With emulate set, ideal
// indexes round half up the way the PlayStation hardware schedules frames
// instead of truncating.
func NewAudioVideoSync(videoStart, sectorsPerSecond int, sectorsPerFrame *big.Rat,
	audioStart, samplesPerSecond int, emulate bool) (*AudioVideoSync, error) {
	if samplesPerSecond <= 0 {
		return nil, fmt.Errorf("avsync: samples per second must be positive, got %d", samplesPerSecond)
	}
	if sectorsPerFrame == nil || sectorsPerFrame.Sign() <= 0 {
		return nil, fmt.Errorf("avsync: sectors per frame must be positive")
	}
	start := min(videoStart, audioStart)

	initialVideo := floorRat(new(big.Rat).Quo(big.NewRat(int64(videoStart-start), 1), sectorsPerFrame))
	vs, err := NewVideoSync(videoStart, sectorsPerSecond, sectorsPerFrame, int(initialVideo))
	if err != nil {
		return nil, err
	}
	vs.emulate = emulate

	initialAudio := roundHalfUp(big.NewRat(int64(audioStart-start)*int64(samplesPerSecond), int64(sectorsPerSecond)))
	return &AudioVideoSync{
		VideoSync:        vs,
		containerStart:   start,
		samplesPerSecond: samplesPerSecond,
		initialAudio:     initialAudio,
	}, nil
}

// Emulating reports whether hardware rounding emulation is on.
func (s *AudioVideoSync) Emulating() bool {
	return s.emulate
}

// SamplesPerSecond returns the audio sample rate.
func (s *AudioVideoSync) SamplesPerSecond() int {
	return s.samplesPerSecond
}

// InitialAudio returns the silent sample frames that precede the first
// audio sample.
func (s *AudioVideoSync) InitialAudio() int64 {
	return s.initialAudio
}

// IdealSample returns the container sample index for audio presented at
// presentationSector. The sector may be fractional.
func (s *AudioVideoSync) IdealSample(presentationSector *big.Rat) int64 {
	offset := new(big.Rat).Sub(presentationSector, big.NewRat(int64(s.containerStart), 1))
	pos := offset.Mul(offset, big.NewRat(int64(s.samplesPerSecond), int64(s.sectorsPerSec)))
	if s.emulate {
		return roundHalfUp(pos)
	}
	return floorRat(pos)
}

// AudioToCatchUp returns how many silent sample frames must be written
// before audio presented at presentationSector.
func (s *AudioVideoSync) AudioToCatchUp(presentationSector *big.Rat, samplesWritten int64) int64 {
	return s.IdealSample(presentationSector) - samplesWritten
}

// floorRat returns floor(r). big.Int.Div is Euclidean and Rat denominators
// are positive, so the quotient is the floor.
func floorRat(r *big.Rat) int64 {
	return new(big.Int).Div(r.Num(), r.Denom()).Int64()
}

// roundHalfUp returns floor(r + 1/2).
func roundHalfUp(r *big.Rat) int64 {
	return floorRat(new(big.Rat).Add(r, big.NewRat(1, 2)))
}
