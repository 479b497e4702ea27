// Package naming derives per-frame output file paths.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/m35/jpsxdec-sub004/internal/disc"
)

// ErrFrameNumberRequired is returned when a numbered scheme is asked for a
// path without a frame number.
var ErrFrameNumberRequired = errors.New("naming: frame number required")

// Scheme selects how frames are numbered in file names.
type Scheme int

// Naming schemes.
const (
	// Single writes one file with no number, e.g. "MOVIE.avi".
	Single Scheme = iota
	// Index numbers files by sequential frame index, e.g. "MOVIE_0012.png".
	Index
	// Sector numbers files by the frame's disc sector, e.g. "MOVIE@001234.png".
	Sector
)

// String returns the scheme name used in configuration.
func (s Scheme) String() string {
	switch s {
	case Index:
		return "index"
	case Sector:
		return "sector"
	default:
		return "single"
	}
}

// ParseScheme maps a configuration value to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "single":
		return Single, nil
	case "index", "":
		return Index, nil
	case "sector":
		return Sector, nil
	default:
		return Single, fmt.Errorf("unknown naming scheme %q", s)
	}
}

// Formatter builds paths for one saved item. The zero padding is fixed at
// construction from the largest value the scheme can produce.
type Formatter struct {
	dir    string
	base   string
	ext    string
	scheme Scheme
	width  int
}

// NewFormatter creates a formatter writing base-named files with extension
// ext (without the dot) under dir. maxValue is the largest frame index or
// sector number the item can produce.
func NewFormatter(dir, base, ext string, scheme Scheme, maxValue int) *Formatter {
	width := 0
	if scheme != Single {
		width = len(strconv.Itoa(max(maxValue, 0)))
	}
	return &Formatter{dir: dir, base: base, ext: ext, scheme: scheme, width: width}
}

// Scheme returns the formatter's scheme.
func (f *Formatter) Scheme() Scheme {
	return f.scheme
}

// Path returns the output path for frame. Single ignores frame entirely.
func (f *Formatter) Path(frame *disc.FrameNumber) (string, error) {
	var name string
	switch f.scheme {
	case Single:
		name = f.base
	case Index:
		if frame == nil {
			return "", fmt.Errorf("%w for %s naming", ErrFrameNumberRequired, f.scheme)
		}
		name = fmt.Sprintf("%s_%0*d", f.base, f.width, frame.Index)
	case Sector:
		if frame == nil {
			return "", fmt.Errorf("%w for %s naming", ErrFrameNumberRequired, f.scheme)
		}
		name = fmt.Sprintf("%s@%0*d", f.base, f.width, frame.Sector)
	}
	if f.ext != "" {
		name += "." + f.ext
	}
	return filepath.Join(f.dir, name), nil
}

// Pattern returns a printable description of the generated names, used in
// save summaries.
func (f *Formatter) Pattern() string {
	var name string
	switch f.scheme {
	case Index:
		name = fmt.Sprintf("%s_%s", f.base, hashes(f.width))
	case Sector:
		name = fmt.Sprintf("%s@%s", f.base, hashes(f.width))
	default:
		name = f.base
	}
	if f.ext != "" {
		name += "." + f.ext
	}
	return filepath.Join(f.dir, name)
}

func hashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '#'
	}
	return string(b)
}
