// Package bitstream identifies the compressed video format of a frame and
// turns it into MDEC blocks.
//
// Formats are strategies held in a Registry. An Identifier caches the last
// successful strategy and only rescans the registry when the cached decoder
// rejects a new frame.
package bitstream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// ErrUnidentified is returned when no registered format accepts a frame.
var ErrUnidentified = errors.New("bitstream: unable to identify frame format")

// Decoder yields the MDEC blocks of one frame. It implements mdec.BlockSource.
type Decoder interface {
	mdec.BlockSource
	// Reset prepares the decoder for a new frame of the same format. It
	// returns false when buf is not in the decoder's format.
	Reset(buf []byte) bool
	// Format returns the name of the format the decoder handles.
	Format() string
}

// Format is one identifiable bitstream variant.
type Format interface {
	Name() string
	// Identify returns a decoder positioned at the first block of buf when
	// buf is a width x height frame in this format.
	Identify(buf []byte, width, height int) (Decoder, bool)
}

// Registry is an ordered set of formats. Earlier registrations win.
type Registry struct {
	mu      sync.RWMutex
	formats []Format
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry holding the built-in formats.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(RawMdecFormat{})
	return r
}

// Register appends a format. It panics on a duplicate name.
func (r *Registry) Register(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.formats {
		if existing.Name() == f.Name() {
			panic(fmt.Sprintf("bitstream: format %q registered twice", f.Name()))
		}
	}
	r.formats = append(r.formats, f)
}

// Formats returns the registered formats in scan order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, len(r.formats))
	copy(out, r.formats)
	return out
}

// Identify scans the registry and returns the first accepting decoder.
func (r *Registry) Identify(buf []byte, width, height int) (Decoder, error) {
	for _, f := range r.Formats() {
		if dec, ok := f.Identify(buf, width, height); ok {
			return dec, nil
		}
	}
	return nil, ErrUnidentified
}

// Identifier is the two-state identification machine. With no cached
// decoder it is Unidentified; after a successful scan it is Identified with
// that decoder until a frame is rejected by Reset.
type Identifier struct {
	registry *Registry
	width    int
	height   int
	logger   *slog.Logger

	current    Decoder
	lastFormat string
}

// NewIdentifier creates an Unidentified machine for frames of the given size.
func NewIdentifier(registry *Registry, width, height int, logger *slog.Logger) *Identifier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Identifier{
		registry: registry,
		width:    width,
		height:   height,
		logger:   observability.WithComponent(observability.OrDiscard(logger), "bitstream"),
	}
}

// Identified reports whether a decoder is cached.
func (id *Identifier) Identified() bool {
	return id.current != nil
}

// Format returns the cached format name, or "" when Unidentified.
func (id *Identifier) Format() string {
	if id.current == nil {
		return ""
	}
	return id.current.Format()
}

// Feed presents the first n bytes of buf as the next frame. The cached
// decoder is tried first; if it rejects the data the machine falls back to
// Unidentified and rescans the registry.
func (id *Identifier) Feed(buf []byte, n int) (Decoder, error) {
	if n < 0 || n > len(buf) {
		return nil, fmt.Errorf("bitstream: length %d outside buffer of %d bytes", n, len(buf))
	}
	data := buf[:n]

	if id.current != nil {
		if id.current.Reset(data) {
			return id.current, nil
		}
		id.logger.Debug("cached format rejected frame, re-identifying", slog.String("format", id.current.Format()))
		id.current = nil
	}

	dec, err := id.registry.Identify(data, id.width, id.height)
	if err != nil {
		return nil, err
	}
	id.current = dec
	if name := dec.Format(); name != id.lastFormat {
		id.logger.Info("detected bitstream format", slog.String("format", name))
		id.lastFormat = name
	}
	return dec, nil
}
