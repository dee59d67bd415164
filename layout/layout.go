// Package layout describes fixed-size frames and the bit fields inside them,
// and decodes frames located by a framesync.Synchronizer.
//
// Layouts are usually loaded from TOML:
//
//	name = "tm-frame"
//	sync_marker = "1ACFFC1D"
//	frame_bytes = 1115
//	allow_error_bits = 3
//
//	[[fields]]
//	name = "version"
//	offset = 32
//	width = 2
//
//	[[fields]]
//	name = "spacecraft_id"
//	offset = 34
//	width = 10
package layout

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kalbasit/framesync"
)

const (
	// OrderStream reads fields MSB first, in stream order.
	OrderStream = "stream"

	// OrderWord leaves the trailing bytes of a field as an unswapped
	// little-endian word. See framesync.BitValue.
	OrderWord = "word"
)

var (
	// ErrInvalidLayout is wrapped by every validation error.
	ErrInvalidLayout = errors.New("layout: invalid layout")

	// ErrShortFrame is returned when a frame is smaller than the layout.
	ErrShortFrame = errors.New("layout: frame shorter than layout")
)

// Field is one bit field of a frame.
type Field struct {
	Name   string `toml:"name" json:"name" cbor:"name"`
	Offset int    `toml:"offset" json:"offset" cbor:"offset"` // first bit, 0 is the MSB of byte 0
	Width  int    `toml:"width" json:"width" cbor:"width"`    // bits, 1 to 64
	Order  string `toml:"order" json:"order" cbor:"order"`    // OrderStream (default) or OrderWord
}

// Layout describes a frame: its sync marker, size and fields.
type Layout struct {
	Name           string  `toml:"name"`
	SyncMarker     string  `toml:"sync_marker"` // hex
	FrameBytes     int     `toml:"frame_bytes"`
	AllowErrorBits int     `toml:"allow_error_bits"`
	Fields         []Field `toml:"fields"`

	marker []byte
}

// Value is a decoded field.
type Value struct {
	Name  string `json:"name" cbor:"name"`
	Value uint64 `json:"value" cbor:"value"`
}

// Load reads and validates a TOML layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout load failed (%s): %w", path, err)
	}

	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("layout load failed (%s): %w", path, err)
	}

	return l, nil
}

// Parse decodes and validates a TOML layout. Unknown keys are rejected.
func Parse(data []byte) (*Layout, error) {
	var l Layout

	meta, err := toml.Decode(string(data), &l)
	if err != nil {
		return nil, fmt.Errorf("layout parse failed: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidLayout, strings.Join(keys, ", "))
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}

	return &l, nil
}

// Validate checks the layout and prepares it for decoding. It must be called
// on layouts built in code before Decode or Options.
func (l *Layout) Validate() error {
	raw := strings.TrimSpace(l.SyncMarker)
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}

	marker, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("%w: sync_marker: %w", ErrInvalidLayout, err)
	}

	if len(marker) == 0 {
		return fmt.Errorf("%w: sync_marker is empty", ErrInvalidLayout)
	}

	if l.FrameBytes > math.MaxInt/8 {
		return fmt.Errorf("%w: frame_bytes %d too large", ErrInvalidLayout, l.FrameBytes)
	}

	if l.FrameBytes < len(marker) {
		return fmt.Errorf("%w: frame_bytes %d smaller than %d-byte sync marker", ErrInvalidLayout, l.FrameBytes, len(marker))
	}

	if l.AllowErrorBits < 0 || l.AllowErrorBits >= 8*len(marker) {
		return fmt.Errorf("%w: allow_error_bits %d out of range [0, %d)", ErrInvalidLayout, l.AllowErrorBits, 8*len(marker))
	}

	seen := make(map[string]bool, len(l.Fields))

	for i := range l.Fields {
		f := &l.Fields[i]

		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidLayout, i)
		}

		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidLayout, f.Name)
		}

		seen[f.Name] = true

		if f.Width < 1 || f.Width > 64 {
			return fmt.Errorf("%w: field %q width %d out of range [1, 64]", ErrInvalidLayout, f.Name, f.Width)
		}

		if f.Offset < 0 || f.Offset > 8*l.FrameBytes-f.Width {
			return fmt.Errorf("%w: field %q bits [%d, %d) outside %d-byte frame",
				ErrInvalidLayout, f.Name, f.Offset, f.Offset+f.Width, l.FrameBytes)
		}

		switch f.Order {
		case "":
			f.Order = OrderStream
		case OrderStream, OrderWord:
		default:
			return fmt.Errorf("%w: field %q order %q", ErrInvalidLayout, f.Name, f.Order)
		}
	}

	l.marker = marker

	return nil
}

// Marker returns the decoded sync marker.
func (l *Layout) Marker() []byte {
	return l.marker
}

// Options returns the synchronizer options matching the layout.
func (l *Layout) Options() []framesync.Option {
	return []framesync.Option{
		framesync.WithSyncMarker(l.marker),
		framesync.WithFrameSize(l.FrameBytes),
		framesync.WithAllowErrorBits(l.AllowErrorBits),
	}
}

// Decode extracts every field of the layout from frame, in layout order.
func (l *Layout) Decode(frame []byte) ([]Value, error) {
	return l.AppendDecode(make([]Value, 0, len(l.Fields)), frame)
}

// AppendDecode is like Decode but appends to dst.
func (l *Layout) AppendDecode(dst []Value, frame []byte) ([]Value, error) {
	if len(frame) < l.FrameBytes {
		return dst, fmt.Errorf("%w: %d bytes, want %d", ErrShortFrame, len(frame), l.FrameBytes)
	}

	for _, f := range l.Fields {
		dst = append(dst, Value{
			Name:  f.Name,
			Value: framesync.BitValue(frame, f.Offset, f.Width, f.Order != OrderWord),
		})
	}

	return dst, nil
}
