package framesync

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidSyncMarker is returned when the sync marker is missing or empty.
	ErrInvalidSyncMarker = errors.New("sync marker must not be empty")

	// ErrInvalidFrameSize is returned when frameSize is not positive.
	ErrInvalidFrameSize = errors.New("frameSize must be greater than 0")

	// ErrFrameTooSmall is returned when frameSize cannot hold the sync marker.
	ErrFrameTooSmall = errors.New("frameSize must be at least the sync marker length")

	// ErrInvalidErrorBits is returned when the bit error tolerance is negative
	// or would match any window.
	ErrInvalidErrorBits = errors.New("allowErrorBits must be between 0 and the marker bit length")

	// ErrInvalidReadSize is returned when readSize is not positive.
	ErrInvalidReadSize = errors.New("readSize must be greater than 0")
)

const (
	// DefaultReadSize is the default size of each buffer read from the input (64 KiB).
	DefaultReadSize = 64 * 1024

	// DefaultAllowErrorBits is the default sync marker bit error tolerance.
	DefaultAllowErrorBits = 0
)

// Option is a function that configures a Synchronizer.
type Option func(*config) error

// config holds the configuration for frame synchronization.
type config struct {
	marker         []byte
	frameSize      int
	allowErrorBits int
	readSize       int
	logger         zerolog.Logger
}

func defaultConfig() config {
	return config{
		allowErrorBits: DefaultAllowErrorBits,
		readSize:       DefaultReadSize,
		logger:         zerolog.Nop(),
	}
}

// newConfig applies opts over the defaults and validates the result.
func newConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

// validate checks that the configuration is valid.
func (c *config) validate() error {
	if len(c.marker) == 0 {
		return ErrInvalidSyncMarker
	}

	if c.frameSize <= 0 {
		return ErrInvalidFrameSize
	}

	if c.frameSize < len(c.marker) {
		return fmt.Errorf("%w: frameSize (%d), marker (%d)", ErrFrameTooSmall, c.frameSize, len(c.marker))
	}

	if c.allowErrorBits < 0 || c.allowErrorBits >= 8*len(c.marker) {
		return fmt.Errorf("%w: got %d for a %d-bit marker", ErrInvalidErrorBits, c.allowErrorBits, 8*len(c.marker))
	}

	if c.readSize <= 0 {
		return ErrInvalidReadSize
	}

	return nil
}

// WithSyncMarker sets the byte pattern that starts every frame. The marker is
// copied.
func WithSyncMarker(marker []byte) Option {
	return func(c *config) error {
		if len(marker) == 0 {
			return ErrInvalidSyncMarker
		}

		c.marker = append([]byte(nil), marker...)

		return nil
	}
}

// WithFrameSize sets the size of a frame in bytes, sync marker included.
func WithFrameSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return ErrInvalidFrameSize
		}

		c.frameSize = size

		return nil
	}
}

// WithAllowErrorBits sets how many bits of the sync marker may be wrong for a
// window to still count as a marker.
func WithAllowErrorBits(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidErrorBits, n)
		}

		c.allowErrorBits = n

		return nil
	}
}

// WithReadSize sets the size of the buffers read from the input.
func WithReadSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return ErrInvalidReadSize
		}

		c.readSize = size

		return nil
	}
}

// WithLogger sets the logger used for synchronization events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger

		return nil
	}
}
