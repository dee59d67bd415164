package framesync

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Frame is one fixed-size frame located by its sync marker.
type Frame struct {
	Offset    uint64 // Absolute stream offset of the sync marker
	Data      []byte // Frame bytes, marker included (points into internal buffer)
	ErrorBits int    // Bits of the marker that differ from the configured one
	Skipped   int    // Bytes discarded since the previous frame
}

// Stats counts what a Synchronizer has done since it was created or reset.
type Stats struct {
	Frames          uint64 // Frames returned
	Resyncs         uint64 // Frames that needed bytes skipped before them
	SkippedBytes    uint64 // Bytes discarded outside any frame
	CorrectedFrames uint64 // Frames whose marker had bit errors
}

// Synchronizer locates fixed-size frames in a byte stream read from an
// io.Reader. Each Read lands in its own pooled buffer which is queued on a
// Stream without copying; buffers go back to the pool once the stream has
// consumed them.
//
// A Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	stream *Stream    // Queued read buffers
	reader io.Reader  // Input stream
	bufs   *sync.Pool // Read buffers (*[]byte)

	marker         []byte
	frameSize      int
	allowErrorBits int
	readSize       int
	logger         zerolog.Logger

	frame   []byte // Contiguous copy of the current frame
	skipped int    // Bytes discarded since the last frame
	stats   Stats
	eof     bool // EOF reached
	empty   int  // Consecutive reads that returned no data and no error
}

// maxEmptyReads is the number of consecutive (0, nil) reads tolerated before
// Next gives up with io.ErrNoProgress.
const maxEmptyReads = 100

// NewSynchronizer creates a new Synchronizer that reads from the given io.Reader.
func NewSynchronizer(r io.Reader, opts ...Option) (*Synchronizer, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return newSynchronizer(r, cfg), nil
}

func newSynchronizer(r io.Reader, cfg config) *Synchronizer {
	readSize := cfg.readSize

	return &Synchronizer{
		stream: NewStream(nil),
		reader: r,
		bufs: &sync.Pool{
			New: func() any {
				b := make([]byte, readSize)
				return &b
			},
		},
		marker:         cfg.marker,
		frameSize:      cfg.frameSize,
		allowErrorBits: cfg.allowErrorBits,
		readSize:       cfg.readSize,
		logger:         cfg.logger,
		frame:          make([]byte, cfg.frameSize),
	}
}

// Next returns the next frame from the stream.
// Returns io.EOF when the stream is exhausted; a trailing partial frame is
// dropped.
//
// The returned Frame.Data slice is valid until the next call to Next().
// If you need to keep the data, copy it to your own buffer.
func (s *Synchronizer) Next() (Frame, error) {
	for {
		pos := s.stream.Find(s.marker, s.allowErrorBits)
		if pos == NotFound {
			// Keep the tail that may be the start of a marker.
			s.discard(s.stream.Available() - (len(s.marker) - 1))

			if err := s.fill(); err != nil {
				return Frame{}, err
			}

			continue
		}

		s.discard(pos)

		if s.stream.Available() < s.frameSize {
			if err := s.fill(); err != nil {
				return Frame{}, err
			}

			continue
		}

		s.stream.Peek(s.frame, 0)

		f := Frame{
			Offset:    s.stream.AlreadySlid(),
			Data:      s.frame,
			ErrorBits: HammingDistance(s.frame[:len(s.marker)], s.marker),
			Skipped:   s.skipped,
		}

		s.stream.Slide(s.frameSize)
		s.record(f)

		return f, nil
	}
}

// discard drops n bytes that belong to no frame.
func (s *Synchronizer) discard(n int) {
	n = s.stream.Slide(n)
	if n == 0 {
		return
	}

	s.skipped += n
	s.stats.SkippedBytes += uint64(n)
}

// record updates the statistics for a returned frame.
func (s *Synchronizer) record(f Frame) {
	s.stats.Frames++

	if f.ErrorBits > 0 {
		s.stats.CorrectedFrames++
	}

	if f.Skipped > 0 {
		s.stats.Resyncs++
		s.logger.Debug().
			Uint64("offset", f.Offset).
			Int("skipped", f.Skipped).
			Msg("resynchronized")
	}

	s.skipped = 0
}

// fill queues one more read from the reader. At end of input it releases the
// remaining buffers and returns io.EOF.
func (s *Synchronizer) fill() error {
	if s.eof {
		if n := s.stream.Available(); n > 0 {
			s.logger.Debug().
				Uint64("offset", s.stream.AlreadySlid()).
				Int("bytes", n).
				Msg("dropping partial frame at end of input")
		}

		_ = s.stream.Close()

		return io.EOF
	}

	bp, _ := s.bufs.Get().(*[]byte)
	buf := (*bp)[:s.readSize]

	n, err := s.reader.Read(buf)
	if n > 0 {
		s.stream.AddFunc(buf[:n], func([]byte) { s.bufs.Put(bp) })
		s.empty = 0
	} else {
		s.bufs.Put(bp)
	}

	if n == 0 && err == nil {
		s.empty++
		if s.empty >= maxEmptyReads {
			return fmt.Errorf("read at offset %d: %w", s.stream.AlreadySlid()+uint64(s.stream.Available()), io.ErrNoProgress)
		}

		return nil
	}

	if errors.Is(err, io.EOF) {
		s.eof = true

		return nil
	}

	if err != nil {
		return fmt.Errorf("read at offset %d: %w", s.stream.AlreadySlid()+uint64(s.stream.Available()), err)
	}

	return nil
}

// Reset resets the synchronizer to start processing a new stream.
// The reader is replaced with the provided one, and all state is cleared.
func (s *Synchronizer) Reset(r io.Reader) {
	s.stream.Reset()
	s.reader = r
	s.skipped = 0
	s.stats = Stats{}
	s.eof = false
	s.empty = 0
}

// Offset returns the absolute offset of the next unconsumed byte.
func (s *Synchronizer) Offset() uint64 {
	return s.stream.AlreadySlid()
}

// Stats returns the synchronization counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}
