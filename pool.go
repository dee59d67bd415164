package framesync

import (
	"io"
	"sync"
)

// SynchronizerPool is a pool of Synchronizer instances for reuse when many
// streams are decoded with the same configuration. Pooled synchronizers keep
// their read buffers, so recycling them avoids reallocating those as well.
//
// A SynchronizerPool is safe for concurrent use.
type SynchronizerPool struct {
	pool sync.Pool
	cfg  config
}

// NewSynchronizerPool creates a new SynchronizerPool with the given options.
// The options are validated once, here.
func NewSynchronizerPool(opts ...Option) (*SynchronizerPool, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &SynchronizerPool{cfg: cfg}, nil
}

// Get returns a Synchronizer reading from r, recycled from the pool when one
// is available.
func (p *SynchronizerPool) Get(r io.Reader) *Synchronizer {
	if v := p.pool.Get(); v != nil {
		s := v.(*Synchronizer)
		s.Reset(r)

		return s
	}

	return newSynchronizer(r, p.cfg)
}

// Put returns a Synchronizer to the pool. Buffered input is released and the
// reader dropped. The synchronizer must not be used afterwards.
func (p *SynchronizerPool) Put(s *Synchronizer) {
	s.Reset(nil)
	p.pool.Put(s)
}

// StreamPool recycles Streams sharing one release function, for callers that
// feed chunks themselves instead of going through a Synchronizer.
type StreamPool struct {
	pool    sync.Pool
	release ReleaseFunc
}

// NewStreamPool creates a StreamPool whose streams use release for chunks
// queued with Add. release may be nil.
func NewStreamPool(release ReleaseFunc) *StreamPool {
	return &StreamPool{release: release}
}

// Get returns an empty Stream with AlreadySlid at zero.
func (p *StreamPool) Get() *Stream {
	if v := p.pool.Get(); v != nil {
		return v.(*Stream)
	}

	return NewStream(p.release)
}

// Put releases every chunk still queued on s and returns it to the pool.
func (p *StreamPool) Put(s *Stream) {
	s.Reset()
	p.pool.Put(s)
}
