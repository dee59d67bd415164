package framesync

import "io"

// NotFound is returned by Stream.Find when no window matches the target.
const NotFound = -1

// compactThreshold is the number of retired queue slots tolerated before the
// chunk queue is shifted back to the start of its backing array.
const compactThreshold = 32

// ReleaseFunc is called exactly once for every chunk handed to a Stream, when
// the chunk has been fully consumed or the stream is closed. It receives the
// slice that was passed to Add. It must not call back into the Stream.
type ReleaseFunc func(data []byte)

// chunk is one externally-owned span of the logical stream.
type chunk struct {
	data    []byte
	release ReleaseFunc
}

// Stream is a scatter-gather buffer over caller-owned chunks that form one
// logical byte stream. Chunks are never copied or modified; the stream only
// tracks how much of them has been consumed.
//
// A Stream is not safe for concurrent use. Callers moving chunks between
// goroutines must serialize all access themselves.
type Stream struct {
	release ReleaseFunc // Default release for Add

	chunks []chunk // Queued chunks, chunks[head] is the front
	head   int     // Index of the front chunk in chunks

	cursor    int    // Bytes already consumed from the front chunk
	available int    // Unconsumed bytes across all queued chunks
	slid      uint64 // Total bytes ever discarded by Slide

	scratch []byte // Window assembly for matches straddling chunks
}

// NewStream creates an empty Stream. The release function is used for every
// chunk added with Add and may be nil.
func NewStream(release ReleaseFunc) *Stream {
	return &Stream{release: release}
}

// Add appends data to the end of the stream. Ownership of data stays with the
// caller until the stream's release function is called for it.
//
// Zero-length chunks are accepted. They add no bytes but stay queued until a
// Slide reaches them or the stream is closed.
func (s *Stream) Add(data []byte) {
	s.AddFunc(data, s.release)
}

// AddFunc is like Add but uses release instead of the stream's default release
// function for this chunk.
func (s *Stream) AddFunc(data []byte, release ReleaseFunc) {
	s.chunks = append(s.chunks, chunk{data: data, release: release})
	s.available += len(data)
}

// Slide discards up to n bytes from the front of the stream and returns the
// number of bytes actually discarded. Requests are clamped to [0, Available()].
//
// Every chunk left at the front with no remaining bytes is released, in the
// order the chunks were added. This includes zero-length chunks, so a
// zero-length chunk queued behind data is released by the same Slide that
// exhausts the data before it.
func (s *Stream) Slide(n int) int {
	n = max(0, min(n, s.available))

	s.available -= n
	s.slid += uint64(n)

	left := n
	for s.head < len(s.chunks) {
		remaining := len(s.chunks[s.head].data) - s.cursor
		if remaining > left {
			s.cursor += left

			break
		}

		left -= remaining
		s.retireFront()
	}

	return n
}

// retireFront releases the front chunk and removes it from the queue.
func (s *Stream) retireFront() {
	c := s.chunks[s.head]
	s.chunks[s.head] = chunk{}
	s.head++
	s.cursor = 0

	switch {
	case s.head == len(s.chunks):
		s.chunks = s.chunks[:0]
		s.head = 0
	case s.head >= compactThreshold && s.head*2 >= len(s.chunks):
		n := copy(s.chunks, s.chunks[s.head:])
		clear(s.chunks[n:])
		s.chunks = s.chunks[:n]
		s.head = 0
	}

	if c.release != nil {
		c.release(c.data)
	}
}

// Peek copies up to len(p) bytes starting offset bytes into the unconsumed
// stream and returns the number of bytes copied, min(len(p), Available()-offset).
// It returns 0 when offset is at or past the end. Negative offsets read from
// the start. Peek does not change the stream.
func (s *Stream) Peek(p []byte, offset int) int {
	offset = max(offset, 0)
	if offset >= s.available || len(p) == 0 {
		return 0
	}

	want := min(len(p), s.available-offset)
	got := 0
	skip := offset

	for i := s.head; i < len(s.chunks) && got < want; i++ {
		data := s.chunks[i].data
		if i == s.head {
			data = data[s.cursor:]
		}

		if skip >= len(data) {
			skip -= len(data)

			continue
		}

		got += copy(p[got:want], data[skip:])
		skip = 0
	}

	return want
}

// Find returns the smallest offset into the unconsumed stream at which the
// len(target) bytes differ from target in at most allowErrorBits bits, or
// NotFound. An empty target matches at offset 0.
//
// Windows that lie inside a single chunk are compared in place. Windows that
// straddle a chunk boundary are first assembled into a scratch buffer the size
// of target, which the stream keeps for later calls.
func (s *Stream) Find(target []byte, allowErrorBits int) int {
	n := len(target)
	if n == 0 {
		return 0
	}

	if s.available < n {
		return NotFound
	}

	moved := 0
	for i := s.head; i < len(s.chunks); i++ {
		data := s.chunks[i].data
		pos := 0

		if i == s.head {
			pos = s.cursor
		}

		for ; pos < len(data); pos++ {
			if s.available-moved < n {
				return NotFound
			}

			var window []byte
			if len(data)-pos >= n {
				window = data[pos : pos+n]
			} else {
				window = s.window(n)
				s.Peek(window, moved)
			}

			if BitCmp(window, target, allowErrorBits) {
				return moved
			}

			moved++
		}
	}

	return NotFound
}

// window returns the scratch buffer resized to n bytes.
func (s *Stream) window(n int) []byte {
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}

	return s.scratch[:n]
}

// Read implements io.Reader by copying from the front of the stream and
// sliding past the copied bytes. It returns io.EOF when the stream is empty.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := s.Peek(p, 0)
	if n == 0 {
		return 0, io.EOF
	}

	s.Slide(n)

	return n, nil
}

// AlreadySlid returns the total number of bytes discarded by Slide.
func (s *Stream) AlreadySlid() uint64 {
	return s.slid
}

// Available returns the number of unconsumed bytes in the stream.
func (s *Stream) Available() int {
	return s.available
}

// Chunks returns the number of chunks still queued, including exhausted
// zero-length chunks that no Slide has reached yet.
func (s *Stream) Chunks() int {
	return len(s.chunks) - s.head
}

// Close releases every queued chunk in the order they were added and leaves
// the stream empty. AlreadySlid is not changed and the stream can be reused.
// Close always returns nil.
func (s *Stream) Close() error {
	s.available = 0
	for s.head < len(s.chunks) {
		s.retireFront()
	}

	return nil
}

// Reset closes the stream and clears AlreadySlid.
func (s *Stream) Reset() {
	_ = s.Close()
	s.slid = 0
}
