package framesync_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/kalbasit/framesync"
)

var testMarker = []byte{0x1A, 0xCF, 0xFC, 0x1D}

const testFrameSize = 32

// testFrame is one frame placed in a generated stream.
type testFrame struct {
	offset    uint64
	body      []byte
	errorBits int
}

// buildStream lays out frames separated by gaps of filler bytes. Filler is
// 0x55 so it never comes near the marker. Markers of frames listed in corrupt
// get the given bits flipped.
func buildStream(t *testing.T, gaps []int, corrupt map[int][]int) ([]byte, []testFrame) {
	t.Helper()

	var (
		data   []byte
		frames []testFrame
	)

	for i, gap := range gaps {
		data = append(data, bytes.Repeat([]byte{0x55}, gap)...)

		frame := make([]byte, testFrameSize)
		copy(frame, testMarker)

		body := frame[len(testMarker):]
		for j := range body {
			body[j] = byte(i*7 + j)
		}

		for _, bit := range corrupt[i] {
			frame[bit/8] ^= 0x80 >> (bit % 8)
		}

		frames = append(frames, testFrame{
			offset:    uint64(len(data)),
			body:      append([]byte(nil), body...),
			errorBits: len(corrupt[i]),
		})
		data = append(data, frame...)
	}

	return data, frames
}

func collectFrames(t *testing.T, s *framesync.Synchronizer) []framesync.Frame {
	t.Helper()

	var frames []framesync.Frame

	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}

		if err != nil {
			t.Fatal(err)
		}

		f.Data = append([]byte(nil), f.Data...)
		frames = append(frames, f)
	}
}

// TestSynchronizerNext checks frames are found across every read pattern.
func TestSynchronizerNext(t *testing.T) {
	t.Parallel()

	gaps := []int{0, 0, 5, 100, 0, 1, 3}
	corrupt := map[int][]int{2: {3}, 4: {0, 31}}
	data, want := buildStream(t, gaps, corrupt)

	readers := map[string]func() io.Reader{
		"whole":    func() io.Reader { return bytes.NewReader(data) },
		"one-byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(data)) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(data)) },
		"data-err": func() io.Reader { return iotest.DataErrReader(bytes.NewReader(data)) },
	}

	for name, newReader := range readers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := framesync.NewSynchronizer(newReader(),
				framesync.WithSyncMarker(testMarker),
				framesync.WithFrameSize(testFrameSize),
				framesync.WithAllowErrorBits(2),
				framesync.WithReadSize(7),
			)
			if err != nil {
				t.Fatal(err)
			}

			got := collectFrames(t, s)
			if len(got) != len(want) {
				t.Fatalf("got %d frames, want %d", len(got), len(want))
			}

			for i, f := range got {
				if f.Offset != want[i].offset {
					t.Errorf("frame %d: Offset = %d, want %d", i, f.Offset, want[i].offset)
				}

				if f.ErrorBits != want[i].errorBits {
					t.Errorf("frame %d: ErrorBits = %d, want %d", i, f.ErrorBits, want[i].errorBits)
				}

				if f.Skipped != gaps[i] {
					t.Errorf("frame %d: Skipped = %d, want %d", i, f.Skipped, gaps[i])
				}

				if !bytes.Equal(f.Data[len(testMarker):], want[i].body) {
					t.Errorf("frame %d: body mismatch", i)
				}
			}

			stats := s.Stats()
			if stats.Frames != uint64(len(want)) {
				t.Errorf("Stats().Frames = %d, want %d", stats.Frames, len(want))
			}

			if stats.CorrectedFrames != 2 {
				t.Errorf("Stats().CorrectedFrames = %d, want 2", stats.CorrectedFrames)
			}

			if stats.Resyncs != 4 {
				t.Errorf("Stats().Resyncs = %d, want 4", stats.Resyncs)
			}

			if stats.SkippedBytes != 109 {
				t.Errorf("Stats().SkippedBytes = %d, want 109", stats.SkippedBytes)
			}

			if s.Offset() != uint64(len(data)) {
				t.Errorf("Offset() = %d, want %d", s.Offset(), len(data))
			}
		})
	}
}

// TestSynchronizerTolerance verifies markers beyond the tolerance are skipped.
func TestSynchronizerTolerance(t *testing.T) {
	t.Parallel()

	data, _ := buildStream(t, []int{0, 0, 0}, map[int][]int{1: {1, 9, 17}})

	s, err := framesync.NewSynchronizer(bytes.NewReader(data),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
		framesync.WithAllowErrorBits(2),
	)
	if err != nil {
		t.Fatal(err)
	}

	got := collectFrames(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}

	if got[1].Offset != 2*testFrameSize || got[1].Skipped != testFrameSize {
		t.Errorf("second frame at %d skipping %d, want %d skipping %d",
			got[1].Offset, got[1].Skipped, 2*testFrameSize, testFrameSize)
	}
}

// TestSynchronizerPartialTail verifies a truncated last frame is dropped.
func TestSynchronizerPartialTail(t *testing.T) {
	t.Parallel()

	data, _ := buildStream(t, []int{0, 0}, nil)
	data = data[:len(data)-1]

	s, err := framesync.NewSynchronizer(bytes.NewReader(data),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
	)
	if err != nil {
		t.Fatal(err)
	}

	if got := collectFrames(t, s); len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}

	// EOF is sticky.
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after EOF = %v, want io.EOF", err)
	}
}

// TestSynchronizerNoMarker verifies random data without a marker ends in EOF.
func TestSynchronizerNoMarker(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x55}, 100*1024)

	s, err := framesync.NewSynchronizer(bytes.NewReader(data),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
		framesync.WithReadSize(1000),
	)
	if err != nil {
		t.Fatal(err)
	}

	if got := collectFrames(t, s); len(got) != 0 {
		t.Fatalf("got %d frames, want 0", len(got))
	}

	if got := s.Stats().SkippedBytes; got != uint64(len(data)-len(testMarker)+1) {
		t.Errorf("SkippedBytes = %d, want %d", got, len(data)-len(testMarker)+1)
	}
}

// TestSynchronizerReadError verifies reader errors are returned wrapped.
func TestSynchronizerReadError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	s, err := framesync.NewSynchronizer(iotest.ErrReader(errBoom),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Next(); !errors.Is(err, errBoom) {
		t.Fatalf("Next() error = %v, want %v", err, errBoom)
	}
}

// TestSynchronizerReset verifies Reset clears state for a new stream.
func TestSynchronizerReset(t *testing.T) {
	t.Parallel()

	data1, _ := buildStream(t, []int{3, 0}, nil)
	data2, _ := buildStream(t, []int{0, 0, 0}, nil)

	s, err := framesync.NewSynchronizer(bytes.NewReader(data1),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
	)
	if err != nil {
		t.Fatal(err)
	}

	if got := collectFrames(t, s); len(got) != 2 {
		t.Fatalf("first stream: got %d frames, want 2", len(got))
	}

	s.Reset(bytes.NewReader(data2))

	if s.Offset() != 0 || s.Stats() != (framesync.Stats{}) {
		t.Fatalf("Reset left offset %d and stats %+v", s.Offset(), s.Stats())
	}

	got := collectFrames(t, s)
	if len(got) != 3 {
		t.Fatalf("second stream: got %d frames, want 3", len(got))
	}

	if got[0].Offset != 0 {
		t.Errorf("first frame after Reset at %d, want 0", got[0].Offset)
	}
}

// TestSynchronizerRandomPayload hides frames in random filler and checks every
// one is found with an exact marker.
func TestSynchronizerRandomPayload(t *testing.T) {
	t.Parallel()

	var data []byte

	filler := make([]byte, 64*1024)
	if _, err := rand.Read(filler); err != nil {
		t.Fatal(err)
	}

	// Remove accidental markers from the filler.
	for i := bytes.Index(filler, testMarker); i >= 0; i = bytes.Index(filler, testMarker) {
		filler[i] ^= 0xFF
	}

	frame := make([]byte, testFrameSize)
	copy(frame, testMarker)

	for off := 0; off < len(filler); off += 1000 {
		data = append(data, filler[off:min(off+1000, len(filler))]...)
		data = append(data, frame...)
	}

	s, err := framesync.NewSynchronizer(iotest.HalfReader(bytes.NewReader(data)),
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
		framesync.WithReadSize(333),
	)
	if err != nil {
		t.Fatal(err)
	}

	got := collectFrames(t, s)
	if want := (len(filler) + 999) / 1000; len(got) < want {
		t.Fatalf("got %d frames, want at least %d", len(got), want)
	}
}

// stallReader returns (0, nil) forever after handing out its data.
type stallReader struct {
	data []byte
}

func (r *stallReader) Read(p []byte) (int, error) {
	n := copy(p, r.data)
	r.data = r.data[n:]

	return n, nil
}

// TestSynchronizerNoProgress verifies a reader that stops producing data
// without an error ends in io.ErrNoProgress instead of blocking Next.
func TestSynchronizerNoProgress(t *testing.T) {
	t.Parallel()

	data, _ := buildStream(t, []int{0, 0}, nil)

	s, err := framesync.NewSynchronizer(&stallReader{data: data},
		framesync.WithSyncMarker(testMarker),
		framesync.WithFrameSize(testFrameSize),
	)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		if _, err := s.Next(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	if _, err := s.Next(); !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("Next() error = %v, want io.ErrNoProgress", err)
	}
}
