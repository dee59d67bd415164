// Package framesync provides the primitives for locating and decoding frames in
// a byte stream that arrives in arbitrarily sized, non-contiguous chunks, such as
// successive socket reads, where frames are not byte-aligned and sync markers may
// carry bit errors.
//
// # Overview
//
// The package has three layers:
//   - Stream: a scatter-gather buffer over caller-owned chunks with Peek, Slide
//     and bit-error-tolerant Find. Chunks are never copied except when a search
//     window straddles two of them.
//   - BitValue: extraction of 1 to 64 bit unsigned fields at arbitrary bit
//     offsets.
//   - Synchronizer: a streaming frame locator over an io.Reader built from the
//     two above.
//
// # Quick Start
//
// Streaming API:
//
//	fs, _ := framesync.NewSynchronizer(conn,
//	    framesync.WithSyncMarker([]byte{0x1A, 0xCF, 0xFC, 0x1D}),
//	    framesync.WithFrameSize(1024),
//	    framesync.WithAllowErrorBits(3),
//	)
//	for {
//	    frame, err := fs.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    apid := framesync.Bits(frame.Data, 37, 11)
//	    // Process frame.Data
//	}
//
// Chunk-level API when the caller owns the buffers:
//
//	s := framesync.NewStream(func(b []byte) { pool.Put(b) })
//	s.Add(buf[:n])
//	if pos := s.Find(marker, 2); pos != framesync.NotFound {
//	    s.Slide(pos)
//	}
//
// # Chunk Ownership
//
// A chunk passed to Stream.Add stays owned by the caller. The stream calls its
// release function exactly once per chunk, in the order chunks were added, when
// Slide moves past the chunk or Close is called. The release function runs
// synchronously and must not call back into the stream.
//
// # Thread Safety
//
// Neither Stream nor Synchronizer holds a lock. Separate instances may be used
// from separate goroutines; a single instance needs external synchronization.
// For many short streams, use SynchronizerPool to recycle instances, or
// StreamPool when feeding chunks by hand.
package framesync
