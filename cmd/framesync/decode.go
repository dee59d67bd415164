package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kalbasit/framesync"
	"github.com/kalbasit/framesync/layout"
)

// record is one decoded frame as written to the output.
type record struct {
	File      string         `json:"file" cbor:"file"`
	Offset    uint64         `json:"offset" cbor:"offset"`
	ErrorBits int            `json:"error_bits" cbor:"error_bits"`
	Skipped   int            `json:"skipped" cbor:"skipped"`
	Fields    []layout.Value `json:"fields,omitempty" cbor:"fields,omitempty"`
	Data      string         `json:"data,omitempty" cbor:"data,omitempty"` // hex, when the layout has no fields
}

// recordWriter serializes records from concurrent decoders.
type recordWriter struct {
	mu     sync.Mutex
	encode func(*record) error
}

func newRecordWriter(format string, w io.Writer) (*recordWriter, error) {
	rw := &recordWriter{}

	switch format {
	case "text":
		rw.encode = func(r *record) error { return writeText(w, r) }
	case "json":
		enc := json.NewEncoder(w)
		rw.encode = func(r *record) error { return enc.Encode(r) }
	case "cbor":
		enc := cbor.NewEncoder(w)
		rw.encode = func(r *record) error { return enc.Encode(r) }
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	return rw, nil
}

func (rw *recordWriter) Write(r *record) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	return rw.encode(r)
}

func writeText(w io.Writer, r *record) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s offset=%d errors=%d skipped=%d", r.File, r.Offset, r.ErrorBits, r.Skipped)

	for _, v := range r.Fields {
		fmt.Fprintf(&b, " %s=%d", v.Name, v.Value)
	}

	if r.Data != "" {
		fmt.Fprintf(&b, " data=%s", r.Data)
	}

	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())

	return err
}

// decodeFiles decodes every file with at most jobs files in flight.
func decodeFiles(
	ctx context.Context,
	files []string,
	l *layout.Layout,
	pool *framesync.SynchronizerPool,
	out *recordWriter,
	logger zerolog.Logger,
	jobs int,
) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for _, path := range files {
		g.Go(func() error {
			if err := decodeFile(ctx, path, l, pool, out, logger); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			return nil
		})
	}

	return g.Wait()
}

func decodeFile(
	ctx context.Context,
	path string,
	l *layout.Layout,
	pool *framesync.SynchronizerPool,
	out *recordWriter,
	logger zerolog.Logger,
) error {
	in, err := openInput(path)
	if err != nil {
		return err
	}
	defer in.Close()

	s := pool.Get(in)
	defer pool.Put(s)

	values := make([]layout.Value, 0, len(l.Fields))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		r := record{
			File:      path,
			Offset:    f.Offset,
			ErrorBits: f.ErrorBits,
			Skipped:   f.Skipped,
		}

		if len(l.Fields) > 0 {
			values, err = l.AppendDecode(values[:0], f.Data)
			if err != nil {
				return err
			}

			r.Fields = values
		} else {
			r.Data = hex.EncodeToString(f.Data)
		}

		if err := out.Write(&r); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	stats := s.Stats()
	logger.Info().
		Str("file", path).
		Str("read", humanize.Bytes(s.Offset())).
		Str("frames", humanize.Comma(int64(stats.Frames))).
		Uint64("resyncs", stats.Resyncs).
		Uint64("corrected", stats.CorrectedFrames).
		Str("skipped", humanize.Bytes(stats.SkippedBytes)).
		Msg("decoded")

	return nil
}

// zstdReadCloser closes both the decoder and the underlying file.
type zstdReadCloser struct {
	*zstd.Decoder
	file io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()

	return z.file.Close()
}

// openInput opens path for reading. "-" is stdin and a .zst suffix selects
// zstd decompression.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("open zstd stream: %w", err)
	}

	return zstdReadCloser{Decoder: dec, file: f}, nil
}
