// Command framesync locates fixed-size frames in binary captures and prints
// their decoded fields.
//
//	framesync --layout tm.toml capture.bin capture2.bin.zst
//	framesync --marker 1ACFFC1D --frame-size 1115 --errors 3 --format json -
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/kalbasit/framesync"
	"github.com/kalbasit/framesync/internal/logging"
	"github.com/kalbasit/framesync/layout"
)

type options struct {
	layoutPath string
	marker     string
	frameSize  int
	errorBits  int
	readSize   int
	jobs       int
	format     string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(logging.ProfileRuntime)

	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		logger.Error().Err(err).Msg("framesync failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, logger zerolog.Logger) error {
	var opts options

	fs := pflag.NewFlagSet("framesync", pflag.ContinueOnError)
	fs.StringVarP(&opts.layoutPath, "layout", "l", "", "TOML frame layout file")
	fs.StringVarP(&opts.marker, "marker", "m", "", "sync marker in hex, overrides the layout")
	fs.IntVarP(&opts.frameSize, "frame-size", "s", 0, "frame size in bytes including the marker, overrides the layout")
	fs.IntVarP(&opts.errorBits, "errors", "e", 0, "sync marker bit errors tolerated, overrides the layout")
	fs.IntVar(&opts.readSize, "read-size", framesync.DefaultReadSize, "bytes requested per read")
	fs.IntVarP(&opts.jobs, "jobs", "j", 4, "files decoded concurrently")
	fs.StringVarP(&opts.format, "format", "f", "text", "output format: text, json or cbor")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level, overrides "+logging.EnvLogLevel)

	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.logLevel != "" {
		lvl, ok := logging.ParseLevel(opts.logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", opts.logLevel)
		}

		logger = logger.Level(lvl)
	}

	files := fs.Args()
	if len(files) == 0 {
		return errors.New("no input files, use - for stdin")
	}

	stdin := 0
	for _, f := range files {
		if f == "-" {
			stdin++
		}
	}

	if stdin > 1 {
		return errors.New("stdin (-) can only be read once")
	}

	if opts.jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1, got %d", opts.jobs)
	}

	l, err := buildLayout(fs, opts)
	if err != nil {
		return err
	}

	out, err := newRecordWriter(opts.format, stdout)
	if err != nil {
		return err
	}

	pool, err := framesync.NewSynchronizerPool(append(l.Options(),
		framesync.WithReadSize(opts.readSize),
		framesync.WithLogger(logger),
	)...)
	if err != nil {
		return err
	}

	return decodeFiles(ctx, files, l, pool, out, logger, opts.jobs)
}

// buildLayout loads the layout file, if any, and applies flag overrides.
func buildLayout(fs *pflag.FlagSet, opts options) (*layout.Layout, error) {
	l := &layout.Layout{Name: "flags"}

	if opts.layoutPath != "" {
		var err error

		l, err = layout.Load(opts.layoutPath)
		if err != nil {
			return nil, err
		}
	}

	if fs.Changed("marker") {
		l.SyncMarker = opts.marker
	}

	if fs.Changed("frame-size") {
		l.FrameBytes = opts.frameSize
	}

	if fs.Changed("errors") {
		l.AllowErrorBits = opts.errorBits
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}

	return l, nil
}
