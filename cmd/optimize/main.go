package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jusunglee/busboard/internal/directory"
	"github.com/jusunglee/busboard/internal/logging"
)

func main() {
	var (
		in  = flag.String("in", "data/stops.json", "Verbose stop directory")
		out = flag.String("out", "data/stops_lite.json", "Compact stop directory to write")
	)
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stderr, slog.LevelInfo)
	if err := run(*in, *out, logger); err != nil {
		logging.LogError(logger, "optimize failed", err)
		os.Exit(1)
	}
}

func run(in, out string, logger *slog.Logger) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(src, logger, "legacy_stops")

	stops, err := directory.ParseLegacy(src)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := directory.WriteCompact(dst, stops); err != nil {
		_ = dst.Close()
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}

	before, _ := os.Stat(in)
	after, _ := os.Stat(out)
	attrs := []slog.Attr{slog.Int("stops", len(stops)), slog.String("out", out)}
	if before != nil && after != nil && before.Size() > 0 {
		attrs = append(attrs,
			slog.Int64("bytes_before", before.Size()),
			slog.Int64("bytes_after", after.Size()),
			slog.Float64("reduction_pct", 100*(1-float64(after.Size())/float64(before.Size()))))
	}
	logging.LogOperation(logger, "compact stop directory written", attrs...)
	return nil
}
