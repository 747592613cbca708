package streamreplay

//
// Telemetry sink: the gzip-compressed per-stream throttle log that
// replaces the original's plain File::create. Grounded on netcap's
// Writer (writer.go: os.File -> bufio.Writer -> pgzip.Writer chain),
// using klauspost/pgzip for the parallel gzip stream. See SPEC_FULL.md
// §0/§4.3.
//

import (
	"bufio"
	"fmt"
	"os"

	gzip "github.com/klauspost/pgzip"
)

// GzipTelemetrySink writes one line per throttle sample to a gzip file,
// implementing throttle.go's TelemetrySink. A stream with no_logging set
// never constructs one (cmd/tx/main.go passes a nil sink instead).
type GzipTelemetrySink struct {
	file *os.File
	buf  *bufio.Writer
	gz   *gzip.Writer
}

// NewGzipTelemetrySink creates (truncating) path and wraps it in a
// buffered, parallel gzip writer.
func NewGzipTelemetrySink(path string) (*GzipTelemetrySink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: opening telemetry log %q: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	gz := gzip.NewWriter(buf)
	return &GzipTelemetrySink{file: f, buf: buf, gz: gz}, nil
}

// WriteThrottleSample appends one "timestamp buffer_depth rate_mbps"
// line, matching the shape of the original's logged throttle samples.
func (s *GzipTelemetrySink) WriteThrottleSample(timestamp float64, bufferDepth int, rateMbps float64) {
	fmt.Fprintf(s.gz, "%.6f %d %.6f\n", timestamp, bufferDepth, rateMbps)
}

// Close flushes the gzip stream, the buffered writer, and closes the
// underlying file, in that order.
func (s *GzipTelemetrySink) Close() error {
	if err := s.gz.Close(); err != nil {
		s.file.Close()
		return err
	}
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
