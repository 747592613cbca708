package streamreplay

//
// Trace loader: reads the (interval_ns, size_bytes) sequence spec.md §6
// calls an external collaborator's responsibility. This file is the
// concrete, genuinely usable adapter: it reads a NumPy .npy file's 2-column
// uint64 matrix when the .npy magic is present, else treats the file as a
// bare row-major little-endian uint64 pair stream.
//

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// TraceRow is one (interval_ns, size_bytes) row of the trace.
type TraceRow struct {
	IntervalNs uint64
	SizeBytes  uint64
}

var npyMagic = []byte("\x93NUMPY")

// ErrEmptyTrace is returned by LoadTrace when the trace file has no rows;
// a source engine cannot iterate an empty trace.
var ErrEmptyTrace = errors.New("streamreplay: trace file has no rows")

// LoadTrace reads path and returns its (interval_ns, size_bytes) rows.
func LoadTrace(path string) ([]TraceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic, err := r.Peek(len(npyMagic))
	if err == nil && string(magic) == string(npyMagic) {
		if err := skipNpyHeader(r); err != nil {
			return nil, err
		}
	}

	var rows []TraceRow
	for {
		var a, b uint64
		if err := binary.Read(r, binary.LittleEndian, &a); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, err
		}
		rows = append(rows, TraceRow{IntervalNs: a, SizeBytes: b})
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTrace
	}
	return rows, nil
}

// skipNpyHeader consumes a .npy file's magic, version, and header dict,
// leaving r positioned at the start of the raw row-major data. It does not
// attempt to validate the header's declared dtype/shape against what the
// caller expects: the fixed-width uint64-pair reading loop in LoadTrace
// is the actual contract, matching how read_npy is used in source.rs
// (trusting the manifest to point at a correctly-shaped array).
func skipNpyHeader(r *bufio.Reader) error {
	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return err
	}
	var headerLen int
	if version[0] == 1 {
		var lenBytes [2]byte
		if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
			return err
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes[:]))
	} else {
		var lenBytes [4]byte
		if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
			return err
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes[:]))
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	return nil
}
