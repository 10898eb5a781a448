// Package compression provides the compressor/decompressor
// implementations behind this module's negotiated compression
// algorithms: none, zlib, zstd, and lz4. The token package does not use
// this package: its CompressedWriter/CompressedReader always deflate
// literal data, whichever compression name a session negotiated.
package compression

import (
	"compress/flate"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Algorithm identifies a negotiated compression algorithm.
type Algorithm string

// The compression algorithms this module can negotiate and use. These
// names match what package negotiate exchanges on the wire.
const (
	None Algorithm = "none"
	Zlib Algorithm = "zlib"
	Zstd Algorithm = "zstd"
	LZ4  Algorithm = "lz4"
)

const (
	// defaultCompressionLevel is the default flate/zlib compression
	// level used for writers.
	defaultCompressionLevel = 6
)

// NewDecompressingReader wraps source in a decompressor for algo.
func NewDecompressingReader(algo Algorithm, source io.Reader) (io.Reader, error) {
	switch algo {
	case None:
		return source, nil
	case Zlib:
		// HACK: flate.Reader technically returns an io.ReadCloser, and
		// documents that callers should call Close. The underlying
		// implementation's Close only checks for stream errors already
		// surfaced through Read, so it is safe to rely on Read alone
		// here and let the caller manage the underlying source's
		// lifetime instead.
		return flate.NewReader(source), nil
	case Zstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, errors.Wrap(err, "unable to construct zstd decoder")
		}
		return decoder.IOReadCloser(), nil
	case LZ4:
		return lz4.NewReader(source), nil
	default:
		return nil, errors.Errorf("unknown compression algorithm: %s", algo)
	}
}

// flushingWriter wraps a compressor that supports Flush and calls it
// after every Write, so that each Write call's bytes are immediately
// available to the reader on the other end rather than buffered
// indefinitely awaiting Close.
type flushingWriter struct {
	compressor interface {
		io.Writer
		Flush() error
	}
}

func (w *flushingWriter) Write(buffer []byte) (int, error) {
	count, err := w.compressor.Write(buffer)
	if err != nil {
		return count, err
	} else if err := w.compressor.Flush(); err != nil {
		return 0, errors.Wrap(err, "unable to flush compressor")
	}
	return count, nil
}

// NewCompressingWriter wraps destination in a compressor for algo. Each
// Write flushes immediately, matching the streaming (not batch) use
// this module makes of compression.
func NewCompressingWriter(algo Algorithm, destination io.Writer) (io.Writer, error) {
	switch algo {
	case None:
		return destination, nil
	case Zlib:
		compressor, err := flate.NewWriter(destination, defaultCompressionLevel)
		if err != nil {
			return nil, errors.Wrap(err, "unable to construct flate compressor")
		}
		return &flushingWriter{compressor: compressor}, nil
	case Zstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, "unable to construct zstd encoder")
		}
		return &flushingWriter{compressor: encoder}, nil
	case LZ4:
		compressor := lz4.NewWriter(destination)
		return &flushingWriter{compressor: compressor}, nil
	default:
		return nil, errors.Errorf("unknown compression algorithm: %s", algo)
	}
}

// ParseAlgorithm converts a negotiated wire name into an Algorithm,
// reporting whether the name is recognized.
func ParseAlgorithm(name string) (Algorithm, bool) {
	switch Algorithm(name) {
	case None, Zlib, Zstd, LZ4:
		return Algorithm(name), true
	default:
		return None, false
	}
}
