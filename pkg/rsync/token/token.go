// Package token implements the rsync delta token stream: the wire
// encoding of the instruction sequence a delta matcher produces,
// alternating literal data with references to blocks of the receiver's
// basis file. Two wire shapes exist: the simple, uncompressed form used
// when no compression has been negotiated, and the compressed form used
// when a compression algorithm is active, which adds flag-byte framing
// and run-length coalescing for consecutive block matches.
package token

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind distinguishes a literal-data token from a block-match token.
type Kind int

const (
	// Literal carries inline bytes not found in the basis file.
	Literal Kind = iota
	// Match references one or more contiguous blocks of the basis file.
	Match
)

// Token is one element of a decoded token stream.
type Token struct {
	Kind Kind
	// Data holds the literal payload when Kind == Literal.
	Data []byte
	// MatchIndex is the starting basis block index when Kind == Match.
	MatchIndex int32
	// RunLength is the number of contiguous basis blocks covered,
	// always >= 1, meaningful only when Kind == Match.
	RunLength int32
}

// StreamError reports a malformed token stream: an invalid flag byte, a
// negative length, or a length exceeding a format-defined bound.
type StreamError struct {
	msg string
}

func (e *StreamError) Error() string { return e.msg }

func streamErrorf(format string, args ...interface{}) error {
	return &StreamError{msg: fmt.Sprintf(format, args...)}
}

// SimpleWriter emits the uncompressed token stream: each token is a
// signed 32-bit length prefix. A positive value introduces that many
// bytes of literal data; a negative value -(index+1) references a single
// basis block; zero terminates the stream. The uncompressed form has no
// notion of a matched run longer than one block, so a run is emitted as
// that many consecutive single-block match tokens.
type SimpleWriter struct {
	w io.Writer
}

// NewSimpleWriter wraps w for simple-mode token encoding.
func NewSimpleWriter(w io.Writer) *SimpleWriter {
	return &SimpleWriter{w: w}
}

func (sw *SimpleWriter) writeInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := sw.w.Write(buf[:])
	return err
}

// WriteLiteral emits a literal-data token. Calling it with an empty slice
// is a no-op, since a zero-length token is reserved for WriteEnd.
func (sw *SimpleWriter) WriteLiteral(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if int64(len(data)) > int64(1<<31-1) {
		return streamErrorf("literal token too long: %d bytes", len(data))
	}
	if err := sw.writeInt32(int32(len(data))); err != nil {
		return err
	}
	_, err := sw.w.Write(data)
	return err
}

// WriteMatch emits one or more single-block match tokens for the
// contiguous run [index, index+runLength).
func (sw *SimpleWriter) WriteMatch(index, runLength int32) error {
	if runLength < 1 {
		return streamErrorf("match run length must be >= 1, got %d", runLength)
	}
	for i := int32(0); i < runLength; i++ {
		if err := sw.writeInt32(-(index + i + 1)); err != nil {
			return err
		}
	}
	return nil
}

// WriteEnd terminates the token stream.
func (sw *SimpleWriter) WriteEnd() error {
	return sw.writeInt32(0)
}

// SimpleReader is the read-side counterpart of SimpleWriter.
type SimpleReader struct {
	r io.Reader
}

// NewSimpleReader wraps r for simple-mode token decoding.
func NewSimpleReader(r io.Reader) *SimpleReader {
	return &SimpleReader{r: r}
}

// Next reads the next token. At end of stream it returns io.EOF.
func (sr *SimpleReader) Next() (Token, error) {
	var buf [4]byte
	if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
		return Token{}, err
	}
	n := int32(binary.LittleEndian.Uint32(buf[:]))

	switch {
	case n == 0:
		return Token{}, io.EOF
	case n > 0:
		data := make([]byte, n)
		if _, err := io.ReadFull(sr.r, data); err != nil {
			return Token{}, err
		}
		return Token{Kind: Literal, Data: data}, nil
	default:
		index := -n - 1
		return Token{Kind: Match, MatchIndex: index, RunLength: 1}, nil
	}
}
