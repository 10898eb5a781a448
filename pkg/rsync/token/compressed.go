package token

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
)

// Flag bytes framing the compressed token stream.
const (
	EndFlag       byte = 0x00
	TokenLong     byte = 0x20
	TokenRunLong  byte = 0x21
	DeflatedData  byte = 0x40
	TokenRel      byte = 0x80
	TokenRunRel   byte = 0xC0
	// categoryMask isolates the 2 high bits that distinguish
	// DEFLATED_DATA/TOKEN_REL/TOKENRUN_REL from one another; the low 6
	// bits of those three flag bytes carry payload rather than more
	// category information.
	categoryMask byte = 0xC0
	// payloadMask isolates the low 6 bits of a DEFLATED_DATA/TOKEN_REL/
	// TOKENRUN_REL flag byte.
	payloadMask byte = 0x3F
	// maxPayload6 is the largest value a 6-bit inline payload (a
	// TOKEN_REL delta or a TOKENRUN_REL run-length-minus-one) can carry.
	maxPayload6 = 0x3F
	// MaxDataCount bounds a single DEFLATED_DATA chunk's compressed
	// length: 14 bits, 6 packed into the flag byte and 8 into one
	// trailing byte.
	MaxDataCount = 16383
)

// decoderState names the compressed-stream decode state machine. The
// reader records its current state here; Next does not reject any flag
// byte based on it, so an out-of-order token is decoded like any other.
type decoderState int

const (
	stateInit decoderState = iota
	stateIdle
	stateRunning
	stateInflating
	stateInflated
)

// CompressedWriter emits the compressed token stream. Literal data is
// deflate-compressed chunk by chunk (each chunk is its own independent
// deflate stream, self-terminated, so the decoder never needs to look
// ahead across a chunk boundary to know where one ends). Match tokens use
// the short TOKEN_REL form for a single block at most 63 blocks past the
// previous match, the short TOKENRUN_REL form for a run of up to 64
// blocks contiguous with the previous match, and the long forms
// otherwise.
type CompressedWriter struct {
	w         io.Writer
	lastIndex int32
	haveLast  bool
}

// NewCompressedWriter wraps w for compressed-mode token encoding.
func NewCompressedWriter(w io.Writer) *CompressedWriter {
	return &CompressedWriter{w: w}
}

func (cw *CompressedWriter) writeInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := cw.w.Write(buf[:])
	return err
}

// WriteLiteral deflate-compresses data and emits it in MaxDataCount-sized
// compressed chunks, each framed by a DEFLATED_DATA flag and length.
func (cw *CompressedWriter) WriteLiteral(data []byte) error {
	for len(data) > 0 {
		// Start from up to MaxDataCount uncompressed bytes and halve the
		// slice fed to the deflator until its compressed output fits in
		// MaxDataCount, then flush that chunk as one self-contained
		// deflate stream.
		chunk := data
		if len(chunk) > MaxDataCount {
			chunk = chunk[:MaxDataCount]
		}

		var compressed bytes.Buffer
		for {
			compressed.Reset()
			fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
			if err != nil {
				return err
			}
			if _, err := fw.Write(chunk); err != nil {
				return err
			}
			if err := fw.Close(); err != nil {
				return err
			}
			if compressed.Len() <= MaxDataCount || len(chunk) == 1 {
				break
			}
			chunk = chunk[:len(chunk)/2]
		}

		if compressed.Len() > MaxDataCount {
			return streamErrorf("compressed chunk length %d exceeds MaxDataCount %d", compressed.Len(), MaxDataCount)
		}

		// The 14-bit compressed length is split across the flag byte's
		// own low 6 bits (the high part) and one trailing byte (the low
		// 8 bits), per the DEFLATED_DATA wire layout.
		length := uint16(compressed.Len())
		flag := DeflatedData | byte(length>>8)&payloadMask
		if _, err := cw.w.Write([]byte{flag, byte(length)}); err != nil {
			return err
		}
		if _, err := cw.w.Write(compressed.Bytes()); err != nil {
			return err
		}

		data = data[len(chunk):]
	}
	return nil
}

// WriteMatch emits a match token for the contiguous run
// [index, index+runLength). It prefers the compact relative forms: a
// single block within 63 blocks after the previous match, or a run that
// continues directly from it.
func (cw *CompressedWriter) WriteMatch(index, runLength int32) error {
	if runLength < 1 {
		return streamErrorf("match run length must be >= 1, got %d", runLength)
	}

	gap := int64(-1)
	if cw.haveLast {
		gap = int64(index) - int64(cw.lastIndex) - 1
	}
	contiguous := cw.haveLast && index == cw.lastIndex+1

	if runLength == 1 && gap >= 0 && gap <= maxPayload6 {
		// The token delta is packed directly into the flag byte's own
		// low 6 bits; there is no trailing byte.
		if _, err := cw.w.Write([]byte{TokenRel | byte(gap)}); err != nil {
			return err
		}
	} else if contiguous && int64(runLength-1) <= maxPayload6 {
		// Likewise, the run-length-minus-one is packed into the flag
		// byte's own low 6 bits.
		if _, err := cw.w.Write([]byte{TokenRunRel | byte(runLength-1)}); err != nil {
			return err
		}
	} else if runLength > 1 {
		if _, err := cw.w.Write([]byte{TokenRunLong}); err != nil {
			return err
		}
		if err := cw.writeInt32(index); err != nil {
			return err
		}
		if err := cw.writeInt32(runLength); err != nil {
			return err
		}
	} else {
		if _, err := cw.w.Write([]byte{TokenLong}); err != nil {
			return err
		}
		if err := cw.writeInt32(index); err != nil {
			return err
		}
	}

	cw.lastIndex = index + runLength - 1
	cw.haveLast = true
	return nil
}

// WriteEnd terminates the token stream.
func (cw *CompressedWriter) WriteEnd() error {
	_, err := cw.w.Write([]byte{EndFlag})
	return err
}

// CompressedReader is the read-side counterpart of CompressedWriter.
type CompressedReader struct {
	r         io.Reader
	lastIndex int32
	haveLast  bool
	state     decoderState
}

// NewCompressedReader wraps r for compressed-mode token decoding.
func NewCompressedReader(r io.Reader) *CompressedReader {
	return &CompressedReader{r: r, state: stateInit}
}

func (cr *CompressedReader) readInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// Next reads the next token. At end of stream it returns io.EOF.
func (cr *CompressedReader) Next() (Token, error) {
	if cr.state == stateInit {
		cr.state = stateIdle
	}

	var flagBuf [1]byte
	if _, err := io.ReadFull(cr.r, flagBuf[:]); err != nil {
		return Token{}, err
	}
	flag := flagBuf[0]

	switch {
	case flag == EndFlag:
		cr.state = stateInflated
		return Token{}, io.EOF

	case flag == TokenLong:
		cr.state = stateRunning
		index, err := cr.readInt32()
		if err != nil {
			return Token{}, err
		}
		cr.lastIndex = index
		cr.haveLast = true
		return Token{Kind: Match, MatchIndex: index, RunLength: 1}, nil

	case flag == TokenRunLong:
		cr.state = stateRunning
		index, err := cr.readInt32()
		if err != nil {
			return Token{}, err
		}
		runLength, err := cr.readInt32()
		if err != nil {
			return Token{}, err
		}
		if runLength < 1 {
			return Token{}, streamErrorf("TOKENRUN_LONG run length must be >= 1, got %d", runLength)
		}
		cr.lastIndex = index + runLength - 1
		cr.haveLast = true
		return Token{Kind: Match, MatchIndex: index, RunLength: runLength}, nil

	case flag&categoryMask == DeflatedData:
		cr.state = stateInflating
		var trailing [1]byte
		if _, err := io.ReadFull(cr.r, trailing[:]); err != nil {
			return Token{}, err
		}
		// The 14-bit length is split across the flag byte's own low 6
		// bits (the high part) and the trailing byte (the low 8 bits).
		length := uint16(flag&payloadMask)<<8 | uint16(trailing[0])
		if length > MaxDataCount {
			return Token{}, streamErrorf("DEFLATED_DATA length %d exceeds MaxDataCount %d", length, MaxDataCount)
		}
		compressed := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(cr.r, compressed); err != nil {
				return Token{}, err
			}
		}
		fr := flate.NewReader(bytes.NewReader(compressed))
		defer fr.Close()
		data, err := io.ReadAll(fr)
		if err != nil {
			return Token{}, err
		}
		cr.state = stateInflated
		return Token{Kind: Literal, Data: data}, nil

	case flag&categoryMask == TokenRel:
		cr.state = stateRunning
		// The token delta is packed into the flag byte's own low 6
		// bits; there is no trailing byte.
		if !cr.haveLast {
			return Token{}, streamErrorf("TOKEN_REL with no previous match to be relative to")
		}
		index := cr.lastIndex + 1 + int32(flag&payloadMask)
		cr.lastIndex = index
		return Token{Kind: Match, MatchIndex: index, RunLength: 1}, nil

	case flag&categoryMask == TokenRunRel:
		cr.state = stateRunning
		// The run-length-minus-one is packed into the flag byte's own
		// low 6 bits; there is no trailing byte.
		if !cr.haveLast {
			return Token{}, streamErrorf("TOKENRUN_REL with no previous match to be relative to")
		}
		runLength := int32(flag&payloadMask) + 1
		index := cr.lastIndex + 1
		cr.lastIndex = index + runLength - 1
		return Token{Kind: Match, MatchIndex: index, RunLength: runLength}, nil

	default:
		return Token{}, streamErrorf("unrecognized token flag byte 0x%02x", flag)
	}
}
