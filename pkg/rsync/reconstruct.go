package rsync

import (
	"io"

	"github.com/tridentsync/rsync/pkg/rsync/checksum"
	"github.com/tridentsync/rsync/pkg/rsync/wire"
)

// Reconstructor replays a token stream against a random-accessible
// basis, writing reconstructed bytes to dst in strictly increasing
// position order. It holds no buffered file content of its own beyond
// what a single token requires.
type Reconstructor struct {
	basis    io.ReaderAt
	header   wire.SumHeader
	algo     checksum.Algorithm
	seed     uint32
	md5Order checksum.SeedOrder
	digest   checksum.Accumulator
}

// NewReconstructor creates a reconstructor for basis under the given
// sum-header and strong-checksum parameters. basis must support reads
// at arbitrary offsets, since match tokens can reference blocks out of
// order relative to how the sender discovered them.
func NewReconstructor(basis io.ReaderAt, header wire.SumHeader, algo checksum.Algorithm, seed uint32, md5Order checksum.SeedOrder) (*Reconstructor, error) {
	acc, err := checksum.NewAccumulator(algo, seed, md5Order)
	if err != nil {
		return nil, err
	}
	return &Reconstructor{
		basis:    basis,
		header:   header,
		algo:     algo,
		seed:     seed,
		md5Order: md5Order,
		digest:   acc,
	}, nil
}

// reconstructStats accumulates the counters the spec calls
// literal_data and matched_data.
type reconstructStats struct {
	LiteralBytes int64
	MatchedBytes int64
}

// tokenSource abstracts over token.SimpleReader and
// token.CompressedReader, both of which this package's transmit/receive
// orchestration selects between based on the negotiated compression
// algorithm.
type tokenSource interface {
	Next() (tokenRecord, error)
}

// tokenRecord mirrors token.Token without importing the token package's
// Kind type directly, so this file stays decoupled from the wire
// representation; callers adapt their concrete token stream's values
// into this shape.
type tokenRecord struct {
	Literal    bool
	Data       []byte
	MatchIndex int32
	// RunLength is the number of contiguous basis blocks covered,
	// always treated as 1 when Literal is true.
	RunLength int32
}

// Reconstruct drains src, writing result bytes to dst, until the
// stream's end marker is reached. If expectedDigestLength is greater
// than zero, it then reads that many bytes from digestSource as the
// sender's whole-file digest and compares it against the digest
// accumulated over the written bytes, returning a DataIntegrityError on
// mismatch. It returns the gathered statistics.
func (r *Reconstructor) Reconstruct(dst io.Writer, src tokenSource, digestSource io.Reader, expectedDigestLength int) (reconstructStats, error) {
	var stats reconstructStats

	for {
		tok, err := src.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return stats, err
		}

		if tok.Literal {
			if len(tok.Data) == 0 {
				continue
			}
			if err := r.writeChunk(dst, tok.Data); err != nil {
				return stats, err
			}
			stats.LiteralBytes += int64(len(tok.Data))
			continue
		}

		runLength := tok.RunLength
		if runLength < 1 {
			runLength = 1
		}
		for i := int32(0); i < runLength; i++ {
			blockNum := int64(tok.MatchIndex) + int64(i)
			if blockNum < 0 || blockNum >= int64(r.header.Count) {
				return stats, wire.NewProtocolError("match token references out-of-range basis block")
			}

			offset := blockNum * int64(r.header.BlockLength)
			length := int64(r.header.BlockLength)
			if blockNum == int64(r.header.Count)-1 && r.header.Remainder > 0 {
				length = int64(r.header.Remainder)
			}

			buf := make([]byte, length)
			if _, err := r.basis.ReadAt(buf, offset); err != nil && err != io.EOF {
				return stats, newFileIOError("unable to read basis block for reconstruction", err)
			}
			if err := r.writeChunk(dst, buf); err != nil {
				return stats, err
			}
			stats.MatchedBytes += length
		}
	}

	if expectedDigestLength > 0 {
		expected := make([]byte, expectedDigestLength)
		if _, err := io.ReadFull(digestSource, expected); err != nil {
			return stats, newFileIOError("unable to read sender file digest", err)
		}
		actual := r.digest.Sum()
		if len(actual) > expectedDigestLength {
			actual = actual[:expectedDigestLength]
		}
		if !bytesEqualPrefix(actual, expected) {
			return stats, newDataIntegrityError("reconstructed file digest does not match sender's")
		}
	}

	return stats, nil
}

func (r *Reconstructor) writeChunk(dst io.Writer, data []byte) error {
	if _, err := dst.Write(data); err != nil {
		return newFileIOError("unable to write reconstructed data", err)
	}
	if _, err := r.digest.Write(data); err != nil {
		return err
	}
	return nil
}
