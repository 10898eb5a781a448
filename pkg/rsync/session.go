package rsync

import (
	"io"

	"github.com/tridentsync/rsync/pkg/rsync/checksum"
	"github.com/tridentsync/rsync/pkg/rsync/negotiate"
	"github.com/tridentsync/rsync/pkg/rsync/token"
	"github.com/tridentsync/rsync/pkg/rsync/wire"
)

// tokenEmitter abstracts over token.SimpleWriter and
// token.CompressedWriter, whichever the session's negotiated
// compression algorithm selects.
type tokenEmitter interface {
	WriteLiteral(data []byte) error
	WriteMatch(index, runLength int32) error
	WriteEnd() error
}

// tokenReader abstracts over token.SimpleReader and
// token.CompressedReader.
type tokenReader interface {
	Next() (token.Token, error)
}

// tokenReaderAdapter adapts a tokenReader to this package's tokenSource
// interface, which speaks in tokenRecord rather than token.Token so the
// reconstructor does not need to import the token package's Kind type.
type tokenReaderAdapter struct {
	r tokenReader
}

func (a tokenReaderAdapter) Next() (tokenRecord, error) {
	t, err := a.r.Next()
	if err != nil {
		return tokenRecord{}, err
	}
	if t.Kind == token.Literal {
		return tokenRecord{Literal: true, Data: t.Data}, nil
	}
	return tokenRecord{MatchIndex: t.MatchIndex, RunLength: t.RunLength}, nil
}

// newTokenEmitter selects a compressed or simple token writer based on
// the negotiated compression algorithm name. Every name other than ""
// and "none" selects the deflate-based token.CompressedWriter; zstd and
// lz4 have no token-stream form of their own.
func newTokenEmitter(w io.Writer, compressionAlgo string) tokenEmitter {
	if compressionAlgo == "" || compressionAlgo == "none" {
		return token.NewSimpleWriter(w)
	}
	return token.NewCompressedWriter(w)
}

// newTokenReader selects a compressed or simple token reader based on
// the negotiated compression algorithm name.
func newTokenReader(r io.Reader, compressionAlgo string) tokenReader {
	if compressionAlgo == "" || compressionAlgo == "none" {
		return token.NewSimpleReader(r)
	}
	return token.NewCompressedReader(r)
}

// SessionParams carries the negotiated values a send or receive
// operation needs once the handshake (package negotiate) has
// completed.
type SessionParams struct {
	ProtocolVersion int
	StrongAlgo      checksum.Algorithm
	ChecksumSeed    uint32
	MD5Order        checksum.SeedOrder
	CompressionAlgo string
}

// ParamsFromHandshake derives SessionParams from a completed handshake,
// choosing the MD5 seed order strictly from the negotiated
// CF_CHKSUM_SEED_FIX flag: this module never guesses that ordering.
func ParamsFromHandshake(h negotiate.Handshake) (SessionParams, error) {
	algo, ok := checksum.ParseAlgorithm(h.ChecksumAlgo)
	if !ok {
		return SessionParams{}, newValidationError("unrecognized negotiated checksum algorithm: " + h.ChecksumAlgo)
	}
	md5Order := checksum.SeedAppend
	if h.HasFlag(negotiate.CFChksumSeedFix) {
		md5Order = checksum.SeedPrepend
	}
	return SessionParams{
		ProtocolVersion: h.ProtocolVersion,
		StrongAlgo:      algo,
		ChecksumSeed:    h.ChecksumSeed,
		MD5Order:        md5Order,
		CompressionAlgo: h.CompressionAlgo,
	}, nil
}

// SendSignature builds a signature for basis and writes it to w as a
// sum-header followed by its block records (weak checksum as a fixed
// int32, strong prefix as raw bytes).
func SendSignature(w io.Writer, basis io.Reader, blockLength int64, params SessionParams) (*FileSignature, error) {
	sig, err := BuildSignature(basis, blockLength, params.StrongAlgo, params.ChecksumSeed, params.MD5Order, params.ProtocolVersion)
	if err != nil {
		return nil, err
	}

	ww := wire.NewWriter(w, params.ProtocolVersion)
	header := wire.SumHeader{
		Count:           int32(len(sig.Blocks)),
		BlockLength:     int32(sig.BlockLength),
		StrongPrefixLen: int32(sig.StrongPrefixLen),
		Remainder:       int32(sig.Remainder),
	}
	if err := wire.WriteSumHeader(ww, header, params.ProtocolVersion); err != nil {
		return nil, err
	}

	for i := range sig.Blocks {
		if err := wire.WriteInt32(w, int32(sig.Blocks[i].Weak)); err != nil {
			return nil, err
		}
		if _, err := w.Write(sig.Blocks[i].StrongPrefix); err != nil {
			return nil, newFileIOError("unable to write block strong prefix", err)
		}
	}

	return sig, nil
}

// ReceiveSignature reads a sum-header and its block records written by
// SendSignature.
func ReceiveSignature(r io.Reader, params SessionParams) (*FileSignature, error) {
	rr := wire.NewReader(r, params.ProtocolVersion)
	header, err := wire.ReadSumHeader(rr, params.ProtocolVersion)
	if err != nil {
		return nil, err
	}

	sig := &FileSignature{
		BlockLength:     int64(header.BlockLength),
		Remainder:       int64(header.Remainder),
		StrongAlgo:      params.StrongAlgo,
		StrongPrefixLen: int(header.StrongPrefixLen),
		ProtocolVersion: params.ProtocolVersion,
		ChecksumSeed:    params.ChecksumSeed,
	}

	for i := int32(0); i < header.Count; i++ {
		weak, err := rr.ReadInt32()
		if err != nil {
			return nil, err
		}
		prefix := make([]byte, header.StrongPrefixLen)
		if err := rr.ReadFull(prefix); err != nil {
			return nil, newFileIOError("unable to read block strong prefix", err)
		}

		length := int64(header.BlockLength)
		if i == header.Count-1 && header.Remainder > 0 {
			length = int64(header.Remainder)
		}
		offset := int64(i) * int64(header.BlockLength)

		sig.Blocks = append(sig.Blocks, BlockSignature{
			Weak:         uint32(weak),
			StrongPrefix: prefix,
			Offset:       offset,
			Length:       length,
		})
		sig.FileLength = offset + length
	}

	return sig, nil
}

// SendDelta matches newFile against sig, writes the resulting token
// stream to w using the session's negotiated compression, and (if
// params.StrongAlgo is not None) follows the end marker with the
// whole-file digest of newFile.
func SendDelta(w io.Writer, newFile []byte, sig *FileSignature, opts MatchOptions, params SessionParams) (MatchStatistics, error) {
	emitter := newTokenEmitter(w, params.CompressionAlgo)

	var pendingMatchStart, pendingMatchRun int32
	havePending := false

	flushPendingMatch := func() error {
		if !havePending {
			return nil
		}
		havePending = false
		return emitter.WriteMatch(pendingMatchStart, pendingMatchRun)
	}

	stats, err := ComputeDelta(newFile, sig, opts, func(instr *DeltaInstruction) error {
		if instr.Kind == Literal {
			if err := flushPendingMatch(); err != nil {
				return err
			}
			return emitter.WriteLiteral(instr.Data)
		}

		index := int32(instr.BlockStart)
		run := int32(instr.BlockCount)
		if havePending && pendingMatchStart+pendingMatchRun == index {
			pendingMatchRun += run
			return nil
		}
		if err := flushPendingMatch(); err != nil {
			return err
		}
		pendingMatchStart, pendingMatchRun = index, run
		havePending = true
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err := flushPendingMatch(); err != nil {
		return stats, err
	}
	if err := emitter.WriteEnd(); err != nil {
		return stats, err
	}

	if params.StrongAlgo != checksum.None {
		digest, err := checksum.Sum(params.StrongAlgo, params.ChecksumSeed, params.MD5Order, newFile)
		if err != nil {
			return stats, err
		}
		if sig.StrongPrefixLen > 0 && sig.StrongPrefixLen < len(digest) {
			digest = digest[:sig.StrongPrefixLen]
		}
		if _, err := w.Write(digest); err != nil {
			return stats, newFileIOError("unable to write whole-file digest", err)
		}
	}

	return stats, nil
}

// ReceiveDelta reads a token stream from r, reconstructing against
// basis, and writes the result to dst, verifying the trailing whole-
// file digest when params.StrongAlgo is not None.
func ReceiveDelta(dst io.Writer, r io.Reader, basis io.ReaderAt, header wire.SumHeader, params SessionParams) (reconstructStats, error) {
	rc, err := NewReconstructor(basis, header, params.StrongAlgo, params.ChecksumSeed, params.MD5Order)
	if err != nil {
		return reconstructStats{}, err
	}
	src := tokenReaderAdapter{r: newTokenReader(r, params.CompressionAlgo)}

	digestLen := 0
	if params.StrongAlgo != checksum.None {
		digestLen = int(header.StrongPrefixLen)
	}
	return rc.Reconstruct(dst, src, r, digestLen)
}
