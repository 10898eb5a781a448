package rsync

import (
	"io"

	"github.com/tridentsync/rsync/pkg/logging"
	"github.com/tridentsync/rsync/pkg/rsync/checksum"
)

// ChunkSize is the literal-chunking constant used both by the delta
// matcher's early-flush heuristic and by literal emission: no single
// LITERAL instruction (and, in the token stream, no single uncompressed
// literal frame) carries more than this many bytes.
const ChunkSize = 32 * 1024

// MatchOptions configures optional delta-matcher behaviors.
type MatchOptions struct {
	// UpdatingBasis enables in-place receiver update mode: basis blocks
	// at an offset less than the matcher's current read position are
	// only usable once independently re-verified at their aligned
	// position, since the receiver may have already overwritten them.
	UpdatingBasis bool
	// StrongAlgo and ChecksumSeed/MD5Order must match the values used to
	// build sig, or computed strong digests will never match stored
	// ones.
	StrongAlgo   checksum.Algorithm
	ChecksumSeed uint32
	MD5Order     checksum.SeedOrder
	// MaxLiteralChunk overrides ChunkSize for literal emission and the
	// early-flush heuristic when non-zero, letting a caller bound the
	// size of any single data operation it has to buffer or transmit.
	MaxLiteralChunk int64
	// Logger, if non-nil, receives a Debug-level line for every match and
	// literal-flush decision the matcher makes. A nil Logger (the zero
	// value) disables this at essentially no cost, since every Logger
	// method is a no-op on a nil receiver.
	Logger *logging.Logger
}

func (o *MatchOptions) chunkSize() int64 {
	if o.MaxLiteralChunk > 0 {
		return o.MaxLiteralChunk
	}
	return ChunkSize
}

// window holds the rolling-checksum state for the matcher's current
// byte range [offset, offset+len(buf)) of the new-file stream.
type window struct {
	buf    []byte
	offset int64
	s1, s2 uint32
}

func newWindowFromBuf(buf []byte, offset int64) window {
	_, s1, s2 := checksum.Weak(buf)
	return window{buf: buf, offset: offset, s1: s1, s2: s2}
}

func (w *window) weak() uint32 { return checksum.Combine(w.s1, w.s2) }

// ComputeDelta matches a new-file stream against a basis signature,
// invoking emit for each produced instruction in order, and returns the
// match statistics gathered along the way. If sig has no blocks, the
// matcher emits the whole stream as LITERAL instructions of at most the
// chunk size each.
//
// newFile must be fully buffered in memory for the duration of the
// call: the matcher needs random access to re-read bytes already
// scanned once a match is accepted and the window repositions. Very
// large inputs should be matched in bounded-size segments by the
// caller.
func ComputeDelta(newFile []byte, sig *FileSignature, opts MatchOptions, emit InstructionTransmitter) (MatchStatistics, error) {
	stats := MatchStatistics{TargetLength: int64(len(newFile))}
	n := int64(len(newFile))

	if sig == nil || len(sig.Blocks) == 0 {
		if n > 0 {
			if err := emitLiteralRuns(newFile, opts.chunkSize(), emit); err != nil {
				return stats, err
			}
			stats.LiteralBytes = n
		}
		return stats, nil
	}

	idx := newHashIndex(sig)
	b := sig.BlockLength
	chunk := opts.chunkSize()
	lastBlock := &sig.Blocks[len(sig.Blocks)-1]
	end := n + 1 - lastBlock.Length

	strongOf := func(offset, length int64) []byte {
		full, _ := checksum.Sum(opts.StrongAlgo, opts.ChecksumSeed, opts.MD5Order, newFile[offset:offset+length])
		if sig.StrongPrefixLen > 0 && sig.StrongPrefixLen < len(full) {
			full = full[:sig.StrongPrefixLen]
		}
		return full
	}

	offset := int64(0)
	literalLo := int64(0)
	wantI := int32(0)
	lastMatch := int64(0)

	var alignedI int32
	var alignedOff int64
	sameOffset := make(map[int32]bool)

	var w window
	haveWindow := false

	k := int64(0)
	if end > 0 {
		k = b
		if k > n {
			k = n
		}
	}

	for offset < end && k > 0 {
		if !haveWindow || w.offset != offset {
			w = newWindowFromBuf(newFile[offset:offset+k], offset)
			haveWindow = true
		}
		weak := w.weak()

		cands := idx.lookup(weak, k)
		stats.BlocksScanned++

		if opts.UpdatingBasis {
			filtered := cands[:0:0]
			for _, c := range cands {
				if sig.Blocks[c].Offset >= offset || sameOffset[c] {
					filtered = append(filtered, c)
				}
			}
			cands = filtered
		}

		var matched bool
		var matchIndex int32
		matchOffset := offset
		if len(cands) > 0 {
			stats.HashHits++
			res := scanCandidates(idx, cands, func() []byte { return strongOf(offset, k) })
			stats.FalseAlarms += int64(res.falseAlarms)
			if res.matched {
				matched = true
				matchIndex = res.blockIndex

				// want_i tie-break: prefer the adjacency hint over
				// whichever candidate happened to be scanned first, as
				// long as it independently verifies (cands is already
				// restricted to this weak/length and, under
				// UpdatingBasis, to offsets not yet overwritten or
				// already marked same_offset).
				if matchIndex != wantI && int(wantI) < len(sig.Blocks) && isCandidate(cands, wantI) {
					wantBlock := &sig.Blocks[wantI]
					if bytesEqualPrefix(strongOf(offset, k), wantBlock.StrongPrefix) {
						matchIndex = wantI
					}
				}

				if opts.UpdatingBasis {
					for alignedI < int32(len(sig.Blocks))-1 && sig.Blocks[alignedI].Offset < offset {
						alignedI++
						alignedOff = sig.Blocks[alignedI].Offset
					}
					// The window is aligned when it starts exactly at the
					// next unconsumed basis block.
					aligned := offset == alignedOff
					if aligned {
						ab := &sig.Blocks[alignedI]
						if ab.Length == k && bytesEqualPrefix(strongOf(offset, k), ab.StrongPrefix) {
							matchIndex = alignedI
						}
					} else if alignedOff > offset {
						// The tentative match verified behind the aligned
						// cursor. Accept it at aligned_off instead,
						// re-verifying the strong digest there, and mark
						// the block same_offset so a future lookup is not
						// dropped by the updating-basis bypass rule.
						ab := &sig.Blocks[alignedI]
						if ab.Length == k && alignedOff+k <= n && bytesEqualPrefix(strongOf(alignedOff, k), ab.StrongPrefix) {
							matchIndex = alignedI
							matchOffset = alignedOff
							sameOffset[alignedI] = true
							opts.Logger.Debugf("updating-basis: moved match for block %d from offset %d to aligned offset %d", alignedI, offset, alignedOff)
						}
					}
				}
			}
		}

		if matched {
			if err := flushLiteral(newFile, literalLo, matchOffset, chunk, emit, &stats, opts.Logger); err != nil {
				return stats, err
			}

			block := &sig.Blocks[matchIndex]
			if err := emit(&DeltaInstruction{Kind: Match, BlockStart: int64(matchIndex), BlockCount: 1}); err != nil {
				return stats, err
			}
			stats.MatchedBlocks++
			stats.MatchedBytes += block.Length
			opts.Logger.Debugf("match: block %d at new-file offset %d, length %d", matchIndex, matchOffset, block.Length)

			wantI = matchIndex + 1
			lastMatch = matchOffset + k
			offset = matchOffset + k
			literalLo = offset
			haveWindow = false

			if offset < n {
				k = b
				if rem := n - offset; k > rem {
					k = rem
				}
			} else {
				k = 0
			}
			continue
		}

		if offset+k < n {
			oldByte := newFile[offset]
			newByte := newFile[offset+k]
			_, ns1, ns2 := checksum.RollSlide(w.s1, w.s2, oldByte, newByte, uint32(k))
			offset++
			w = window{buf: newFile[offset : offset+k], offset: offset, s1: ns1, s2: ns2}
		} else {
			oldByte := newFile[offset]
			_, ns1, ns2 := checksum.RollShrink(w.s1, w.s2, oldByte, uint32(k))
			k--
			offset++
			w = window{buf: newFile[offset : offset+k], offset: offset, s1: ns1, s2: ns2}
		}

		if offset-lastMatch >= b+chunk && end-offset > chunk {
			flushTo := offset - b
			if flushTo > literalLo {
				if err := flushLiteral(newFile, literalLo, flushTo, chunk, emit, &stats, opts.Logger); err != nil {
					return stats, err
				}
				literalLo = flushTo
				lastMatch = flushTo
			}
		}
	}

	if literalLo < n {
		if err := flushLiteral(newFile, literalLo, n, chunk, emit, &stats, opts.Logger); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func bytesEqualPrefix(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// flushLiteral emits newFile[lo:hi) as one or more chunked LITERAL
// instructions, updating stats.
func flushLiteral(newFile []byte, lo, hi, chunk int64, emit InstructionTransmitter, stats *MatchStatistics, logger *logging.Logger) error {
	if hi <= lo {
		return nil
	}
	stats.LiteralBytes += hi - lo
	logger.Debugf("literal: new-file range [%d, %d), %d bytes", lo, hi, hi-lo)
	for lo < hi {
		chunkEnd := lo + chunk
		if chunkEnd > hi {
			chunkEnd = hi
		}
		if err := emit(&DeltaInstruction{Kind: Literal, Data: newFile[lo:chunkEnd]}); err != nil {
			return err
		}
		lo = chunkEnd
	}
	return nil
}

func emitLiteralRuns(data []byte, chunk int64, emit InstructionTransmitter) error {
	var stats MatchStatistics
	return flushLiteral(data, 0, int64(len(data)), chunk, emit, &stats, nil)
}

// readAll is a small helper for callers that have an io.Reader target
// rather than an in-memory buffer; ComputeDelta does not use it, since it
// requires random access.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
