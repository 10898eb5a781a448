package rsync

import (
	"io"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/tridentsync/rsync/pkg/rsync/checksum"
)

const (
	// minimumBlockLength is the smallest block length ever chosen,
	// regardless of file size: below this, per-block overhead (the weak
	// hash and strong prefix) dominates the signature's size relative to
	// what it describes.
	minimumBlockLength = 700
	// defaultMinStrongPrefixLength is L_min: the shortest strong prefix
	// ever transmitted, even when the bit-budget formula would ask for
	// less.
	defaultMinStrongPrefixLength = 2
)

// maxBlockLength returns max_block_length(P): 8192 below protocol 30,
// 131072 from protocol 30 on, when larger blocks stop costing extra
// round trips relative to the bandwidth they save.
func maxBlockLength(protocolVersion int) int64 {
	if protocolVersion < 30 {
		return 8192
	}
	return 131072
}

// BlockLengthForFileLength chooses a block length for a file of the
// given length, following the square-root heuristic (so the
// signature's block count scales with the square root of the file
// length, under the assumption that changes are sparse) and clamping
// the result to [minimumBlockLength, maxBlockLength(protocolVersion)].
func BlockLengthForFileLength(fileLength int64, protocolVersion int) int64 {
	if fileLength <= minimumBlockLength*minimumBlockLength {
		return minimumBlockLength
	}

	max := maxBlockLength(protocolVersion)

	// Integer square root via bit-trial: starting from the highest bit
	// of max and working down, keep a candidate bit set only if doing so
	// keeps the running result's square within the file length.
	var result int64
	for bit := int64(1) << uint(bits.Len64(uint64(max))-1); bit > 0; bit >>= 1 {
		candidate := result | bit
		if candidate*candidate <= fileLength {
			result = candidate
		}
	}

	if result < minimumBlockLength {
		result = minimumBlockLength
	} else if result > max {
		result = max
	}
	return result
}

// ceilLog2 returns ceil(log2(n)) for n >= 1, and 0 for n <= 1.
func ceilLog2(n int64) int64 {
	if n <= 1 {
		return 0
	}
	return int64(bits.Len64(uint64(n - 1)))
}

// StrongPrefixLength chooses how many bytes of each block's strong
// digest are actually transmitted, balancing wire size against the
// false-positive probability of a weak-checksum collision paired with a
// truncated strong digest: more blocks, or a shorter block length,
// demand more prefix bytes to keep that probability bounded. The
// legacy protocol (< 27) always uses the 2-byte minimum, since it has no
// wire field to tell a receiver what length it chose.
func StrongPrefixLength(blockLength int64, fileLength int64, algo checksum.Algorithm, protocolVersion int) int {
	lMax := algo.DigestLength()
	if protocolVersion < 27 {
		return defaultMinStrongPrefixLength
	}

	b := 10 + 2*ceilLog2(fileLength+1)

	bl := blockLength
	for bl>>1 > 0 && b > 0 {
		b--
		bl >>= 1
	}

	numerator := b - 24
	var length int64
	if numerator > 0 {
		length = (numerator + 7) / 8
	}

	if length < defaultMinStrongPrefixLength {
		length = defaultMinStrongPrefixLength
	}
	if int(length) > lMax {
		length = int64(lMax)
	}
	return int(length)
}

// BuildSignature computes the signature for a basis stream using the
// given strong-checksum algorithm and seed. If blockLength is 0, it is
// chosen automatically via BlockLengthForFileLength; this requires base
// to implement io.Seeker so the file length can be determined up front,
// falling back to the minimum block length if it does not.
func BuildSignature(base io.Reader, blockLength int64, algo checksum.Algorithm, seed uint32, md5Order checksum.SeedOrder, protocolVersion int) (*FileSignature, error) {
	if blockLength == 0 {
		if seeker, ok := base.(io.Seeker); ok {
			if length, err := seekableLength(seeker); err == nil {
				blockLength = BlockLengthForFileLength(length, protocolVersion)
			} else {
				blockLength = minimumBlockLength
			}
		} else {
			blockLength = minimumBlockLength
		}
	}

	result := &FileSignature{
		BlockLength:     blockLength,
		StrongAlgo:      algo,
		ProtocolVersion: protocolVersion,
		ChecksumSeed:    seed,
	}

	buffer := make([]byte, blockLength)
	var offset int64
	eof := false
	for !eof {
		n, err := io.ReadFull(base, buffer)
		if err == io.EOF {
			break
		} else if err == io.ErrUnexpectedEOF {
			eof = true
		} else if err != nil {
			return nil, newFileIOError("unable to read basis block", err)
		}

		block := buffer[:n]
		weak, _, _ := checksum.Weak(block)
		strong, err := checksum.Sum(algo, seed, md5Order, block)
		if err != nil {
			return nil, err
		}

		result.Blocks = append(result.Blocks, BlockSignature{
			Weak:         weak,
			StrongPrefix: strong,
			Offset:       offset,
			Length:       int64(n),
		})
		offset += int64(n)
		if eof {
			result.Remainder = int64(n)
		}
	}
	result.FileLength = offset

	if len(result.Blocks) == 0 {
		result.BlockLength = 0
		result.Remainder = 0
		return result, nil
	}
	if result.Remainder == 0 {
		result.Remainder = blockLength
	}

	prefixLen := StrongPrefixLength(blockLength, result.FileLength, algo, protocolVersion)
	result.StrongPrefixLen = prefixLen
	for i := range result.Blocks {
		if len(result.Blocks[i].StrongPrefix) > prefixLen {
			result.Blocks[i].StrongPrefix = result.Blocks[i].StrongPrefix[:prefixLen]
		}
	}

	return result, nil
}

func seekableLength(s io.Seeker) (int64, error) {
	current, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, errors.Wrap(err, "unable to determine current offset")
	}
	length, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "unable to determine length")
	}
	if _, err := s.Seek(current, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "unable to restore offset")
	}
	return length, nil
}
