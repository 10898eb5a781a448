// Package rsync implements the synchronization core: signature
// generation, delta matching against a basis file, and receiver-side
// reconstruction from a delta. It is transport-agnostic; callers supply
// io.Reader/io.Writer/io.Seeker values and this package never opens a
// socket or a file by path itself.
package rsync

import "github.com/tridentsync/rsync/pkg/rsync/checksum"

// BlockSignature is the per-block entry of a file signature: a block's
// weak rolling checksum, a (possibly truncated) prefix of its strong
// digest, its offset in the basis file, and its length (shorter than
// BlockLength only for the final block of the file).
type BlockSignature struct {
	Weak         uint32
	StrongPrefix []byte
	Offset       int64
	Length       int64
}

// EnsureValid verifies a block signature's invariants.
func (b *BlockSignature) EnsureValid() error {
	if b == nil {
		return newValidationError("nil block signature")
	}
	if len(b.StrongPrefix) == 0 {
		return newValidationError("empty strong prefix")
	}
	if b.Offset < 0 {
		return newValidationError("negative block offset")
	}
	if b.Length <= 0 {
		return newValidationError("non-positive block length")
	}
	return nil
}

// FileSignature is the complete signature of a basis file: the uniform
// block length it was cut with, the file's total length, the per-block
// signatures, the length of the short final block (equal to BlockLength
// when the file length divides evenly), and the algorithm/seed/protocol
// parameters needed to reproduce or verify the per-block strong digests.
type FileSignature struct {
	BlockLength     int64
	FileLength      int64
	Blocks          []BlockSignature
	Remainder       int64
	StrongAlgo      checksum.Algorithm
	StrongPrefixLen int
	ProtocolVersion int
	ChecksumSeed    uint32
}

// EnsureValid verifies a file signature's invariants.
func (s *FileSignature) EnsureValid() error {
	if s == nil {
		return newValidationError("nil file signature")
	}
	for i := range s.Blocks {
		if err := s.Blocks[i].EnsureValid(); err != nil {
			return wrapValidationError(err, "invalid block signature")
		}
	}
	if s.BlockLength == 0 {
		if s.Remainder != 0 {
			return newValidationError("zero block length with non-zero remainder")
		}
		if len(s.Blocks) != 0 {
			return newValidationError("zero block length with non-zero block count")
		}
		return nil
	}
	if s.Remainder == 0 {
		return newValidationError("non-zero block length with zero remainder")
	}
	if s.Remainder > s.BlockLength {
		return newValidationError("remainder exceeds block length")
	}
	if len(s.Blocks) == 0 {
		return newValidationError("non-zero block length with no blocks")
	}
	return nil
}

// isEmpty reports whether the signature represents a zero-length file.
func (s *FileSignature) isEmpty() bool {
	return s.BlockLength == 0
}

// InstructionKind distinguishes a delta instruction's payload kind.
type InstructionKind int

const (
	// Match references one or more contiguous basis blocks.
	Match InstructionKind = iota
	// Literal carries inline bytes absent from the basis file.
	Literal
)

// DeltaInstruction is one element of a delta artifact: either a run of
// matched basis blocks or a chunk of literal data.
type DeltaInstruction struct {
	Kind InstructionKind
	// BlockStart/BlockCount are meaningful when Kind == Match.
	BlockStart int64
	BlockCount int64
	// Data is meaningful when Kind == Literal.
	Data []byte
}

// EnsureValid verifies a delta instruction's invariants.
func (d *DeltaInstruction) EnsureValid() error {
	if d == nil {
		return newValidationError("nil delta instruction")
	}
	if d.Kind == Literal {
		if len(d.Data) == 0 {
			return newValidationError("literal instruction with no data")
		}
		if d.BlockStart != 0 || d.BlockCount != 0 {
			return newValidationError("literal instruction with non-zero block fields")
		}
	} else if d.BlockCount == 0 {
		return newValidationError("match instruction with zero block count")
	}
	return nil
}

// Copy creates a deep copy of a delta instruction.
func (d *DeltaInstruction) Copy() *DeltaInstruction {
	var data []byte
	if len(d.Data) > 0 {
		data = make([]byte, len(d.Data))
		copy(data, d.Data)
	}
	return &DeltaInstruction{
		Kind:       d.Kind,
		BlockStart: d.BlockStart,
		BlockCount: d.BlockCount,
		Data:       data,
	}
}

// DeltaArtifact is a complete delta: the instruction sequence needed to
// reconstruct a target from a basis file, plus the statistics gathered
// while producing it.
type DeltaArtifact struct {
	Instructions []DeltaInstruction
	Stats        MatchStatistics
}

// MatchStatistics summarizes how much of a target was reconstructed from
// the basis versus sent as literal data.
type MatchStatistics struct {
	MatchedBlocks int64
	MatchedBytes  int64
	LiteralBytes  int64
	TargetLength  int64
	// FalseAlarms counts candidates whose weak checksum matched but whose
	// strong digest did not, across every window scanned.
	FalseAlarms int64
	// HashHits counts windows for which the weak-checksum lookup returned
	// at least one candidate, whether or not any of them verified.
	HashHits int64
	// BlocksScanned counts every window for which the matcher computed a
	// weak checksum and performed a hash-index lookup.
	BlocksScanned int64
}

// InstructionTransmitter receives delta instructions as they are
// produced. A LITERAL instruction's Data aliases the matcher's input
// buffer, so a transmitter must either process an instruction
// immediately or copy it before returning.
type InstructionTransmitter func(*DeltaInstruction) error
