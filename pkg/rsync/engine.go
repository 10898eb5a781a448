package rsync

import (
	"bytes"
	"io"

	"github.com/tridentsync/rsync/pkg/logging"
	"github.com/tridentsync/rsync/pkg/rsync/checksum"
)

// Signature is the public name for a complete basis-file signature, the
// shape Engine callers build once per basis and hold onto for the
// lifetime of a delta computation.
type Signature = FileSignature

// Instruction is the public name for a single delta instruction.
type Instruction = DeltaInstruction

// OperationTransmitter receives delta instructions as Engine.Deltafy
// produces them, exactly like InstructionTransmitter.
type OperationTransmitter = InstructionTransmitter

// EngineConfig holds the configuration knobs an Engine needs beyond
// what is captured per call: the strong-checksum algorithm and MD5 seed
// order (fixed per session by negotiation, not per call), resource
// bounds, and behavioral toggles that have no wire representation of
// their own.
type EngineConfig struct {
	// ProtocolVersion gates the block-length ceiling (spec 4.2) and the
	// strong-prefix-length formula (spec 4.2); it is independent of the
	// wire-codec ProtocolVersion threaded through the wire package,
	// since an Engine can be used purely in-memory with no wire traffic
	// at all.
	ProtocolVersion int
	// StrongAlgo and ChecksumSeed parameterize every Signature/Deltafy
	// call this Engine makes.
	StrongAlgo   checksum.Algorithm
	ChecksumSeed uint32
	// ProperSeedOrder selects SeedPrepend for MD5 digests (the
	// CF_CHKSUM_SEED_FIX behavior) instead of the historical
	// SeedAppend default.
	ProperSeedOrder bool
	// XferFlagsAsVarint is not read by the Engine, nor by package wire's
	// file-entry codec, which always writes its flags word with
	// WriteVarint30 (a fixed int32 below protocol 30, a varint from 30).
	XferFlagsAsVarint bool
	// UpdatingBasisFile enables the delta matcher's updating-basis mode
	// (spec 4.4): the receiver is overwriting the basis file in place as
	// it reconstructs, so basis blocks behind the matcher's current read
	// position require re-verification before use.
	UpdatingBasisFile bool
	// VerifySenderFileSum is not read by Deltafy, Patch or the session
	// functions: SendDelta and ReceiveDelta always exchange and check the
	// whole-file digest when the strong algorithm is not none, and the
	// Engine methods never exchange it.
	VerifySenderFileSum bool
	// MaxInMemoryFile bounds how much of a target Deltafy will buffer
	// from an io.Reader before giving up with a ResourceLimitError; 0
	// means unbounded.
	MaxInMemoryFile int64
	// ChunkSize overrides the default 32 KiB literal-chunking constant
	// when non-zero.
	ChunkSize int64
	// DebugParity, when set, makes the Engine log each matcher decision
	// through pkg/logging at debug level; off by default since it is
	// expensive. Debug output is gated by the package-level
	// logging.DebugEnabled switch, so enabling DebugParity on any Engine
	// in the process turns it on for every logger; no Engine turns it
	// back off.
	DebugParity bool
}

func (c EngineConfig) md5Order() checksum.SeedOrder {
	if c.ProperSeedOrder {
		return checksum.SeedPrepend
	}
	return checksum.SeedAppend
}

func (e *Engine) matchOptions() MatchOptions {
	c := e.config
	opts := MatchOptions{
		UpdatingBasis:   c.UpdatingBasisFile,
		StrongAlgo:      c.StrongAlgo,
		ChecksumSeed:    c.ChecksumSeed,
		MD5Order:        c.md5Order(),
		MaxLiteralChunk: c.ChunkSize,
	}
	if c.DebugParity {
		opts.Logger = e.logger
	}
	return opts
}

// Engine bundles a checksum algorithm, seed, and resource policy into a
// reusable signature/delta/patch façade. It holds no per-file state and
// is safe for concurrent use across independent files.
type Engine struct {
	config EngineConfig
	logger *logging.Logger
}

// NewEngine creates an Engine from cfg. If cfg.DebugParity is set, it
// also flips the process-wide logging.DebugEnabled switch on, since
// pkg/logging gates Debug output at that single package level rather
// than per-logger.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.DebugParity {
		logging.DebugEnabled = true
	}
	return &Engine{
		config: cfg,
		logger: logging.RootLogger.Sublogger("rsync"),
	}
}

// Signature computes the signature of base, choosing an automatic block
// length when blockLength is 0.
func (e *Engine) Signature(base io.Reader, blockLength uint64) (*Signature, error) {
	return BuildSignature(base, int64(blockLength), e.config.StrongAlgo, e.config.ChecksumSeed, e.config.md5Order(), e.config.ProtocolVersion)
}

// BytesSignature is the in-memory convenience form of Signature: since
// reading a bytes.Reader cannot fail, callers that already hold base in
// memory can skip the error return.
func (e *Engine) BytesSignature(base []byte, blockLength uint64) *Signature {
	sig, err := e.Signature(bytes.NewReader(base), blockLength)
	if err != nil {
		// Reading from a bytes.Reader cannot fail, so the only error
		// reachable here is checksum.Unsupported, when the configured
		// StrongAlgo has no implementation (xxh3) and base is not empty.
		panic(err)
	}
	return sig
}

// Deltafy matches a fully-buffered view of target against base,
// invoking transmit for each produced instruction. If
// config.MaxInMemoryFile is set and target exceeds it, Deltafy returns
// a ResourceLimitError without reading further. maxDataOpSize, when
// non-zero, overrides the Engine's configured chunk size for this call
// only.
func (e *Engine) Deltafy(target io.Reader, base *Signature, maxDataOpSize uint64, transmit OperationTransmitter) error {
	var buf bytes.Buffer
	limit := e.config.MaxInMemoryFile
	if limit > 0 {
		limited := io.LimitReader(target, limit+1)
		if _, err := buf.ReadFrom(limited); err != nil {
			return newFileIOError("unable to read delta target", err)
		}
		if int64(buf.Len()) > limit {
			return newResourceLimitError("delta target exceeds configured in-memory limit")
		}
	} else {
		if _, err := buf.ReadFrom(target); err != nil {
			return newFileIOError("unable to read delta target", err)
		}
	}

	opts := e.matchOptions()
	if maxDataOpSize > 0 {
		opts.MaxLiteralChunk = int64(maxDataOpSize)
	}

	_, err := ComputeDelta(buf.Bytes(), base, opts, transmit)
	return err
}

// DeltafyBytes is the in-memory convenience form of Deltafy, returning
// the full instruction list rather than streaming it through a
// transmitter. Matching a well-formed in-memory input never fails (spec
// 4.4's failure model), so this form has no error return.
func (e *Engine) DeltafyBytes(target []byte, base *Signature, maxDataOpSize uint64) []*Instruction {
	opts := e.matchOptions()
	if maxDataOpSize > 0 {
		opts.MaxLiteralChunk = int64(maxDataOpSize)
	}

	var instructions []*Instruction
	_, _ = ComputeDelta(target, base, opts, func(instr *DeltaInstruction) error {
		instructions = append(instructions, instr.Copy())
		return nil
	})
	return instructions
}

// Patch applies a single instruction to destination, reading matched
// basis ranges from base via Seek+Read. Callers apply a full delta by
// calling Patch once per instruction, in order.
func (e *Engine) Patch(destination io.Writer, base io.ReadSeeker, signature *Signature, op *Instruction) error {
	if op.Kind == Literal {
		_, err := destination.Write(op.Data)
		if err != nil {
			return newFileIOError("unable to write literal instruction", err)
		}
		return nil
	}

	if op.BlockStart < 0 || op.BlockStart+op.BlockCount > int64(len(signature.Blocks)) {
		return newValidationError("instruction references blocks outside the signature")
	}

	for i := int64(0); i < op.BlockCount; i++ {
		block := &signature.Blocks[op.BlockStart+i]
		if _, err := base.Seek(block.Offset, io.SeekStart); err != nil {
			return newFileIOError("unable to seek basis for patch", err)
		}
		buf := make([]byte, block.Length)
		if _, err := io.ReadFull(base, buf); err != nil {
			return newFileIOError("unable to read basis block for patch", err)
		}
		if _, err := destination.Write(buf); err != nil {
			return newFileIOError("unable to write patched block", err)
		}
	}
	return nil
}

// PatchBytes applies an entire delta to an in-memory base, returning
// the reconstructed result.
func (e *Engine) PatchBytes(base []byte, signature *Signature, delta []*Instruction) ([]byte, error) {
	var out bytes.Buffer
	basis := bytes.NewReader(base)
	for _, op := range delta {
		if err := e.Patch(&out, basis, signature, op); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}
