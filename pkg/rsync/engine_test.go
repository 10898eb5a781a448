package rsync

import (
	"bytes"
	"testing"

	"github.com/tridentsync/rsync/pkg/logging"
	"github.com/tridentsync/rsync/pkg/rsync/checksum"
)

func testEngine() *Engine {
	return NewEngine(EngineConfig{
		ProtocolVersion: 31,
		StrongAlgo:      checksum.MD5,
		ChecksumSeed:    0,
	})
}

func TestEngineBytesSignatureAndDeltafyBytesRoundTrip(t *testing.T) {
	e := testEngine()
	basis := bytes.Repeat([]byte("A"), 10000)
	newFile := append(append([]byte{}, basis[:5000]...), bytes.Repeat([]byte("B"), 100)...)
	newFile = append(newFile, basis[5100:]...)

	sig := e.BytesSignature(basis, 512)
	instructions := e.DeltafyBytes(newFile, sig, 0)

	result, err := e.PatchBytes(basis, sig, instructions)
	if err != nil {
		t.Fatalf("PatchBytes: %v", err)
	}
	if !bytes.Equal(result, newFile) {
		t.Fatalf("PatchBytes output does not match original new file")
	}
}

func TestEngineDeltafyStreamsThroughTransmitter(t *testing.T) {
	e := testEngine()
	basis := bytes.Repeat([]byte("0123456789"), 1000)
	newFile := append([]byte(nil), basis...)

	sig, err := e.Signature(bytes.NewReader(basis), 64)
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}

	var instructions []*Instruction
	err = e.Deltafy(bytes.NewReader(newFile), sig, 0, func(instr *Instruction) error {
		instructions = append(instructions, instr.Copy())
		return nil
	})
	if err != nil {
		t.Fatalf("Deltafy: %v", err)
	}
	if len(instructions) == 0 {
		t.Fatalf("expected at least one instruction")
	}

	result, err := e.PatchBytes(basis, sig, instructions)
	if err != nil {
		t.Fatalf("PatchBytes: %v", err)
	}
	if !bytes.Equal(result, newFile) {
		t.Fatalf("reconstructed output does not match new file")
	}
}

func TestEngineDeltafyEnforcesMaxInMemoryFile(t *testing.T) {
	e := NewEngine(EngineConfig{
		ProtocolVersion: 31,
		StrongAlgo:      checksum.MD5,
		MaxInMemoryFile: 10,
	})
	sig := e.BytesSignature([]byte("0123456789"), 0)

	err := e.Deltafy(bytes.NewReader(bytes.Repeat([]byte("x"), 100)), sig, 0, func(*Instruction) error {
		return nil
	})
	if _, ok := err.(*ResourceLimitError); !ok {
		t.Fatalf("Deltafy error = %v (%T), want *ResourceLimitError", err, err)
	}
}

// TestEngineDebugParityEnablesLoggerAndWiresItIntoMatchOptions verifies
// that EngineConfig.DebugParity both flips the package-wide
// logging.DebugEnabled switch on and causes matchOptions to hand the
// matcher a live logger, rather than leaving the knob unread.
func TestEngineDebugParityEnablesLoggerAndWiresItIntoMatchOptions(t *testing.T) {
	defer func() { logging.DebugEnabled = false }()
	logging.DebugEnabled = false

	e := NewEngine(EngineConfig{ProtocolVersion: 31, StrongAlgo: checksum.MD5, DebugParity: true})
	if !logging.DebugEnabled {
		t.Fatal("expected DebugParity to enable logging.DebugEnabled")
	}
	if e.matchOptions().Logger == nil {
		t.Fatal("expected matchOptions().Logger to be non-nil when DebugParity is set")
	}

	plain := NewEngine(EngineConfig{ProtocolVersion: 31, StrongAlgo: checksum.MD5})
	if plain.matchOptions().Logger != nil {
		t.Fatal("expected matchOptions().Logger to be nil without DebugParity")
	}
}

// TestEngineDebugParityRunsDeltafyWithoutError exercises Deltafy end to
// end with DebugParity enabled, confirming the logger wiring does not
// perturb matcher correctness.
func TestEngineDebugParityRunsDeltafyWithoutError(t *testing.T) {
	defer func() { logging.DebugEnabled = false }()

	e := NewEngine(EngineConfig{ProtocolVersion: 31, StrongAlgo: checksum.MD5, DebugParity: true})
	basis := bytes.Repeat([]byte("A"), 2000)
	newFile := append(append([]byte{}, basis[:1000]...), bytes.Repeat([]byte("B"), 50)...)
	newFile = append(newFile, basis[1050:]...)

	sig := e.BytesSignature(basis, 128)
	var instructions []*Instruction
	err := e.Deltafy(bytes.NewReader(newFile), sig, 0, func(instr *Instruction) error {
		instructions = append(instructions, instr.Copy())
		return nil
	})
	if err != nil {
		t.Fatalf("Deltafy: %v", err)
	}

	result, err := e.PatchBytes(basis, sig, instructions)
	if err != nil {
		t.Fatalf("PatchBytes: %v", err)
	}
	if !bytes.Equal(result, newFile) {
		t.Fatalf("reconstructed output does not match new file")
	}
}

func TestEnginePatchRejectsOutOfRangeBlocks(t *testing.T) {
	e := testEngine()
	sig := e.BytesSignature([]byte("0123456789"), 0)

	op := &Instruction{Kind: Match, BlockStart: 5, BlockCount: 1}
	var out bytes.Buffer
	err := e.Patch(&out, bytes.NewReader([]byte("0123456789")), sig, op)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("Patch error = %v (%T), want *ValidationError", err, err)
	}
}
