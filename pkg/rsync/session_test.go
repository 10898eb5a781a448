package rsync

import (
	"bytes"
	"testing"

	"github.com/tridentsync/rsync/pkg/rsync/checksum"
	"github.com/tridentsync/rsync/pkg/rsync/negotiate"
	"github.com/tridentsync/rsync/pkg/rsync/wire"
)

func buildScenarioFInputs() (basis, newFile []byte) {
	line := []byte("The quick brown fox jumps over the lazy dog\n")
	basis = bytes.Repeat(line, 200)
	basis = append(basis, []byte("TAIL")...)

	newFile = append([]byte{}, bytes.Repeat(line, 120)...)
	newFile = append(newFile, []byte("INSERTED\n")...)
	newFile = append(newFile, bytes.Repeat(line, 80)...)
	newFile = append(newFile, []byte("TAIL")...)
	newFile = append(newFile, []byte("APPEND")...)
	return basis, newFile
}

// TestScenarioFWireTokenRoundTripWithCompression covers spec scenario F
// across every negotiable compression algorithm: the full
// signature/delta/reconstruct round trip over the wire must reproduce
// newFile exactly, and the trailing whole-file digest must verify.
func TestScenarioFWireTokenRoundTripWithCompression(t *testing.T) {
	basis, newFile := buildScenarioFInputs()

	for _, compressionAlgo := range []string{"none", "zlib", "zstd", "lz4"} {
		t.Run(compressionAlgo, func(t *testing.T) {
			params := SessionParams{
				ProtocolVersion: 31,
				StrongAlgo:      checksum.MD5,
				ChecksumSeed:    0,
				MD5Order:        checksum.SeedAppend,
				CompressionAlgo: compressionAlgo,
			}

			var sigBuf bytes.Buffer
			sig, err := SendSignature(&sigBuf, bytes.NewReader(basis), 64, params)
			if err != nil {
				t.Fatalf("SendSignature: %v", err)
			}

			roundTrippedSig, err := ReceiveSignature(&sigBuf, params)
			if err != nil {
				t.Fatalf("ReceiveSignature: %v", err)
			}
			if roundTrippedSig.FileLength != sig.FileLength {
				t.Fatalf("round-tripped signature file length = %d, want %d", roundTrippedSig.FileLength, sig.FileLength)
			}

			var deltaBuf bytes.Buffer
			opts := MatchOptions{StrongAlgo: params.StrongAlgo, ChecksumSeed: params.ChecksumSeed, MD5Order: params.MD5Order}
			if _, err := SendDelta(&deltaBuf, newFile, sig, opts, params); err != nil {
				t.Fatalf("SendDelta: %v", err)
			}

			header := wire.SumHeader{
				Count:           int32(len(sig.Blocks)),
				BlockLength:     int32(sig.BlockLength),
				StrongPrefixLen: int32(sig.StrongPrefixLen),
				Remainder:       int32(sig.Remainder),
			}

			var result bytes.Buffer
			if _, err := ReceiveDelta(&result, &deltaBuf, bytes.NewReader(basis), header, params); err != nil {
				t.Fatalf("ReceiveDelta: %v", err)
			}

			if !bytes.Equal(result.Bytes(), newFile) {
				t.Fatalf("reconstructed output does not match new file (len %d vs %d)", result.Len(), len(newFile))
			}
		})
	}
}

// TestScenarioGSumHeaderLegacyAndModern covers spec scenario G.
func TestScenarioGSumHeaderLegacyAndModern(t *testing.T) {
	modern := wire.SumHeader{Count: 100, BlockLength: 4096, StrongPrefixLen: 16, Remainder: 512}
	var modernBuf bytes.Buffer
	mw := wire.NewWriter(&modernBuf, 30)
	if err := wire.WriteSumHeader(mw, modern, 30); err != nil {
		t.Fatalf("WriteSumHeader (modern): %v", err)
	}
	mr := wire.NewReader(&modernBuf, 30)
	gotModern, err := wire.ReadSumHeader(mr, 30)
	if err != nil {
		t.Fatalf("ReadSumHeader (modern): %v", err)
	}
	if gotModern != modern {
		t.Errorf("modern round trip = %+v, want %+v", gotModern, modern)
	}

	legacy := wire.SumHeader{Count: 50, BlockLength: 8192, StrongPrefixLen: 2, Remainder: 0}
	var legacyBuf bytes.Buffer
	lw := wire.NewWriter(&legacyBuf, 26)
	if err := wire.WriteSumHeader(lw, legacy, 26); err != nil {
		t.Fatalf("WriteSumHeader (legacy): %v", err)
	}
	lr := wire.NewReader(&legacyBuf, 26)
	gotLegacy, err := wire.ReadSumHeader(lr, 26)
	if err != nil {
		t.Fatalf("ReadSumHeader (legacy): %v", err)
	}
	if gotLegacy != legacy {
		t.Errorf("legacy round trip = %+v, want %+v", gotLegacy, legacy)
	}
}

// TestReceiveSignatureFixesStrongPrefixLenAtTwoForLegacyProtocol exercises
// the real SendSignature/ReceiveSignature path (not ReadSumHeader
// directly) at protocol < 27 with MD5, whose native digest length is 16
// bytes. The sum-header carries no strong-prefix-length field at this
// protocol level, so ReceiveSignature must come back with
// StrongPrefixLen fixed at 2 (spec invariant), never 16, or the
// receiver would misalign every subsequent block record.
func TestReceiveSignatureFixesStrongPrefixLenAtTwoForLegacyProtocol(t *testing.T) {
	params := SessionParams{
		ProtocolVersion: 26,
		StrongAlgo:      checksum.MD5,
		ChecksumSeed:    0,
		MD5Order:        checksum.SeedAppend,
	}

	basis := bytes.Repeat([]byte("0123456789"), 500)

	var buf bytes.Buffer
	sent, err := SendSignature(&buf, bytes.NewReader(basis), 64, params)
	if err != nil {
		t.Fatalf("SendSignature: %v", err)
	}
	if sent.StrongPrefixLen != 2 {
		t.Fatalf("sent signature StrongPrefixLen = %d, want 2", sent.StrongPrefixLen)
	}

	received, err := ReceiveSignature(&buf, params)
	if err != nil {
		t.Fatalf("ReceiveSignature: %v", err)
	}
	if received.StrongPrefixLen != 2 {
		t.Fatalf("received signature StrongPrefixLen = %d, want 2 (not MD5's 16-byte native length)", received.StrongPrefixLen)
	}
	if len(received.Blocks) != len(sent.Blocks) {
		t.Fatalf("received %d blocks, want %d", len(received.Blocks), len(sent.Blocks))
	}
	for i := range received.Blocks {
		if len(received.Blocks[i].StrongPrefix) != 2 {
			t.Fatalf("block %d strong prefix length = %d, want 2", i, len(received.Blocks[i].StrongPrefix))
		}
		if !bytes.Equal(received.Blocks[i].StrongPrefix, sent.Blocks[i].StrongPrefix) {
			t.Fatalf("block %d strong prefix mismatch after round trip", i)
		}
	}
}

// TestParamsFromHandshakeDerivesMD5SeedOrderFromNegotiatedFlag verifies
// that ParamsFromHandshake never guesses the MD5 seed order: it must
// come strictly from whether CF_CHKSUM_SEED_FIX was negotiated.
func TestParamsFromHandshakeDerivesMD5SeedOrderFromNegotiatedFlag(t *testing.T) {
	withFix := negotiate.Handshake{ProtocolVersion: 31, ChecksumAlgo: "md5", CompatFlags: negotiate.CFChksumSeedFix}
	params, err := ParamsFromHandshake(withFix)
	if err != nil {
		t.Fatalf("ParamsFromHandshake: %v", err)
	}
	if params.MD5Order != checksum.SeedPrepend {
		t.Errorf("with CF_CHKSUM_SEED_FIX, MD5Order = %v, want SeedPrepend", params.MD5Order)
	}

	withoutFix := negotiate.Handshake{ProtocolVersion: 31, ChecksumAlgo: "md5"}
	params, err = ParamsFromHandshake(withoutFix)
	if err != nil {
		t.Fatalf("ParamsFromHandshake: %v", err)
	}
	if params.MD5Order != checksum.SeedAppend {
		t.Errorf("without CF_CHKSUM_SEED_FIX, MD5Order = %v, want SeedAppend", params.MD5Order)
	}
}
