package token

import (
	"bytes"
	"io"
	"testing"
)

// TestSimpleStreamRoundTrip verifies P4: a mixed literal/match sequence
// round-trips through the uncompressed token stream.
func TestSimpleStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewSimpleWriter(&buf)
	if err := w.WriteLiteral([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMatch(3, 2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLiteral([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnd(); err != nil {
		t.Fatal(err)
	}

	r := NewSimpleReader(&buf)
	want := []Token{
		{Kind: Literal, Data: []byte("hello ")},
		{Kind: Match, MatchIndex: 3, RunLength: 1},
		{Kind: Match, MatchIndex: 4, RunLength: 1},
		{Kind: Literal, Data: []byte("world")},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
		if got.Kind != w.Kind || got.MatchIndex != w.MatchIndex || got.RunLength != w.RunLength || !bytes.Equal(got.Data, w.Data) {
			t.Errorf("token %d: got %+v, want %+v", i, got, w)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("final Next() = %v, want io.EOF", err)
	}
}

// TestSimpleWriterRejectsEmptyRun verifies the run-length validation.
func TestSimpleWriterRejectsEmptyRun(t *testing.T) {
	w := NewSimpleWriter(&bytes.Buffer{})
	if err := w.WriteMatch(0, 0); err == nil {
		t.Error("expected error for zero-length match run")
	}
}

// TestCompressedStreamRoundTrip verifies P5: a mixed literal/match
// sequence round-trips through the compressed token stream, including a
// contiguous run encoded as TOKENRUN_REL and a disjoint jump encoded as
// TOKEN_LONG.
func TestCompressedStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewCompressedWriter(&buf)
	if err := w.WriteLiteral([]byte("the quick brown fox jumps over the lazy dog")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMatch(10, 3); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMatch(13, 2); err != nil { // contiguous with previous run
		t.Fatal(err)
	}
	if err := w.WriteMatch(100, 1); err != nil { // disjoint jump
		t.Fatal(err)
	}
	if err := w.WriteEnd(); err != nil {
		t.Fatal(err)
	}

	r := NewCompressedReader(&buf)

	tok, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Kind != Literal || string(tok.Data) != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("literal token = %+v", tok)
	}

	tok, err = r.Next()
	if err != nil || tok.MatchIndex != 10 || tok.RunLength != 3 {
		t.Errorf("first match token = %+v, err %v", tok, err)
	}

	tok, err = r.Next()
	if err != nil || tok.MatchIndex != 13 || tok.RunLength != 2 {
		t.Errorf("second (contiguous) match token = %+v, err %v", tok, err)
	}

	tok, err = r.Next()
	if err != nil || tok.MatchIndex != 100 || tok.RunLength != 1 {
		t.Errorf("third (disjoint) match token = %+v, err %v", tok, err)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("final Next() = %v, want io.EOF", err)
	}
}

// TestCompressedWriterUsesCompactFormForSmallGap verifies that a match
// immediately following another, with only a small forward gap, encodes
// as a single TOKEN_REL flag byte (delta packed into its own low 6 bits)
// rather than the five-byte TOKEN_LONG form.
func TestCompressedWriterUsesCompactFormForSmallGap(t *testing.T) {
	var buf bytes.Buffer
	w := NewCompressedWriter(&buf)
	if err := w.WriteMatch(0, 1); err != nil {
		t.Fatal(err)
	}
	before := buf.Len()
	if err := w.WriteMatch(5, 1); err != nil { // gap of 4 blocks
		t.Fatal(err)
	}
	if got := buf.Len() - before; got != 1 {
		t.Errorf("compact relative match encoded in %d bytes, want 1", got)
	}
}

// TestCompressedReaderRejectsRelWithoutPrevious verifies TOKEN_REL and
// TOKENRUN_REL cannot appear as the first token.
func TestCompressedReaderRejectsRelWithoutPrevious(t *testing.T) {
	buf := bytes.NewBuffer([]byte{TokenRel})
	r := NewCompressedReader(buf)
	if _, err := r.Next(); err == nil {
		t.Error("expected error for TOKEN_REL with no previous match")
	}
}

// TestCompressedLiteralSplitsAcrossChunks verifies that a literal larger
// than MaxDataCount is split into multiple DEFLATED_DATA chunks and
// reassembles correctly.
func TestCompressedLiteralSplitsAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), MaxDataCount) // far exceeds one chunk uncompressed

	var buf bytes.Buffer
	w := NewCompressedWriter(&buf)
	if err := w.WriteLiteral(data); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnd(); err != nil {
		t.Fatal(err)
	}

	r := NewCompressedReader(&buf)
	var reassembled []byte
	for {
		tok, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if tok.Kind != Literal {
			t.Fatalf("unexpected non-literal token %+v", tok)
		}
		reassembled = append(reassembled, tok.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Errorf("reassembled literal mismatches original (%d vs %d bytes)", len(reassembled), len(data))
	}
}

// TestDeflatedDataHeaderIsTwoBytes verifies the DEFLATED_DATA wire
// layout: a flag byte carrying the length's high 6 bits plus a single
// trailing byte for the low 8 bits, never a separate 2-byte length
// field.
func TestDeflatedDataHeaderIsTwoBytes(t *testing.T) {
	var buf bytes.Buffer
	w := NewCompressedWriter(&buf)
	if err := w.WriteLiteral([]byte("short literal")); err != nil {
		t.Fatal(err)
	}

	flag := buf.Bytes()[0]
	if flag&categoryMask != DeflatedData {
		t.Fatalf("first byte category = 0x%02x, want DeflatedData", flag&categoryMask)
	}

	r := NewCompressedReader(bytes.NewReader(buf.Bytes()))
	tok, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Kind != Literal || string(tok.Data) != "short literal" {
		t.Errorf("literal token = %+v", tok)
	}
}

// TestCompressedWriterPacksRunLengthIntoFlagByte verifies that a
// contiguous run up to 64 blocks long encodes as a single TOKENRUN_REL
// flag byte (run length minus one packed into its own low 6 bits), and
// that a 65-block run falls back to the long form.
func TestCompressedWriterPacksRunLengthIntoFlagByte(t *testing.T) {
	var buf bytes.Buffer
	w := NewCompressedWriter(&buf)
	if err := w.WriteMatch(0, 1); err != nil {
		t.Fatal(err)
	}
	before := buf.Len()
	if err := w.WriteMatch(1, 64); err != nil { // contiguous, runLength-1 == 63 == maxPayload6
		t.Fatal(err)
	}
	if got := buf.Len() - before; got != 1 {
		t.Errorf("64-block contiguous run encoded in %d bytes, want 1", got)
	}
	flag := buf.Bytes()[len(buf.Bytes())-1]
	if flag&categoryMask != TokenRunRel {
		t.Fatalf("flag category = 0x%02x, want TokenRunRel", flag&categoryMask)
	}

	before = buf.Len()
	if err := w.WriteMatch(65, 65); err != nil { // contiguous, runLength-1 == 64, exceeds maxPayload6
		t.Fatal(err)
	}
	if got := buf.Len() - before; got != 9 {
		t.Errorf("65-block contiguous run encoded in %d bytes, want 9 (TOKENRUN_LONG form)", got)
	}

	if err := w.WriteEnd(); err != nil {
		t.Fatal(err)
	}

	r := NewCompressedReader(&buf)
	tok, err := r.Next()
	if err != nil || tok.MatchIndex != 0 || tok.RunLength != 1 {
		t.Fatalf("first token = %+v, err %v", tok, err)
	}
	tok, err = r.Next()
	if err != nil || tok.MatchIndex != 1 || tok.RunLength != 64 {
		t.Fatalf("second token = %+v, err %v", tok, err)
	}
	tok, err = r.Next()
	if err != nil || tok.MatchIndex != 65 || tok.RunLength != 65 {
		t.Fatalf("third token = %+v, err %v", tok, err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("final Next() = %v, want io.EOF", err)
	}
}
