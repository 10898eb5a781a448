package wire

// legacyStrongPrefixLen is the strong-prefix length implied for every
// block when protocol version < 27: spec-fixed at 2 regardless of the
// negotiated strong algorithm's native digest length.
const legacyStrongPrefixLen = 2

// SumHeader is the fixed preamble that precedes a file's block signature
// list on the wire: the block count, the block length used to cut the
// file, the strong-digest length actually transmitted per block (which
// may be less than the algorithm's native digest length), and the
// trailing remainder length of the file's final, possibly short, block.
type SumHeader struct {
	Count          int32
	BlockLength    int32
	StrongPrefixLen int32
	Remainder      int32
}

// WriteSumHeader writes a sum-header. Protocol versions below 27 do not
// transmit StrongPrefixLen on the wire at all: the strong-digest length is
// implied to be 2 bytes (ReadSumHeader fills that in), so the field is
// omitted rather than zeroed.
func WriteSumHeader(w *Writer, h SumHeader, protocolVersion int) error {
	if h.Count < 0 || h.BlockLength < 0 || h.Remainder < 0 {
		return protoErrorf("sum-header fields must be non-negative: %+v", h)
	}
	if protocolVersion >= 27 && h.StrongPrefixLen < 0 {
		return protoErrorf("sum-header strong prefix length must be non-negative: %+v", h)
	}

	if err := w.WriteInt32(h.Count); err != nil {
		return err
	}
	if err := w.WriteInt32(h.BlockLength); err != nil {
		return err
	}
	if protocolVersion >= 27 {
		if err := w.WriteInt32(h.StrongPrefixLen); err != nil {
			return err
		}
	}
	return w.WriteInt32(h.Remainder)
}

// ReadSumHeader reads a sum-header written by WriteSumHeader. For
// protocol versions below 27, StrongPrefixLen is fixed at
// legacyStrongPrefixLen (2), regardless of the negotiated strong
// algorithm's native digest length, since no prefix-length field
// exists on the wire at that protocol level (spec invariant: for
// protocol < 27, strong_prefix_len is fixed at 2).
func ReadSumHeader(r *Reader, protocolVersion int) (SumHeader, error) {
	var h SumHeader

	count, err := r.ReadInt32()
	if err != nil {
		return h, err
	}
	blockLength, err := r.ReadInt32()
	if err != nil {
		return h, err
	}

	strongPrefixLen := int32(legacyStrongPrefixLen)
	if protocolVersion >= 27 {
		strongPrefixLen, err = r.ReadInt32()
		if err != nil {
			return h, err
		}
	}

	remainder, err := r.ReadInt32()
	if err != nil {
		return h, err
	}

	h = SumHeader{
		Count:           count,
		BlockLength:     blockLength,
		StrongPrefixLen: strongPrefixLen,
		Remainder:       remainder,
	}
	if h.Count < 0 || h.BlockLength < 0 || h.StrongPrefixLen < 0 || h.Remainder < 0 {
		return h, protoErrorf("sum-header received negative field: %+v", h)
	}
	return h, nil
}
