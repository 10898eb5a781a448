package wire

import "os"

// xflag bits control which fields of a FileEntry are carried on the wire
// relative to the previously encoded entry. An encoder/decoder pair is
// stateful: each side remembers the last entry it processed so that
// fields identical to the previous entry (a common case when a directory
// listing is mostly-sorted and mostly-homogeneous) can be omitted
// entirely instead of retransmitted.
type xflag uint16

const (
	xflagSameNamePrefix xflag = 1 << iota
	xflagLongName
	xflagSameMode
	xflagSameUid
	xflagSameGid
	xflagHasCRTime
	xflagHasATime
	xflagHasLinkTarget
	xflagHasRdev
)

// FileEntry is a single file-list record: the subset of metadata the wire
// codec transmits about one file, directory, symlink, or device node.
// Applying this metadata to the filesystem is outside this module's
// scope; FileEntry only carries what crossed the wire.
type FileEntry struct {
	Name       string
	Length     int64
	ModTime    int64 // Unix seconds
	Mode       uint32
	Uid        int32
	Gid        int32
	Rdev       uint32 // valid for device-special entries
	LinkTarget string // valid when Mode&os.ModeSymlink != 0
	CRTime     int64  // creation time, carried whenever HasCRTime is set
	ATime      int64  // access time, carried whenever HasATime is set
	HasCRTime  bool
	HasATime   bool
}

func isSymlink(mode uint32) bool {
	return os.FileMode(mode)&os.ModeSymlink != 0
}

func isDevice(mode uint32) bool {
	m := os.FileMode(mode)
	return m&(os.ModeDevice|os.ModeCharDevice) != 0
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > 255 {
		n = 255
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// FileEntryEncoder writes a sequence of FileEntry records, each diffed
// against the previously written one.
type FileEntryEncoder struct {
	prev    *FileEntry
	hasPrev bool
}

// NewFileEntryEncoder creates an encoder with no prior state.
func NewFileEntryEncoder() *FileEntryEncoder {
	return &FileEntryEncoder{}
}

// Encode writes one file-list entry.
func (enc *FileEntryEncoder) Encode(w *Writer, e FileEntry) error {
	var flags xflag
	prefixLen := 0
	if enc.hasPrev {
		prefixLen = commonPrefixLen(enc.prev.Name, e.Name)
		if prefixLen > 0 {
			flags |= xflagSameNamePrefix
		}
		if enc.prev.Mode == e.Mode {
			flags |= xflagSameMode
		}
		if enc.prev.Uid == e.Uid {
			flags |= xflagSameUid
		}
		if enc.prev.Gid == e.Gid {
			flags |= xflagSameGid
		}
	}
	suffix := e.Name[prefixLen:]
	if len(suffix) >= 0x80 {
		flags |= xflagLongName
	}
	if e.HasCRTime {
		flags |= xflagHasCRTime
	}
	if e.HasATime {
		flags |= xflagHasATime
	}
	if isSymlink(e.Mode) {
		flags |= xflagHasLinkTarget
	}
	if isDevice(e.Mode) {
		flags |= xflagHasRdev
	}

	if err := w.WriteVarint30(int32(flags)); err != nil {
		return err
	}

	if flags&xflagSameNamePrefix != 0 {
		if err := w.WriteByte(byte(prefixLen)); err != nil {
			return err
		}
	}
	if err := w.WriteVstring(suffix); err != nil {
		return err
	}

	if err := w.WriteVarlong30(e.Length, 3); err != nil {
		return err
	}
	if err := w.WriteVarlong30(e.ModTime, 3); err != nil {
		return err
	}
	if flags&xflagSameMode == 0 {
		if err := w.WriteVarint30(int32(e.Mode)); err != nil {
			return err
		}
	}
	if flags&xflagSameUid == 0 {
		if err := w.WriteVarint30(e.Uid); err != nil {
			return err
		}
	}
	if flags&xflagSameGid == 0 {
		if err := w.WriteVarint30(e.Gid); err != nil {
			return err
		}
	}
	if flags&xflagHasRdev != 0 {
		if err := w.WriteVarint30(int32(e.Rdev)); err != nil {
			return err
		}
	}
	if flags&xflagHasLinkTarget != 0 {
		if err := w.WriteVstring(e.LinkTarget); err != nil {
			return err
		}
	}
	if flags&xflagHasCRTime != 0 {
		if err := w.WriteVarlong30(e.CRTime, 3); err != nil {
			return err
		}
	}
	if flags&xflagHasATime != 0 {
		if err := w.WriteVarlong30(e.ATime, 3); err != nil {
			return err
		}
	}

	prevCopy := e
	enc.prev = &prevCopy
	enc.hasPrev = true
	return nil
}

// FileEntryDecoder is the read-side counterpart of FileEntryEncoder.
type FileEntryDecoder struct {
	prev    *FileEntry
	hasPrev bool
}

// NewFileEntryDecoder creates a decoder with no prior state.
func NewFileEntryDecoder() *FileEntryDecoder {
	return &FileEntryDecoder{}
}

// Decode reads one file-list entry written by FileEntryEncoder.Encode.
func (dec *FileEntryDecoder) Decode(r *Reader) (FileEntry, error) {
	var e FileEntry

	flagsRaw, err := r.ReadVarint30()
	if err != nil {
		return e, err
	}
	flags := xflag(flagsRaw)

	prefixLen := 0
	if flags&xflagSameNamePrefix != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return e, err
		}
		prefixLen = int(b)
		if !dec.hasPrev || prefixLen > len(dec.prev.Name) {
			return e, protoErrorf("file-entry name prefix length %d exceeds previous name", prefixLen)
		}
	}
	suffix, err := r.ReadVstring()
	if err != nil {
		return e, err
	}
	if prefixLen > 0 {
		e.Name = dec.prev.Name[:prefixLen] + suffix
	} else {
		e.Name = suffix
	}

	if e.Length, err = r.ReadVarlong30(3); err != nil {
		return e, err
	}
	if e.ModTime, err = r.ReadVarlong30(3); err != nil {
		return e, err
	}

	if flags&xflagSameMode != 0 {
		if !dec.hasPrev {
			return e, protoErrorf("file-entry same-mode flag set with no previous entry")
		}
		e.Mode = dec.prev.Mode
	} else {
		mode, err := r.ReadVarint30()
		if err != nil {
			return e, err
		}
		e.Mode = uint32(mode)
	}

	if flags&xflagSameUid != 0 {
		if !dec.hasPrev {
			return e, protoErrorf("file-entry same-uid flag set with no previous entry")
		}
		e.Uid = dec.prev.Uid
	} else {
		if e.Uid, err = r.ReadVarint30(); err != nil {
			return e, err
		}
	}

	if flags&xflagSameGid != 0 {
		if !dec.hasPrev {
			return e, protoErrorf("file-entry same-gid flag set with no previous entry")
		}
		e.Gid = dec.prev.Gid
	} else {
		if e.Gid, err = r.ReadVarint30(); err != nil {
			return e, err
		}
	}

	if flags&xflagHasRdev != 0 {
		rdev, err := r.ReadVarint30()
		if err != nil {
			return e, err
		}
		e.Rdev = uint32(rdev)
	}
	if flags&xflagHasLinkTarget != 0 {
		if e.LinkTarget, err = r.ReadVstring(); err != nil {
			return e, err
		}
	}
	if flags&xflagHasCRTime != 0 {
		e.HasCRTime = true
		if e.CRTime, err = r.ReadVarlong30(3); err != nil {
			return e, err
		}
	}
	if flags&xflagHasATime != 0 {
		e.HasATime = true
		if e.ATime, err = r.ReadVarlong30(3); err != nil {
			return e, err
		}
	}

	prevCopy := e
	dec.prev = &prevCopy
	dec.hasPrev = true
	return e, nil
}
