// Package negotiate implements the rsync session handshake: protocol
// version selection, compatibility-flag exchange, checksum and
// compression algorithm selection, and checksum seed exchange. Nothing
// here transfers file data; it only establishes the parameters every
// other package in this module needs before the transfer itself begins.
package negotiate

import (
	"fmt"
	"io"

	"github.com/tridentsync/rsync/pkg/rsync/wire"
)

// MinProtocolVersion and MaxProtocolVersion bound the versions this
// module understands. A peer offering a version outside this range
// cannot be interoperated with at all.
const (
	MinProtocolVersion = 20
	MaxProtocolVersion = 40
)

// ProtocolMismatchError reports a negotiated or offered protocol version
// this module cannot support.
type ProtocolMismatchError struct {
	Offered int
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol version %d is outside the supported range [%d, %d]", e.Offered, MinProtocolVersion, MaxProtocolVersion)
}

// CompatFlag is a bitmask of optional protocol behaviors negotiated for
// protocol versions 30 and above. A flag only takes effect when both
// peers set it: the session's active flags are the bitwise AND of what
// each side offered.
type CompatFlag int32

const (
	CFIncRecurse CompatFlag = 1 << iota
	CFSymlinkTimes
	CFSafeFileList
	CFAvoidXattrOptim
	// CFChksumSeedFix gates whether MD5 block/file checksums prepend
	// (set) or append (unset) the checksum seed. This module must never
	// guess this value; it is always the result of the negotiated
	// handshake.
	CFChksumSeedFix
	CFInplacePartialDir
	CFVarintFlistFlags
	CFID0Names
)

// Handshake carries the outcome of a completed negotiation.
type Handshake struct {
	ProtocolVersion int
	CompatFlags     CompatFlag
	ChecksumAlgo    string
	CompressionAlgo string
	ChecksumSeed    uint32
}

// HasFlag reports whether flag is active in this handshake.
func (h Handshake) HasFlag(flag CompatFlag) bool {
	return h.CompatFlags&flag != 0
}

// NegotiateVersion exchanges protocol versions with the peer and returns
// the lower of the two, the version both sides can speak. It returns
// ProtocolMismatchError if either side's version, or the agreed version,
// falls outside [MinProtocolVersion, MaxProtocolVersion].
func NegotiateVersion(rw io.ReadWriter, localVersion int) (int, error) {
	if localVersion < MinProtocolVersion || localVersion > MaxProtocolVersion {
		return 0, &ProtocolMismatchError{Offered: localVersion}
	}
	if err := wire.WriteInt32(rw, int32(localVersion)); err != nil {
		return 0, err
	}
	peerVersion, err := wire.ReadInt32(rw)
	if err != nil {
		return 0, err
	}
	if peerVersion < MinProtocolVersion || peerVersion > MaxProtocolVersion {
		return 0, &ProtocolMismatchError{Offered: int(peerVersion)}
	}

	agreed := localVersion
	if int(peerVersion) < agreed {
		agreed = int(peerVersion)
	}
	return agreed, nil
}

// NegotiateCompatFlags exchanges compatibility flags when protocolVersion
// is at least 30; for older protocols it returns 0 without touching the
// wire, since compat flags did not exist yet. The effective flags are the
// bitwise AND of both sides' offers: a behavior is only active when both
// peers support it.
func NegotiateCompatFlags(rw io.ReadWriter, protocolVersion int, localFlags CompatFlag) (CompatFlag, error) {
	if protocolVersion < 30 {
		return 0, nil
	}
	if err := wire.WriteVarint(rw, int32(localFlags)); err != nil {
		return 0, err
	}
	peerFlags, err := wire.ReadVarint(rw)
	if err != nil {
		return 0, err
	}
	return localFlags & CompatFlag(peerFlags), nil
}

// writeNameList writes a preference-ordered list of algorithm names as
// vstrings terminated by an empty string.
func writeNameList(rw io.Writer, names []string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("negotiate: algorithm name list may not contain an empty name")
		}
		if err := wire.WriteVstring(rw, name); err != nil {
			return err
		}
	}
	return wire.WriteVstring(rw, "")
}

// readNameList reads a name list written by writeNameList.
func readNameList(r io.Reader) ([]string, error) {
	var names []string
	for {
		name, err := wire.ReadVstring(r)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return names, nil
		}
		names = append(names, name)
	}
}

// contains reports whether name appears in list.
func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// NegotiateAlgorithm runs the asymmetric name-list negotiation the
// protocol uses for both checksum and compression algorithm selection.
// The client sends its full preference list; the server walks that list
// in the client's order and selects the first name it also supports
// ("server stops at the first client-acceptable name"). The server then
// sends back only the selected name. The client, for its part, must
// select using its OWN preference order against what the server
// ultimately reports supporting — in practice this means the client
// simply accepts the server's single selection, since the server has
// already applied the client's order; localPreference is only consulted
// to validate that the server's choice is one the client is willing to
// use at all.
func NegotiateAlgorithm(rw io.ReadWriter, isServer bool, localPreference []string) (string, error) {
	if isServer {
		clientList, err := readNameList(rw)
		if err != nil {
			return "", err
		}
		selected := ""
		for _, name := range clientList {
			if contains(localPreference, name) {
				selected = name
				break
			}
		}
		// Always report the outcome, even empty, so the client never
		// blocks waiting for a selection that isn't coming.
		if err := wire.WriteVstring(rw, selected); err != nil {
			return "", err
		}
		if selected == "" {
			return "", fmt.Errorf("negotiate: no common algorithm between client list %v and local support %v", clientList, localPreference)
		}
		return selected, nil
	}

	if err := writeNameList(rw, localPreference); err != nil {
		return "", err
	}
	selected, err := wire.ReadVstring(rw)
	if err != nil {
		return "", err
	}
	if selected == "" {
		return "", fmt.Errorf("negotiate: server reported no common algorithm for preference list %v", localPreference)
	}
	if !contains(localPreference, selected) {
		return "", fmt.Errorf("negotiate: server selected %q, which is not in the client's own preference list %v", selected, localPreference)
	}
	return selected, nil
}

// NegotiateChecksumSeed exchanges the checksum seed. By convention the
// server generates the seed and the client receives it; isServer selects
// which role this call plays.
func NegotiateChecksumSeed(rw io.ReadWriter, isServer bool, seed uint32) (uint32, error) {
	if isServer {
		if err := wire.WriteInt32(rw, int32(seed)); err != nil {
			return 0, err
		}
		return seed, nil
	}
	v, err := wire.ReadInt32(rw)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Run performs the full five-step handshake: version, compat flags,
// checksum algorithm, compression algorithm, and checksum seed.
func Run(rw io.ReadWriter, isServer bool, localVersion int, localFlags CompatFlag, checksumPreference, compressionPreference []string, seed uint32) (Handshake, error) {
	var h Handshake

	version, err := NegotiateVersion(rw, localVersion)
	if err != nil {
		return h, err
	}
	h.ProtocolVersion = version

	flags, err := NegotiateCompatFlags(rw, version, localFlags)
	if err != nil {
		return h, err
	}
	h.CompatFlags = flags

	checksumAlgo, err := NegotiateAlgorithm(rw, isServer, checksumPreference)
	if err != nil {
		return h, err
	}
	h.ChecksumAlgo = checksumAlgo

	compressionAlgo, err := NegotiateAlgorithm(rw, isServer, compressionPreference)
	if err != nil {
		return h, err
	}
	h.CompressionAlgo = compressionAlgo

	negotiatedSeed, err := NegotiateChecksumSeed(rw, isServer, seed)
	if err != nil {
		return h, err
	}
	h.ChecksumSeed = negotiatedSeed

	return h, nil
}
