package rsync

import "bytes"

// hashIndex buckets a file signature's blocks by weak checksum so the
// delta matcher can look up candidate blocks for a rolling window in
// constant time, then disambiguate candidates by length and strong
// digest. Real rsync sizes its own open-chained hash table dynamically
// from the block count; this module uses a Go map keyed by weak
// checksum instead; insertion order within a bucket (ascending block
// index) is preserved via the backing slice, which is what the want_i
// tie-break and false-alarm counting in spec 4.4 actually depend on.
type hashIndex struct {
	buckets map[uint32][]int32
	sig     *FileSignature
}

// newHashIndex builds an index over sig's blocks.
func newHashIndex(sig *FileSignature) *hashIndex {
	idx := &hashIndex{
		buckets: make(map[uint32][]int32, len(sig.Blocks)),
		sig:     sig,
	}
	for i := range sig.Blocks {
		w := sig.Blocks[i].Weak
		idx.buckets[w] = append(idx.buckets[w], int32(i))
	}
	return idx
}

// lookup returns, in bucket (ascending block index) order, the indices
// of blocks whose stored weak checksum equals weak and whose stored
// length equals length.
func (idx *hashIndex) lookup(weak uint32, length int64) []int32 {
	all := idx.buckets[weak]
	if len(all) == 0 {
		return nil
	}
	var result []int32
	for _, c := range all {
		if idx.sig.Blocks[c].Length == length {
			result = append(result, c)
		}
	}
	return result
}

// findResult reports the outcome of a candidate scan: whether a
// tentative match was found, its block index, and how many candidates
// ahead of it in bucket order were tried and rejected (false alarms).
type findResult struct {
	matched     bool
	blockIndex  int32
	falseAlarms int
}

// scanCandidates walks cands in order, computing strong (lazily, via
// strongOf) at most once, and returns the first candidate whose stored
// strong prefix matches it.
func scanCandidates(idx *hashIndex, cands []int32, strongOf func() []byte) findResult {
	if len(cands) == 0 {
		return findResult{}
	}
	strong := strongOf()
	for i, c := range cands {
		if bytes.Equal(strong, idx.sig.Blocks[c].StrongPrefix) {
			return findResult{matched: true, blockIndex: c, falseAlarms: i}
		}
	}
	return findResult{falseAlarms: len(cands)}
}

// isCandidate reports whether block index j is present in cands.
func isCandidate(cands []int32, j int32) bool {
	for _, c := range cands {
		if c == j {
			return true
		}
	}
	return false
}
