package checksum

import "testing"

// TestRollSlideMatchesRecompute verifies Scenario E from the spec: rolling
// the weak checksum forward by one byte produces the same result as
// recomputing it from scratch over the new window.
func TestRollSlideMatchesRecompute(t *testing.T) {
	data := []byte("abcdefghij")
	window := 5

	for i := 0; i+window+1 <= len(data); i++ {
		_, s1, s2 := Weak(data[i : i+window])
		rolled, _, _ := RollSlide(s1, s2, data[i], data[i+window], uint32(window))

		expected, _, _ := Weak(data[i+1 : i+1+window])
		if rolled != expected {
			t.Errorf("roll at i=%d: got %d, want %d", i, rolled, expected)
		}
	}
}

// TestRollShrinkMatchesRecompute verifies that dropping the window's first
// byte produces the same checksum as recomputing over the shorter window.
func TestRollShrinkMatchesRecompute(t *testing.T) {
	data := []byte("abcdefghij")
	window := 5

	_, s1, s2 := Weak(data[0:window])
	shrunk, _, _ := RollShrink(s1, s2, data[0], uint32(window))

	expected, _, _ := Weak(data[1:window])
	if shrunk != expected {
		t.Errorf("shrink: got %d, want %d", shrunk, expected)
	}
}

// TestCombineRoundTrips verifies that Combine reassembles the same value
// that Weak returns directly.
func TestCombineRoundTrips(t *testing.T) {
	data := []byte("0123456789")
	weak, s1, s2 := Weak(data)
	if got := Combine(s1, s2); got != weak {
		t.Errorf("Combine(%d, %d) = %d, want %d", s1, s2, got, weak)
	}
}
