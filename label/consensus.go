package label

// Equal reports whether two labels agree on every decision-relevant field:
// per-ear loss type, severity and frequency profile, plus the overall
// recommendation. Notes are excluded. An incomplete payload (missing
// subfields, or one that failed to decode) is never equal to anything,
// not even another incomplete payload: absence must not match presence.
func Equal(a, b Payload) bool {
	if !a.Complete() || !b.Complete() {
		return false
	}
	return a.Right == b.Right &&
		a.Left == b.Left &&
		a.Recommendation == b.Recommendation
}
