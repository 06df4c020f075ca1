package coldb

// DetectImplicit tries both §4.11 detectors, preferring the arithmetic
// (positive-factor) form when both would match — e.g. a run of all-equal
// values satisfies both with step/−runlen both describing it, and the
// arithmetic form is the more general of the two. Callers decide whether
// to use the result; writing an implicit track is always opt-in (see
// TrackWriter.WriteImplicit).
func DetectImplicit(xs []int64) (base_, factor int64, ok bool) {
	// A negative step would collide with the run-length form's negative
	// factor on read (see expandImplicit), so only steps ≥ 0 are taken.
	if base_, step, ok := PosVirtBaseAndFactor(xs); ok && step >= 0 {
		return base_, step, true
	}
	return NegVirtBaseAndFactor(xs)
}

// PosVirtBaseAndFactor detects whether xs is an arithmetic sequence
// xs[i] = base + i·step for some constant step (§4.11). Returns
// ok == false for len(xs) < 2 or any breaking element.
func PosVirtBaseAndFactor(xs []int64) (base_, step int64, ok bool) {
	if len(xs) < 2 {
		return 0, 0, false
	}
	base_ = xs[0]
	step = xs[1] - xs[0]
	for i := 2; i < len(xs); i++ {
		if xs[i] != base_+step*int64(i) {
			return 0, 0, false
		}
	}
	return base_, step, true
}

// NegVirtBaseAndFactor detects whether xs is a sequence of equal-length
// runs of base, base+1, base+2, … (the final run may be short, but never
// longer than a full run). Returns factor = −runLen on a match, matching
// the glossary's row → base + ⌊row/|factor|⌋ encoding.
func NegVirtBaseAndFactor(xs []int64) (base_, factor int64, ok bool) {
	if len(xs) < 2 {
		return 0, 0, false
	}
	base_ = xs[0]

	runLen := 1
	for runLen < len(xs) && xs[runLen] == xs[0] {
		runLen++
	}
	if runLen == len(xs) {
		// A single run covering the whole input is a degenerate but
		// valid match: runLen copies of base, zero further runs.
		return base_, -int64(runLen), true
	}

	// Every index i must fall in the window [i/runLen], so any run that
	// is short (except possibly the last) or long shifts a later window
	// out of alignment and shows up as a mismatch below.
	for i, x := range xs {
		wantVal := base_ + int64(i/runLen)
		if x != wantVal {
			return 0, 0, false
		}
	}
	return base_, -int64(runLen), true
}
