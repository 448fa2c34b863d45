package intor

import (
	"fmt"
	"strings"

	"github.com/sofroniewn/dqc/tensor"
)

// The integral names encode derivative requests as "ip" markers: a leading
// marker differentiates the left operand, a trailing one the right operand,
// and for two-electron names the markers around the 'a'/'b' operand tags
// select the four centers. The functions below derive the name for a given
// differentiation target and decide whether two derivative names produce
// tensors related by pure axis transposition, so the backward passes can
// reuse an already-computed tensor instead of a second native call.

// int1eDerivName derives the first-derivative name of a one-electron
// integral for the given target: "r1" differentiates the left operand,
// "r2" the right.
func int1eDerivName(shortname, derivmode string) (string, error) {
	switch derivmode {
	case "r1":
		return "ip" + shortname, nil
	case "r2":
		return shortname + "ip", nil
	}
	return "", fmt.Errorf("%w: unknown derivmode %q", ErrUnsupportedDerivativeOrder, derivmode)
}

// int1eEquiv reports whether the integrals named s1 and s2 are transposes of
// each other, i.e. swapping the last two axes of one yields the other.
func int1eEquiv(s1, s2 string) bool {
	start1 := countRunStart(s1, "ip")
	end1 := countRunEnd(s1, "ip")
	start2 := countRunStart(s2, "ip")
	end2 := countRunEnd(s2, "ip")
	return min(start1, end1) == min(start2, end2) &&
		max(start1, end1) == max(start2, end2)
}

// int2eDerivName derives the first-derivative name of a two-electron
// integral. The four targets are the two centers of the left electron pair
// (ra1, ra2) and of the right pair (rb1, rb2); ra2 inserts the marker right
// after the first 'a' tag and rb1 right before the last 'b' tag.
func int2eDerivName(shortname, derivmode string) (string, error) {
	switch derivmode {
	case "ra1":
		return "ip" + shortname, nil
	case "ra2":
		idx := strings.Index(shortname, "a")
		return shortname[:idx+1] + "ip" + shortname[idx+1:], nil
	case "rb1":
		idx := strings.LastIndex(shortname, "b")
		return shortname[:idx] + "ip" + shortname[idx:], nil
	case "rb2":
		return shortname + "ip", nil
	}
	return "", fmt.Errorf("%w: unknown derivmode %q", ErrUnsupportedDerivativeOrder, derivmode)
}

// int2eEquiv reports whether the integral named s2 can be obtained from s1
// by transposing axes, and if so which pairwise swaps of the trailing four
// axes to apply, in order. Negative axes count from the end.
func int2eEquiv(s1, s2 string) ([][2]int, bool) {
	p1 := int2eParsePattern(s1, "ip")
	p2 := int2eParsePattern(s2, "ip")
	const offset = 100
	l1 := max(p1[0], p1[1])*offset + min(p1[0], p1[1])
	r1 := max(p1[2], p1[3])*offset + min(p1[2], p1[3])
	l2 := max(p2[0], p2[1])*offset + min(p2[0], p2[1])
	r2 := max(p2[2], p2[3])*offset + min(p2[2], p2[3])
	llEqual := l1 == l2
	rrEqual := r1 == r2
	lrEqual := l1 == r2
	rlEqual := r1 == l2

	if !((llEqual && rrEqual) || (lrEqual && rlEqual)) {
		return nil, false
	}

	var res [][2]int
	if !(llEqual && rrEqual) { // lrEqual && rlEqual
		// swap the electron pairs, then fix the order inside each
		res = append(res, [2]int{-4, -2}, [2]int{-3, -1})
		if p1[0] != p2[2] {
			res = append(res, [2]int{-1, -2})
		}
		if p1[2] != p2[0] {
			res = append(res, [2]int{-3, -4})
		}
	} else {
		if p1[0] != p2[0] {
			res = append(res, [2]int{-3, -4})
		}
		if p1[2] != p2[2] {
			res = append(res, [2]int{-1, -2})
		}
	}
	return res, true
}

// int2eParsePattern counts the pattern occurrences in the four name segments
// delimited by the 'a', "r12" and 'b' markers.
func int2eParsePattern(s, pattern string) [4]int {
	s = strings.ReplaceAll(s, "r12", "|")
	s = strings.ReplaceAll(s, "a", "|")
	s = strings.ReplaceAll(s, "b", "|")
	parts := strings.Split(s, "|")
	var out [4]int
	for i := 0; i < len(parts) && i < 4; i++ {
		out[i] = strings.Count(parts[i], pattern)
	}
	return out
}

// countRunStart counts consecutive repeats of pattern at the start of s.
func countRunStart(s, pattern string) int {
	n := 0
	for strings.HasPrefix(s, pattern) {
		s = s[len(pattern):]
		n++
	}
	return n
}

// countRunEnd counts consecutive repeats of pattern at the end of s.
func countRunEnd(s, pattern string) int {
	n := 0
	for strings.HasSuffix(s, pattern) {
		s = s[:len(s)-len(pattern)]
		n++
	}
	return n
}

// evalGTODerivName derives the name of the spatial derivative of a grid
// evaluation.
func evalGTODerivName(shortname, derivmode string) (string, error) {
	if derivmode != "r" {
		return "", fmt.Errorf("%w: unknown derivmode %q", ErrUnsupportedDerivativeOrder, derivmode)
	}
	return "ip" + shortname, nil
}

// transposeAxes applies the pairwise axis swaps in order.
func transposeAxes(t *tensor.Dense, axes [][2]int) *tensor.Dense {
	for _, ax := range axes {
		t = t.SwapAxes(ax[0], ax[1])
	}
	return t
}
