package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	VerdictLow    = "low"
	VerdictNormal = "normal"
	VerdictHigh   = "high"
)

var (
	numberRe  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	betweenRe = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*(?:-|–|—|to)\s*(-?\d+(?:\.\d+)?)`)
	boundRe   = regexp.MustCompile(`^(<=|>=|<|>|≤|≥|up to)\s*(-?\d+(?:\.\d+)?)`)
)

// bounds is an inclusive reference interval; a nil side is open.
type bounds struct {
	low, high *float64
}

// parseRange reads the forms a-b, a–b, a to b, <b, <=b, >a, >=a and "up to b".
func parseRange(s string) (bounds, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return bounds{}, false
	}

	if m := betweenRe.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		if lo > hi {
			return bounds{}, false
		}
		return bounds{low: &lo, high: &hi}, true
	}

	if m := boundRe.FindStringSubmatch(s); m != nil {
		v, _ := strconv.ParseFloat(m[2], 64)
		switch m[1] {
		case "<", "<=", "≤", "up to":
			return bounds{high: &v}, true
		default:
			return bounds{low: &v}, true
		}
	}
	return bounds{}, false
}

// firstNumber returns the first number in a value cell such as "14.5" or
// "<0.5 (H)".
func firstNumber(s string) (float64, bool) {
	m := numberRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Verdict compares value against reference. It returns nil when either side
// cannot be read.
func Verdict(value, reference string) *string {
	v, ok := firstNumber(value)
	if !ok {
		return nil
	}
	b, ok := parseRange(reference)
	if !ok {
		return nil
	}

	out := VerdictNormal
	switch {
	case b.low != nil && v < *b.low:
		out = VerdictLow
	case b.high != nil && v > *b.high:
		out = VerdictHigh
	}
	return &out
}

// AssignVerdicts sets Verdict on every attribute that does not already carry
// one.
func AssignVerdicts(attrs []Attribute) {
	for i := range attrs {
		if attrs[i].Verdict == nil {
			attrs[i].Verdict = Verdict(attrs[i].Value, attrs[i].Range)
		}
	}
}
