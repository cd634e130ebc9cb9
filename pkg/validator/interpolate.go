package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// interpolateCallRe matches an `interpolate(frame, [in...], [out...]` call
// site with literal numeric array arguments for the input and output
// ranges. It intentionally does not try to match every possible
// expression form; computed ranges are left untouched, and only call
// sites with a literal array input range are repaired.
var interpolateCallRe = regexp.MustCompile(`interpolate\(\s*([^,]+),\s*\[([^\]]*)\]\s*,\s*\[([^\]]*)\]`)

// FixInterpolationRanges rewrites every interpolate() call site with a
// literal input-range array so the range is strictly increasing,
// replacing each element with max(element, previous+1). Output ranges are
// zipped to the (possibly now-longer) input range; a length mismatch is
// resolved by truncating the longer or padding the shorter with its own
// last element, with a logged warning via the returned warnings slice.
func FixInterpolationRanges(source string) (string, []string) {
	var warnings []string

	result := interpolateCallRe.ReplaceAllStringFunc(source, func(match string) string {
		m := interpolateCallRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		frameExpr, inRaw, outRaw := m[1], m[2], m[3]

		inValues, ok := parseNumberList(inRaw)
		if !ok {
			return match
		}
		outValues, ok := parseNumberList(outRaw)
		if !ok {
			return match
		}

		fixedIn := monotonic(inValues)

		if len(outValues) != len(fixedIn) {
			warnings = append(warnings, fmt.Sprintf(
				"interpolate() range length mismatch: input has %d elements, output has %d; padding/truncating output to match",
				len(fixedIn), len(outValues)))
			outValues = zipLength(outValues, len(fixedIn))
		}

		return fmt.Sprintf("interpolate(%s, [%s], [%s]",
			strings.TrimSpace(frameExpr),
			joinNumbers(fixedIn),
			joinNumbers(outValues))
	})

	return result, warnings
}

// monotonic rewrites values so each element is strictly greater than the
// previous: values[i] = max(values[i], values[i-1]+1).
func monotonic(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 0 {
			out[i] = v
			continue
		}
		if v > out[i-1] {
			out[i] = v
		} else {
			out[i] = out[i-1] + 1
		}
	}
	return out
}

// zipLength truncates or pads values (repeating its last element) to
// exactly n entries.
func zipLength(values []float64, n int) []float64 {
	if len(values) == n {
		return values
	}
	if len(values) > n {
		return values[:n]
	}
	out := make([]float64, n)
	copy(out, values)
	last := 0.0
	if len(values) > 0 {
		last = values[len(values)-1]
	}
	for i := len(values); i < n; i++ {
		out[i] = last
	}
	return out
}

func parseNumberList(raw string) ([]float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func joinNumbers(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == float64(int64(v)) {
			parts[i] = strconv.FormatInt(int64(v), 10)
		} else {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return strings.Join(parts, ", ")
}
