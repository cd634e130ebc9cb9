package validator

// Report summarizes what a Validate call changed, for logging/diagnostics.
type Report struct {
	DuplicateExports     []DuplicateReport
	InterpolationWarnings []string
}

// Validate runs the three deterministic passes in order — import repair,
// duplicate-export elimination, interpolation-range monotonicity — and
// returns the repaired source alongside a Report of what changed. Each
// pass, and the composition of all three, is idempotent: running Validate
// twice on its own output yields a byte-identical fixed point.
func Validate(source string) (string, Report) {
	var report Report

	source = FixImports(source)
	source, dupes := RemoveDuplicateExports(source)
	report.DuplicateExports = dupes

	source, warnings := FixInterpolationRanges(source)
	report.InterpolationWarnings = warnings

	return source, report
}
