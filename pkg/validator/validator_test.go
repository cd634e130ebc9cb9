package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixImportsInjectsMissingImport(t *testing.T) {
	source := `export const Thing = () => {
  return <AbsoluteFill>{interpolate(1, [0, 1], [0, 1])}</AbsoluteFill>;
};
`
	out := FixImports(source)
	require.Contains(t, out, "import { AbsoluteFill, interpolate } from 'remotion';")
}

func TestFixImportsExtendsExistingImportLine(t *testing.T) {
	source := `import { AbsoluteFill } from 'remotion';
export const Thing = () => {
  return <AbsoluteFill>{interpolate(1, [0, 1], [0, 1])}</AbsoluteFill>;
};
`
	out := FixImports(source)
	require.Contains(t, out, "interpolate")
	// should not produce two separate remotion import lines
	require.Equal(t, 1, strings.Count(out, "from 'remotion'"))
}

func TestFixImportsRewritesDeprecatedRename(t *testing.T) {
	source := `import { downloadVideo } from '@remotion/renderer';
downloadVideo('a.mp4');
`
	out := FixImports(source)
	require.Contains(t, out, "downloadMedia")
	require.NotContains(t, out, "downloadVideo")
}

func TestFixImportsIdempotent(t *testing.T) {
	source := `export const Thing = () => {
  return <AbsoluteFill>{interpolate(1, [0, 1], [0, 1])}</AbsoluteFill>;
};
`
	once := FixImports(source)
	twice := FixImports(once)
	require.Equal(t, once, twice)
}

func TestRemoveDuplicateExportsKeepsLastSimple(t *testing.T) {
	source := `export const Foo = 1;
export const Foo = 2;
`
	out, reports := RemoveDuplicateExports(source)
	require.Len(t, reports, 1)
	require.Equal(t, "Foo", reports[0].Name)
	require.Equal(t, 1, strings.Count(out, "export const Foo = 2;"))
	require.Contains(t, out, "// export const Foo = 1;")
}

func TestRemoveDuplicateExportsBraceMatchesFunctionBlock(t *testing.T) {
	source := `export const VideoComposition = () => {
  const a = { nested: { deep: true } };
  return <div>{a}</div>;
};

export const VideoComposition = () => {
  return <div>second</div>;
};
`
	out, reports := RemoveDuplicateExports(source)
	require.Len(t, reports, 1)
	liveExportCount := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "export const VideoComposition") {
			liveExportCount++
		}
	}
	require.Equal(t, 1, liveExportCount)
	require.Contains(t, out, "second")
	// The kept block should not have any of its lines commented out.
	require.NotContains(t, out, "// return <div>second</div>;")
	// first (removed) block entirely commented, no orphan closing brace
	require.Contains(t, out, "// export const VideoComposition = () => {")
	require.Contains(t, out, "// };")
}

func TestRemoveDuplicateExportsReportsImportCollision(t *testing.T) {
	source := `import { Trail } from '@remotion/motion-blur';
export const Trail = 5;
`
	_, reports := RemoveDuplicateExports(source)
	require.Len(t, reports, 1)
	require.True(t, reports[0].CollidesImport)
}

func TestRemoveDuplicateExportsIdempotent(t *testing.T) {
	source := `export const Foo = 1;
export const Foo = 2;
export function Bar() {
  return 1;
}
export function Bar() {
  return 2;
}
`
	once, _ := RemoveDuplicateExports(source)
	twice, _ := RemoveDuplicateExports(once)
	require.Equal(t, once, twice)
}

func TestFixInterpolationRangesScenarioS6(t *testing.T) {
	source := `interpolate(frame, [0, 10, 10, 5], [0, 1, 1, 0])`
	out, warnings := FixInterpolationRanges(source)
	require.Empty(t, warnings)
	require.Contains(t, out, "[0, 10, 11, 12]")
}

func TestFixInterpolationRangesPadsShortOutput(t *testing.T) {
	source := `interpolate(frame, [0, 10, 20], [0, 1])`
	out, warnings := FixInterpolationRanges(source)
	require.NotEmpty(t, warnings)
	require.Contains(t, out, "[0, 1, 1]")
}

func TestFixInterpolationRangesIdempotent(t *testing.T) {
	source := `interpolate(frame, [0, 10, 10, 5], [0, 1, 1, 0])`
	once, _ := FixInterpolationRanges(source)
	twice, _ := FixInterpolationRanges(once)
	require.Equal(t, once, twice)
}

func TestValidateFullPipelineIsAFixedPoint(t *testing.T) {
	source := `import { downloadVideo } from '@remotion/renderer';
export const VideoComposition = () => {
  return <AbsoluteFill>{interpolate(frame, [0, 10, 10, 5], [0, 1, 1, 0])}</AbsoluteFill>;
};
export const VideoComposition = () => {
  downloadVideo('a.mp4');
  return <AbsoluteFill>done</AbsoluteFill>;
};
`
	once, _ := Validate(source)
	twice, _ := Validate(once)
	require.Equal(t, once, twice)
}

func TestVerifyBraceBalanceZeroForWellFormedBlock(t *testing.T) {
	require.Equal(t, 0, VerifyBraceBalance("function f() { if (x) { return 1; } }"))
}
