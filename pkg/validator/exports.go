package validator

import (
	"regexp"
	"strings"
)

// exportDeclRe finds top-level export declarations and captures the kind
// (const|function|class|interface|type) and the declared name. `export
// default` is matched separately since it has no following name token in
// the common `export default X;` shape.
var exportDeclRe = regexp.MustCompile(`(?m)^export\s+(const|function|class|interface|type)\s+([A-Za-z_$][\w$]*)`)

var importedNameRe = regexp.MustCompile(`(?m)^import\s*\{([^}]*)\}\s*from`)

// exportOccurrence records one `export ...` declaration site.
type exportOccurrence struct {
	name      string
	startLine int // line index of the `export` keyword
	isFunc    bool
}

// DuplicateReport describes one exported name that collided, either with
// an earlier export of the same name or with an imported name.
type DuplicateReport struct {
	Name           string
	CollidesImport bool
	Occurrences    int
}

// RemoveDuplicateExports scans source for every top-level export
// declaration, and for any name exported more than once, keeps only the
// last declaration and comments out the earlier ones. Function-style
// declarations (including the canonical `VideoComposition` composition
// export) are excised by brace-depth matching over the whole block, not
// just the header line, so no orphan closing brace is left behind.
func RemoveDuplicateExports(source string) (string, []DuplicateReport) {
	lines := strings.Split(source, "\n")
	occurrences := findExportOccurrences(lines)

	byName := make(map[string][]exportOccurrence)
	for _, occ := range occurrences {
		byName[occ.name] = append(byName[occ.name], occ)
	}

	imported := importedNames(source)

	var reports []DuplicateReport
	// Collect line ranges to comment out, keyed by start line, applied in
	// a single pass over `lines` afterward so offsets never shift under
	// us while scanning.
	toComment := make(map[int]int) // startLine -> endLine (inclusive)

	for name, occs := range byName {
		collidesImport := imported[name]
		if len(occs) <= 1 && !collidesImport {
			continue
		}
		reports = append(reports, DuplicateReport{Name: name, CollidesImport: collidesImport, Occurrences: len(occs)})

		if len(occs) <= 1 {
			continue
		}
		// Keep only the last declaration; comment out every earlier one.
		for _, occ := range occs[:len(occs)-1] {
			end := occ.startLine
			if occ.isFunc {
				end = blockEndLine(lines, occ.startLine)
			}
			toComment[occ.startLine] = end
		}
	}

	if len(toComment) == 0 {
		return source, reports
	}

	var out []string
	i := 0
	for i < len(lines) {
		if end, ok := toComment[i]; ok {
			for j := i; j <= end && j < len(lines); j++ {
				out = append(out, "// "+lines[j])
			}
			i = end + 1
			continue
		}
		out = append(out, lines[i])
		i++
	}

	return strings.Join(out, "\n"), reports
}

// canonicalCompositionExport is the one export name that gets special
// handling: when it appears as a function-style declaration, removal must
// excise the whole block via brace matching, never just the header.
const canonicalCompositionExport = "VideoComposition"

func findExportOccurrences(lines []string) []exportOccurrence {
	var occs []exportOccurrence
	for i, line := range lines {
		m := exportDeclRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind, name := m[1], m[2]
		isFunc := kind == "function" || kind == "class" ||
			strings.Contains(line, "=>") ||
			(name == canonicalCompositionExport && strings.Contains(line, "{"))
		occs = append(occs, exportOccurrence{
			name:      name,
			startLine: i,
			isFunc:    isFunc,
		})
	}
	return occs
}

func importedNames(source string) map[string]bool {
	names := make(map[string]bool)
	for _, m := range importedNameRe.FindAllStringSubmatch(source, -1) {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if idx := strings.Index(part, " as "); idx >= 0 {
				part = strings.TrimSpace(part[idx+4:])
			}
			names[part] = true
		}
	}
	return names
}

// blockEndLine returns the index of the line on which the brace block
// opened at or after startLine closes, using a linear brace-depth scan
// that is aware of single/double/template-quoted strings and `//`/`/*`
// comments so braces inside them are never counted. If no opening brace
// is found on startLine's line the function continues scanning forward
// until one appears (a declaration's `{` may be on the next line).
func blockEndLine(lines []string, startLine int) int {
	depth := 0
	seenOpen := false
	inBlockComment := false

	for i := startLine; i < len(lines); i++ {
		line := lines[i]
		inSingle, inDouble, inTemplate := false, false, false

		for j := 0; j < len(line); j++ {
			c := line[j]

			if inBlockComment {
				if c == '*' && j+1 < len(line) && line[j+1] == '/' {
					inBlockComment = false
					j++
				}
				continue
			}
			if inSingle {
				if c == '\\' {
					j++
				} else if c == '\'' {
					inSingle = false
				}
				continue
			}
			if inDouble {
				if c == '\\' {
					j++
				} else if c == '"' {
					inDouble = false
				}
				continue
			}
			if inTemplate {
				if c == '\\' {
					j++
				} else if c == '`' {
					inTemplate = false
				}
				continue
			}

			switch c {
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case '`':
				inTemplate = true
			case '/':
				if j+1 < len(line) {
					switch line[j+1] {
					case '/':
						j = len(line) // rest of line is a comment
					case '*':
						inBlockComment = true
						j++
					}
				}
			case '{':
				depth++
				seenOpen = true
			case '}':
				if depth > 0 {
					depth--
					if seenOpen && depth == 0 {
						return i
					}
				}
			}
		}
	}

	// No balanced close found (malformed input): fall back to the
	// declaration's own line rather than risk truncating the file, per
	// the validator's pass-through-unchanged-on-unparseable-input policy.
	return startLine
}

// VerifyBraceBalance reports the running brace depth at end-of-source:
// opening minus closing braces, counting every brace, including those in
// strings and comments. A well-formed block returns zero; the transform
// pipeline applies it to the whole assembled file and accepts -2..2.
func VerifyBraceBalance(block string) int {
	depth := 0
	for _, c := range block {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}
