// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package validator implements three deterministic, idempotent
// correctness passes: import repair, duplicate-export elimination, and
// interpolation-range monotonicity.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// symbolModules is the static map from a renderer public-surface symbol to
// its originating module, used to inject missing imports.
var symbolModules = map[string]string{
	"AbsoluteFill":      "remotion",
	"Composition":       "remotion",
	"Sequence":          "remotion",
	"Series":            "remotion",
	"useCurrentFrame":   "remotion",
	"useVideoConfig":    "remotion",
	"interpolate":       "remotion",
	"spring":            "remotion",
	"Easing":            "remotion",
	"Img":               "remotion",
	"Video":             "remotion",
	"Audio":             "remotion",
	"staticFile":        "remotion",
	"Trail":             "@remotion/motion-blur",
	"downloadMedia":     "@remotion/renderer",
	"getSubpaths":       "@remotion/paths",
}

// deprecatedRewrites maps a (symbol, old module) pair to the module it
// must be rewritten to import from instead, covering the fixed set of
// deprecated import shapes this pass repairs.
type deprecatedRewrite struct {
	symbol    string
	oldModule string
	newModule string
	// renameTo, if non-empty, is the new symbol name to use at both the
	// import site and every call site.
	renameTo string
}

var deprecatedRewriteTable = []deprecatedRewrite{
	{symbol: "Config", oldModule: "remotion", newModule: "remotion/config"},
	{symbol: "MotionBlur", oldModule: "@remotion/motion-blur", newModule: "@remotion/motion-blur", renameTo: "Trail"},
	{symbol: "downloadVideo", oldModule: "@remotion/renderer", newModule: "@remotion/renderer", renameTo: "downloadMedia"},
	{symbol: "getParts", oldModule: "@remotion/paths", newModule: "@remotion/paths", renameTo: "getSubpaths"},
}

// importLineRe matches a single named-import statement:
//
//	import { A, B as C } from "module";
//
// Non-greedy character classes with no nested quantifiers, to avoid
// catastrophic-backtracking regexes.
var importLineRe = regexp.MustCompile(`(?m)^import\s*\{([^}]*)\}\s*from\s*['"]([^'"]+)['"]\s*;?\s*$`)

// defaultImportRe matches `import X from "module";`.
var defaultImportRe = regexp.MustCompile(`(?m)^import\s+([A-Za-z_$][\w$]*)\s+from\s*['"]([^'"]+)['"]\s*;?\s*$`)

// identifierRe finds bare identifier usages in source, used to decide
// which public-surface symbols are referenced.
var identifierRe = regexp.MustCompile(`\b[A-Za-z_$][\w$]*\b`)

// jsxTopLevelRe detects a JSX element opening tag, e.g. `<AbsoluteFill`.
var jsxTopLevelRe = regexp.MustCompile(`<([A-Z][\w]*)[\s/>]`)

type importSet struct {
	// module -> ordered set of named symbols
	named map[string][]string
	// module -> default symbol
	defaults map[string]string
	order    []string // module import order, for deterministic emission
}

func newImportSet() *importSet {
	return &importSet{named: make(map[string][]string), defaults: make(map[string]string)}
}

func (s *importSet) addNamed(module, symbol string) {
	if _, ok := s.named[module]; !ok {
		s.named[module] = nil
		s.order = append(s.order, module)
	}
	for _, existing := range s.named[module] {
		if existing == symbol {
			return
		}
	}
	s.named[module] = append(s.named[module], symbol)
}

func (s *importSet) has(module, symbol string) bool {
	for _, existing := range s.named[module] {
		if existing == symbol {
			return true
		}
	}
	return s.defaults[module] == symbol
}

func (s *importSet) hasModule(module string) bool {
	_, named := s.named[module]
	_, def := s.defaults[module]
	return named || def
}

// FixImports ensures every used public-surface symbol has a corresponding
// import, rewrites the fixed set of deprecated import shapes, and injects
// the top-level JSX element module if JSX is present but unimported.
func FixImports(source string) string {
	imports := parseImports(source)
	usedIdentifiers := collectUsedIdentifiers(source)

	rewritten := applyDeprecatedRewrites(source, imports)
	imports = parseImports(rewritten) // re-parse after rewrite

	var toAdd []struct{ module, symbol string }
	for symbol, module := range symbolModules {
		if !usedIdentifiers[symbol] {
			continue
		}
		if imports.has(module, symbol) {
			continue
		}
		toAdd = append(toAdd, struct{ module, symbol string }{module, symbol})
	}

	if jsxTag := firstJSXTag(rewritten); jsxTag != "" {
		if mod, known := symbolModules[jsxTag]; known && !imports.has(mod, jsxTag) {
			alreadyQueued := false
			for _, a := range toAdd {
				if a.module == mod && a.symbol == jsxTag {
					alreadyQueued = true
				}
			}
			if !alreadyQueued {
				toAdd = append(toAdd, struct{ module, symbol string }{mod, jsxTag})
			}
		}
	}

	if len(toAdd) == 0 {
		return rewritten
	}

	sort.Slice(toAdd, func(i, j int) bool {
		if toAdd[i].module != toAdd[j].module {
			return toAdd[i].module < toAdd[j].module
		}
		return toAdd[i].symbol < toAdd[j].symbol
	})

	return injectImports(rewritten, imports, toAdd)
}

func parseImports(source string) *importSet {
	set := newImportSet()
	for _, m := range importLineRe.FindAllStringSubmatch(source, -1) {
		module := m[2]
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name := part
			if idx := strings.Index(part, " as "); idx >= 0 {
				name = strings.TrimSpace(part[:idx])
			}
			set.addNamed(module, name)
		}
	}
	for _, m := range defaultImportRe.FindAllStringSubmatch(source, -1) {
		set.defaults[m[2]] = m[1]
	}
	return set
}

func collectUsedIdentifiers(source string) map[string]bool {
	used := make(map[string]bool)
	for _, id := range identifierRe.FindAllString(source, -1) {
		used[id] = true
	}
	return used
}

func firstJSXTag(source string) string {
	m := jsxTopLevelRe.FindStringSubmatch(source)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// applyDeprecatedRewrites rewrites a fixed set of deprecated import
// shapes: renaming both the import specifier and every call-site
// reference of the symbol.
func applyDeprecatedRewrites(source string, imports *importSet) string {
	for _, rule := range deprecatedRewriteTable {
		if !imports.has(rule.oldModule, rule.symbol) {
			continue
		}
		if rule.renameTo != "" {
			// Rename the imported specifier and all identifier usages.
			// \b ensures we don't touch substrings of longer identifiers.
			boundaryRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(rule.symbol) + `\b`)
			source = boundaryRe.ReplaceAllString(source, rule.renameTo)
		} else if rule.newModule != rule.oldModule {
			source = retargetImportModule(source, rule.symbol, rule.oldModule, rule.newModule)
		}
	}
	return source
}

// retargetImportModule moves a single named import of symbol from
// oldModule's import line to a newModule import line.
func retargetImportModule(source, symbol, oldModule, newModule string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		m := importLineRe.FindStringSubmatch(line)
		if m == nil || m[2] != oldModule {
			continue
		}
		names := strings.Split(m[1], ",")
		var kept []string
		found := false
		for _, n := range names {
			trimmed := strings.TrimSpace(n)
			if trimmed == symbol {
				found = true
				continue
			}
			if trimmed != "" {
				kept = append(kept, trimmed)
			}
		}
		if !found {
			continue
		}
		var rebuilt []string
		if len(kept) > 0 {
			rebuilt = append(rebuilt, fmt.Sprintf("import { %s } from '%s';", strings.Join(kept, ", "), oldModule))
		}
		rebuilt = append(rebuilt, fmt.Sprintf("import { %s } from '%s';", symbol, newModule))
		lines[i] = strings.Join(rebuilt, "\n")
	}
	return strings.Join(lines, "\n")
}

// injectImports appends new import statements for the requested
// (module, symbol) pairs, grouping multiple symbols from the same module
// onto a single synthesized line when no existing import from that module
// exists yet, or extending an existing named-import line otherwise.
func injectImports(source string, imports *importSet, toAdd []struct{ module, symbol string }) string {
	byModule := make(map[string][]string)
	var order []string
	for _, a := range toAdd {
		if _, ok := byModule[a.module]; !ok {
			order = append(order, a.module)
		}
		byModule[a.module] = append(byModule[a.module], a.symbol)
	}

	lines := strings.Split(source, "\n")
	handled := make(map[string]bool)

	for i, line := range lines {
		m := importLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		module := m[2]
		symbols, ok := byModule[module]
		if !ok || handled[module] {
			continue
		}
		existing := strings.TrimSpace(m[1])
		lines[i] = fmt.Sprintf("import { %s, %s } from '%s';", existing, strings.Join(symbols, ", "), module)
		handled[module] = true
	}

	var newLines []string
	for _, module := range order {
		if handled[module] {
			continue
		}
		newLines = append(newLines, fmt.Sprintf("import { %s } from '%s';", strings.Join(byModule[module], ", "), module))
	}

	if len(newLines) == 0 {
		return strings.Join(lines, "\n")
	}

	insertAt := lastImportLineIndex(lines) + 1
	out := make([]string, 0, len(lines)+len(newLines))
	out = append(out, lines[:insertAt]...)
	out = append(out, newLines...)
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n")
}

func lastImportLineIndex(lines []string) int {
	last := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") {
			last = i
		}
	}
	return last
}
