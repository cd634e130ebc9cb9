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

// Package tool is the broker's tool registry: it tracks every tool the
// broker can expose to the host, which subset is currently active, and
// how often each has been invoked. The name-indexed store follows a
// generic registry pattern (name, description, `Call(ctx, args) (result,
// error)` closures), kept as a plain func type here rather than an
// interface hierarchy so the broker has no dependency on any particular
// tool's concrete shape.
package tool

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/roughcut-mcp/studio-broker/pkg/registry"
)

// DiscoveryCategory is permanently active: its members can never be
// deactivated.
const DiscoveryCategory = "discovery"

// Handler is the invocation closure registered alongside a Tool.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Metadata is the descriptive/activation-relevant data attached to a
// registered tool.
type Metadata struct {
	Category          string
	SubCategory       string
	Tags              []string
	Priority          int // ascending: lower sorts first
	RequiredCredential string
}

// Tool is one registered broker capability.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Meta        Metadata

	active bool
}

type entry struct {
	tool    *Tool
	handler Handler
}

// Registry is the broker's tool catalog and activation state.
type Registry struct {
	reg *registry.BaseRegistry[*entry]

	mu              sync.Mutex
	hasCredential   func(name string) bool
	usage           *UsageStore
}

// New constructs a Registry. hasCredential reports whether the named
// credential is configured; tools whose RequiredCredential is absent are
// skipped (with a warning) during activation rather than registration, so
// listing stays accurate even before credentials are supplied.
func New(hasCredential func(name string) bool, usage *UsageStore) *Registry {
	if hasCredential == nil {
		hasCredential = func(string) bool { return true }
	}
	return &Registry{reg: registry.NewBaseRegistry[*entry](), hasCredential: hasCredential, usage: usage}
}

// Register adds tool with handler to the catalog. Tools in
// DiscoveryCategory are activated immediately and permanently.
func (r *Registry) Register(t *Tool, handler Handler) error {
	r.mu.Lock()
	if t.Meta.Category == DiscoveryCategory {
		t.active = true
	}
	r.mu.Unlock()
	return r.reg.Register(t.Name, &entry{tool: t, handler: handler})
}

// Active returns the currently-active tool set, ordered by priority
// ascending then usage descending.
func (r *Registry) Active() []*Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Tool
	for _, e := range r.reg.List() {
		if e.tool.active {
			out = append(out, e.tool)
		}
	}
	sortTools(out, r.usageCount)
	return out
}

func (r *Registry) usageCount(name string) int {
	if r.usage == nil {
		return 0
	}
	return r.usage.count(name)
}

func sortTools(tools []*Tool, usageOf func(string) int) {
	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].Meta.Priority != tools[j].Meta.Priority {
			return tools[i].Meta.Priority < tools[j].Meta.Priority
		}
		return usageOf(tools[i].Name) > usageOf(tools[j].Name)
	})
}

// Handler returns the invocation closure for name regardless of its
// active status — activation gates listing, never execution.
func (r *Registry) Handler(name string) (Handler, bool) {
	e, ok := r.reg.Get(name)
	if !ok {
		return nil, false
	}
	if r.usage != nil {
		r.usage.record(name)
	}
	return e.handler, true
}

// ActivateCategoriesOptions parameterizes ActivateCategories.
type ActivateCategoriesOptions struct {
	Categories []string
	Tools      []string
	Exclusive  bool
}

// ActivateCategories activates every tool whose category is in
// opts.Categories or whose name is in opts.Tools. A tool whose
// RequiredCredential is absent is skipped with a returned warning rather
// than failing the whole call. If opts.Exclusive, every currently-active
// non-discovery tool not in the requested set is deactivated first.
func (r *Registry) ActivateCategories(opts ActivateCategoriesOptions) (activated []string, warnings []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantCategory := make(map[string]bool, len(opts.Categories))
	for _, c := range opts.Categories {
		wantCategory[c] = true
	}
	wantTool := make(map[string]bool, len(opts.Tools))
	for _, n := range opts.Tools {
		wantTool[n] = true
	}

	if opts.Exclusive {
		for _, e := range r.reg.List() {
			if e.tool.Meta.Category == DiscoveryCategory {
				continue
			}
			if wantCategory[e.tool.Meta.Category] || wantTool[e.tool.Name] {
				continue
			}
			e.tool.active = false
		}
	}

	for _, e := range r.reg.List() {
		if !wantCategory[e.tool.Meta.Category] && !wantTool[e.tool.Name] {
			continue
		}
		if cred := e.tool.Meta.RequiredCredential; cred != "" && !r.hasCredential(cred) {
			warnings = append(warnings, "skipping "+e.tool.Name+": missing credential "+cred)
			continue
		}
		e.tool.active = true
		activated = append(activated, e.tool.Name)
	}
	return activated, warnings
}

// ActivateSubCategory activates tools matching category and sub,
// optionally deactivating everything else non-discovery first.
func (r *Registry) ActivateSubCategory(category, sub string, exclusive bool) (activated []string, warnings []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exclusive {
		for _, e := range r.reg.List() {
			if e.tool.Meta.Category != DiscoveryCategory {
				e.tool.active = false
			}
		}
	}
	for _, e := range r.reg.List() {
		if e.tool.Meta.Category != category || e.tool.Meta.SubCategory != sub {
			continue
		}
		if cred := e.tool.Meta.RequiredCredential; cred != "" && !r.hasCredential(cred) {
			warnings = append(warnings, "skipping "+e.tool.Name+": missing credential "+cred)
			continue
		}
		e.tool.active = true
		activated = append(activated, e.tool.Name)
	}
	return activated, warnings
}

// Deactivate removes names from the active set. Discovery-category tools
// are silently kept active, honoring their permanent-active invariant.
func (r *Registry) Deactivate(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		e, ok := r.reg.Get(name)
		if !ok || e.tool.Meta.Category == DiscoveryCategory {
			continue
		}
		e.tool.active = false
	}
}

// SearchOptions parameterizes Search.
type SearchOptions struct {
	Query          string
	Categories     []string
	Tags           []string
	HasCredential  *bool
	Limit          int
}

// Search applies conjunctive multi-criteria filtering with a
// case-insensitive token match over name/description/tags, then sorts by
// (priority ascending, usage descending) and truncates to Limit.
func (r *Registry) Search(opts SearchOptions) []*Tool {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	wantCategories := toSet(opts.Categories)
	wantTags := toSet(opts.Tags)

	var out []*Tool
	for _, e := range r.reg.List() {
		t := e.tool
		if query != "" && !matchesQuery(t, query) {
			continue
		}
		if len(wantCategories) > 0 && !wantCategories[t.Meta.Category] {
			continue
		}
		if len(wantTags) > 0 && !anyTagMatches(t.Meta.Tags, wantTags) {
			continue
		}
		if opts.HasCredential != nil {
			hasCred := t.Meta.RequiredCredential == "" || r.hasCredential(t.Meta.RequiredCredential)
			if hasCred != *opts.HasCredential {
				continue
			}
		}
		out = append(out, t)
	}

	sortTools(out, r.usageCount)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func matchesQuery(t *Tool, query string) bool {
	if strings.Contains(strings.ToLower(t.Name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), query) {
		return true
	}
	for _, tag := range t.Meta.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func anyTagMatches(tags []string, want map[string]bool) bool {
	for _, tag := range tags {
		if want[tag] {
			return true
		}
	}
	return false
}

// Categories returns every distinct registered category.
func (r *Registry) Categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.reg.List() {
		c := e.tool.Meta.Category
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// suggestions is the static keyword → tool-list map backing Suggest.
var suggestions = map[string][]string{
	"video":   {"create-complete-video", "launch-remotion-studio"},
	"studio":  {"launch-remotion-studio", "check-studio-status"},
	"render":  {"create-complete-video", "render-video"},
	"export":  {"create-complete-video"},
	"layer":   {"activate-layer", "list-layers"},
	"context": {"optimize-context", "context-stats"},
}

// Suggest returns deduplicated, registered tool names relevant to a
// free-text context string, by static keyword match.
func (r *Registry) Suggest(contextText string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(contextText)
	seen := make(map[string]bool)
	var out []string
	for keyword, names := range suggestions {
		if !strings.Contains(lower, keyword) {
			continue
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			if _, ok := r.reg.Get(name); !ok {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// UsageStats returns a snapshot of per-tool invocation counts.
func (r *Registry) UsageStats() map[string]int {
	if r.usage == nil {
		return nil
	}
	return r.usage.snapshot()
}
