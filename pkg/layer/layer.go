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

// Package layer manages activation of tool layers: named, weighted
// groupings of tools with dependency and exclusivity rules, built on a
// generic name-indexed store (single mutex) extended with the
// activation-planning state machine layer transitions require.
package layer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/roughcut-mcp/studio-broker/pkg/ctxwindow"
	"github.com/roughcut-mcp/studio-broker/pkg/registry"
)

// Exclusivity is one of the declared activation-conflict rules.
type Exclusivity string

const (
	ExclusivityShared    Exclusivity = "shared"
	ExclusivitySelective Exclusivity = "selective"
	ExclusivityExclusive Exclusivity = "exclusive"
	ExclusivityPermanent Exclusivity = "permanent"
)

// Status is a layer's current activation state.
type Status string

const (
	StatusInactive    Status = "inactive"
	StatusActivating  Status = "activating"
	StatusActive      Status = "active"
	StatusDeactivating Status = "deactivating"
)

// Layer is one definable, activatable grouping of tools.
type Layer struct {
	ID            string
	Name          string
	Description   string
	Tools         []string
	DependsOn     []string
	Compatible    []string // compatibility set for selective exclusivity
	Exclusivity   Exclusivity
	Weight        int
	Status        Status
	ActivationCount int
}

// HistoryEntry is one recorded activation/deactivation action.
type HistoryEntry struct {
	Timestamp     time.Time
	Action        string // "activate" | "deactivate"
	LayerID       string
	Reason        string
	Requester     string
	ResultWeight  int
	Success       bool
}

// ActivateOptions parameterizes an Activate call.
type ActivateOptions struct {
	LayerIDs          []string
	Force             bool
	RespectExclusivity bool
	RequestedBy       string
	Reason            string
	// Strict makes a dependency cycle an error; otherwise it's a
	// recorded warning and the cyclic edge is dropped from the closure.
	Strict bool
}

// ActivateResult reports what Activate did.
type ActivateResult struct {
	Activated   []string
	Deactivated []string
	Warnings    []string
	ProjectedWeight int
}

// Manager is the layer activation engine. mu guards every read or mutation
// of a Layer's Status/ActivationCount fields and of history: the
// name-indexed store's own lock only protects the map, not the *Layer
// values it hands out, so Activate/Deactivate calls on the same manager
// must be serialized here.
type Manager struct {
	mu  sync.Mutex
	reg *registry.BaseRegistry[*Layer]
	ctx *ctxwindow.Manager

	maxWeight    int
	autoDeactivate bool

	history    []HistoryEntry
	historyCap int
}

// New constructs a Manager. ctx is used to request additional evictions
// when an activation would exceed maxWeight and autoDeactivate is enabled;
// those evictions follow ctx's configured strategy, which is not forced to
// Smart. ctx may be nil if auto-deactivation is never needed.
func New(ctxMgr *ctxwindow.Manager, maxWeight int, autoDeactivate bool) *Manager {
	return &Manager{
		reg:          registry.NewBaseRegistry[*Layer](),
		ctx:          ctxMgr,
		maxWeight:    maxWeight,
		autoDeactivate: autoDeactivate,
		historyCap:   200,
	}
}

// Define registers a new layer definition, initially inactive.
func (m *Manager) Define(l *Layer) error {
	if l.Status == "" {
		l.Status = StatusInactive
	}
	return m.reg.Register(l.ID, l)
}

// Active returns every currently-active layer.
func (m *Manager) Active() []*Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// activeLocked is Active's body, callable from methods that already hold
// m.mu (Activate, Deactivate) without re-entering the lock.
func (m *Manager) activeLocked() []*Layer {
	var out []*Layer
	for _, l := range m.reg.List() {
		if l.Status == StatusActive {
			out = append(out, l)
		}
	}
	return out
}

// Defined returns every registered layer regardless of activation status,
// for listing operations that must show the full catalog.
func (m *Manager) Defined() []*Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.List()
}

// Get returns the layer registered under id, if any.
func (m *Manager) Get(id string) (*Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Get(id)
}

// History returns the bounded ring of past activation actions, oldest
// first.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// recordHistoryLocked appends e to the bounded history ring. Callers must
// already hold m.mu; both call sites (Activate, Deactivate) lock at entry.
func (m *Manager) recordHistoryLocked(e HistoryEntry) {
	e.Timestamp = time.Now()
	m.history = append(m.history, e)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// Activate runs the full activation-planning sequence: dependency
// closure, exclusivity-driven deactivation, projected-weight
// check (with an optional auto-deactivate fallback via the context
// manager), and finally the stage transitions themselves.
func (m *Manager) Activate(opts ActivateOptions) (ActivateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result ActivateResult

	closure, warnings, err := m.dependencyClosure(opts.LayerIDs, opts.Strict)
	if err != nil {
		return result, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	planned := make(map[string]bool, len(closure))
	for _, id := range closure {
		planned[id] = true
	}

	deactivating, err := m.exclusivityDeactivationSet(planned, opts.RespectExclusivity)
	if err != nil {
		return result, err
	}

	current := m.totalActiveWeightLocked()
	var deactivatedWeight, activatingWeight int
	for _, id := range deactivating {
		if l, ok := m.reg.Get(id); ok {
			deactivatedWeight += l.Weight
		}
	}
	for _, id := range closure {
		l, ok := m.reg.Get(id)
		if !ok {
			return result, apperr.New(apperr.Validation, "layer", "activate",
				fmt.Sprintf("undefined layer %q", id), nil)
		}
		if l.Status != StatusActive {
			activatingWeight += l.Weight
		}
	}

	projected := current - deactivatedWeight + activatingWeight
	result.ProjectedWeight = projected

	if m.maxWeight > 0 && projected > m.maxWeight && !opts.Force {
		if !m.autoDeactivate || m.ctx == nil {
			return result, apperr.New(apperr.Validation, "layer", "activate",
				fmt.Sprintf("projected context weight %d exceeds limit %d", projected, m.maxWeight), nil).
				WithSeverity(apperr.SeverityWarning)
		}
		target := m.maxWeight - activatingWeight + deactivatedWeight
		freed := m.ctx.Optimize(&target)
		projected -= freed.WeightFreed
		result.ProjectedWeight = projected
		if projected > m.maxWeight {
			return result, apperr.New(apperr.Validation, "layer", "activate",
				fmt.Sprintf("projected context weight %d exceeds limit %d even after auto-deactivation", projected, m.maxWeight), nil)
		}
	}

	for _, id := range deactivating {
		l, _ := m.reg.Get(id)
		l.Status = StatusDeactivating
		l.Status = StatusInactive
		result.Deactivated = append(result.Deactivated, id)
		m.recordHistoryLocked(HistoryEntry{Action: "deactivate", LayerID: id, Reason: "exclusivity", Requester: opts.RequestedBy, ResultWeight: projected, Success: true})
	}

	for _, id := range closure {
		l, _ := m.reg.Get(id)
		if l.Status == StatusActive {
			continue
		}
		l.Status = StatusActivating
		l.Status = StatusActive
		l.ActivationCount++
		result.Activated = append(result.Activated, id)
		m.recordHistoryLocked(HistoryEntry{Action: "activate", LayerID: id, Reason: opts.Reason, Requester: opts.RequestedBy, ResultWeight: projected, Success: true})
	}

	return result, nil
}

// totalActiveWeightLocked sums the weight of every active layer. Callers
// must already hold m.mu.
func (m *Manager) totalActiveWeightLocked() int {
	total := 0
	for _, l := range m.activeLocked() {
		total += l.Weight
	}
	return total
}

// dependencyClosure computes the transitive dependency closure of ids via
// depth-first traversal, detecting cycles. In strict mode a cycle is an
// error; otherwise it's a warning and the cyclic back-edge is dropped.
func (m *Manager) dependencyClosure(ids []string, strict bool) ([]string, []string, error) {
	var order []string
	var warnings []string
	visited := make(map[string]int) // 0=unvisited,1=in-progress,2=done

	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			msg := fmt.Sprintf("dependency cycle detected at layer %q", id)
			if strict {
				return apperr.New(apperr.Validation, "layer", "activate", msg, nil)
			}
			warnings = append(warnings, msg)
			return nil
		}
		visited[id] = 1
		l, ok := m.reg.Get(id)
		if !ok {
			return apperr.New(apperr.Validation, "layer", "activate", fmt.Sprintf("undefined layer %q", id), nil)
		}
		for _, dep := range l.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, nil, err
		}
	}
	return order, warnings, nil
}

// exclusivityDeactivationSet builds the set of currently-active layers
// that must be deactivated to satisfy the exclusivity rules of every layer
// in the activation plan. Callers must already hold m.mu.
func (m *Manager) exclusivityDeactivationSet(planned map[string]bool, respect bool) ([]string, error) {
	if !respect {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []string

	addUnique := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for plannedID := range planned {
		l, ok := m.reg.Get(plannedID)
		if !ok {
			continue
		}
		switch l.Exclusivity {
		case ExclusivityExclusive:
			for _, active := range m.activeLocked() {
				if active.Exclusivity == ExclusivityPermanent || planned[active.ID] {
					continue
				}
				addUnique(active.ID)
			}
		case ExclusivitySelective:
			compatible := make(map[string]bool, len(l.Compatible))
			for _, c := range l.Compatible {
				compatible[c] = true
			}
			for _, active := range m.activeLocked() {
				if active.Exclusivity == ExclusivityPermanent || planned[active.ID] || compatible[active.ID] {
					continue
				}
				addUnique(active.ID)
			}
		}
	}
	return out, nil
}

// Deactivate turns off layerIDs and expands the set to include every
// active layer whose dependency set intersects it, so a dependency is
// never turned off while something still depends on it.
func (m *Manager) Deactivate(layerIDs []string) ([]string, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requested := make(map[string]bool, len(layerIDs))
	for _, id := range layerIDs {
		requested[id] = true
	}

	var warnings []string
	expanded := make(map[string]bool, len(layerIDs))
	for id := range requested {
		expanded[id] = true
	}

	for _, active := range m.activeLocked() {
		if expanded[active.ID] {
			continue
		}
		for _, dep := range active.DependsOn {
			if requested[dep] {
				expanded[active.ID] = true
				warnings = append(warnings, fmt.Sprintf("layer %q deactivated because its dependency %q was deactivated", active.ID, dep))
				break
			}
		}
	}

	var deactivated []string
	for id := range expanded {
		l, ok := m.reg.Get(id)
		if !ok || l.Status != StatusActive || l.Exclusivity == ExclusivityPermanent {
			continue
		}
		l.Status = StatusDeactivating
		l.Status = StatusInactive
		deactivated = append(deactivated, id)
		m.recordHistoryLocked(HistoryEntry{Action: "deactivate", LayerID: id, Reason: "explicit", Success: true})
	}
	return deactivated, warnings
}

// Recommendation is one scored suggestion from Recommend.
type Recommendation struct {
	LayerID       string
	Confidence    float64
	Reason        string
	RelevantTools []string
	ContextWeight int
}

// Recommend scores every defined layer against a free-text context string
// using a keyword-overlap weighted formula and returns the top limit
// matches, highest confidence first.
func (m *Manager) Recommend(contextText string, limit int) []Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	lower := strings.ToLower(contextText)

	var recs []Recommendation
	for _, l := range m.reg.List() {
		score := 0.0
		var relevant []string
		var reasons []string

		if strings.Contains(lower, strings.ToLower(l.Name)) {
			score += 0.5
			reasons = append(reasons, "name match")
		}
		if l.Description != "" && strings.Contains(lower, strings.ToLower(l.Description)) {
			score += 0.3
			reasons = append(reasons, "description match")
		}
		for _, toolName := range l.Tools {
			if strings.Contains(lower, strings.ToLower(toolName)) {
				score += 0.2
				relevant = append(relevant, toolName)
			}
		}
		activationBonus := float64(l.ActivationCount) / 100.0
		if activationBonus > 0.2 {
			activationBonus = 0.2
		}
		score += activationBonus

		if score > 1.0 {
			score = 1.0
		}
		if score <= 0 {
			continue
		}

		recs = append(recs, Recommendation{
			LayerID: l.ID, Confidence: score, Reason: strings.Join(reasons, ", "),
			RelevantTools: relevant, ContextWeight: l.Weight,
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Confidence > recs[j].Confidence })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
