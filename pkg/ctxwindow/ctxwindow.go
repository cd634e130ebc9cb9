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

// Package ctxwindow tracks the weighted set of items currently loaded into
// the host's conversational context window and decides what to evict as
// pressure rises, following the familiar window/limit bookkeeping style
// (typed config with SetDefaults, single-mutex check-and-record mutation)
// adapted from rate-limiting to
// weight/eviction accounting.
package ctxwindow

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Pressure is the qualitative reading of how full the context window is.
type Pressure string

const (
	PressureLow      Pressure = "low"
	PressureMedium   Pressure = "medium"
	PressureHigh     Pressure = "high"
	PressureCritical Pressure = "critical"
)

// Strategy selects which eviction scoring function optimize uses.
type Strategy string

const (
	StrategyLRU      Strategy = "lru"
	StrategyLFU      Strategy = "lfu"
	StrategyPriority Strategy = "priority"
	StrategySmart    Strategy = "smart"
)

// Item is one entry tracked by the Manager.
type Item struct {
	ID         string
	Type       string
	Weight     int
	Priority   int
	Required   bool
	AddedAt    time.Time
	LastUsed   time.Time
	UsageCount int
}

// Config tunes a Manager's thresholds and behavior.
type Config struct {
	MaxWeight        int
	WarningRatio     float64 // default 0.75
	CriticalRatio    float64 // default 0.9
	MinRetentionTime time.Duration
	Strategy         Strategy
	AutoOptimize     bool
	// TargetRatio is the fraction of MaxWeight optimize aims for when
	// triggered automatically by add. Default 0.7.
	TargetRatio float64
}

func (c *Config) setDefaults() {
	if c.WarningRatio == 0 {
		c.WarningRatio = 0.75
	}
	if c.CriticalRatio == 0 {
		c.CriticalRatio = 0.9
	}
	if c.MinRetentionTime == 0 {
		c.MinRetentionTime = 60 * time.Second
	}
	if c.Strategy == "" {
		c.Strategy = StrategySmart
	}
	if c.TargetRatio == 0 {
		c.TargetRatio = 0.7
	}
}

// Event is emitted to registered observers on pressure changes and
// optimization rounds.
type Event struct {
	Name       string // "pressureChange" | "optimized"
	Pressure   Pressure
	Removed    []string
	WeightFreed int
}

// Manager tracks weighted context items and evicts under pressure.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	items     map[string]*Item
	totalW    int
	lastPress Pressure

	observers []func(Event)
}

// New constructs a Manager. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: logger, items: make(map[string]*Item), lastPress: PressureLow}
}

// Observe registers fn to be called on pressureChange/optimized events.
func (m *Manager) Observe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) emitLocked(ev Event) {
	for _, fn := range m.observers {
		fn(ev)
	}
}

// Add inserts or refreshes an item. If autoOptimize is on and pressure
// rises to high or above as a result, a single optimization round using
// the configured Strategy runs immediately, targeting TargetRatio·MaxWeight.
func (m *Manager) Add(id, itemType string, weight, priority int, required bool) {
	m.mu.Lock()
	now := time.Now()
	if existing, ok := m.items[id]; ok {
		m.totalW -= existing.Weight
	}
	m.items[id] = &Item{
		ID: id, Type: itemType, Weight: weight, Priority: priority, Required: required,
		AddedAt: now, LastUsed: now,
	}
	m.totalW += weight

	m.checkPressureLocked()
	needsOptimize := m.cfg.AutoOptimize && m.pressureLocked() == PressureHigh || (m.cfg.AutoOptimize && m.pressureLocked() == PressureCritical)
	m.mu.Unlock()

	if needsOptimize {
		target := int(float64(m.cfg.MaxWeight) * m.cfg.TargetRatio)
		m.Optimize(&target)
	}
}

// Remove drops id regardless of required/retention status — Remove is an
// explicit caller action, unlike eviction during optimize.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return false
	}
	delete(m.items, id)
	m.totalW -= item.Weight
	m.checkPressureLocked()
	return true
}

// MarkUsed records a use of id, refreshing LastUsed and incrementing
// UsageCount, both inputs to LRU/LFU/Smart scoring.
func (m *Manager) MarkUsed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.LastUsed = time.Now()
		item.UsageCount++
	}
}

// Pressure reports the current qualitative pressure reading.
func (m *Manager) Pressure() Pressure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressureLocked()
}

func (m *Manager) pressureLocked() Pressure {
	if m.cfg.MaxWeight <= 0 {
		return PressureLow
	}
	ratio := float64(m.totalW) / float64(m.cfg.MaxWeight)
	switch {
	case ratio >= m.cfg.CriticalRatio:
		return PressureCritical
	case ratio >= m.cfg.WarningRatio:
		return PressureHigh
	case ratio >= 0.5:
		return PressureMedium
	default:
		return PressureLow
	}
}

func (m *Manager) checkPressureLocked() {
	p := m.pressureLocked()
	if p != m.lastPress {
		m.lastPress = p
		m.emitLocked(Event{Name: "pressureChange", Pressure: p})
	}
}

// CanAdd reports whether weight more could be added without exceeding
// MaxWeight.
func (m *Manager) CanAdd(weight int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxWeight <= 0 {
		return true
	}
	return m.totalW+weight <= m.cfg.MaxWeight
}

// RequiredReduction returns how much total weight must be freed before
// weight more could be added, or 0 if it already fits.
func (m *Manager) RequiredReduction(weight int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxWeight <= 0 {
		return 0
	}
	overBy := m.totalW + weight - m.cfg.MaxWeight
	if overBy < 0 {
		return 0
	}
	return overBy
}

// Statistics summarizes current Manager state for diagnostics/UIs.
type Statistics struct {
	Count        int
	TotalWeight  int
	MaxWeight    int
	Pressure     Pressure
	RequiredCount int
}

// Statistics reports aggregate Manager state.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Statistics{Count: len(m.items), TotalWeight: m.totalW, MaxWeight: m.cfg.MaxWeight, Pressure: m.pressureLocked()}
	for _, it := range m.items {
		if it.Required {
			stats.RequiredCount++
		}
	}
	return stats
}

// OptimizeResult reports what an Optimize call did.
type OptimizeResult struct {
	Removed     []string
	WeightFreed int
	FinalWeight int
}

// Optimize evicts items, by the configured Strategy, until total weight is
// at or below targetWeight (defaulting to TargetRatio·MaxWeight when nil).
// Required items and items younger than MinRetentionTime are never
// evicted; if eviction cannot reach the target because everything
// remaining is protected, Optimize stops and reports what it managed to
// free.
func (m *Manager) Optimize(targetWeight *int) OptimizeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := int(float64(m.cfg.MaxWeight) * m.cfg.TargetRatio)
	if targetWeight != nil {
		target = *targetWeight
	}

	var result OptimizeResult
	now := time.Now()

	for m.totalW > target {
		candidates := m.evictionCandidatesLocked(now)
		if len(candidates) == 0 {
			break
		}
		victim := candidates[0]
		delete(m.items, victim.ID)
		m.totalW -= victim.Weight
		result.Removed = append(result.Removed, victim.ID)
		result.WeightFreed += victim.Weight
	}
	result.FinalWeight = m.totalW

	m.checkPressureLocked()
	if len(result.Removed) > 0 {
		m.emitLocked(Event{Name: "optimized", Pressure: m.pressureLocked(), Removed: result.Removed, WeightFreed: result.WeightFreed})
	}
	return result
}

// evictionCandidatesLocked returns evictable items ordered most-evictable
// first, per the configured Strategy.
func (m *Manager) evictionCandidatesLocked(now time.Time) []*Item {
	var candidates []*Item
	for _, it := range m.items {
		if it.Required {
			continue
		}
		if now.Sub(it.AddedAt) < m.cfg.MinRetentionTime {
			continue
		}
		candidates = append(candidates, it)
	}

	switch m.cfg.Strategy {
	case StrategyLRU:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].LastUsed.Before(candidates[j].LastUsed) })
	case StrategyLFU:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].UsageCount < candidates[j].UsageCount })
	case StrategyPriority:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
	default: // Smart
		scores := make(map[string]float64, len(candidates))
		for _, it := range candidates {
			scores[it.ID] = smartScore(it, m.cfg.MaxWeight, now)
		}
		sort.Slice(candidates, func(i, j int) bool { return scores[candidates[i].ID] > scores[candidates[j].ID] })
	}
	return candidates
}

// smartScore computes the weighted eviction score:
// 0.3·(age_hours) + 0.3·(1/(usageCount+1)) + 0.2·((10−priority)/10) +
// 0.2·(weight/W_max). Higher scores are evicted first.
func smartScore(it *Item, maxWeight int, now time.Time) float64 {
	ageHours := now.Sub(it.AddedAt).Hours()
	usageTerm := 1.0 / float64(it.UsageCount+1)
	priorityTerm := float64(10-it.Priority) / 10.0
	weightTerm := 0.0
	if maxWeight > 0 {
		weightTerm = float64(it.Weight) / float64(maxWeight)
	}
	return 0.3*ageHours + 0.3*usageTerm + 0.2*priorityTerm + 0.2*weightTerm
}
