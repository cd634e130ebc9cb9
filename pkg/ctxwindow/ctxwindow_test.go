package ctxwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPressureThresholds(t *testing.T) {
	m := New(Config{MaxWeight: 100}, nil)

	require.Equal(t, PressureLow, m.Pressure())

	m.Add("a", "doc", 60, 5, false)
	require.Equal(t, PressureMedium, m.Pressure())

	m.Add("b", "doc", 20, 5, false)
	require.Equal(t, PressureHigh, m.Pressure())

	m.Add("c", "doc", 15, 5, false)
	require.Equal(t, PressureCritical, m.Pressure())
}

func TestRequiredItemsNeverEvicted(t *testing.T) {
	m := New(Config{MaxWeight: 100, MinRetentionTime: -time.Hour}, nil)
	m.Add("keep", "doc", 90, 1, true)
	m.Add("evictable", "doc", 5, 1, false)

	result := m.Optimize(intPtr(0))
	require.Contains(t, result.Removed, "evictable")
	require.NotContains(t, result.Removed, "keep")

	stats := m.Statistics()
	require.Equal(t, 90, stats.TotalWeight)
}

func TestMinRetentionTimeProtectsRecentItems(t *testing.T) {
	m := New(Config{MaxWeight: 100, MinRetentionTime: time.Hour}, nil)
	m.Add("recent", "doc", 50, 1, false)

	result := m.Optimize(intPtr(0))
	require.Empty(t, result.Removed)
}

func TestLRUStrategyEvictsOldestLastUsed(t *testing.T) {
	m := New(Config{MaxWeight: 100, Strategy: StrategyLRU, MinRetentionTime: -time.Hour}, nil)
	m.Add("old", "doc", 10, 1, false)
	time.Sleep(time.Millisecond)
	m.Add("new", "doc", 10, 1, false)
	m.MarkUsed("new")

	result := m.Optimize(intPtr(15))
	require.Equal(t, []string{"old"}, result.Removed)
}

func TestLFUStrategyEvictsSmallestUsageCount(t *testing.T) {
	m := New(Config{MaxWeight: 100, Strategy: StrategyLFU, MinRetentionTime: -time.Hour}, nil)
	m.Add("rare", "doc", 10, 1, false)
	m.Add("frequent", "doc", 10, 1, false)
	m.MarkUsed("frequent")
	m.MarkUsed("frequent")

	result := m.Optimize(intPtr(15))
	require.Equal(t, []string{"rare"}, result.Removed)
}

func TestPriorityStrategyEvictsLowestPrecedenceFirst(t *testing.T) {
	m := New(Config{MaxWeight: 100, Strategy: StrategyPriority, MinRetentionTime: -time.Hour}, nil)
	m.Add("low-precedence", "doc", 10, 9, false)
	m.Add("high-precedence", "doc", 10, 1, false)

	result := m.Optimize(intPtr(15))
	require.Equal(t, []string{"low-precedence"}, result.Removed)
}

func TestCanAddAndRequiredReduction(t *testing.T) {
	m := New(Config{MaxWeight: 100}, nil)
	m.Add("a", "doc", 80, 1, false)

	require.True(t, m.CanAdd(20))
	require.False(t, m.CanAdd(21))
	require.Equal(t, 0, m.RequiredReduction(20))
	require.Equal(t, 1, m.RequiredReduction(21))
}

func TestAutoOptimizeTriggersOnHighPressure(t *testing.T) {
	m := New(Config{MaxWeight: 100, AutoOptimize: true, MinRetentionTime: -time.Hour, TargetRatio: 0.7}, nil)
	m.Add("a", "doc", 50, 1, false)
	m.Add("b", "doc", 50, 1, false)

	stats := m.Statistics()
	require.LessOrEqual(t, stats.TotalWeight, 70)
}

func TestPressureChangeEventFires(t *testing.T) {
	m := New(Config{MaxWeight: 100}, nil)
	var events []Event
	m.Observe(func(e Event) { events = append(events, e) })

	m.Add("a", "doc", 60, 1, false)
	require.NotEmpty(t, events)
	require.Equal(t, "pressureChange", events[0].Name)
	require.Equal(t, PressureMedium, events[0].Pressure)
}

func intPtr(i int) *int { return &i }
