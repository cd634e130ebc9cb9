package layer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roughcut-mcp/studio-broker/pkg/ctxwindow"
)

func TestActivateSimpleLayer(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "base", Name: "Base", Weight: 10}))

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"base"}})
	require.NoError(t, err)
	require.Equal(t, []string{"base"}, result.Activated)
	require.Len(t, m.Active(), 1)
}

func TestActivateResolvesDependencyClosure(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "core", Name: "Core", Weight: 5}))
	require.NoError(t, m.Define(&Layer{ID: "advanced", Name: "Advanced", Weight: 10, DependsOn: []string{"core"}}))

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"advanced"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"core", "advanced"}, result.Activated)
}

func TestActivateDetectsCycleInStrictMode(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "a", Name: "A", DependsOn: []string{"b"}}))
	require.NoError(t, m.Define(&Layer{ID: "b", Name: "B", DependsOn: []string{"a"}}))

	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"a"}, Strict: true})
	require.Error(t, err)
}

func TestActivateCycleIsWarningInLenientMode(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "a", Name: "A", DependsOn: []string{"b"}}))
	require.NoError(t, m.Define(&Layer{ID: "b", Name: "B", DependsOn: []string{"a"}}))

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"a"}})
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
}

func TestExclusiveLayerDeactivatesOthers(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "shared1", Name: "Shared1", Weight: 5}))
	require.NoError(t, m.Define(&Layer{ID: "solo", Name: "Solo", Weight: 5, Exclusivity: ExclusivityExclusive}))

	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"shared1"}, RespectExclusivity: true})
	require.NoError(t, err)

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"solo"}, RespectExclusivity: true})
	require.NoError(t, err)
	require.Contains(t, result.Deactivated, "shared1")
	require.ElementsMatch(t, []string{"solo"}, activeIDs(m))
}

func TestPermanentLayerNeverDeactivated(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "perm", Name: "Permanent", Weight: 5, Exclusivity: ExclusivityPermanent}))
	require.NoError(t, m.Define(&Layer{ID: "solo", Name: "Solo", Weight: 5, Exclusivity: ExclusivityExclusive}))

	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"perm"}, RespectExclusivity: true})
	require.NoError(t, err)

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"solo"}, RespectExclusivity: true})
	require.NoError(t, err)
	require.NotContains(t, result.Deactivated, "perm")
	require.ElementsMatch(t, []string{"perm", "solo"}, activeIDs(m))
}

func TestActivateFailsWhenProjectedWeightExceedsLimitAndNoAutoDeactivate(t *testing.T) {
	m := New(nil, 10, false)
	require.NoError(t, m.Define(&Layer{ID: "big", Name: "Big", Weight: 20}))

	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"big"}})
	require.Error(t, err)
}

func TestActivateAutoDeactivatesViaContextManagerWhenOverLimit(t *testing.T) {
	ctx := ctxwindow.New(ctxwindow.Config{MaxWeight: 1000, MinRetentionTime: -time.Hour}, nil)
	ctx.Add("filler", "doc", 50, 1, false)

	m := New(ctx, 10, true)
	require.NoError(t, m.Define(&Layer{ID: "big", Name: "Big", Weight: 20}))

	result, err := m.Activate(ActivateOptions{LayerIDs: []string{"big"}})
	require.NoError(t, err)
	require.Contains(t, result.Activated, "big")
}

func TestDeactivateExpandsToDependents(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "core", Name: "Core", Weight: 5}))
	require.NoError(t, m.Define(&Layer{ID: "advanced", Name: "Advanced", Weight: 10, DependsOn: []string{"core"}}))
	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"advanced"}})
	require.NoError(t, err)

	deactivated, warnings := m.Deactivate([]string{"core"})
	require.ElementsMatch(t, []string{"core", "advanced"}, deactivated)
	require.NotEmpty(t, warnings)
}

func TestRecommendScoresNameAndToolMatches(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "render", Name: "Rendering", Description: "video export tools", Tools: []string{"render-video"}}))
	require.NoError(t, m.Define(&Layer{ID: "unrelated", Name: "Unrelated", Description: "nothing to do with this"}))

	recs := m.Recommend("please render-video for me", 5)
	require.NotEmpty(t, recs)
	require.Equal(t, "render", recs[0].LayerID)
}

func TestHistoryRecordsActivationsAndDeactivations(t *testing.T) {
	m := New(nil, 0, false)
	require.NoError(t, m.Define(&Layer{ID: "base", Name: "Base"}))

	_, err := m.Activate(ActivateOptions{LayerIDs: []string{"base"}, RequestedBy: "tester", Reason: "test"})
	require.NoError(t, err)
	m.Deactivate([]string{"base"})

	hist := m.History()
	require.Len(t, hist, 2)
	require.Equal(t, "activate", hist[0].Action)
	require.Equal(t, "tester", hist[0].Requester)
	require.Equal(t, "deactivate", hist[1].Action)
}

func TestConcurrentActivateDeactivateIsRaceFree(t *testing.T) {
	m := New(nil, 0, false)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Define(&Layer{ID: id, Name: id, Weight: 1}))
	}

	done := make(chan bool, 3)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		go func() {
			defer func() { done <- true }()
			for i := 0; i < 50; i++ {
				_, _ = m.Activate(ActivateOptions{LayerIDs: []string{id}})
				m.Deactivate([]string{id})
				_ = m.Active()
				_ = m.History()
			}
		}()
	}
	<-done
	<-done
	<-done
}

func activeIDs(m *Manager) []string {
	var ids []string
	for _, l := range m.Active() {
		ids = append(ids, l.ID)
	}
	return ids
}
