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

package broker

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roughcut-mcp/studio-broker/pkg/config"
)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	cfg := config.Default()
	cfg.AssetsDir = filepath.Join(t.TempDir(), "assets")
	cfg.PortRange.Start = 39500
	cfg.PortRange.End = 39502
	cfg.PortRange.Deny = nil

	b, err := Build(cfg, slog.New(slog.DiscardHandler), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestListToolsOnlyExposesActiveTools(t *testing.T) {
	b := testBroker(t)

	active := b.ListTools()
	require.NotEmpty(t, active)
	for _, td := range active {
		tl, ok := b.registry.Handler(td.Name)
		require.True(t, ok)
		require.NotNil(t, tl)
	}

	names := make(map[string]bool, len(active))
	for _, td := range active {
		names[td.Name] = true
	}
	require.Contains(t, names, "find-studios")
	// video-creation tools live behind an inactive layer until activated.
	require.NotContains(t, names, "create-complete-video")
}

func TestCallToolUnknownNameReturnsStructuredError(t *testing.T) {
	b := testBroker(t)

	result := b.CallTool(context.Background(), "does-not-exist", nil)
	require.Nil(t, result.Result)
	require.NotNil(t, result.Error)
	require.Equal(t, "tool_activation", string(result.Error.Details.Kind))
}

func TestCallToolValidateSourceRoundTrips(t *testing.T) {
	b := testBroker(t)

	source := "export function Comp() { return <div>hi</div>; }"
	result := b.CallTool(context.Background(), "validate-source", map[string]any{"source": source})
	require.Nil(t, result.Error)
	require.Equal(t, source, result.Result["fixed"])
}

func TestCallToolDecodeErrorSurfacesAsValidationKind(t *testing.T) {
	b := testBroker(t)

	result := b.CallTool(context.Background(), "validate-source", map[string]any{"source": map[string]any{"nested": true}})
	require.Nil(t, result.Result)
	require.NotNil(t, result.Error)
	require.Equal(t, "validation", string(result.Error.Details.Kind))
}

func TestActivateLayerExposesVideoProductionTools(t *testing.T) {
	b := testBroker(t)

	result := b.CallTool(context.Background(), "activate-layer", map[string]any{"layerIds": []string{"video-production"}})
	require.Nil(t, result.Error)

	names := make(map[string]bool)
	for _, td := range b.ListTools() {
		names[td.Name] = true
	}
	require.Contains(t, names, "create-complete-video")
}

func TestAudioToolsSkippedWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.AssetsDir = filepath.Join(t.TempDir(), "assets")
	cfg.PortRange.Start = 39510
	cfg.PortRange.End = 39512
	cfg.PortRange.Deny = nil
	cfg.AudioEnabled = false

	b, err := Build(cfg, slog.New(slog.DiscardHandler), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, ok := b.registry.Handler("generate-voiceover")
	require.False(t, ok)
	_, ok = b.registry.Handler("search-sound-effect")
	require.False(t, ok)
	_, ok = b.registry.Handler("generate-image")
	require.True(t, ok)
}

func TestFindStudiosReturnsEmptyOverUnusedPortRange(t *testing.T) {
	b := testBroker(t)

	result := b.CallTool(context.Background(), "find-studios", nil)
	require.Nil(t, result.Error)
	require.Equal(t, 0, result.Result["total"])
}
