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

import "github.com/roughcut-mcp/studio-broker/pkg/layer"

// defineBuiltinLayers registers the default layer catalog: a permanent
// core layer always available, an exclusive video-production layer that
// pulls in the studio/transform tools, and selective asset-generation
// layers compatible with video-production but not with each other unless
// explicitly requested.
func defineBuiltinLayers(b *Broker) {
	defs := []*layer.Layer{
		{
			ID:          "core",
			Name:        "Core",
			Description: "Discovery, search, and layer/context management tools available at all times.",
			Tools: []string{
				"find-studios", "check-studio-status", "list-layers", "activate-layer",
				"deactivate-layers", "recommend-layers", "search-tools", "suggest-tools",
				"context-stats", "activate-categories",
			},
			Exclusivity: layer.ExclusivityPermanent,
			Weight:      50,
		},
		{
			ID:          "video-production",
			Name:        "Video Production",
			Description: "Studio lifecycle and source transform/render tools for producing a composition.",
			Tools: []string{
				"launch-remotion-studio", "shutdown-studio", "create-complete-video",
				"render-video", "transform-source", "resume-transform", "validate-source",
			},
			DependsOn:   []string{"core"},
			Exclusivity: layer.ExclusivityExclusive,
			Weight:      400,
		},
		{
			ID:          "voice-assets",
			Name:        "Voice Assets",
			Description: "Text-to-speech voiceover generation.",
			Tools:       []string{"generate-voiceover"},
			Compatible:  []string{"video-production"},
			Exclusivity: layer.ExclusivitySelective,
			Weight:      150,
		},
		{
			ID:          "sfx-assets",
			Name:        "Sound Effect Assets",
			Description: "Sound-effect library search.",
			Tools:       []string{"search-sound-effect"},
			Compatible:  []string{"video-production"},
			Exclusivity: layer.ExclusivitySelective,
			Weight:      100,
		},
		{
			ID:          "image-assets",
			Name:        "Image Assets",
			Description: "Text-to-image generation for stills and backgrounds.",
			Tools:       []string{"generate-image"},
			Compatible:  []string{"video-production"},
			Exclusivity: layer.ExclusivitySelective,
			Weight:      150,
		},
		{
			ID:          "maintenance",
			Name:        "Maintenance",
			Description: "Housekeeping tools: stale-studio cleanup and context optimization.",
			Tools:       []string{"cleanup-studios", "optimize-context", "deactivate-tools"},
			Exclusivity: layer.ExclusivityShared,
			Weight:      80,
		},
	}

	for _, l := range defs {
		if err := b.layers.Define(l); err != nil {
			b.log.Error("layer definition failed", "layer", l.ID, "error", err)
		}
	}
}
