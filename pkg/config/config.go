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

// Package config loads and validates broker startup settings.
//
// The broker is config-first: a single YAML file (optionally layered with
// environment variables and a .env file) describes asset locations,
// credential presence, port ranges, and the context/layer budgets. Example:
//
//	assetsDir: ./assets
//	apiKeys:
//	  elevenlabs: ${ELEVENLABS_API_KEY}
//	portRange:
//	  start: 3000
//	  end: 3020
//	  deny: [3002]
//	context:
//	  maxWeight: 10000
//	  strategy: smart
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Config is the root broker configuration.
type Config struct {
	AssetsDir string `yaml:"assetsDir"`
	// AudioEnabled gates registration of the voice-generation and
	// sound-effects tool categories, independent of their credentials.
	AudioEnabled bool `yaml:"audioEnabled"`

	APIKeys       APIKeysConfig       `yaml:"apiKeys"`
	APIEndpoints  APIEndpointsConfig  `yaml:"apiEndpoints"`
	Remotion      RemotionConfig      `yaml:"remotion"`
	FileManagement FileManagementConfig `yaml:"fileManagement"`
	Logging       LoggingConfig       `yaml:"logging"`
	PortRange     PortRangeConfig     `yaml:"portRange"`
	Context       ContextConfig       `yaml:"context"`
	Layers        LayersConfig        `yaml:"layers"`
}

// APIKeysConfig holds credential-gated third-party keys. Only presence is
// ever checked; values are never logged.
type APIKeysConfig struct {
	ElevenLabs string `yaml:"elevenlabs"`
	Freesound  string `yaml:"freesound"`
	Flux       string `yaml:"flux"`
}

// Has reports whether a named credential is present.
func (a APIKeysConfig) Has(name string) bool {
	switch name {
	case "elevenlabs":
		return a.ElevenLabs != ""
	case "freesound":
		return a.Freesound != ""
	case "flux":
		return a.Flux != ""
	default:
		return false
	}
}

// APIEndpointsConfig holds validated URLs for credential-gated APIs.
type APIEndpointsConfig struct {
	ElevenLabs string `yaml:"elevenlabs"`
	Flux       string `yaml:"flux"`
}

// RemotionConfig configures the renderer child process.
type RemotionConfig struct {
	BrowserExecutable string `yaml:"browserExecutable"`
	Concurrency       int    `yaml:"concurrency"`
	Timeout           int    `yaml:"timeout"` // milliseconds
}

// FileManagementConfig configures temp-file and asset retention.
type FileManagementConfig struct {
	CleanupTempFiles bool    `yaml:"cleanupTempFiles"`
	MaxAssetAgeHours float64 `yaml:"maxAssetAgeHours"`
}

// LoggingConfig configures the sink-only logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// PortRangeConfig configures the port allocator's scan range and deny-list.
type PortRangeConfig struct {
	Start int   `yaml:"start"`
	End   int   `yaml:"end"`
	Deny  []int `yaml:"deny"`
}

// ContextConfig configures the context manager's budget and eviction.
type ContextConfig struct {
	MaxWeight     int     `yaml:"maxWeight"`
	Warning       float64 `yaml:"warning"`
	Critical      float64 `yaml:"critical"`
	AutoOptimize  bool    `yaml:"autoOptimize"`
	Strategy      string  `yaml:"strategy"`
}

// LayersConfig configures the layer manager.
type LayersConfig struct {
	MaxActive              int  `yaml:"maxActive"`
	AutoResolveDependencies bool `yaml:"autoResolveDependencies"`
	EnforceExclusivity     bool `yaml:"enforceExclusivity"`
	TrackHistory           bool `yaml:"trackHistory"`
}

// Default returns a Config populated with baseline defaults, before any
// YAML or environment overlay is applied.
func Default() *Config {
	return &Config{
		AssetsDir:    "./assets",
		AudioEnabled: true,
		Remotion: RemotionConfig{
			Concurrency: 1,
			Timeout:     30000,
		},
		FileManagement: FileManagementConfig{
			CleanupTempFiles: true,
			MaxAssetAgeHours: 24,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		PortRange: PortRangeConfig{
			Start: 3000,
			End:   3020,
			Deny:  []int{3002},
		},
		Context: ContextConfig{
			MaxWeight:    10000,
			Warning:      0.75,
			Critical:     0.9,
			AutoOptimize: true,
			Strategy:     "smart",
		},
		Layers: LayersConfig{
			MaxActive:              0, // 0 = unbounded
			AutoResolveDependencies: true,
			EnforceExclusivity:     true,
			TrackHistory:           true,
		},
	}
}

// SetDefaults fills in zero-valued fields with baseline defaults without
// clobbering values already set by YAML/env overlays.
func (c *Config) SetDefaults() {
	d := Default()
	if c.AssetsDir == "" {
		c.AssetsDir = d.AssetsDir
	}
	if c.Remotion.Concurrency == 0 {
		c.Remotion.Concurrency = d.Remotion.Concurrency
	}
	if c.Remotion.Timeout == 0 {
		c.Remotion.Timeout = d.Remotion.Timeout
	}
	if c.FileManagement.MaxAssetAgeHours == 0 {
		c.FileManagement.MaxAssetAgeHours = d.FileManagement.MaxAssetAgeHours
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.PortRange.Start == 0 && c.PortRange.End == 0 {
		c.PortRange = d.PortRange
	}
	if c.Context.MaxWeight == 0 {
		c.Context.MaxWeight = d.Context.MaxWeight
	}
	if c.Context.Warning == 0 {
		c.Context.Warning = d.Context.Warning
	}
	if c.Context.Critical == 0 {
		c.Context.Critical = d.Context.Critical
	}
	if c.Context.Strategy == "" {
		c.Context.Strategy = d.Context.Strategy
	}
}

// Validate checks startup invariants that must hold before the composition
// root builds anything. Validation failures are returned as plain errors
// that carry no apperr kind.
func (c *Config) Validate() error {
	if c.AssetsDir == "" {
		return fmt.Errorf("assetsDir must not be empty")
	}
	if c.PortRange.Start <= 0 || c.PortRange.End <= 0 {
		return fmt.Errorf("portRange.start and portRange.end must be positive")
	}
	if c.PortRange.Start > c.PortRange.End {
		return fmt.Errorf("portRange.start (%d) must be <= portRange.end (%d)", c.PortRange.Start, c.PortRange.End)
	}
	if c.Context.MaxWeight <= 0 {
		return fmt.Errorf("context.maxWeight must be positive")
	}
	if c.Context.Warning <= 0 || c.Context.Warning >= 1 {
		return fmt.Errorf("context.warning must be in (0,1)")
	}
	if c.Context.Critical <= c.Context.Warning || c.Context.Critical >= 1 {
		return fmt.Errorf("context.critical must be in (context.warning,1)")
	}
	switch c.Context.Strategy {
	case "lru", "lfu", "priority", "smart":
	default:
		return fmt.Errorf("context.strategy must be one of lru|lfu|priority|smart, got %q", c.Context.Strategy)
	}
	for _, endpoint := range []string{c.APIEndpoints.ElevenLabs, c.APIEndpoints.Flux} {
		if endpoint == "" {
			continue
		}
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("invalid apiEndpoints URL %q: %w", endpoint, err)
		}
	}
	return nil
}

// CheckpointFilePath returns the well-known checkpoint persistence path,
// colocated with the installation directory.
func CheckpointFilePath(installDir string) string {
	return filepath.Join(installDir, ".mcp-checkpoints.json")
}

// UsageStatsPath returns the well-known usage-stats persistence path,
// rooted at assetsDir.
func (c *Config) UsageStatsPath() string {
	return filepath.Join(c.AssetsDir, ".tool-usage-stats.json")
}

// EnsureAssetsDir creates assetsDir (and parents) if absent.
func (c *Config) EnsureAssetsDir() error {
	return os.MkdirAll(c.AssetsDir, 0o755)
}
