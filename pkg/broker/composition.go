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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roughcut-mcp/studio-broker/pkg/checkpoint"
	"github.com/roughcut-mcp/studio-broker/pkg/config"
	"github.com/roughcut-mcp/studio-broker/pkg/ctxwindow"
	"github.com/roughcut-mcp/studio-broker/pkg/discovery"
	"github.com/roughcut-mcp/studio-broker/pkg/layer"
	"github.com/roughcut-mcp/studio-broker/pkg/port"
	"github.com/roughcut-mcp/studio-broker/pkg/studio"
	"github.com/roughcut-mcp/studio-broker/pkg/tool"
	"github.com/roughcut-mcp/studio-broker/pkg/transform"
)

// discoveryParallelism bounds concurrent HTTP probes during a port-range
// scan; see pkg/discovery.New for the wall-clock bound this preserves.
const discoveryParallelism = 8

// Build is the composition root: it constructs every singleton in
// dependency order — port allocator and discoverer first (no
// dependencies), then the studio lifecycle manager over them, then
// checkpoint storage and the transform pipeline over that, then the
// context window and layer managers, then the tool registry — and wires
// the built-in tool catalog and layer definitions on top. installDir
// anchors the checkpoint file's well-known path.
func Build(cfg *config.Config, log *slog.Logger, installDir string) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.EnsureAssetsDir(); err != nil {
		return nil, fmt.Errorf("ensuring assets dir: %w", err)
	}

	rng := port.NewRange(cfg.PortRange.Start, cfg.PortRange.End, cfg.PortRange.Deny)
	alloc := port.New(rng)
	disc := discovery.New(rng, discoveryParallelism)
	studioMgr := studio.New(alloc, disc, studio.Options{Logger: log})

	store, err := checkpoint.NewStore(checkpoint.Config{Path: config.CheckpointFilePath(installDir), Logger: log})
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	if err := store.Watch(); err != nil {
		log.Warn("checkpoint file watch failed to start", "error", err)
	}
	ckptMgr := checkpoint.NewManager(store, log)
	pipeline := transform.New(ckptMgr, transform.Options{Logger: log})

	ctxCfg := ctxwindow.Config{
		MaxWeight:    cfg.Context.MaxWeight,
		WarningRatio: cfg.Context.Warning,
		CriticalRatio: cfg.Context.Critical,
		Strategy:     ctxwindow.Strategy(cfg.Context.Strategy),
		AutoOptimize: cfg.Context.AutoOptimize,
	}
	contextMgr := ctxwindow.New(ctxCfg, log)

	layerMgr := layer.New(contextMgr, cfg.Context.MaxWeight, cfg.Context.AutoOptimize)

	usageStore, err := tool.NewUsageStore(cfg.UsageStatsPath(), 0)
	if err != nil {
		return nil, fmt.Errorf("opening usage store: %w", err)
	}
	hasCredential := func(name string) bool { return cfg.APIKeys.Has(name) }
	registry := tool.New(hasCredential, usageStore)

	b := &Broker{
		log:         log,
		cfg:         cfg,
		registry:    registry,
		layers:      layerMgr,
		contextMgr:  contextMgr,
		studios:     studioMgr,
		pipeline:    pipeline,
		checkpoints: ckptMgr,
		alloc:       alloc,
		discoverer:  disc,
		metrics:     NewMetrics(),
		httpClient:  http.DefaultClient,
	}

	contextMgr.Observe(func(ev ctxwindow.Event) {
		b.metrics.setContextPressure(pressureLevel(string(ev.Pressure)))
		if ev.Name == "optimized" {
			b.metrics.observeEviction(string(cfg.Context.Strategy), len(ev.Removed))
		}
	})

	registerBuiltinTools(b)
	defineBuiltinLayers(b)

	return b, nil
}
