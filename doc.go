// Package studiobroker is a tool-broker daemon mediating between a
// conversational LLM host and a Remotion-shaped renderer studio.
//
// It exposes a small, stable surface to the host — list the currently
// active tools, call one by name — while internally layering four
// subsystems: a credential- and category-gated tool registry, a studio
// process lifecycle manager (port allocation, HTTP-based discovery,
// spawn/reuse), a resumable chunked source-transformation pipeline with
// checkpoint-backed durability, and a set of deterministic structural
// source validators. A context-window manager and a layer manager sit on
// top of the registry, trading tool availability against an estimated
// token budget as the host's conversation grows.
//
// # Quick Start
//
// Install the broker:
//
//	go install github.com/roughcut-mcp/studio-broker/cmd/broker@latest
//
// Configure it with a YAML file:
//
//	assetsDir: ./assets
//	portRange:
//	  start: 3000
//	  end: 3020
//	context:
//	  maxWeight: 10000
//	  strategy: smart
//
// Start the daemon:
//
//	studio-broker serve --config broker.yaml
//
// # Using as a Go Library
//
// A host process embeds the broker directly rather than shelling out to
// the binary:
//
//	import (
//	    "github.com/roughcut-mcp/studio-broker/pkg/broker"
//	    "github.com/roughcut-mcp/studio-broker/pkg/config"
//	)
//
//	cfg, _ := config.NewLoader("broker.yaml").Load()
//	b, _ := broker.Build(cfg, nil, ".")
//	tools := b.ListTools()
//	result := b.CallTool(ctx, "find-studios", nil)
//
// # Architecture
//
//	Host (LLM conversation) → Broker.CallTool → Tool Registry → Handler
//	                                                  ↓
//	                         Studio Lifecycle / Transform Pipeline / Validator
//
// Every handler's diagnostics go to the structured logger (pkg/logger),
// never to the host channel; only ListTools/CallTool results cross that
// boundary, always as a structured result or a structured error — never a
// panic or a bare Go error.
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package studiobroker
