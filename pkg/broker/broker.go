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

// Package broker is the tool-broker front-end: it exposes the two
// operations a host's framing adapter calls — ListTools and CallTool — and
// owns the composition root that wires the registry, layer manager,
// context window, studio lifecycle, transform pipeline, and their shared
// dependencies into one running daemon.
//
// The dispatch shape here — name, description, JSON-schema-shaped
// inputSchema, Call(ctx, args) (map[string]any, error) — mirrors a
// tool-calling integration point; the actual host transport stays outside
// this package, an external framing concern.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
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

// httpDoer is the minimal surface the credential-gated API tools need,
// narrow enough that tests can substitute a fake without a real network
// call.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Broker wires together every broker subsystem behind the two front-end
// operations a host calls.
type Broker struct {
	log *slog.Logger
	cfg *config.Config

	registry    *tool.Registry
	layers      *layer.Manager
	contextMgr  *ctxwindow.Manager
	studios     *studio.Manager
	pipeline    *transform.Pipeline
	checkpoints *checkpoint.Manager
	alloc       *port.Allocator
	discoverer  *discovery.Discoverer
	metrics     *Metrics
	httpClient  httpDoer
}

// ToolDescriptor is the wire shape ListTools advertises per tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ListTools returns the current active-set, stably ordered by priority
// then usage frequency (tool.Registry.Active already applies that order).
func (b *Broker) ListTools() []ToolDescriptor {
	active := b.registry.Active()
	out := make([]ToolDescriptor, len(active))
	for i, t := range active {
		out[i] = ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}

// CallResult is the structured outcome of CallTool: exactly one of Result
// or Error is populated, never a bare Go error.
type CallResult struct {
	Result map[string]any  `json:"result,omitempty"`
	Error  *CallError      `json:"error,omitempty"`
}

// CallError is the transport-level error envelope returned to the host.
type CallError struct {
	Message string         `json:"message"`
	Details apperr.Details `json:"details"`
}

// CallTool dispatches name with args, recording usage, timing, and outcome
// metrics, and mapping any apperr.Error into the transport envelope rather
// than propagating a bare Go error — recoverable conditions are always
// returned as structured results.
func (b *Broker) CallTool(ctx context.Context, name string, args map[string]any) CallResult {
	handler, ok := b.registry.Handler(name)
	if !ok {
		aerr := apperr.New(apperr.ToolActivation, "broker", "call_tool",
			fmt.Sprintf("unknown tool %q", name), nil)
		return errorResult(aerr)
	}

	b.metrics.incActive()
	start := time.Now()
	result, err := handler(ctx, args)
	elapsed := time.Since(start).Seconds()
	b.metrics.decActive()

	if err != nil {
		status := "error"
		if aerr, ok := apperr.As(err); ok {
			if aerr.Kind == apperr.ResumableTimeout {
				status = "resumable_timeout"
			}
			b.metrics.observeToolCall(name, status, elapsed)
			return errorResult(aerr)
		}
		b.metrics.observeToolCall(name, status, elapsed)
		return errorResult(apperr.New(apperr.Dependency, "broker", name, err.Error(), err))
	}

	b.metrics.observeToolCall(name, "ok", elapsed)
	return CallResult{Result: result}
}

func errorResult(aerr *apperr.Error) CallResult {
	return CallResult{Error: &CallError{Message: aerr.Error(), Details: apperr.ToDetails(aerr)}}
}

// Metrics exposes the broker's Prometheus registry, for a composition-root
// caller to mount behind promhttp.Handler.
func (b *Broker) Metrics() *Metrics { return b.metrics }

// Close flushes debounced persistence and stops background watchers. It
// does not shut down any studio processes: the renderer is meant to keep
// running as a long-lived server, outliving the broker by design.
func (b *Broker) Close() error {
	b.checkpoints.Store().StopWatch()
	if err := b.checkpoints.Store().Flush(); err != nil {
		return err
	}
	return nil
}
