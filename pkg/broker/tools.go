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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/roughcut-mcp/studio-broker/pkg/discovery"
	"github.com/roughcut-mcp/studio-broker/pkg/layer"
	"github.com/roughcut-mcp/studio-broker/pkg/studio"
	"github.com/roughcut-mcp/studio-broker/pkg/tool"
	"github.com/roughcut-mcp/studio-broker/pkg/transform"
	"github.com/roughcut-mcp/studio-broker/pkg/validator"
)

// studioContextWeight is the nominal context-window cost charged for each
// launched or reused studio instance, modest relative to the default
// maxWeight budget since a studio handle itself carries little token cost.
const studioContextWeight = 150

// mustRegister registers t with handler, logging (rather than panicking)
// on a name collision: a collision here is a wiring bug in this file, not
// a runtime condition callers can trigger.
func mustRegister(b *Broker, t *tool.Tool, handler tool.Handler) {
	if err := b.registry.Register(t, handler); err != nil {
		b.log.Error("tool registration failed", "tool", t.Name, "error", err)
	}
}

// registerBuiltinTools registers the full built-in tool catalog across
// every category in the closed category set: discovery, core-operations,
// video-creation, studio-management, voice-generation, sound-effects,
// image-generation, maintenance.
func registerBuiltinTools(b *Broker) {
	registerDiscoveryTools(b)
	registerStudioTools(b)
	registerVideoTools(b)
	registerCoreOperationTools(b)
	registerLayerAndContextTools(b)
	registerToolManagementTools(b)
	registerCredentialGatedTools(b)
	registerMaintenanceTools(b)
}

func processToMap(p discovery.Process) map[string]any {
	return map[string]any{
		"pid":             p.PID,
		"port":            p.Port,
		"responsive":      p.Responsive,
		"projectName":     p.ProjectName,
		"discoveryMethod": p.DiscoveryMethod,
		"lastObservedAt":  p.LastObservedAt,
	}
}

func registerDiscoveryTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "find-studios",
		Description: "Scan the configured port range for live renderer studio instances.",
		InputSchema: generateSchema[struct{}](),
		Meta:        tool.Metadata{Category: tool.DiscoveryCategory, Priority: 0, Tags: []string{"discovery", "studio"}},
	}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		result := b.discoverer.Discover(ctx)
		renderers := make([]map[string]any, len(result.Renderers))
		for i, p := range result.Renderers {
			renderers[i] = processToMap(p)
		}
		other := make([]map[string]any, len(result.Other))
		for i, p := range result.Other {
			other[i] = processToMap(p)
		}
		return map[string]any{"total": result.Total, "renderers": renderers, "other": other}, nil
	})
}

// LaunchStudioArgs parameterizes launch-remotion-studio.
type LaunchStudioArgs struct {
	ProjectPath      string `json:"projectPath" jsonschema:"required,description=Absolute path to the renderer project directory"`
	PreferredPort    int    `json:"preferredPort,omitempty" jsonschema:"description=Preferred port; the configured scan range is used if it is unavailable"`
	ForceNewInstance bool   `json:"forceNewInstance,omitempty" jsonschema:"description=Skip reuse of a matching running instance and always spawn a new one"`
	Validate         bool   `json:"validate,omitempty" jsonschema:"description=Poll the renderer over HTTP until it responds before returning"`
	TimeoutSeconds   int    `json:"timeoutSeconds,omitempty" jsonschema:"description=Per-attempt startup timeout in seconds, default 60"`
}

// ShutdownStudioArgs parameterizes shutdown-studio.
type ShutdownStudioArgs struct {
	Port  int  `json:"port,omitempty" jsonschema:"description=Target a studio by the port it is bound to"`
	PID   int  `json:"pid,omitempty" jsonschema:"description=Target a studio by process id"`
	All   bool `json:"all,omitempty" jsonschema:"description=Shut down every tracked studio instance"`
	Force bool `json:"force,omitempty" jsonschema:"description=Skip the graceful-termination grace window"`
}

func registerStudioTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "launch-remotion-studio",
		Description: "Launch (or reuse) a Remotion studio instance for a project, spawning the renderer process if none is already running.",
		InputSchema: generateSchema[LaunchStudioArgs](),
		Meta:        tool.Metadata{Category: "studio-management", Priority: 20, Tags: []string{"studio", "render"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[LaunchStudioArgs](raw)
		if err != nil {
			return nil, err
		}
		var timeout time.Duration
		if args.TimeoutSeconds > 0 {
			timeout = time.Duration(args.TimeoutSeconds) * time.Second
		}
		result, err := b.studios.Launch(ctx, studio.LaunchOptions{
			ProjectPath: args.ProjectPath, PreferredPort: args.PreferredPort,
			ForceNewInstance: args.ForceNewInstance, Timeout: timeout, Validate: args.Validate,
		})
		if err != nil {
			b.metrics.observeStudioLaunch("error")
			return nil, err
		}
		outcome := "launched"
		if result.Reused {
			outcome = "reused"
		}
		b.metrics.observeStudioLaunch(outcome)
		b.contextMgr.Add("studio:"+result.Process.ProjectPath, "studio", studioContextWeight, 5, false)
		return map[string]any{
			"reused": result.Reused, "pid": result.Process.PID, "port": result.Process.Port,
			"projectPath": result.Process.ProjectPath, "startTime": result.Process.StartTime,
		}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "check-studio-status",
		Description: "List every studio instance this broker has spawned or reused, with liveness.",
		InputSchema: generateSchema[struct{}](),
		Meta:        tool.Metadata{Category: "studio-management", Priority: 20, Tags: []string{"studio"}},
	}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		statuses := b.studios.Status()
		out := make([]map[string]any, len(statuses))
		for i, p := range statuses {
			out[i] = map[string]any{"pid": p.PID, "port": p.Port, "projectPath": p.ProjectPath, "startTime": p.StartTime}
		}
		return map[string]any{"studios": out}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "shutdown-studio",
		Description: "Shut down one, several, or all tracked studio instances.",
		InputSchema: generateSchema[ShutdownStudioArgs](),
		Meta:        tool.Metadata{Category: "studio-management", Priority: 20, Tags: []string{"studio"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[ShutdownStudioArgs](raw)
		if err != nil {
			return nil, err
		}
		killed := b.studios.Shutdown(studio.ShutdownOptions{Port: args.Port, PID: args.PID, All: args.All, Force: args.Force})
		out := make([]map[string]any, len(killed))
		for i, p := range killed {
			b.contextMgr.Remove("studio:" + p.ProjectPath)
			out[i] = map[string]any{"pid": p.PID, "port": p.Port, "projectPath": p.ProjectPath}
		}
		return map[string]any{"shutdown": out}, nil
	})
}

func registerMaintenanceTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "cleanup-studios",
		Description: "Prune bookkeeping for studio instances that have died without going through shutdown-studio.",
		InputSchema: generateSchema[struct{}](),
		Meta:        tool.Metadata{Category: "maintenance", Priority: 40, Tags: []string{"maintenance", "studio"}},
	}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		pruned := b.studios.Cleanup()
		out := make([]map[string]any, len(pruned))
		for i, p := range pruned {
			b.contextMgr.Remove("studio:" + p.ProjectPath)
			out[i] = map[string]any{"pid": p.PID, "port": p.Port, "projectPath": p.ProjectPath}
		}
		return map[string]any{"pruned": out}, nil
	})
}

// CreateVideoArgs parameterizes create-complete-video.
type CreateVideoArgs struct {
	ProjectName string `json:"projectName" jsonschema:"required,description=Name used for checkpoint bookkeeping and the output filename"`
	Source      string `json:"source" jsonschema:"required,description=Raw JSX/TSX composition source to transform"`
	OperationID string `json:"operationId,omitempty" jsonschema:"description=Existing operation id to resume a previously timed-out transform; a new one is minted when omitted"`
	OutputDir   string `json:"outputDir,omitempty" jsonschema:"description=Directory the transformed composition is written to; defaults to the configured assets directory"`
}

// RenderVideoArgs parameterizes render-video.
type RenderVideoArgs struct {
	ProjectPath string `json:"projectPath" jsonschema:"required,description=Absolute path to the renderer project directory"`
	Composition string `json:"composition,omitempty" jsonschema:"description=Composition id to render; defaults to the project's configured default"`
	OutputFile  string `json:"outputFile,omitempty" jsonschema:"description=Output file path; defaults to <assetsDir>/<projectName>.mp4"`
}

func registerVideoTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "create-complete-video",
		Description: "Transform a raw composition source through the full pipeline (clean, validate, export) and write the result as a ready-to-render file.",
		InputSchema: generateSchema[CreateVideoArgs](),
		Meta:        tool.Metadata{Category: "video-creation", Priority: 30, Tags: []string{"video", "export", "render"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[CreateVideoArgs](raw)
		if err != nil {
			return nil, err
		}

		opID := args.OperationID
		var output string
		var dupes, warnings int
		if opID != "" {
			res, rerr := b.pipeline.Resume(ctx, opID)
			if rerr != nil {
				return nil, rerr
			}
			output, dupes, warnings = res.Output, len(res.DuplicateExports), len(res.InterpolationWarnings)
		} else {
			opID = uuid.NewString()
			res, rerr := b.pipeline.Run(ctx, opID, args.ProjectName, args.Source)
			if rerr != nil {
				return nil, rerr
			}
			output, dupes, warnings = res.Output, len(res.DuplicateExports), len(res.InterpolationWarnings)
		}

		outDir := args.OutputDir
		if outDir == "" {
			outDir = b.cfg.AssetsDir
		}
		outPath := filepath.Join(outDir, args.ProjectName+".generated.jsx")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, apperr.New(apperr.Filesystem, "broker", "create_complete_video", "failed to create output directory", err)
		}
		if err := os.WriteFile(outPath, []byte(output), 0o644); err != nil {
			return nil, apperr.New(apperr.Filesystem, "broker", "create_complete_video", "failed to write generated composition", err)
		}

		return map[string]any{
			"operationId": opID, "outputPath": outPath,
			"duplicateExportCount": dupes, "interpolationWarningCount": warnings,
		}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "render-video",
		Description: "Invoke the renderer CLI's render command against a project, producing a rendered media file.",
		InputSchema: generateSchema[RenderVideoArgs](),
		Meta:        tool.Metadata{Category: "video-creation", Priority: 30, Tags: []string{"video", "render"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[RenderVideoArgs](raw)
		if err != nil {
			return nil, err
		}
		outputFile := args.OutputFile
		if outputFile == "" {
			outputFile = filepath.Join(b.cfg.AssetsDir, filepath.Base(args.ProjectPath)+".mp4")
		}
		cmdArgs := []string{"remotion", "render"}
		if args.Composition != "" {
			cmdArgs = append(cmdArgs, args.Composition)
		}
		cmdArgs = append(cmdArgs, outputFile)

		cmd := exec.CommandContext(ctx, "npx", cmdArgs...)
		cmd.Dir = args.ProjectPath
		cmd.Env = os.Environ()
		logOutput, runErr := cmd.CombinedOutput()
		if runErr != nil {
			return nil, apperr.New(apperr.Studio, "broker", "render_video",
				fmt.Sprintf("renderer render command failed: %v", runErr), runErr).
				WithSuggestion(apperr.Suggestion{Action: "check the renderer CLI log tail", Priority: 1})
		}
		return map[string]any{"outputFile": outputFile, "log": string(logOutput)}, nil
	})
}

// TransformSourceArgs parameterizes transform-source.
type TransformSourceArgs struct {
	ProjectName string `json:"projectName" jsonschema:"required,description=Name used for checkpoint bookkeeping"`
	Source      string `json:"source" jsonschema:"required,description=Raw JSX/TSX composition source to transform"`
	OperationID string `json:"operationId,omitempty" jsonschema:"description=Existing operation id to resume; a new one is minted when omitted"`
}

// ResumeTransformArgs parameterizes resume-transform.
type ResumeTransformArgs struct {
	OperationID string `json:"operationId" jsonschema:"required,description=Operation id returned by a previous resumable-timeout result"`
}

// ValidateSourceArgs parameterizes validate-source.
type ValidateSourceArgs struct {
	Source string `json:"source" jsonschema:"required,description=JSX/TSX source to run the structural validation passes over"`
}

func registerCoreOperationTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "transform-source",
		Description: "Run the resumable clean/validate/export pipeline over a raw composition source, returning the transformed output directly.",
		InputSchema: generateSchema[TransformSourceArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"transform"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[TransformSourceArgs](raw)
		if err != nil {
			return nil, err
		}
		opID := args.OperationID
		var res transform.Result
		var rerr error
		if opID != "" {
			res, rerr = b.pipeline.Resume(ctx, opID)
		} else {
			opID = uuid.NewString()
			res, rerr = b.pipeline.Run(ctx, opID, args.ProjectName, args.Source)
		}
		if rerr != nil {
			return nil, rerr
		}
		return map[string]any{
			"operationId": opID, "output": res.Output,
			"duplicateExportCount": len(res.DuplicateExports), "interpolationWarningCount": len(res.InterpolationWarnings),
		}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "resume-transform",
		Description: "Resume a transform operation that previously returned a resumable-timeout error.",
		InputSchema: generateSchema[ResumeTransformArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"transform"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[ResumeTransformArgs](raw)
		if err != nil {
			return nil, err
		}
		res, rerr := b.pipeline.Resume(ctx, args.OperationID)
		if rerr != nil {
			return nil, rerr
		}
		return map[string]any{
			"operationId": args.OperationID, "output": res.Output,
			"duplicateExportCount": len(res.DuplicateExports), "interpolationWarningCount": len(res.InterpolationWarnings),
		}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "validate-source",
		Description: "Run the three deterministic validation/repair passes (import fix, duplicate-export removal, interpolation-range repair) over a source string.",
		InputSchema: generateSchema[ValidateSourceArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"validate"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[ValidateSourceArgs](raw)
		if err != nil {
			return nil, err
		}
		fixed, report := validator.Validate(args.Source)
		return map[string]any{
			"fixed": fixed, "duplicateExports": report.DuplicateExports, "interpolationWarnings": report.InterpolationWarnings,
		}, nil
	})
}

// ActivateLayerArgs parameterizes activate-layer.
type ActivateLayerArgs struct {
	LayerIDs           []string `json:"layerIds" jsonschema:"required,description=Layer ids to activate"`
	Force              bool     `json:"force,omitempty" jsonschema:"description=Activate even if the projected context weight exceeds the configured budget"`
	RespectExclusivity bool     `json:"respectExclusivity,omitempty" jsonschema:"description=Deactivate conflicting layers per their declared exclusivity rules"`
	Reason             string   `json:"reason,omitempty" jsonschema:"description=Free-text reason recorded in the activation history"`
	Strict             bool     `json:"strict,omitempty" jsonschema:"description=Treat a dependency cycle as an error instead of a warning"`
}

// DeactivateLayersArgs parameterizes deactivate-layers.
type DeactivateLayersArgs struct {
	LayerIDs []string `json:"layerIds" jsonschema:"required,description=Layer ids to deactivate"`
}

// RecommendLayersArgs parameterizes recommend-layers.
type RecommendLayersArgs struct {
	ContextText string `json:"contextText" jsonschema:"required,description=Free-text description of the current task, scored against each layer's name/description/tools"`
	Limit       int    `json:"limit,omitempty" jsonschema:"description=Maximum number of recommendations to return"`
}

// OptimizeContextArgs parameterizes optimize-context.
type OptimizeContextArgs struct {
	TargetWeight int `json:"targetWeight,omitempty" jsonschema:"description=Target total weight to evict down to; defaults to the configured target ratio of the max weight"`
}

func layerToMap(l *layer.Layer) map[string]any {
	return map[string]any{
		"id": l.ID, "name": l.Name, "description": l.Description, "tools": l.Tools,
		"dependsOn": l.DependsOn, "exclusivity": l.Exclusivity, "weight": l.Weight,
		"status": l.Status, "activationCount": l.ActivationCount,
	}
}

func registerLayerAndContextTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "list-layers",
		Description: "List every defined tool layer and its current activation status.",
		InputSchema: generateSchema[struct{}](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"layer"}},
	}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		defined := b.layers.Defined()
		out := make([]map[string]any, len(defined))
		for i, l := range defined {
			out[i] = layerToMap(l)
		}
		return map[string]any{"layers": out}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "activate-layer",
		Description: "Activate one or more tool layers, resolving dependencies and exclusivity conflicts.",
		InputSchema: generateSchema[ActivateLayerArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"layer"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[ActivateLayerArgs](raw)
		if err != nil {
			return nil, err
		}
		result, aerr := b.layers.Activate(layer.ActivateOptions{
			LayerIDs: args.LayerIDs, Force: args.Force, RespectExclusivity: args.RespectExclusivity,
			RequestedBy: "host", Reason: args.Reason, Strict: args.Strict,
		})
		if aerr != nil {
			return nil, aerr
		}
		// Mirror the layer transitions into the tool registry so ListTools
		// shows the tools of the layers that are now active.
		var hide, show []string
		for _, id := range result.Deactivated {
			if l, ok := b.layers.Get(id); ok {
				hide = append(hide, l.Tools...)
			}
		}
		for _, id := range result.Activated {
			if l, ok := b.layers.Get(id); ok {
				show = append(show, l.Tools...)
			}
		}
		b.registry.Deactivate(hide)
		_, toolWarnings := b.registry.ActivateCategories(tool.ActivateCategoriesOptions{Tools: show})
		result.Warnings = append(result.Warnings, toolWarnings...)
		return map[string]any{
			"activated": result.Activated, "deactivated": result.Deactivated,
			"warnings": result.Warnings, "projectedWeight": result.ProjectedWeight,
		}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "deactivate-layers",
		Description: "Deactivate one or more tool layers, expanding to any active layer whose dependency was just deactivated.",
		InputSchema: generateSchema[DeactivateLayersArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"layer"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[DeactivateLayersArgs](raw)
		if err != nil {
			return nil, err
		}
		deactivated, warnings := b.layers.Deactivate(args.LayerIDs)
		return map[string]any{"deactivated": deactivated, "warnings": warnings}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "recommend-layers",
		Description: "Score every defined layer against a free-text context description and return the best matches.",
		InputSchema: generateSchema[RecommendLayersArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"layer"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[RecommendLayersArgs](raw)
		if err != nil {
			return nil, err
		}
		recs := b.layers.Recommend(args.ContextText, args.Limit)
		return map[string]any{"recommendations": recs}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "optimize-context",
		Description: "Force an immediate eviction round over the tracked context window, per the configured eviction strategy.",
		InputSchema: generateSchema[OptimizeContextArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"context"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[OptimizeContextArgs](raw)
		if err != nil {
			return nil, err
		}
		var target *int
		if args.TargetWeight > 0 {
			target = &args.TargetWeight
		}
		result := b.contextMgr.Optimize(target)
		return map[string]any{"removed": result.Removed, "weightFreed": result.WeightFreed, "finalWeight": result.FinalWeight}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "context-stats",
		Description: "Report the current context-window occupancy and pressure reading.",
		InputSchema: generateSchema[struct{}](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"context"}},
	}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		stats := b.contextMgr.Statistics()
		return map[string]any{
			"count": stats.Count, "totalWeight": stats.TotalWeight, "maxWeight": stats.MaxWeight,
			"pressure": stats.Pressure, "requiredCount": stats.RequiredCount,
		}, nil
	})
}

// ActivateCategoriesArgs parameterizes activate-categories.
type ActivateCategoriesArgs struct {
	Categories []string `json:"categories,omitempty" jsonschema:"description=Tool categories to activate"`
	Tools      []string `json:"tools,omitempty" jsonschema:"description=Individual tool names to activate"`
	Exclusive  bool     `json:"exclusive,omitempty" jsonschema:"description=Deactivate every other non-discovery tool first"`
}

// DeactivateToolsArgs parameterizes deactivate-tools.
type DeactivateToolsArgs struct {
	Names []string `json:"names" jsonschema:"required,description=Tool names to deactivate; discovery-category tools are never affected"`
}

// SearchToolsArgs parameterizes search-tools.
type SearchToolsArgs struct {
	Query      string   `json:"query,omitempty" jsonschema:"description=Case-insensitive substring matched against name, description, and tags"`
	Categories []string `json:"categories,omitempty" jsonschema:"description=Restrict to these categories"`
	Tags       []string `json:"tags,omitempty" jsonschema:"description=Restrict to tools carrying any of these tags"`
	HasCredential *bool `json:"hasCredential,omitempty" jsonschema:"description=If set, restrict to tools whose required credential is (true) or is not (false) available"`
	Limit      int      `json:"limit,omitempty" jsonschema:"description=Maximum number of results"`
}

// SuggestToolsArgs parameterizes suggest-tools.
type SuggestToolsArgs struct {
	ContextText string `json:"contextText" jsonschema:"required,description=Free-text task description to match against keyword-based suggestions"`
}

func toolToMap(t *tool.Tool) map[string]any {
	return map[string]any{
		"name": t.Name, "description": t.Description, "category": t.Meta.Category,
		"subCategory": t.Meta.SubCategory, "tags": t.Meta.Tags, "priority": t.Meta.Priority,
		"requiredCredential": t.Meta.RequiredCredential,
	}
}

func registerToolManagementTools(b *Broker) {
	mustRegister(b, &tool.Tool{
		Name:        "activate-categories",
		Description: "Activate tools by category and/or explicit name, optionally deactivating everything else first.",
		InputSchema: generateSchema[ActivateCategoriesArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"tools"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[ActivateCategoriesArgs](raw)
		if err != nil {
			return nil, err
		}
		activated, warnings := b.registry.ActivateCategories(tool.ActivateCategoriesOptions{
			Categories: args.Categories, Tools: args.Tools, Exclusive: args.Exclusive,
		})
		return map[string]any{"activated": activated, "warnings": warnings}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "deactivate-tools",
		Description: "Deactivate tools by name. Discovery-category tools are immune and silently kept active.",
		InputSchema: generateSchema[DeactivateToolsArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"tools"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[DeactivateToolsArgs](raw)
		if err != nil {
			return nil, err
		}
		b.registry.Deactivate(args.Names)
		return map[string]any{"deactivated": args.Names}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "search-tools",
		Description: "Search the full tool catalog by query, category, tag, and credential availability.",
		InputSchema: generateSchema[SearchToolsArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"tools"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[SearchToolsArgs](raw)
		if err != nil {
			return nil, err
		}
		results := b.registry.Search(tool.SearchOptions{
			Query: args.Query, Categories: args.Categories, Tags: args.Tags,
			HasCredential: args.HasCredential, Limit: args.Limit,
		})
		out := make([]map[string]any, len(results))
		for i, t := range results {
			out[i] = toolToMap(t)
		}
		return map[string]any{"tools": out}, nil
	})

	mustRegister(b, &tool.Tool{
		Name:        "suggest-tools",
		Description: "Suggest relevant tool names for a free-text task description via static keyword matching.",
		InputSchema: generateSchema[SuggestToolsArgs](),
		Meta:        tool.Metadata{Category: "core-operations", Priority: 10, Tags: []string{"tools"}},
	}, func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		args, err := decodeArgs[SuggestToolsArgs](raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{"suggested": b.registry.Suggest(args.ContextText)}, nil
	})
}
