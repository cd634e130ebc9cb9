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

package transform

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/roughcut-mcp/studio-broker/pkg/checkpoint"
	"github.com/roughcut-mcp/studio-broker/pkg/validator"
)

// Options configures a Pipeline.
type Options struct {
	ChunkSize int
	YieldEvery int
	// StageTimeout bounds how long jsx_cleaning may run before the pipeline
	// persists a checkpoint and raises ResumableTimeout rather than
	// blocking indefinitely.
	StageTimeout time.Duration
	Logger       *slog.Logger
}

func (o *Options) setDefaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.YieldEvery == 0 {
		o.YieldEvery = DefaultYieldEvery
	}
	if o.StageTimeout == 0 {
		o.StageTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Pipeline runs the chunked, checkpoint-durable source transformation
// through its fixed stage sequence: backup, jsx_cleaning, jsx_validation,
// jsx_export, file_writing, completed.
type Pipeline struct {
	opts     Options
	manager  *checkpoint.Manager
}

// New constructs a Pipeline backed by manager for checkpoint durability.
func New(manager *checkpoint.Manager, opts Options) *Pipeline {
	opts.setDefaults()
	return &Pipeline{opts: opts, manager: manager}
}

// Result is the outcome of a successful Run.
type Result struct {
	Output                string
	DuplicateExports      []validator.DuplicateReport
	InterpolationWarnings []string
}

// Run transforms source for the named project, persisting progress every
// YieldEvery chunks so a timeout mid-pass can be resumed with Resume. A
// fresh operationID is minted by the caller so retries can reference it.
func (p *Pipeline) Run(ctx context.Context, operationID, projectName, source string) (Result, error) {
	state := &checkpoint.State{
		OperationID: operationID,
		ProjectName: projectName,
		CreatedAt:   time.Now(),
	}
	state.WithStage(checkpoint.StageBackup)
	state.WithPayload(checkpoint.Payload{OriginalSource: source})
	return p.run(ctx, state)
}

// Resume continues a previously-checkpointed operation. It returns
// apperr.ResumableTimeout again if the resumed run also exceeds its stage
// budget; callers are expected to call Resume repeatedly with the same
// operationID until it returns a Result.
func (p *Pipeline) Resume(ctx context.Context, operationID string) (Result, error) {
	state, ok := p.manager.Load(operationID)
	if !ok {
		return Result{}, apperr.New(apperr.Validation, "transform", "resume",
			fmt.Sprintf("no checkpoint found for operation %s", operationID), nil)
	}
	return p.run(ctx, state)
}

func (p *Pipeline) run(ctx context.Context, state *checkpoint.State) (Result, error) {
	var err error

	if state.Stage.Rank() <= checkpoint.StageBackup.Rank() {
		state.WithStage(checkpoint.StageJSXCleaning)
		state.Payload.ChunkIndex = 0
		state.Payload.PartialOutput = ""
		state.Payload.Shards = chunk(state.Payload.OriginalSource, p.opts.ChunkSize)
		state.Payload.TotalChunks = len(state.Payload.Shards)
		p.manager.PersistChunkProgress(state)
	}

	if state.Stage == checkpoint.StageJSXCleaning {
		state, err = p.runCleaning(ctx, state)
		if err != nil {
			return Result{}, err
		}
	}

	var report validator.Report
	if state.Stage.Rank() == checkpoint.StageJSXValidation.Rank() {
		state, report, err = p.runValidation(state)
		if err != nil {
			return Result{}, err
		}
	}

	if state.Stage.Rank() == checkpoint.StageJSXExport.Rank() {
		state = p.runExport(state)
	}

	if state.Stage.Rank() == checkpoint.StageFileWriting.Rank() {
		state.WithStage(checkpoint.StageCompleted)
		state.WithProgress(100)
	}

	p.manager.Complete(state.OperationID)

	return Result{
		Output:                state.Payload.PartialOutput,
		DuplicateExports:      report.DuplicateExports,
		InterpolationWarnings: report.InterpolationWarnings,
	}, nil
}

// runCleaning processes remaining chunks, persisting every YieldEvery
// chunks, and raises a ResumableTimeout apperr.Error carrying operationID if
// the stage's soft time budget expires before all chunks are processed.
func (p *Pipeline) runCleaning(ctx context.Context, state *checkpoint.State) (*checkpoint.State, error) {
	deadline := time.Now().Add(p.opts.StageTimeout)
	shards := state.Payload.Shards

	processedSinceYield := 0
	for state.Payload.ChunkIndex < len(shards) {
		select {
		case <-ctx.Done():
			p.manager.PersistChunkProgress(state)
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			p.manager.PersistResumableTimeout(state)
			return nil, apperr.New(apperr.ResumableTimeout, "transform", "jsx_cleaning",
				"stage exceeded its time budget", nil).
				WithOperationID(state.OperationID).
				WithSeverity(apperr.SeverityWarning)
		}

		cleaned := cleanChunk(shards[state.Payload.ChunkIndex])
		state.Payload.PartialOutput += cleaned
		state.Payload.ChunkIndex++
		processedSinceYield++

		pct := 0
		if state.Payload.TotalChunks > 0 {
			pct = (state.Payload.ChunkIndex * 100) / state.Payload.TotalChunks
		}
		state.WithProgress(pct)

		if processedSinceYield >= p.opts.YieldEvery {
			p.manager.PersistChunkProgress(state)
			processedSinceYield = 0
		}
	}

	state.WithStage(checkpoint.StageJSXValidation)
	p.manager.PersistChunkProgress(state)
	return state, nil
}

// structural JSX-validity checks applied during jsx_validation. Each is a
// simple non-backtracking pattern or a count comparison, never a full
// parse: validation here means structural checks, not a JSX parser.
var (
	returnStmtRe  = regexp.MustCompile(`\breturn\b`)
	jsxAngleRe    = regexp.MustCompile(`<[A-Za-z][\w.]*[\s/>]`)
	componentDefRe = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?(?:function|const)\s+([A-Za-z_$][\w$]*)`)
	// propBraceRe locates prop={ assignment sites (e.g. style={...}) so
	// runValidation can confirm each one closes with a matching brace via
	// extractPropBody. The whole-file VerifyBraceBalance tolerance can let a
	// single malformed prop slip through an otherwise balanced file.
	propBraceRe = regexp.MustCompile(`[A-Za-z_$][\w$]*=\{`)
)

// runValidation performs the structural checks over the assembled output
// and, on success, runs the three validator.Validate
// passes (import repair, duplicate-export removal, interpolation-range
// fixup) that must see the whole assembled source rather than individual
// chunks.
func (p *Pipeline) runValidation(state *checkpoint.State) (*checkpoint.State, validator.Report, error) {
	out := state.Payload.PartialOutput

	if !returnStmtRe.MatchString(out) {
		return nil, validator.Report{}, apperr.New(apperr.Validation, "transform", "jsx_validation",
			"transformed source has no return statement", nil)
	}
	if !jsxAngleRe.MatchString(out) {
		return nil, validator.Report{}, apperr.New(apperr.Validation, "transform", "jsx_validation",
			"transformed source has no JSX elements", nil)
	}
	if balance := validator.VerifyBraceBalance(out); balance < -2 || balance > 2 {
		return nil, validator.Report{}, apperr.New(apperr.Validation, "transform", "jsx_validation",
			fmt.Sprintf("brace balance %d exceeds tolerance", balance), nil)
	}
	for _, loc := range propBraceRe.FindAllStringIndex(out, -1) {
		openIdx := loc[1] - 1
		if _, _, ok := extractPropBody(out, openIdx); !ok {
			return nil, validator.Report{}, apperr.New(apperr.Validation, "transform", "jsx_validation",
				"prop body at offset "+fmt.Sprint(openIdx)+" has no matching closing brace", nil)
		}
	}

	fixed, report := validator.Validate(out)
	state.Payload.PartialOutput = fixed
	state.WithStage(checkpoint.StageJSXExport)
	p.manager.PersistChunkProgress(state)
	return state, report, nil
}

// runExport detects the component's exported name and appends a default
// export if one is not already present, idempotently: re-running export on
// already-exported source is a no-op.
func (p *Pipeline) runExport(state *checkpoint.State) *checkpoint.State {
	out := state.Payload.PartialOutput

	name := ""
	if m := componentDefRe.FindStringSubmatch(out); m != nil {
		name = m[1]
	}

	hasDefault := strings.Contains(out, "export default")
	if name != "" && !hasDefault {
		if !strings.HasSuffix(strings.TrimRight(out, "\n"), "\n") {
			out += "\n"
		}
		out = strings.TrimRight(out, "\n") + "\n" + fmt.Sprintf("export default %s;\n", name)
	}

	state.Payload.PartialOutput = out
	state.WithStage(checkpoint.StageFileWriting)
	p.manager.PersistChunkProgress(state)
	return state
}
