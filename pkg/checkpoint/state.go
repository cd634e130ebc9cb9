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

// Package checkpoint persists partial transform-pipeline state so that a
// timed-out transformation can resume exactly where it left off.
package checkpoint

import "time"

// Stage is one of the pipeline's declared stages, in their required
// monotonic order.
type Stage string

const (
	StageBackup         Stage = "backup"
	StageJSXCleaning    Stage = "jsx_cleaning"
	StageJSXValidation  Stage = "jsx_validation"
	StageJSXExport      Stage = "jsx_export"
	StageFileWriting    Stage = "file_writing"
	StageCompleted      Stage = "completed"
)

// stageOrder gives each declared stage a monotonic rank so progression can
// be checked mechanically.
var stageOrder = map[Stage]int{
	StageBackup:        0,
	StageJSXCleaning:   1,
	StageJSXValidation: 2,
	StageJSXExport:     3,
	StageFileWriting:   4,
	StageCompleted:     5,
}

// Rank returns s's position in the declared stage ordering, or -1 if s is
// not a recognized stage.
func (s Stage) Rank() int {
	r, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return r
}

// Payload carries the transform's working state: the untouched original
// source, the output accumulated so far, chunk progress, and any
// intermediate shards produced mid-pass.
type Payload struct {
	OriginalSource string   `json:"originalSource"`
	PartialOutput  string   `json:"partialOutput"`
	ChunkIndex     int      `json:"chunkIndex"`
	TotalChunks    int      `json:"totalChunks"`
	Shards         []string `json:"shards,omitempty"`
}

// State is a single persisted Checkpoint, keyed by OperationID.
type State struct {
	OperationID string    `json:"operationId"`
	ProjectName string    `json:"projectName"`
	Stage       Stage     `json:"stage"`
	Progress    int       `json:"progress"` // 0..100
	Payload     Payload   `json:"payload"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WithStage advances the checkpoint to stage, refusing to move backward
// along the declared ordering. Moving to the same stage (e.g. updating
// progress within jsx_cleaning) is allowed.
func (s *State) WithStage(stage Stage) *State {
	if stage.Rank() >= s.Stage.Rank() || s.Stage == "" {
		s.Stage = stage
	}
	s.UpdatedAt = time.Now()
	return s
}

// WithProgress clamps progress into [0,100] and records it.
func (s *State) WithProgress(pct int) *State {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.Progress = pct
	s.UpdatedAt = time.Now()
	return s
}

// WithPayload replaces the working payload.
func (s *State) WithPayload(p Payload) *State {
	s.Payload = p
	s.UpdatedAt = time.Now()
	return s
}
