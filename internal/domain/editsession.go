/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package domain

import (
	"time"

	"github.com/google/uuid"
)

// EditSessionStatus tracks the lifecycle of an edit session.
type EditSessionStatus string

const (
	EditSessionDraft     EditSessionStatus = "draft"
	EditSessionExporting EditSessionStatus = "exporting"
	EditSessionCompleted EditSessionStatus = "completed"
)

// EditSession is at most one per completed AnalysisJob (unique on
// JobID), created lazily on first edit access.
type EditSession struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Status    EditSessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EditActionType is one of the five declared action types.
type EditActionType string

const (
	ActionCut    EditActionType = "cut"
	ActionMute   EditActionType = "mute"
	ActionMosaic EditActionType = "mosaic"
	ActionTelop  EditActionType = "telop"
	ActionSkip   EditActionType = "skip"
)

// MosaicOptions parameterizes a mosaic (blur box) action.
type MosaicOptions struct {
	X             int `json:"x" validate:"gte=0"`
	Y             int `json:"y" validate:"gte=0"`
	Width         int `json:"width" validate:"gt=0"`
	Height        int `json:"height" validate:"gt=0"`
	BlurStrength  int `json:"blur_strength" validate:"gte=1,lte=100"`
}

// DefaultMosaicOptions carries the default blur strength of 10.
func DefaultMosaicOptions() MosaicOptions {
	return MosaicOptions{BlurStrength: 10}
}

// TelopOptions parameterizes a caption overlay action.
type TelopOptions struct {
	Text            string  `json:"text" validate:"required,min=1,max=500"`
	X               int     `json:"x" validate:"gte=0"`
	Y               int     `json:"y" validate:"gte=0"`
	FontSize        int     `json:"font_size" validate:"gt=0,lte=200"`
	FontColor       string  `json:"font_color" validate:"required,hexcolor"`
	BackgroundColor *string `json:"background_color,omitempty" validate:"omitempty,hexcolor"`
}

// EditAction is one declarative edit; Options holds a *MosaicOptions
// or *TelopOptions depending on Type, or nil for cut/mute/skip.
type EditAction struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	Type       EditActionType
	StartSec   float64
	EndSec     float64
	RiskItemID *uuid.UUID
	Mosaic     *MosaicOptions
	Telop      *TelopOptions
}

// ExportJobStatus is the export lifecycle, independent per attempt.
type ExportJobStatus string

const (
	ExportPending    ExportJobStatus = "pending"
	ExportProcessing ExportJobStatus = "processing"
	ExportCompleted  ExportJobStatus = "completed"
	ExportFailed     ExportJobStatus = "failed"
)

// ExportJob is many-per-session; re-exports are allowed once the
// prior attempt reached a terminal status.
type ExportJob struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Status         ExportJobStatus
	OutputBlobPath *string
	Error          *string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
