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

// Package domain holds the entities and enums shared across the job
// pipeline: videos, analysis jobs, risk items, edit sessions, edit
// actions and export jobs.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Video is immutable after creation.
type Video struct {
	ID           uuid.UUID
	BlobPath     string
	OriginalName string
	ByteSize     int64
	DurationSec  *float64
	CreatedAt    time.Time
}

// Platform is the target platform declared at upload time.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube_shorts"
	PlatformInstagram Platform = "instagram_reels"
)

// UploadPurpose describes why the video is being screened.
type UploadPurpose string

const (
	PurposeAdReview      UploadPurpose = "ad_review"
	PurposeInfluencerPost UploadPurpose = "influencer_post"
	PurposeGeneral       UploadPurpose = "general"
)

// JobStatus is the top-level AnalysisJob state machine.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// AnalysisJob is one per Video; its lifecycle runs
// pending → processing → (completed | failed).
type AnalysisJob struct {
	ID             uuid.UUID
	VideoID        uuid.UUID
	Status         JobStatus
	Purpose        UploadPurpose
	Platform       Platform
	TargetAudience string
	OverallScore   *float64
	RiskLevel      *RiskLevel
	Error          *string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
