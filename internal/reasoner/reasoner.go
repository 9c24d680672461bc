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

// Package reasoner fuses the three analyzer outputs plus job metadata
// into a RiskAssessment via an LLM-backed reasoning call, degrading
// gracefully to an empty assessment whenever the model's output
// cannot be trusted.
package reasoner

import (
	"context"

	"github.com/jordigilh/riskline/internal/analyzer"
	"github.com/jordigilh/riskline/internal/domain"
)

// FusionInput bundles everything the reasoner considers for one job.
type FusionInput struct {
	Speech         analyzer.SpeechResult
	OCR            analyzer.OCRResult
	Vision         analyzer.VisionResult
	Purpose        domain.UploadPurpose
	Platform       domain.Platform
	TargetAudience string
}

// RiskReasoner evaluates one job's fused analyzer output into a
// RiskAssessment. Implementations MUST return domain.EmptyAssessment()
// rather than an error when the upstream model's output is malformed
// (malformed output degrades to an empty assessment); a non-nil
// error here means the call itself failed (network, auth, rate
// limit), not that the content was uninterpretable.
type RiskReasoner interface {
	Evaluate(ctx context.Context, input FusionInput) (domain.RiskAssessment, error)
}

// fuse combines risks found directly from structured vision
// detections with the risks the LLM surfaced from context, the same
// "direct risks ++ llm risks, then recompute overall" rule the
// original evaluator used.
func fuse(direct, llmRisks []domain.RiskItem) domain.RiskAssessment {
	combined := make([]domain.RiskItem, 0, len(direct)+len(llmRisks))
	combined = append(combined, direct...)
	combined = append(combined, llmRisks...)

	if len(combined) == 0 {
		return domain.EmptyAssessment()
	}

	overall := combined[0].Score
	level := combined[0].Level
	for _, r := range combined[1:] {
		if r.Score > overall {
			overall = r.Score
		}
		if r.Level.Rank() > level.Rank() {
			level = r.Level
		}
	}

	return domain.RiskAssessment{OverallScore: overall, RiskLevel: level, Risks: combined}
}

// directVisionRisks promotes high-confidence structured detections
// (explicit content annotations, tracked sensitive objects) straight
// to risk items, bypassing the LLM for signals that don't need
// contextual judgment.
func directVisionRisks(vision analyzer.VisionResult) []domain.RiskItem {
	const sensitiveObjectThreshold = 80.0
	sensitiveLabels := map[string]bool{"weapon": true, "knife": true}

	var risks []domain.RiskItem
	for _, frame := range vision.Frames {
		for _, obj := range frame.Objects {
			label := obj.Label
			if !sensitiveLabels[label] {
				continue
			}
			confidence := obj.Confidence * 100
			if confidence < sensitiveObjectThreshold {
				continue
			}
			level := domain.RiskMedium
			if confidence > 90 {
				level = domain.RiskHigh
			}
			risks = append(risks, domain.RiskItem{
				StartSec:    frame.TimestampSec,
				EndSec:      frame.TimestampSec,
				Category:    domain.CategoryPublicNuisance,
				Subcategory: "sensitive object detection",
				Score:       confidence,
				Level:       level,
				Rationale:   "a safety-sensitive object was detected in frame",
				Source:      domain.SourceVideo,
				Evidence:    label,
			})
		}
	}
	return risks
}
