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

// RiskCategory is a closed enumeration; the reasoner decoder rejects
// (degrades) anything outside this set.
type RiskCategory string

const (
	CategoryAggressiveness RiskCategory = "aggressiveness"
	CategoryDiscrimination RiskCategory = "discrimination"
	CategoryMisleading     RiskCategory = "misleading"
	CategoryPublicNuisance RiskCategory = "public_nuisance"
)

// RiskLevel is a closed, ordered enumeration: None < Low < Medium < High.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskLevelRank = map[RiskLevel]int{
	RiskNone:   0,
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// Rank orders risk levels for "max level wins" fusion logic. Unknown
// values rank below RiskNone so they never win a comparison.
func (l RiskLevel) Rank() int {
	if r, ok := riskLevelRank[l]; ok {
		return r
	}
	return -1
}

// Valid reports whether l is one of the closed enumeration values.
func (l RiskLevel) Valid() bool {
	_, ok := riskLevelRank[l]
	return ok
}

// Valid reports whether c is one of the closed enumeration values.
func (c RiskCategory) Valid() bool {
	switch c {
	case CategoryAggressiveness, CategoryDiscrimination, CategoryMisleading, CategoryPublicNuisance:
		return true
	default:
		return false
	}
}

// RiskSource names which perceptual phase produced a risk item.
type RiskSource string

const (
	SourceAudio RiskSource = "audio"
	SourceOCR   RiskSource = "ocr"
	SourceVideo RiskSource = "video"
)

// RiskItem is created atomically at risk-phase completion and never
// mutated afterward.
type RiskItem struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	StartSec    float64
	EndSec      float64
	Category    RiskCategory
	Subcategory string
	Score       float64
	Level       RiskLevel
	Rationale   string
	Source      RiskSource
	Evidence    string
}

// RiskAssessment is the fused, top-level result of one job run.
type RiskAssessment struct {
	OverallScore float64
	RiskLevel    RiskLevel
	Risks        []RiskItem
}

// EmptyAssessment is the degraded, zero-risk assessment used
// whenever the reasoner's output can't be trusted.
func EmptyAssessment() RiskAssessment {
	return RiskAssessment{OverallScore: 0, RiskLevel: RiskNone}
}

// Summary is returned by the orchestrator's single operation.
type Summary struct {
	OverallScore float64
	RiskLevel    RiskLevel
	RiskCount    int
}

// AnalysisResult bundles an AnalysisJob with its ordered risk items,
// the shape served by GET /jobs/{id}/results.
type AnalysisResult struct {
	Job         AnalysisJob
	Risks       []RiskItem
	VideoURL    *string
	GeneratedAt time.Time
}
