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

// Package stub provides no-op analyzer adapters for deployments or
// tests that have no speech/OCR/vision backend wired in yet. Each
// returns an empty result rather than erroring, so the orchestrator's
// fusion stage still runs end to end.
package stub

import (
	"context"

	"github.com/jordigilh/riskline/internal/analyzer"
)

type SpeechAnalyzer struct{}

func (SpeechAnalyzer) Analyze(context.Context, string) (analyzer.SpeechResult, error) {
	return analyzer.SpeechResult{}, nil
}

type OCRAnalyzer struct{}

func (OCRAnalyzer) Analyze(context.Context, string) (analyzer.OCRResult, error) {
	return analyzer.OCRResult{}, nil
}

type VisionAnalyzer struct{}

func (VisionAnalyzer) Analyze(context.Context, string) (analyzer.VisionResult, error) {
	return analyzer.VisionResult{}, nil
}
