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

// Package analyzer declares the three upstream analysis ports the
// orchestrator fans out to. Concrete adapters (speech-to-text, OCR,
// vision) live outside this module's scope; the stub implementations
// in the stub subpackage exist only to exercise the orchestrator's
// fan-out and fusion logic.
package analyzer

import "context"

// TranscriptSegment is one recognized speech span.
type TranscriptSegment struct {
	Text       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// SpeechResult is the audio analyzer's output.
type SpeechResult struct {
	Segments []TranscriptSegment
}

// OCRText is one detected on-screen text occurrence.
type OCRText struct {
	Text       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// OCRResult is the OCR analyzer's output.
type OCRResult struct {
	Texts []OCRText
}

// DetectedObject is one object or person detected in a frame.
type DetectedObject struct {
	Label      string
	Confidence float64
}

// Frame is one sampled video frame's detections.
type Frame struct {
	TimestampSec float64
	Scene        string
	Persons      []DetectedObject
	Objects      []DetectedObject
}

// VisionResult is the video analyzer's output.
type VisionResult struct {
	Frames []Frame
}

// SpeechAnalyzer transcribes the audio track of the video at path.
type SpeechAnalyzer interface {
	Analyze(ctx context.Context, videoPath string) (SpeechResult, error)
}

// OCRAnalyzer extracts on-screen text from the video at path.
type OCRAnalyzer interface {
	Analyze(ctx context.Context, videoPath string) (OCRResult, error)
}

// VisionAnalyzer detects scenes, persons, and objects per sampled frame.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, videoPath string) (VisionResult, error)
}
