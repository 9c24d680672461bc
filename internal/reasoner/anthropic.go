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

package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/analyzer"
	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
)

// AnthropicReasoner is the production RiskReasoner, built on the same
// messages API the Claude model family exposes.
type AnthropicReasoner struct {
	client *anthropic.Client
	model  anthropic.Model
	log    *zap.Logger
}

func NewAnthropicReasoner(apiKey, model string, log *zap.Logger) *AnthropicReasoner {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicReasoner{client: &client, model: anthropic.Model(model), log: log}
}

func (r *AnthropicReasoner) Evaluate(ctx context.Context, input FusionInput) (domain.RiskAssessment, error) {
	direct := directVisionRisks(input.Vision)
	prompt := buildPrompt(input)

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return domain.RiskAssessment{}, errkind.Wrap(errkind.TransientUpstream, err, "reasoner model call")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	llmRisks, err := decodeLLMResponse(text.String())
	if err != nil {
		r.log.Warn("reasoner output could not be decoded, degrading to empty assessment",
			zap.Error(err))
		return domain.EmptyAssessment(), nil
	}

	return fuse(direct, llmRisks), nil
}

// llmResponse mirrors the JSON contract the prompt asks the model to
// produce.
type llmResponse struct {
	OverallScore float64       `json:"overall_score"`
	RiskLevel    string        `json:"risk_level"`
	Risks        []llmRiskItem `json:"risks"`
}

type llmRiskItem struct {
	Timestamp    float64 `json:"timestamp"`
	EndTimestamp float64 `json:"end_timestamp"`
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	Score        float64 `json:"score"`
	Level        string  `json:"level"`
	Rationale    string  `json:"rationale"`
	Source       string  `json:"source"`
	Evidence     string  `json:"evidence"`
}

// decodeLLMResponse strips the ```json fences models habitually wrap
// their output in, then parses the risk list, silently dropping any
// individual entry whose category/source/level falls outside the
// closed enumerations rather than failing the whole decode.
func decodeLLMResponse(raw string) ([]domain.RiskItem, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var parsed llmResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("decode reasoner response: %w", err)
	}

	risks := make([]domain.RiskItem, 0, len(parsed.Risks))
	for _, item := range parsed.Risks {
		category := domain.RiskCategory(item.Category)
		source := domain.RiskSource(item.Source)
		level := domain.RiskLevel(item.Level)
		if !category.Valid() || !level.Valid() {
			continue
		}
		switch source {
		case domain.SourceAudio, domain.SourceOCR, domain.SourceVideo:
		default:
			continue
		}

		endTimestamp := item.EndTimestamp
		if endTimestamp == 0 {
			endTimestamp = item.Timestamp
		}

		risks = append(risks, domain.RiskItem{
			ID:          uuid.New(),
			StartSec:    item.Timestamp,
			EndSec:      endTimestamp,
			Category:    category,
			Subcategory: item.Subcategory,
			Score:       item.Score,
			Level:       level,
			Rationale:   item.Rationale,
			Source:      source,
			Evidence:    item.Evidence,
		})
	}

	return risks, nil
}

func buildPrompt(input FusionInput) string {
	speechJSON, _ := json.MarshalIndent(input.Speech, "", "  ")
	ocrJSON, _ := json.MarshalIndent(input.OCR, "", "  ")
	visionSummary := summarizeVision(input.Vision)

	return fmt.Sprintf(`You are an expert at evaluating social-media content for contextual risk before it is posted.
Explicit content and dangerous objects have already been detected by a separate system; focus only on
risk that requires reading context across speech, on-screen text, and the overall tone of the video.

## Post metadata
- purpose: %s
- platform: %s
- target audience: %s

## Speech transcript
%s

## On-screen text (OCR)
%s

## Video summary
%s

## Categories to evaluate
1. aggressiveness - hostile, inflammatory, or personally targeting language
2. discrimination - stereotyping or bias based on protected characteristics
3. misleading - overstated, ambiguous, or easily misquoted claims

Respond with JSON only, matching exactly:
{"overall_score": number, "risk_level": "none"|"low"|"medium"|"high", "risks": [{"timestamp": number, "end_timestamp": number, "category": string, "subcategory": string, "score": number, "level": string, "rationale": string, "source": string, "evidence": string}]}
If nothing rises to the level of a risk, return an empty risks array, overall_score 0, and risk_level "none".`,
		input.Purpose, input.Platform, input.TargetAudience, speechJSON, ocrJSON, visionSummary)
}

func summarizeVision(vision analyzer.VisionResult) string {
	if len(vision.Frames) == 0 {
		return "no video analysis available"
	}
	scenes := map[string]bool{}
	for _, f := range vision.Frames {
		if f.Scene != "" {
			scenes[f.Scene] = true
		}
	}
	names := make([]string, 0, len(scenes))
	for s := range scenes {
		names = append(names, s)
	}
	return fmt.Sprintf("%d frames sampled, scenes observed: %s", len(vision.Frames), strings.Join(names, ", "))
}
