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

// Package compiler translates an edit session's declarative actions
// into the filter-graph text the media processor (ffmpeg) consumes.
// It is a pure function: no I/O, no clock, no randomness, so the same
// action list always compiles to byte-identical text.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jordigilh/riskline/internal/domain"
)

// Graph is the compiled output: the -filter_complex string (nil when
// no action touches either stream) and the stream labels to -map.
type Graph struct {
	FilterComplex *string
	VideoMap      string
	AudioMap      string
}

// Compile builds the filter graph for actions in the fixed stanza
// order (cuts, mutes, mosaics, telops); skip actions are a reserved
// no-op marker and never reach the graph.
func Compile(actions []domain.EditAction) (Graph, error) {
	var filters []string
	videoLabel, audioLabel := "0:v", "0:a"
	videoTouched, audioTouched := false, false

	cuts := filterByType(actions, domain.ActionCut)
	if len(cuts) > 0 {
		expr := betweenExpression(cuts, true)
		filters = append(filters,
			fmt.Sprintf("[0:v]select='%s',setpts=N/FRAME_RATE/TB[vcut]", expr),
			fmt.Sprintf("[0:a]aselect='%s',asetpts=N/SR/TB[acut]", expr),
		)
		videoLabel, audioLabel = "vcut", "acut"
		videoTouched, audioTouched = true, true
	}

	for i, action := range filterByType(actions, domain.ActionMute) {
		next := fmt.Sprintf("a_mute_%d", i+1)
		expr := betweenExpression([]domain.EditAction{action}, false)
		filters = append(filters, fmt.Sprintf("[%s]volume=0:enable='%s'[%s]", audioLabel, expr, next))
		audioLabel = next
		audioTouched = true
	}

	for i, action := range filterByType(actions, domain.ActionMosaic) {
		if action.Mosaic == nil {
			return Graph{}, fmt.Errorf("mosaic action %s missing options", action.ID)
		}
		opts := *action.Mosaic
		base := fmt.Sprintf("v_mosaic_base_%d", i+1)
		blur := fmt.Sprintf("v_mosaic_blur_%d", i+1)
		blurred := fmt.Sprintf("v_mosaic_blurred_%d", i+1)
		next := fmt.Sprintf("v_mosaic_%d", i+1)
		expr := betweenExpression([]domain.EditAction{action}, false)

		filters = append(filters,
			fmt.Sprintf("[%s]split=2[%s][%s]", videoLabel, base, blur),
			fmt.Sprintf("[%s]crop=%d:%d:%d:%d,boxblur=%d:1[%s]", blur, opts.Width, opts.Height, opts.X, opts.Y, opts.BlurStrength, blurred),
			fmt.Sprintf("[%s][%s]overlay=%d:%d:enable='%s'[%s]", base, blurred, opts.X, opts.Y, expr, next),
		)
		videoLabel = next
		videoTouched = true
	}

	for i, action := range filterByType(actions, domain.ActionTelop) {
		if action.Telop == nil {
			return Graph{}, fmt.Errorf("telop action %s missing options", action.ID)
		}
		opts := *action.Telop
		next := fmt.Sprintf("v_telop_%d", i+1)
		expr := betweenExpression([]domain.EditAction{action}, false)

		drawtext := fmt.Sprintf(
			"drawtext=fontfile='%s':text='%s':x=%d:y=%d:fontsize=%d:fontcolor=%s:enable='%s'",
			fontFilePath, escapeDrawtext(opts.Text), opts.X, opts.Y, opts.FontSize, opts.FontColor, expr,
		)
		if opts.BackgroundColor != nil {
			drawtext += fmt.Sprintf(":box=1:boxcolor=%s", *opts.BackgroundColor)
		}

		filters = append(filters, fmt.Sprintf("[%s]%s[%s]", videoLabel, drawtext, next))
		videoLabel = next
		videoTouched = true
	}

	if len(filters) == 0 {
		return Graph{FilterComplex: nil, VideoMap: "0:v", AudioMap: "0:a"}, nil
	}

	videoMap, audioMap := "0:v", "0:a"
	if videoTouched {
		videoMap = fmt.Sprintf("[%s]", videoLabel)
	}
	if audioTouched {
		audioMap = fmt.Sprintf("[%s]", audioLabel)
	}

	complex := strings.Join(filters, ";")
	return Graph{FilterComplex: &complex, VideoMap: videoMap, AudioMap: audioMap}, nil
}

// fontFilePath is the default drawtext font; CompileWithFont
// substitutes a configured path after compiling, keeping Compile
// itself free of any external configuration dependency.
const fontFilePath = "/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc"

// CompileWithFont is Compile with an overridden drawtext font file,
// for deployments that configure a non-default font path.
func CompileWithFont(actions []domain.EditAction, font string) (Graph, error) {
	g, err := Compile(actions)
	if err != nil || g.FilterComplex == nil {
		return g, err
	}
	replaced := strings.Replace(*g.FilterComplex, fontFilePath, font, -1)
	g.FilterComplex = &replaced
	return g, nil
}

// filterByType selects actions of one type in a deterministic order:
// sorted by start, then end, then id. Callers (and the database
// queries feeding them) may hand actions in any order, so the sort is
// what makes identical action sets compile to byte-identical text.
func filterByType(actions []domain.EditAction, t domain.EditActionType) []domain.EditAction {
	var out []domain.EditAction
	for _, a := range actions {
		if a.Type == t {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartSec != out[j].StartSec {
			return out[i].StartSec < out[j].StartSec
		}
		if out[i].EndSec != out[j].EndSec {
			return out[i].EndSec < out[j].EndSec
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// betweenExpression builds ¬(between(t,s1,e1) ∨ …) when invert is
// true (used for the cut stanza's keep-everything-else selector), or
// the plain disjunction otherwise (used for per-action enable exprs,
// always a single action).
func betweenExpression(actions []domain.EditAction, invert bool) string {
	if len(actions) == 0 {
		if invert {
			return "1"
		}
		return "0"
	}
	ranges := make([]string, len(actions))
	for i, a := range actions {
		ranges[i] = fmt.Sprintf("between(t,%.3f,%.3f)", a.StartSec, a.EndSec)
	}
	expr := strings.Join(ranges, "+")
	if invert {
		return fmt.Sprintf("not(%s)", expr)
	}
	return expr
}

// escapeDrawtext escapes the characters ffmpeg's drawtext filter
// treats specially, in the order that avoids double-escaping: a
// backslash introduced by an earlier rule must never be re-escaped by
// a later one.
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		"\n", `\n`,
	)
	return r.Replace(text)
}
