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

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/editsession"
	"github.com/jordigilh/riskline/internal/errkind"
)

type actionJSON struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	StartSec   float64         `json:"start_sec"`
	EndSec     float64         `json:"end_sec"`
	RiskItemID *string         `json:"risk_item_id,omitempty"`
	Options    json.RawMessage `json:"options,omitempty"`
}

func actionToJSON(a domain.EditAction) actionJSON {
	out := actionJSON{
		ID:       a.ID.String(),
		Type:     string(a.Type),
		StartSec: a.StartSec,
		EndSec:   a.EndSec,
	}
	if a.RiskItemID != nil {
		id := a.RiskItemID.String()
		out.RiskItemID = &id
	}
	switch {
	case a.Mosaic != nil:
		out.Options, _ = json.Marshal(a.Mosaic)
	case a.Telop != nil:
		out.Options, _ = json.Marshal(a.Telop)
	}
	return out
}

type sessionJSON struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	Status    string       `json:"status"`
	Actions   []actionJSON `json:"actions"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

func sessionToJSON(session domain.EditSession, actions []domain.EditAction) sessionJSON {
	out := sessionJSON{
		ID:        session.ID.String(),
		JobID:     session.JobID.String(),
		Status:    string(session.Status),
		Actions:   make([]actionJSON, len(actions)),
		CreatedAt: session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: session.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for i, a := range actions {
		out.Actions[i] = actionToJSON(a)
	}
	return out
}

func (s *Server) handleGetEditSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		writeError(w, s.log, err)
		return
	}
	session, err := s.sessions.GetOrCreateSession(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	actions, err := s.sessions.ListActions(ctx, session.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].StartSec < actions[j].StartSec })
	writeJSON(w, http.StatusOK, sessionToJSON(session, actions))
}

type putActionRequest struct {
	ID         *string         `json:"id"`
	Type       string          `json:"type" validate:"required,oneof=cut mute mosaic telop skip"`
	StartSec   float64         `json:"start_sec" validate:"gte=0"`
	EndSec     float64         `json:"end_sec" validate:"gte=0"`
	RiskItemID *string         `json:"risk_item_id"`
	Options    json.RawMessage `json:"options"`
}

type putSessionRequest struct {
	Actions []putActionRequest `json:"actions"`
}

func (s *Server) handlePutEditSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		writeError(w, s.log, err)
		return
	}

	var req putSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, errkind.Wrap(errkind.Validation, err, "decode request body"))
		return
	}

	inputs := make([]editsession.ActionInput, len(req.Actions))
	for i, a := range req.Actions {
		input, err := a.toInput()
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		inputs[i] = input
	}

	actions, err := s.sessionSvc.UpdateSession(ctx, jobID, inputs)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	session, err := s.sessions.GetOrCreateSession(ctx, jobID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToJSON(session, actions))
}

// toInput validates one incoming action and decodes its type-specific
// options into the matching domain option struct.
func (a putActionRequest) toInput() (editsession.ActionInput, error) {
	if err := checkStruct(a); err != nil {
		return editsession.ActionInput{}, err
	}
	if a.StartSec >= a.EndSec {
		return editsession.ActionInput{}, errkind.New(errkind.Validation,
			fmt.Sprintf("action start_sec %.3f must be before end_sec %.3f", a.StartSec, a.EndSec))
	}

	input := editsession.ActionInput{
		Type:     domain.EditActionType(a.Type),
		StartSec: a.StartSec,
		EndSec:   a.EndSec,
	}
	if a.ID != nil {
		id, err := uuid.Parse(*a.ID)
		if err != nil {
			return editsession.ActionInput{}, errkind.New(errkind.Validation, "malformed action id")
		}
		input.ID = &id
	}
	if a.RiskItemID != nil {
		id, err := uuid.Parse(*a.RiskItemID)
		if err != nil {
			return editsession.ActionInput{}, errkind.New(errkind.Validation, "malformed risk_item_id")
		}
		input.RiskItemID = &id
	}

	switch input.Type {
	case domain.ActionMosaic:
		opts := domain.DefaultMosaicOptions()
		if len(a.Options) > 0 {
			if err := json.Unmarshal(a.Options, &opts); err != nil {
				return editsession.ActionInput{}, errkind.Wrap(errkind.Validation, err, "decode mosaic options")
			}
			if opts.BlurStrength == 0 {
				opts.BlurStrength = domain.DefaultMosaicOptions().BlurStrength
			}
		}
		if err := checkStruct(opts); err != nil {
			return editsession.ActionInput{}, err
		}
		input.Mosaic = &opts
	case domain.ActionTelop:
		var opts domain.TelopOptions
		if err := json.Unmarshal(a.Options, &opts); err != nil {
			return editsession.ActionInput{}, errkind.Wrap(errkind.Validation, err, "decode telop options")
		}
		if err := checkStruct(opts); err != nil {
			return editsession.ActionInput{}, err
		}
		input.Telop = &opts
	}
	return input, nil
}
