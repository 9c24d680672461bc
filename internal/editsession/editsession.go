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

// Package editsession reconciles a declarative list of edit actions
// against the session currently persisted for a job, applying the
// minimal set of updates/creates/deletes in one transaction.
package editsession

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jordigilh/riskline/internal/domain"
	"github.com/jordigilh/riskline/internal/errkind"
)

// ActionInput is one entry of the incoming declarative list. An id
// that matches an existing action updates it in place; an id that
// does not match any existing action is a validation error; no id
// creates a new action.
type ActionInput struct {
	ID         *uuid.UUID
	Type       domain.EditActionType
	StartSec   float64
	EndSec     float64
	RiskItemID *uuid.UUID
	Mosaic     *domain.MosaicOptions
	Telop      *domain.TelopOptions
}

// Repository is the persistence port UpdateSession reconciles
// against. ApplyDiff MUST run every update/create/delete plus the
// session's updated_at bump in a single transaction.
type Repository interface {
	GetOrCreateSession(ctx context.Context, jobID uuid.UUID) (domain.EditSession, error)
	ListActions(ctx context.Context, sessionID uuid.UUID) ([]domain.EditAction, error)
	ApplyDiff(ctx context.Context, sessionID uuid.UUID, toUpdate, toCreate []domain.EditAction, toDeleteIDs []uuid.UUID) error
}

// Service runs the reconciliation algorithm described for the edit
// session update protocol.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// UpdateSession loads (or creates) the session for jobID, diffs
// inputs against its current actions, applies the minimal change, and
// returns the full post-image ordered by StartSec ascending.
func (s *Service) UpdateSession(ctx context.Context, jobID uuid.UUID, inputs []ActionInput) ([]domain.EditAction, error) {
	session, err := s.repo.GetOrCreateSession(ctx, jobID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListActions(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]domain.EditAction, len(existing))
	for _, a := range existing {
		byID[a.ID] = a
	}
	kept := make(map[uuid.UUID]bool, len(existing))

	var toUpdate, toCreate []domain.EditAction

	for _, in := range inputs {
		if in.ID != nil {
			if _, ok := byID[*in.ID]; !ok {
				return nil, errkind.New(errkind.Validation, "edit action id does not belong to this session")
			}
			updated := domain.EditAction{
				ID:         *in.ID,
				SessionID:  session.ID,
				Type:       in.Type,
				StartSec:   in.StartSec,
				EndSec:     in.EndSec,
				RiskItemID: in.RiskItemID,
				Mosaic:     in.Mosaic,
				Telop:      in.Telop,
			}
			toUpdate = append(toUpdate, updated)
			kept[*in.ID] = true
			continue
		}

		created := domain.EditAction{
			ID:         uuid.New(),
			SessionID:  session.ID,
			Type:       in.Type,
			StartSec:   in.StartSec,
			EndSec:     in.EndSec,
			RiskItemID: in.RiskItemID,
			Mosaic:     in.Mosaic,
			Telop:      in.Telop,
		}
		toCreate = append(toCreate, created)
		kept[created.ID] = true
	}

	var toDelete []uuid.UUID
	for _, a := range existing {
		if !kept[a.ID] {
			toDelete = append(toDelete, a.ID)
		}
	}

	if err := s.repo.ApplyDiff(ctx, session.ID, toUpdate, toCreate, toDelete); err != nil {
		return nil, err
	}

	final := make([]domain.EditAction, 0, len(toUpdate)+len(toCreate))
	final = append(final, toUpdate...)
	final = append(final, toCreate...)
	sort.Slice(final, func(i, j int) bool { return final[i].StartSec < final[j].StartSec })
	return final, nil
}
