package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"corkboard/internal/access"
	"corkboard/internal/moves"
	"corkboard/internal/realtime"
	"corkboard/internal/store"
	"corkboard/internal/util"
)

// Optional tells an absent JSON field apart from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.Value = &value
	return nil
}

// MoveInput places an item right after AfterID in TargetScopeID. An empty
// AfterID means the head of the list; an empty TargetScopeID keeps the
// current scope.
type MoveInput struct {
	TargetScopeID string           `json:"targetScopeId"`
	AfterID       string           `json:"afterId"`
	SwimlaneID    Optional[string] `json:"swimlaneId"`
}

type ColumnInput struct {
	Title    string `json:"title"`
	WipLimit *int   `json:"wipLimit"`
	AfterID  string `json:"afterId"`
}

type ColumnPatch struct {
	Title    *string       `json:"title"`
	WipLimit Optional[int] `json:"wipLimit"`
}

type SwimlaneInput struct {
	Title   string `json:"title"`
	AfterID string `json:"afterId"`
}

type CardInput struct {
	ColumnID    string     `json:"columnId"`
	SwimlaneID  *string    `json:"swimlaneId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"dueAt"`
	AfterID     string     `json:"afterId"`
}

type CardPatch struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	DueAt       Optional[time.Time] `json:"dueAt"`
	Archived    *bool               `json:"archived"`
	SwimlaneID  Optional[string]    `json:"swimlaneId"`
}

func resolvePlacement(ctx context.Context, tx store.Tx, req moves.Request) (moves.Placement, error) {
	placement, err := moves.Resolve(ctx, tx, req)
	recordMove(req.Kind, err)
	return placement, err
}

func validateWipLimit(limit *int) error {
	if limit != nil && *limit < 1 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "wipLimit must be at least 1", nil)
	}
	return nil
}

// boardScope rejects a target scope other than the board itself; columns and
// swimlanes never leave their board.
func boardScope(boardID, target string) error {
	if target != "" && target != boardID {
		return domainError(http.StatusUnprocessableEntity, "INVALID_TARGET", "items can only move within their board", nil)
	}
	return nil
}

func columnOnBoard(ctx context.Context, tx store.Tx, boardID, columnID string) (store.Column, error) {
	column, err := tx.GetColumn(ctx, columnID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && column.BoardID != boardID) {
		return store.Column{}, fmt.Errorf("%w: column %s", moves.ErrScopeNotFound, columnID)
	}
	return column, err
}

func swimlaneOnBoard(ctx context.Context, tx store.Tx, boardID string, laneID *string) error {
	if laneID == nil {
		return nil
	}
	lane, err := tx.GetSwimlane(ctx, *laneID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && lane.BoardID != boardID) {
		return fmt.Errorf("%w: swimlane %s", moves.ErrScopeNotFound, *laneID)
	}
	return err
}

func cardOnBoard(ctx context.Context, tx store.Tx, boardID, cardID string) (store.Card, error) {
	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, err
	}
	if card.BoardID != boardID {
		return store.Card{}, sql.ErrNoRows
	}
	return card, nil
}

// columns

func (s *Service) CreateColumn(ctx context.Context, caller Caller, boardID string, input ColumnInput) (store.Column, error) {
	title, err := requireTitle(input.Title, "title")
	if err != nil {
		return store.Column{}, err
	}
	if err := validateWipLimit(input.WipLimit); err != nil {
		return store.Column{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Column{}, err
	}

	column := store.Column{ID: util.NewID("col"), BoardID: boardID, Title: title, WipLimit: input.WipLimit, CreatedAt: s.now()}
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindColumn,
			ItemID:        column.ID,
			TargetScopeID: boardID,
			AfterID:       input.AfterID,
		})
		if err != nil {
			return nil, err
		}
		column.Position = placement.Position
		if err := tx.CreateColumn(ctx, column); err != nil {
			return nil, err
		}
		return realtime.ColumnCreated{Column: column}, nil
	})
	if err != nil {
		return store.Column{}, err
	}
	return column, nil
}

// UpdateColumn changes title and WIP limit. Lowering the limit below the
// current card count is allowed; it only blocks further entries.
func (s *Service) UpdateColumn(ctx context.Context, caller Caller, boardID, columnID string, patch ColumnPatch) (store.Column, error) {
	if patch.WipLimit.Set {
		if err := validateWipLimit(patch.WipLimit.Value); err != nil {
			return store.Column{}, err
		}
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Column{}, err
	}

	var column store.Column
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		column, err = tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if column.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		if patch.Title != nil {
			if column.Title, err = requireTitle(*patch.Title, "title"); err != nil {
				return nil, err
			}
		}
		if patch.WipLimit.Set {
			column.WipLimit = patch.WipLimit.Value
		}
		if err := tx.UpdateColumn(ctx, column); err != nil {
			return nil, err
		}
		return realtime.ColumnUpdated{Column: column}, nil
	})
	if err != nil {
		return store.Column{}, err
	}
	return column, nil
}

func (s *Service) MoveColumn(ctx context.Context, caller Caller, boardID, columnID string, input MoveInput) (store.Column, error) {
	if err := boardScope(boardID, input.TargetScopeID); err != nil {
		return store.Column{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Column{}, err
	}

	var column store.Column
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		column, err = tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if column.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindColumn,
			ItemID:        column.ID,
			SourceScopeID: boardID,
			TargetScopeID: boardID,
			AfterID:       input.AfterID,
		})
		if err != nil {
			return nil, err
		}
		column.Position = placement.Position
		if err := tx.UpdateColumn(ctx, column); err != nil {
			return nil, err
		}
		return realtime.ColumnMoved{Column: column}, nil
	})
	if err != nil {
		return store.Column{}, err
	}
	return column, nil
}

// DeleteColumn refuses columns that still hold cards, archived ones included.
func (s *Service) DeleteColumn(ctx context.Context, caller Caller, boardID, columnID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		column, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if column.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		if err := tx.LockScope(ctx, store.KindCard, columnID); err != nil {
			return nil, err
		}
		count, err := tx.CountColumnCards(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, domainError(http.StatusConflict, "COLUMN_NOT_EMPTY", "Column still holds cards", map[string]any{"count": count})
		}
		if err := tx.DeleteColumn(ctx, columnID); err != nil {
			return nil, err
		}
		return realtime.ColumnDeleted{BoardID: boardID, ColumnID: columnID}, nil
	})
}

// swimlanes

func (s *Service) CreateSwimlane(ctx context.Context, caller Caller, boardID string, input SwimlaneInput) (store.Swimlane, error) {
	title, err := requireTitle(input.Title, "title")
	if err != nil {
		return store.Swimlane{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Swimlane{}, err
	}

	lane := store.Swimlane{ID: util.NewID("swl"), BoardID: boardID, Title: title, CreatedAt: s.now()}
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindSwimlane,
			ItemID:        lane.ID,
			TargetScopeID: boardID,
			AfterID:       input.AfterID,
		})
		if err != nil {
			return nil, err
		}
		lane.Position = placement.Position
		if err := tx.CreateSwimlane(ctx, lane); err != nil {
			return nil, err
		}
		return realtime.SwimlaneCreated{Swimlane: lane}, nil
	})
	if err != nil {
		return store.Swimlane{}, err
	}
	return lane, nil
}

func (s *Service) UpdateSwimlane(ctx context.Context, caller Caller, boardID, laneID, title string) (store.Swimlane, error) {
	laneTitle, err := requireTitle(title, "title")
	if err != nil {
		return store.Swimlane{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Swimlane{}, err
	}

	var lane store.Swimlane
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		lane, err = tx.GetSwimlane(ctx, laneID)
		if err != nil {
			return nil, err
		}
		if lane.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		lane.Title = laneTitle
		if err := tx.UpdateSwimlane(ctx, lane); err != nil {
			return nil, err
		}
		return realtime.SwimlaneUpdated{Swimlane: lane}, nil
	})
	if err != nil {
		return store.Swimlane{}, err
	}
	return lane, nil
}

func (s *Service) MoveSwimlane(ctx context.Context, caller Caller, boardID, laneID string, input MoveInput) (store.Swimlane, error) {
	if err := boardScope(boardID, input.TargetScopeID); err != nil {
		return store.Swimlane{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Swimlane{}, err
	}

	var lane store.Swimlane
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		lane, err = tx.GetSwimlane(ctx, laneID)
		if err != nil {
			return nil, err
		}
		if lane.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindSwimlane,
			ItemID:        lane.ID,
			SourceScopeID: boardID,
			TargetScopeID: boardID,
			AfterID:       input.AfterID,
		})
		if err != nil {
			return nil, err
		}
		lane.Position = placement.Position
		if err := tx.UpdateSwimlane(ctx, lane); err != nil {
			return nil, err
		}
		return realtime.SwimlaneMoved{Swimlane: lane}, nil
	})
	if err != nil {
		return store.Swimlane{}, err
	}
	return lane, nil
}

// DeleteSwimlane detaches the lane's cards and removes it.
func (s *Service) DeleteSwimlane(ctx context.Context, caller Caller, boardID, laneID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		lane, err := tx.GetSwimlane(ctx, laneID)
		if err != nil {
			return nil, err
		}
		if lane.BoardID != boardID {
			return nil, sql.ErrNoRows
		}
		if err := tx.DeleteSwimlane(ctx, laneID); err != nil {
			return nil, err
		}
		return realtime.SwimlaneDeleted{BoardID: boardID, SwimlaneID: laneID}, nil
	})
}

// cards

func (s *Service) CreateCard(ctx context.Context, caller Caller, boardID string, input CardInput) (store.Card, error) {
	title, err := requireTitle(input.Title, "title")
	if err != nil {
		return store.Card{}, err
	}
	if strings.TrimSpace(input.ColumnID) == "" {
		return store.Card{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "columnId is required", nil)
	}
	grant, err := s.authorize(ctx, caller, boardID, access.PermEdit)
	if err != nil {
		return store.Card{}, err
	}

	actorID, _ := actorOf(grant)
	now := s.now()
	card := store.Card{
		ID:          util.NewID("crd"),
		BoardID:     boardID,
		ColumnID:    input.ColumnID,
		SwimlaneID:  input.SwimlaneID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		DueAt:       input.DueAt,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := columnOnBoard(ctx, tx, boardID, card.ColumnID); err != nil {
			recordMove(store.KindCard, err)
			return nil, err
		}
		if err := swimlaneOnBoard(ctx, tx, boardID, card.SwimlaneID); err != nil {
			return nil, err
		}
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindCard,
			ItemID:        card.ID,
			TargetScopeID: card.ColumnID,
			AfterID:       input.AfterID,
		})
		if err != nil {
			return nil, err
		}
		card.Position = placement.Position
		if err := tx.CreateCard(ctx, card); err != nil {
			return nil, err
		}
		return realtime.CardCreated{Card: card}, nil
	})
	if err != nil {
		return store.Card{}, err
	}
	s.search.IndexCard(card)
	return card, nil
}

// UpdateCard edits card fields. Unarchiving re-enters the card's column and
// is subject to its WIP limit.
func (s *Service) UpdateCard(ctx context.Context, caller Caller, boardID, cardID string, patch CardPatch) (store.Card, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Card{}, err
	}

	var card store.Card
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		card, err = cardOnBoard(ctx, tx, boardID, cardID)
		if err != nil {
			return nil, err
		}
		if patch.Title != nil {
			if card.Title, err = requireTitle(*patch.Title, "title"); err != nil {
				return nil, err
			}
		}
		if patch.Description != nil {
			card.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.DueAt.Set {
			card.DueAt = patch.DueAt.Value
		}
		if patch.SwimlaneID.Set {
			if err := swimlaneOnBoard(ctx, tx, boardID, patch.SwimlaneID.Value); err != nil {
				return nil, err
			}
			card.SwimlaneID = patch.SwimlaneID.Value
		}
		if patch.Archived != nil {
			if card.Archived && !*patch.Archived {
				if err := tx.LockScope(ctx, store.KindCard, card.ColumnID); err != nil {
					return nil, err
				}
				if err := moves.CheckCapacity(ctx, tx, card.ColumnID, card.ID); err != nil {
					return nil, err
				}
			}
			card.Archived = *patch.Archived
		}
		card.UpdatedAt = s.now()
		if err := tx.UpdateCard(ctx, card); err != nil {
			return nil, err
		}
		return realtime.CardUpdated{Card: card}, nil
	})
	if err != nil {
		return store.Card{}, err
	}
	s.search.IndexCard(card)
	return card, nil
}

// MoveCard repositions a card inside its column or into another column of the
// same board, optionally changing its swimlane in the same step.
func (s *Service) MoveCard(ctx context.Context, caller Caller, boardID, cardID string, input MoveInput) (store.Card, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Card{}, err
	}

	var card store.Card
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		card, err = cardOnBoard(ctx, tx, boardID, cardID)
		if err != nil {
			return nil, err
		}
		target := input.TargetScopeID
		if target == "" {
			target = card.ColumnID
		}
		if target != card.ColumnID {
			if _, err := columnOnBoard(ctx, tx, boardID, target); err != nil {
				recordMove(store.KindCard, err)
				return nil, err
			}
		}
		if input.SwimlaneID.Set {
			if err := swimlaneOnBoard(ctx, tx, boardID, input.SwimlaneID.Value); err != nil {
				return nil, err
			}
		}
		placement, err := resolvePlacement(ctx, tx, moves.Request{
			Kind:          store.KindCard,
			ItemID:        card.ID,
			SourceScopeID: card.ColumnID,
			TargetScopeID: target,
			AfterID:       input.AfterID,
			Archived:      card.Archived,
		})
		if err != nil {
			return nil, err
		}
		from := card.ColumnID
		card.ColumnID = placement.ScopeID
		card.Position = placement.Position
		if input.SwimlaneID.Set {
			card.SwimlaneID = input.SwimlaneID.Value
		}
		card.UpdatedAt = s.now()
		if err := tx.UpdateCard(ctx, card); err != nil {
			return nil, err
		}
		return realtime.CardMoved{Card: card, FromColumnID: from}, nil
	})
	if err != nil {
		return store.Card{}, err
	}
	s.search.IndexCard(card)
	return card, nil
}

func (s *Service) DeleteCard(ctx context.Context, caller Caller, boardID, cardID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	var objectKeys []string
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		card, err := cardOnBoard(ctx, tx, boardID, cardID)
		if err != nil {
			return nil, err
		}
		files, err := tx.ListAttachments(ctx, cardID)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			objectKeys = append(objectKeys, file.ObjectKey)
		}
		if err := tx.DeleteCard(ctx, cardID); err != nil {
			return nil, err
		}
		return realtime.CardDeleted{BoardID: boardID, ColumnID: card.ColumnID, CardID: cardID}, nil
	})
	if err != nil {
		return err
	}
	s.search.DeleteCards(cardID)
	s.removeObjects(context.WithoutCancel(ctx), objectKeys...)
	return nil
}
