package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"corkboard/internal/access"
	"corkboard/internal/rbac"
	"corkboard/internal/realtime"
	"corkboard/internal/store"
	"corkboard/internal/util"
)

// BoardSnapshot is everything a client needs to render a board.
type BoardSnapshot struct {
	Board      store.Board          `json:"board"`
	Columns    []store.Column       `json:"columns"`
	Swimlanes  []store.Swimlane     `json:"swimlanes"`
	Cards      []store.Card         `json:"cards"`
	Labels     []store.Label        `json:"labels"`
	CardLabels []store.CardLabel    `json:"cardLabels"`
	Assignees  []store.CardAssignee `json:"assignees"`
	Comments   []store.Comment      `json:"comments"`
	Permission string               `json:"permission"`
}

type BoardPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Archived    *bool   `json:"archived"`
}

// teamRole returns the caller's role in teamID. Non-members are forbidden.
func (s *Service) teamRole(ctx context.Context, teamID, userID string) (rbac.Role, error) {
	var member store.TeamMember
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		member, err = tx.GetTeamMember(ctx, teamID, userID)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrForbidden
	}
	if err != nil {
		return "", err
	}
	return rbac.Normalize(member.Role), nil
}

func (s *Service) requireTeamAction(ctx context.Context, teamID, userID string, action rbac.Action) error {
	role, err := s.teamRole(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return access.ErrForbidden
	}
	return nil
}

func (s *Service) CreateTeam(ctx context.Context, current Session, name string) (store.Team, error) {
	teamName, err := requireTitle(name, "name")
	if err != nil {
		return store.Team{}, err
	}
	team := store.Team{ID: util.NewID("team"), Name: teamName, CreatedAt: s.now()}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			return err
		}
		return tx.UpsertTeamMember(ctx, store.TeamMember{TeamID: team.ID, UserID: current.UserID, Role: string(rbac.RoleAdmin)})
	})
	if err != nil {
		return store.Team{}, err
	}
	team.Role = string(rbac.RoleAdmin)
	return team, nil
}

func (s *Service) ListTeams(ctx context.Context, current Session) ([]store.Team, error) {
	var teams []store.Team
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		teams, err = tx.ListTeamsForUser(ctx, current.UserID)
		return err
	})
	return teams, err
}

func (s *Service) ListTeamMembers(ctx context.Context, current Session, teamID string) ([]store.TeamMember, error) {
	if _, err := s.teamRole(ctx, teamID, current.UserID); err != nil {
		return nil, err
	}
	var members []store.TeamMember
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		members, err = tx.ListTeamMembers(ctx, teamID)
		return err
	})
	return members, err
}

// AddTeamMember adds or re-roles a user, identified by id or by display name.
func (s *Service) AddTeamMember(ctx context.Context, current Session, teamID, userID, userName, role string) (store.TeamMember, error) {
	if !rbac.Valid(role) {
		return store.TeamMember{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be viewer, commenter, editor or admin", nil)
	}
	userID = strings.TrimSpace(userID)
	userName = strings.TrimSpace(userName)
	if userID == "" && userName == "" {
		return store.TeamMember{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId or userName is required", nil)
	}
	if err := s.requireTeamAction(ctx, teamID, current.UserID, rbac.ActionManage); err != nil {
		return store.TeamMember{}, err
	}

	var member store.TeamMember
	err := s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var user store.User
		var err error
		if userID != "" {
			user, err = tx.GetUser(ctx, userID)
		} else {
			user, err = tx.EnsureUserByName(ctx, userName)
		}
		if err != nil {
			return err
		}
		member = store.TeamMember{TeamID: teamID, UserID: user.ID, UserName: user.DisplayName, Role: role}
		return tx.UpsertTeamMember(ctx, member)
	})
	if err != nil {
		return store.TeamMember{}, err
	}
	return member, nil
}

func (s *Service) ListBoards(ctx context.Context, current Session, teamID string) ([]store.Board, error) {
	if _, err := s.teamRole(ctx, teamID, current.UserID); err != nil {
		return nil, err
	}
	var boards []store.Board
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		boards, err = tx.ListBoards(ctx, teamID)
		return err
	})
	return boards, err
}

func (s *Service) CreateBoard(ctx context.Context, current Session, teamID, title, description string) (store.Board, error) {
	boardTitle, err := requireTitle(title, "title")
	if err != nil {
		return store.Board{}, err
	}
	if err := s.requireTeamAction(ctx, teamID, current.UserID, rbac.ActionEdit); err != nil {
		return store.Board{}, err
	}
	now := s.now()
	board := store.Board{
		ID:          util.NewID("brd"),
		TeamID:      teamID,
		Title:       boardTitle,
		Description: strings.TrimSpace(description),
		CreatedBy:   current.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBoard(ctx, board)
	})
	if err != nil {
		return store.Board{}, err
	}
	return board, nil
}

func (s *Service) GetBoard(ctx context.Context, caller Caller, boardID string) (BoardSnapshot, error) {
	grant, err := s.authorize(ctx, caller, boardID, access.PermRead)
	if err != nil {
		return BoardSnapshot{}, err
	}
	snapshot := BoardSnapshot{Permission: grant.Permission().String()}
	err = s.store.View(ctx, func(tx store.Tx) error {
		var err error
		if snapshot.Board, err = tx.GetBoard(ctx, boardID); err != nil {
			return err
		}
		if snapshot.Columns, err = tx.ListColumns(ctx, boardID); err != nil {
			return err
		}
		if snapshot.Swimlanes, err = tx.ListSwimlanes(ctx, boardID); err != nil {
			return err
		}
		if snapshot.Cards, err = tx.ListCards(ctx, boardID); err != nil {
			return err
		}
		if snapshot.Labels, err = tx.ListLabels(ctx, boardID); err != nil {
			return err
		}
		if snapshot.CardLabels, err = tx.ListCardLabels(ctx, boardID); err != nil {
			return err
		}
		if snapshot.Assignees, err = tx.ListAssignees(ctx, boardID); err != nil {
			return err
		}
		snapshot.Comments, err = tx.ListComments(ctx, boardID)
		return err
	})
	if err != nil {
		return BoardSnapshot{}, err
	}
	return snapshot, nil
}

func (s *Service) UpdateBoard(ctx context.Context, caller Caller, boardID string, patch BoardPatch) (store.Board, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Board{}, err
	}
	var board store.Board
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		var err error
		board, err = tx.GetBoard(ctx, boardID)
		if err != nil {
			return nil, err
		}
		if patch.Title != nil {
			if board.Title, err = requireTitle(*patch.Title, "title"); err != nil {
				return nil, err
			}
		}
		if patch.Description != nil {
			board.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Archived != nil {
			board.Archived = *patch.Archived
		}
		board.UpdatedAt = s.now()
		if err := tx.UpdateBoard(ctx, board); err != nil {
			return nil, err
		}
		return realtime.BoardUpdated{Board: board}, nil
	})
	if err != nil {
		return store.Board{}, err
	}
	return board, nil
}

// DeleteBoard removes the board and everything on it, then closes its room.
func (s *Service) DeleteBoard(ctx context.Context, caller Caller, boardID string) error {
	grant, err := s.authorize(ctx, caller, boardID, access.PermRead)
	if err != nil {
		return err
	}
	if err := access.RequireRole(grant, rbac.ActionManage); err != nil {
		return err
	}

	var cardIDs []string
	var objectKeys []string
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		cards, err := tx.ListCards(ctx, boardID)
		if err != nil {
			return nil, err
		}
		for _, card := range cards {
			cardIDs = append(cardIDs, card.ID)
			files, err := tx.ListAttachments(ctx, card.ID)
			if err != nil {
				return nil, err
			}
			for _, file := range files {
				objectKeys = append(objectKeys, file.ObjectKey)
			}
		}
		if err := tx.DeleteBoard(ctx, boardID); err != nil {
			return nil, err
		}
		return realtime.BoardDeleted{BoardID: boardID}, nil
	})
	if err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.CloseRoom(boardID)
	}
	s.search.DeleteCards(cardIDs...)
	s.removeObjects(context.WithoutCancel(ctx), objectKeys...)
	return nil
}
