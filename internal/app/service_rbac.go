package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"corkboard/internal/access"
	"corkboard/internal/auth"
	"corkboard/internal/rbac"
	"corkboard/internal/realtime"
	"corkboard/internal/search"
	"corkboard/internal/store"
	"corkboard/internal/util"
)

// ShareInput creates a link share when UserID is empty, otherwise a share
// bound to that user. TeamWide shares cover every board of the team.
type ShareInput struct {
	Permission string     `json:"permission"`
	UserID     string     `json:"userId"`
	TeamWide   bool       `json:"teamWide"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Password   string     `json:"password"`
}

// ShareView is a share as shown to board admins. Token is only set right
// after a link share is created; it is never stored in clear.
type ShareView struct {
	store.Share
	HasPassword bool   `json:"hasPassword"`
	Token       string `json:"token,omitempty"`
	URL         string `json:"url,omitempty"`
}

func shareView(share store.Share) ShareView {
	return ShareView{Share: share, HasPassword: share.HasPassword()}
}

// requireManager authorizes board administration: shares, deletion.
func (s *Service) requireManager(ctx context.Context, caller Caller, boardID string) (access.AccountGrant, error) {
	grant, err := s.authorize(ctx, caller, boardID, access.PermRead)
	if err != nil {
		return access.AccountGrant{}, err
	}
	if err := access.RequireRole(grant, rbac.ActionManage); err != nil {
		return access.AccountGrant{}, err
	}
	return grant.(access.AccountGrant), nil
}

func (s *Service) CreateShare(ctx context.Context, caller Caller, boardID string, input ShareInput) (ShareView, error) {
	perm, err := access.ParsePermission(strings.TrimSpace(input.Permission))
	if err != nil {
		return ShareView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "permission must be read, comment or edit", nil)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return ShareView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "expiresAt must be in the future", nil)
	}
	userID := strings.TrimSpace(input.UserID)
	if userID != "" && input.Password != "" {
		return ShareView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "only link shares can carry a password", nil)
	}
	grant, err := s.requireManager(ctx, caller, boardID)
	if err != nil {
		return ShareView{}, err
	}

	share := store.Share{
		ID:         util.NewID("shr"),
		TeamID:     grant.TeamID,
		Permission: perm.String(),
		ExpiresAt:  input.ExpiresAt,
		CreatedBy:  grant.UserID,
		CreatedAt:  s.now(),
	}
	if !input.TeamWide {
		share.BoardID = &boardID
	}
	var token string
	if userID != "" {
		share.UserID = &userID
	} else {
		token = util.NewToken()
		share.TokenHash = auth.HashToken(token)
		if input.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
			if err != nil {
				return ShareView{}, fmt.Errorf("hash share password: %w", err)
			}
			share.PasswordHash = string(hash)
		}
	}

	var notifications []store.Notification
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if userID != "" {
			if _, err := tx.GetUser(ctx, userID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown user", nil)
				}
				return err
			}
		}
		if err := tx.CreateShare(ctx, share); err != nil {
			return err
		}
		if userID != "" && userID != grant.UserID {
			n, err := s.createNotification(ctx, tx, userID, NotificationShared, boardID, nil,
				fmt.Sprintf("%s shared a board with you", grant.UserName))
			if err != nil {
				return err
			}
			notifications = append(notifications, n)
		}
		return nil
	})
	if err != nil {
		return ShareView{}, err
	}
	s.notify(notifications)

	view := shareView(share)
	if token != "" {
		view.Token = token
		view.URL = "/share/" + token
	}
	return view, nil
}

// ListShares returns the live shares covering boardID, team-wide ones included.
func (s *Service) ListShares(ctx context.Context, caller Caller, boardID string) ([]ShareView, error) {
	grant, err := s.requireManager(ctx, caller, boardID)
	if err != nil {
		return nil, err
	}
	var shares []store.Share
	err = s.store.View(ctx, func(tx store.Tx) error {
		var err error
		shares, err = tx.ListShares(ctx, grant.TeamID, boardID)
		return err
	})
	if err != nil {
		return nil, err
	}
	views := make([]ShareView, 0, len(shares))
	for _, share := range shares {
		views = append(views, shareView(share))
	}
	return views, nil
}

// RevokeShare revokes the share and evicts every connection admitted through it.
func (s *Service) RevokeShare(ctx context.Context, caller Caller, boardID, shareID string) error {
	grant, err := s.requireManager(ctx, caller, boardID)
	if err != nil {
		return err
	}
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		share, err := tx.GetShare(ctx, shareID)
		if err != nil {
			return nil, err
		}
		if !share.Covers(boardID, grant.TeamID) {
			return nil, sql.ErrNoRows
		}
		if err := tx.RevokeShare(ctx, shareID, s.now()); err != nil {
			return nil, err
		}
		return realtime.ShareRevoked{BoardID: boardID, ShareID: shareID}, nil
	})
	if err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.EvictShare(shareID)
	}
	return nil
}

// PublicShare returns the board snapshot behind a link share. boardID is only
// needed for team-wide shares.
func (s *Service) PublicShare(ctx context.Context, token, password, boardID string) (BoardSnapshot, error) {
	if boardID == "" {
		var share store.Share
		err := s.store.View(ctx, func(tx store.Tx) error {
			var err error
			share, err = tx.GetShareByTokenHash(ctx, auth.HashToken(token))
			return err
		})
		if errors.Is(err, sql.ErrNoRows) {
			return BoardSnapshot{}, access.ErrUnauthorized
		}
		if err != nil {
			return BoardSnapshot{}, err
		}
		if share.BoardID == nil {
			return BoardSnapshot{}, domainError(http.StatusUnprocessableEntity, "BOARD_REQUIRED", "board query parameter is required for team-wide shares", nil)
		}
		boardID = *share.BoardID
	}
	creds := access.Credentials{ShareToken: token, SharePassword: password}
	return s.GetBoard(ctx, Caller{Credentials: creds}, boardID)
}

// notifications

func (s *Service) createNotification(ctx context.Context, tx store.Tx, userID, kind, boardID string, cardID *string, message string) (store.Notification, error) {
	n := store.Notification{
		ID:        util.NewID("ntf"),
		UserID:    userID,
		Kind:      kind,
		BoardID:   boardID,
		CardID:    cardID,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := tx.CreateNotification(ctx, n); err != nil {
		return store.Notification{}, err
	}
	return n, nil
}

func (s *Service) ListNotifications(ctx context.Context, current Session, limit int) ([]store.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []store.Notification
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.ListNotifications(ctx, current.UserID, limit)
		return err
	})
	return items, err
}

// MarkNotificationRead only touches the caller's own notifications; others
// look missing.
func (s *Service) MarkNotificationRead(ctx context.Context, current Session, notificationID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkNotificationRead(ctx, notificationID, current.UserID, s.now())
	})
}

// search

const maxSearchLimit = 100

func (s *Service) SearchCards(ctx context.Context, caller Caller, boardID string, q search.Query) (search.Response, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermRead); err != nil {
		return search.Response{}, err
	}
	q.BoardID = boardID
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit < 1 || q.Limit > maxSearchLimit {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit), nil)
	}
	if q.Offset < 0 {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must not be negative", nil)
	}
	if q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// realtime rooms

func (s *Service) JoinRoom(ctx context.Context, connID, boardID string, creds access.Credentials) (access.Grant, error) {
	if s.hub == nil {
		return nil, realtime.ErrClosed
	}
	return s.hub.JoinBoardRoom(ctx, connID, boardID, creds)
}

func (s *Service) LeaveRoom(ctx context.Context, connID, boardID string, creds access.Credentials) error {
	if s.hub == nil {
		return realtime.ErrClosed
	}
	return s.hub.LeaveBoardRoom(ctx, connID, boardID, creds)
}
