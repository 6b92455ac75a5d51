package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"corkboard/internal/access"
	"corkboard/internal/attachments"
	"corkboard/internal/auth"
	"corkboard/internal/config"
	"corkboard/internal/logging"
	"corkboard/internal/metrics"
	"corkboard/internal/moves"
	"corkboard/internal/ordering"
	"corkboard/internal/realtime"
	"corkboard/internal/search"
	"corkboard/internal/session"
	"corkboard/internal/store"
	"corkboard/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// Caller carries the credentials of one request and the realtime connection
// that issued it, if any. That connection does not receive the resulting event.
type Caller struct {
	Credentials  access.Credentials
	ConnectionID string
}

// Deps are the collaborators a Service is wired with.
type Deps struct {
	Store       store.Store
	Gate        *access.Gate
	Resolver    access.CredentialResolver
	Hub         *realtime.Hub
	Sessions    session.Store
	Search      *search.Service
	Attachments attachments.Store
}

type Service struct {
	cfg         config.Config
	store       store.Store
	gate        *access.Gate
	resolver    access.CredentialResolver
	hub         *realtime.Hub
	sessions    session.Store
	search      *search.Service
	attachments attachments.Store
	logger      zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	resolver := deps.Resolver
	if resolver == nil {
		resolver = access.TokenResolver{Secret: []byte(cfg.JWTSecret), Store: deps.Store}
	}
	gate := deps.Gate
	if gate == nil {
		gate = access.NewGate(deps.Store, resolver)
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.DatabaseStore{Store: deps.Store}
	}
	searcher := deps.Search
	if searcher == nil {
		searcher = search.NewService(nil, search.StoreSearcher{Store: deps.Store})
	}
	files := deps.Attachments
	if files == nil {
		files = attachments.Disabled{}
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		gate:        gate,
		resolver:    resolver,
		hub:         deps.Hub,
		sessions:    sessions,
		search:      searcher,
		attachments: files,
		logger:      logging.WithComponent("app"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

func (s *Service) now() time.Time {
	return s.gate.Now().UTC()
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	var user store.User
	err := s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		user, err = tx.EnsureUserByName(ctx, userName)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.userByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	identity, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.userByID(ctx, identity.UserID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       identity.TokenID,
		ExpiresAt: identity.ExpiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, current Session, refreshToken string) error {
	if current.JTI != "" {
		err := s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.RevokeAccessToken(ctx, current.JTI, current.ExpiresAt)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", current.UserID).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn().Err(err).Msg("revoke refresh session")
		}
	}
	return nil
}

func (s *Service) userByID(ctx context.Context, userID string) (store.User, error) {
	var user store.User
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	return user, err
}

// authorize resolves the caller's grant for boardID and rejects it below min.
// It reads through the store and must run before any transaction opens.
func (s *Service) authorize(ctx context.Context, caller Caller, boardID string, min access.Permission) (access.Grant, error) {
	grant, err := s.gate.Authorize(ctx, boardID, caller.Credentials)
	if err != nil {
		return nil, err
	}
	if err := access.Require(grant, min); err != nil {
		return nil, err
	}
	return grant, nil
}

// withTx runs fn in one transaction detached from the request's cancellation.
// fn must use the context it is given for every store call.
func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	txCtx := context.WithoutCancel(ctx)
	return s.store.WithTx(txCtx, func(tx store.Tx) error {
		return fn(txCtx, tx)
	})
}

// mutate runs fn in one transaction and reserves a delivery slot in boardID's
// room before the transaction commits, while fn's scope lock is still held.
// The returned event is published after commit; on failure the slot is
// released. Once started, the transaction is not cancelled with the request.
func (s *Service) mutate(ctx context.Context, caller Caller, boardID string, fn func(ctx context.Context, tx store.Tx) (realtime.Event, error)) error {
	var (
		ticket *realtime.Ticket
		event  realtime.Event
	)
	err := s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ev, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		event = ev
		if s.hub != nil && ev != nil {
			ticket = s.hub.Reserve(boardID)
		}
		return nil
	})
	if err != nil {
		if ticket != nil {
			ticket.Cancel()
		}
		return err
	}
	if ticket != nil {
		ticket.Publish(event, caller.ConnectionID)
	}
	return nil
}

// notify pushes notifications to their users after the creating transaction committed.
func (s *Service) notify(items []store.Notification) {
	if s.hub == nil {
		return
	}
	for _, n := range items {
		s.hub.NotifyUser(n.UserID, realtime.NotificationCreated{Notification: n})
	}
}

func recordMove(kind store.ItemKind, err error) {
	metrics.MovesTotal.WithLabelValues(string(kind), moveOutcome(err)).Inc()
}

func moveOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, moves.ErrAnchorNotFound):
		return "anchor_not_found"
	case errors.Is(err, moves.ErrWipLimitExceeded):
		return "wip_limit_exceeded"
	case errors.Is(err, moves.ErrScopeNotFound):
		return "scope_not_found"
	case errors.Is(err, ordering.ErrOrderingExhausted):
		return "ordering_exhausted"
	default:
		return "error"
	}
}

func actorOf(grant access.Grant) (id, name string) {
	if userID, userName, ok := access.UserOf(grant); ok {
		return userID, userName
	}
	return grant.Subject(), "Guest"
}

func requireTitle(title, field string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("%s is required", field), nil)
	}
	return trimmed, nil
}
