package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"corkboard/internal/auth"
	"corkboard/internal/metrics"
	"corkboard/internal/rbac"
	"corkboard/internal/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrShareExpired = errors.New("share expired")
)

// errUnknownShare lets a bearer credential take over when the share token
// does not resolve.
var errUnknownShare = fmt.Errorf("%w: unknown share token", ErrUnauthorized)

// Gate turns credentials into a Grant for one board. It reads through the
// store, so it must not be called from inside a store transaction.
type Gate struct {
	store    store.Store
	resolver CredentialResolver
	now      func() time.Time
}

func NewGate(s store.Store, resolver CredentialResolver) *Gate {
	return &Gate{store: s, resolver: resolver, now: time.Now}
}

// WithClock replaces the gate's time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Now() time.Time {
	return g.now()
}

// Authorize resolves creds for boardID. A share token is tried first; the
// bearer credential is used when no share token is given or the token is
// unknown.
func (g *Gate) Authorize(ctx context.Context, boardID string, creds Credentials) (Grant, error) {
	grant, err := g.authorize(ctx, boardID, creds)
	metrics.AccessDecisionsTotal.WithLabelValues(decisionOutcome(err)).Inc()
	return grant, err
}

func (g *Gate) authorize(ctx context.Context, boardID string, creds Credentials) (Grant, error) {
	if creds.ShareToken != "" {
		grant, err := g.fromShareToken(ctx, boardID, creds)
		if errors.Is(err, errUnknownShare) && creds.Bearer != "" {
			return g.fromAccount(ctx, boardID, creds.Bearer)
		}
		return grant, err
	}
	return g.fromAccount(ctx, boardID, creds.Bearer)
}

// fromShareToken checks a link share in this order: existence and revocation,
// then password, then expiry, then the requested board. A caller without the
// password learns nothing about the share's expiry or scope.
func (g *Gate) fromShareToken(ctx context.Context, boardID string, creds Credentials) (Grant, error) {
	var share store.Share
	err := g.store.View(ctx, func(tx store.Tx) error {
		var err error
		share, err = tx.GetShareByTokenHash(ctx, auth.HashToken(creds.ShareToken))
		if errors.Is(err, sql.ErrNoRows) {
			return errUnknownShare
		}
		if err != nil {
			return fmt.Errorf("lookup share: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if share.RevokedAt != nil {
		return nil, errUnknownShare
	}
	if share.HasPassword() {
		if bcrypt.CompareHashAndPassword([]byte(share.PasswordHash), []byte(creds.SharePassword)) != nil {
			return nil, fmt.Errorf("%w: share password mismatch", ErrUnauthorized)
		}
	}
	if share.ExpiresAt != nil && !g.now().Before(*share.ExpiresAt) {
		return nil, ErrShareExpired
	}

	perm, err := ParsePermission(share.Permission)
	if err != nil {
		return nil, fmt.Errorf("share %s: %w", share.ID, err)
	}
	var board store.Board
	err = g.store.View(ctx, func(tx store.Tx) error {
		var err error
		board, err = tx.GetBoard(ctx, boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("lookup board: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !share.Covers(board.ID, board.TeamID) {
		return nil, ErrForbidden
	}
	return ShareGrant{
		ShareID:   share.ID,
		BoardID:   board.ID,
		TeamID:    board.TeamID,
		Perm:      perm,
		ExpiresAt: share.ExpiresAt,
	}, nil
}

func (g *Gate) fromAccount(ctx context.Context, boardID, bearer string) (Grant, error) {
	identity, err := g.resolver.Resolve(ctx, bearer)
	if err != nil {
		if IsCredentialError(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	var grant Grant
	err = g.store.View(ctx, func(tx store.Tx) error {
		board, err := tx.GetBoard(ctx, boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("lookup board: %w", err)
		}

		member, err := tx.GetTeamMember(ctx, board.TeamID, identity.UserID)
		if err == nil {
			grant = AccountGrant{
				UserID:   identity.UserID,
				UserName: identity.UserName,
				BoardID:  board.ID,
				TeamID:   board.TeamID,
				Role:     rbac.Normalize(member.Role),
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup team member: %w", err)
		}

		shares, err := tx.ListUserShares(ctx, identity.UserID)
		if err != nil {
			return fmt.Errorf("list user shares: %w", err)
		}
		grant, err = bestUserShare(shares, board, identity, g.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// bestUserShare picks the strongest live share covering board. Only expired
// covering shares yield ErrShareExpired.
func bestUserShare(shares []store.Share, board store.Board, identity Identity, now time.Time) (Grant, error) {
	var best *ShareGrant
	expired := false
	for _, share := range shares {
		if !share.Covers(board.ID, board.TeamID) {
			continue
		}
		perm, err := ParsePermission(share.Permission)
		if err != nil {
			continue
		}
		candidate := ShareGrant{
			ShareID:   share.ID,
			BoardID:   board.ID,
			TeamID:    board.TeamID,
			UserID:    identity.UserID,
			UserName:  identity.UserName,
			Perm:      perm,
			ExpiresAt: share.ExpiresAt,
		}
		if candidate.Expired(now) {
			expired = true
			continue
		}
		if best == nil || candidate.Perm > best.Perm {
			best = &candidate
		}
	}
	switch {
	case best != nil:
		return *best, nil
	case expired:
		return nil, ErrShareExpired
	default:
		return nil, ErrForbidden
	}
}

// Require rejects grants below min.
func Require(grant Grant, min Permission) error {
	if grant == nil || grant.Permission() < min {
		return ErrForbidden
	}
	return nil
}

// RequireRole admits only team members whose role allows action.
func RequireRole(grant Grant, action rbac.Action) error {
	account, ok := grant.(AccountGrant)
	if !ok || !rbac.Can(account.Role, action) {
		return ErrForbidden
	}
	return nil
}

func decisionOutcome(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, ErrShareExpired):
		return "share_expired"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
