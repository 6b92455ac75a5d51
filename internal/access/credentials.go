package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"corkboard/internal/auth"
	"corkboard/internal/store"
)

// Credentials are carried out-of-band from the request body.
type Credentials struct {
	Bearer        string
	ShareToken    string
	SharePassword string
}

func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.ShareToken == ""
}

// Identity is a verified session credential.
type Identity struct {
	UserID    string
	UserName  string
	TokenID   string
	ExpiresAt time.Time
}

// CredentialResolver verifies a bearer credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, bearer string) (Identity, error)
}

// TokenResolver verifies signed session tokens and rejects revoked ones.
type TokenResolver struct {
	Secret []byte
	Store  store.Store
}

func (r TokenResolver) Resolve(ctx context.Context, bearer string) (Identity, error) {
	if bearer == "" {
		return Identity{}, ErrUnauthorized
	}
	claims, err := auth.ParseToken(r.Secret, bearer)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	var revoked bool
	if err := r.Store.View(ctx, func(tx store.Tx) error {
		var err error
		revoked, err = tx.IsAccessTokenRevoked(ctx, claims.JTI)
		return err
	}); err != nil {
		return Identity{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, auth.ErrInvalidToken)
	}
	return Identity{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		TokenID:   claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

// IsCredentialError reports whether err means the caller must re-authenticate.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken)
}
