package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"corkboard/internal/auth"
	"corkboard/internal/rbac"
	"corkboard/internal/store"
)

var testSecret = []byte("gate-test-secret")

type gateFixture struct {
	store *store.MemoryStore
	gate  *Gate
	now   time.Time
	users map[string]string
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := map[string]string{}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for _, name := range []string{"admin", "viewer", "guest"} {
			user, err := tx.EnsureUserByName(ctx, name)
			if err != nil {
				return err
			}
			users[name] = user.ID
		}
		for _, team := range []string{"team-a", "team-b"} {
			if err := tx.CreateTeam(ctx, store.Team{ID: team, Name: team, CreatedAt: now}); err != nil {
				return err
			}
		}
		for _, board := range []store.Board{
			{ID: "board-a1", TeamID: "team-a", Title: "A1", CreatedAt: now, UpdatedAt: now},
			{ID: "board-a2", TeamID: "team-a", Title: "A2", CreatedAt: now, UpdatedAt: now},
			{ID: "board-b1", TeamID: "team-b", Title: "B1", CreatedAt: now, UpdatedAt: now},
		} {
			if err := tx.CreateBoard(ctx, board); err != nil {
				return err
			}
		}
		for _, member := range []store.TeamMember{
			{TeamID: "team-a", UserID: users["admin"], Role: string(rbac.RoleAdmin)},
			{TeamID: "team-a", UserID: users["viewer"], Role: string(rbac.RoleViewer)},
		} {
			if err := tx.UpsertTeamMember(ctx, member); err != nil {
				return err
			}
		}
		return nil
	}))
	gate := NewGate(s, TokenResolver{Secret: testSecret, Store: s}).WithClock(func() time.Time { return now })
	return &gateFixture{store: s, gate: gate, now: now, users: users}
}

func (f *gateFixture) bearer(t *testing.T, name string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, auth.Claims{
		Sub:  f.users[name],
		Name: name,
		JTI:  "jti-" + name,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func (f *gateFixture) share(t *testing.T, share store.Share) {
	t.Helper()
	ctx := context.Background()
	share.CreatedAt = f.now
	share.CreatedBy = f.users["admin"]
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateShare(ctx, share)
	}))
}

func strPtr(v string) *string { return &v }

func TestAuthorizeTeamMember(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	grant, err := f.gate.Authorize(ctx, "board-a1", Credentials{Bearer: f.bearer(t, "admin")})
	require.NoError(t, err)
	account, ok := grant.(AccountGrant)
	require.True(t, ok)
	assert.Equal(t, rbac.RoleAdmin, account.Role)
	assert.Equal(t, PermEdit, grant.Permission())
	assert.Equal(t, "team-a", grant.Team())
	assert.NoError(t, RequireRole(grant, rbac.ActionManage))

	grant, err = f.gate.Authorize(ctx, "board-a1", Credentials{Bearer: f.bearer(t, "viewer")})
	require.NoError(t, err)
	assert.Equal(t, PermRead, grant.Permission())
	assert.ErrorIs(t, Require(grant, PermComment), ErrForbidden)
	assert.ErrorIs(t, RequireRole(grant, rbac.ActionManage), ErrForbidden)
}

func TestAuthorizeAccountFailures(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Authorize(ctx, "board-a1", Credentials{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{Bearer: "garbage"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.gate.Authorize(ctx, "board-b1", Credentials{Bearer: f.bearer(t, "admin")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.gate.Authorize(ctx, "missing", Credentials{Bearer: f.bearer(t, "admin")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeRevokedAccessToken(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	token := f.bearer(t, "admin")

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.RevokeAccessToken(ctx, "jti-admin", time.Now().Add(time.Hour))
	}))
	_, err := f.gate.Authorize(ctx, "board-a1", Credentials{Bearer: token})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizeShareToken(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.share(t, store.Share{ID: "shr_board", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("board-token"), Permission: "read"})
	f.share(t, store.Share{ID: "shr_team", TeamID: "team-a", TokenHash: auth.HashToken("team-token"), Permission: "comment"})

	grant, err := f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "board-token"})
	require.NoError(t, err)
	assert.Equal(t, PermRead, grant.Permission())
	assert.Equal(t, "share:shr_board", grant.Subject())
	assert.ErrorIs(t, Require(grant, PermEdit), ErrForbidden)
	_, _, hasUser := UserOf(grant)
	assert.False(t, hasUser)

	_, err = f.gate.Authorize(ctx, "board-a2", Credentials{ShareToken: "board-token"})
	assert.ErrorIs(t, err, ErrForbidden)

	grant, err = f.gate.Authorize(ctx, "board-a2", Credentials{ShareToken: "team-token"})
	require.NoError(t, err)
	assert.Equal(t, PermComment, grant.Permission())

	_, err = f.gate.Authorize(ctx, "board-b1", Credentials{ShareToken: "team-token"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeExpiredShareIsDistinctFromUnknown(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Minute)
	f.share(t, store.Share{ID: "shr_old", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("old-token"), Permission: "edit", ExpiresAt: &past})

	_, err := f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "old-token"})
	assert.ErrorIs(t, err, ErrShareExpired)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "no-such-token"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrShareExpired)

	// an expired share is not rescued by a bearer credential
	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "old-token", Bearer: f.bearer(t, "admin")})
	assert.ErrorIs(t, err, ErrShareExpired)
}

func TestAuthorizeUnknownShareFallsBackToBearer(t *testing.T) {
	f := newGateFixture(t)
	grant, err := f.gate.Authorize(context.Background(), "board-a1", Credentials{ShareToken: "stale", Bearer: f.bearer(t, "admin")})
	require.NoError(t, err)
	assert.IsType(t, AccountGrant{}, grant)
}

func TestAuthorizeRevokedShare(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.share(t, store.Share{ID: "shr_gone", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("gone"), Permission: "read"})
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.RevokeShare(ctx, "shr_gone", f.now)
	}))

	_, err := f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "gone"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// a revoked token says nothing about boards it never covered
	_, err = f.gate.Authorize(ctx, "no-such-board", Credentials{ShareToken: "gone"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeSharePasswordPrecedesExpiryAndScope(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	past := f.now.Add(-time.Minute)
	f.share(t, store.Share{ID: "shr_pw_old", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("pw-old"),
		Permission: "read", PasswordHash: string(hash), ExpiresAt: &past})
	f.share(t, store.Share{ID: "shr_pw_live", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("pw-live"),
		Permission: "read", PasswordHash: string(hash)})

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "pw-old"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrShareExpired)

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "pw-old", SharePassword: "hunter2"})
	assert.ErrorIs(t, err, ErrShareExpired)

	_, err = f.gate.Authorize(ctx, "board-b1", Credentials{ShareToken: "pw-live", SharePassword: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrForbidden)

	_, err = f.gate.Authorize(ctx, "board-b1", Credentials{ShareToken: "pw-live", SharePassword: "hunter2"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeSharePassword(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	f.share(t, store.Share{ID: "shr_pw", TeamID: "team-a", BoardID: strPtr("board-a1"), TokenHash: auth.HashToken("pw-token"), Permission: "read", PasswordHash: string(hash)})

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "pw-token"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "pw-token", SharePassword: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{ShareToken: "pw-token", SharePassword: "hunter2"})
	assert.NoError(t, err)
}

func TestAuthorizeUserBoundShare(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Hour)
	f.share(t, store.Share{ID: "shr_user", TeamID: "team-b", BoardID: strPtr("board-b1"), UserID: strPtr(f.users["guest"]), Permission: "comment"})
	f.share(t, store.Share{ID: "shr_user_old", TeamID: "team-a", BoardID: strPtr("board-a1"), UserID: strPtr(f.users["guest"]), Permission: "edit", ExpiresAt: &past})

	grant, err := f.gate.Authorize(ctx, "board-b1", Credentials{Bearer: f.bearer(t, "guest")})
	require.NoError(t, err)
	assert.Equal(t, PermComment, grant.Permission())
	assert.Equal(t, f.users["guest"], grant.Subject())
	shareID, ok := ShareOf(grant)
	assert.True(t, ok)
	assert.Equal(t, "shr_user", shareID)
	assert.ErrorIs(t, RequireRole(grant, rbac.ActionRead), ErrForbidden)

	_, err = f.gate.Authorize(ctx, "board-a1", Credentials{Bearer: f.bearer(t, "guest")})
	assert.ErrorIs(t, err, ErrShareExpired)

	_, err = f.gate.Authorize(ctx, "board-a2", Credentials{Bearer: f.bearer(t, "guest")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestShareGrantExpiry(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	grant := ShareGrant{ShareID: "s", ExpiresAt: &at}
	assert.False(t, grant.Expired(at.Add(-time.Second)))
	assert.True(t, grant.Expired(at))
	assert.False(t, AccountGrant{}.Expired(at))
}

func TestParsePermissionOrder(t *testing.T) {
	read, err := ParsePermission("read")
	require.NoError(t, err)
	comment, err := ParsePermission("comment")
	require.NoError(t, err)
	edit, err := ParsePermission("edit")
	require.NoError(t, err)
	assert.Less(t, int(read), int(comment))
	assert.Less(t, int(comment), int(edit))

	_, err = ParsePermission("owner")
	assert.Error(t, err)
	assert.Equal(t, PermComment, RolePermission(rbac.RoleCommenter))
}
