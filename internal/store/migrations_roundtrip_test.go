package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

// openTestDatabase connects to CORKBOARD_TEST_DATABASE_URL on a freshly
// emptied public schema, skipping the test when the variable is unset.
func openTestDatabase(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CORKBOARD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CORKBOARD_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	return NewPostgresStore(db), ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	st, ctx := openTestDatabase(t)
	db := st.DB()

	applied, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	pending, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	assert.Empty(t, pending)

	reverted, err := RollbackMigrations(ctx, db, testMigrationsDir, 0)
	require.NoError(t, err)
	assert.Len(t, reverted, len(applied))
	assert.Equal(t, applied[len(applied)-1], reverted[0])

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'cards'`,
	).Scan(&tables))
	assert.Zero(t, tables)

	again, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	assert.Equal(t, applied, again)
}

func TestPostgresStoreListScopeComparesBytewise(t *testing.T) {
	st, ctx := openTestDatabase(t)
	_, err := ApplyMigrations(ctx, st.DB(), testMigrationsDir)
	require.NoError(t, err)

	now := time.Now().UTC()
	err = st.WithTx(ctx, func(tx Tx) error {
		owner, err := tx.EnsureUserByName(ctx, "Ada")
		if err != nil {
			return err
		}
		if err := tx.CreateTeam(ctx, Team{ID: "team_1", Name: "Core", CreatedAt: now}); err != nil {
			return err
		}
		board := Board{ID: "brd_1", TeamID: "team_1", Title: "Roadmap", CreatedBy: owner.ID, CreatedAt: now, UpdatedAt: now}
		if err := tx.CreateBoard(ctx, board); err != nil {
			return err
		}
		if err := tx.CreateColumn(ctx, Column{ID: "col_1", BoardID: board.ID, Title: "Todo", Position: "V", CreatedAt: now}); err != nil {
			return err
		}
		// Lowercase sorts after uppercase under byte order but not under most locales.
		for id, position := range map[string]string{"lower": "a", "upper": "Z", "digit": "9"} {
			card := Card{ID: id, BoardID: board.ID, ColumnID: "col_1", Title: id, Position: orderingKey(position),
				CreatedBy: owner.ID, CreatedAt: now, UpdatedAt: now}
			if err := tx.CreateCard(ctx, card); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var items []Positioned
	err = st.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockScope(ctx, KindCard, "col_1"); err != nil {
			return err
		}
		items, err = tx.ListScope(ctx, KindCard, "col_1")
		return err
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"digit", "upper", "lower"}, ids)
}
