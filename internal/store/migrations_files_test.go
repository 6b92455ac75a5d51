package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryUpMigrationHasADown(t *testing.T) {
	ups, err := migrationFiles(testMigrationsDir, "up")
	require.NoError(t, err)
	downs, err := migrationFiles(testMigrationsDir, "down")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	versions := func(files []migrationFile) []string {
		out := make([]string, 0, len(files))
		for _, file := range files {
			out = append(out, file.version)
		}
		return out
	}
	assert.Equal(t, versions(ups), versions(downs))
}

func TestMigrationFilesSkipUnrelatedEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_labels.up.sql", "0001_init.up.sql", "0001_init.down.sql", "README.md", "notes.up.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755))

	ups, err := migrationFiles(dir, "up")
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, "0001_init", ups[0].version)
	assert.Equal(t, "0002_labels", ups[1].version)

	_, err = migrationFiles(filepath.Join(dir, "missing"), "up")
	assert.Error(t, err)
}

func TestPositionColumnsUseByteCollation(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_init.up.sql"))
	require.NoError(t, err)

	positions := regexp.MustCompile(`(?m)^\s*position\s+(.*)$`).FindAllStringSubmatch(string(contents), -1)
	require.Len(t, positions, 3)
	for _, match := range positions {
		assert.Contains(t, match[1], `COLLATE "C"`, "position column %q", match[0])
	}
}
