package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	t.Run("embedded schema", func(t *testing.T) {
		migrations, err := loadMigrations(migrationsFS)
		require.NoError(t, err)
		require.NotEmpty(t, migrations)
		require.Equal(t, 1, migrations[0].version)
		require.Contains(t, migrations[0].content, "message_envelope")
	})

	t.Run("ordered by version and skips bad names", func(t *testing.T) {
		fsys := fstest.MapFS{
			"migrations/10_later.sql":  {Data: []byte("SELECT 10")},
			"migrations/2_second.sql":  {Data: []byte("SELECT 2")},
			"migrations/1_first.sql":   {Data: []byte("SELECT 1")},
			"migrations/notes.sql":     {Data: []byte("SELECT 0")},
			"migrations/3_skipped.txt": {Data: []byte("SELECT 3")},
		}

		migrations, err := loadMigrations(fsys)
		require.NoError(t, err)

		var versions []int
		for _, m := range migrations {
			versions = append(versions, m.version)
		}
		require.Equal(t, []int{1, 2, 10}, versions)
		require.Equal(t, "2_second.sql", migrations[1].name)
	})
}
