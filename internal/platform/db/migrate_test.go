package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/app?sslmode=disable", MigrationURL("postgres://u:p@localhost:5432/app?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/app", MigrationURL("postgresql://localhost/app"))
	assert.Equal(t, "pgx5://localhost/app", MigrationURL("pgx5://localhost/app"))
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialSchemaDeclaresPartialUniqueIndexes(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/0001_init.up.sql")
	require.NoError(t, err)
	schema := string(data)
	assert.Contains(t, schema, "department_heads_one_active")
	assert.Contains(t, schema, "role_grants_one_open")
	assert.Contains(t, schema, "DEFERRABLE")
}
