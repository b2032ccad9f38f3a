package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://localhost/db", "pgx5://localhost/db"},
		{"pgx5://localhost/db", "pgx5://localhost/db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrationURL(tt.in))
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	down, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.Len(t, down, len(files))
}

func TestMigrate_RequiresDSN(t *testing.T) {
	_, err := Migrate("")
	assert.Error(t, err)
}
