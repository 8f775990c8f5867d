//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/database"
	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/testutil"
)

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)

	status, err := database.RunMigrations(pc.ConnectionString(), "../../migrations", logger.NewNop())
	require.NoError(t, err)
	assert.True(t, status.Applied)
	assert.Equal(t, uint(4), status.Version)

	status, err = database.RunMigrations(pc.ConnectionString(), "../../migrations", logger.NewNop())
	require.NoError(t, err)
	assert.False(t, status.Applied)

	pool, err := database.NewPool(ctx, database.Config{URL: pc.ConnectionString(), MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	var n int
	err = pool.QueryRow(ctx, "SELECT count(*) FROM kb_summaries").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var app string
	require.NoError(t, pool.QueryRow(ctx, "SHOW application_name").Scan(&app))
	assert.Equal(t, "kbbot", app)
}
