package storage

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	cfg.Database.Driver = "none"
	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, db)

	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "nested", "metadata.db")
	db, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close(ctx)
	existing, err := db.Metadata().ExistingIDs(ctx, []models.Identity{"ISS071-E-1"})
	require.NoError(t, err)
	assert.Empty(t, existing)

	cfg.Database.Driver = "postgres"
	_, err = Open(ctx, cfg)
	assert.Error(t, err)
}
