package sqlite

import (
	"ISS_Harvester/internal/models"
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestUpsertAndExisting(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	store := s.Metadata()

	alt := 417.0
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := store.UpsertBatch(ctx, []models.EnrichedMetadata{
		{ID: "ISS071-E-1", Camera: "Nikon D5", Altitude: &alt, EnrichedAt: at},
		{ID: "ISS071-E-2", EnrichedAt: at.Add(time.Hour)},
		{ID: models.UnresolvedIdentity},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := store.ExistingIDs(ctx, []models.Identity{"ISS071-E-1", "ISS071-E-3", "ISS071-E-2"})
	require.NoError(t, err)
	assert.Equal(t, map[models.Identity]struct{}{"ISS071-E-1": {}, "ISS071-E-2": {}}, found)

	got, err := store.GetByID(ctx, "ISS071-E-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Nikon D5", got.Camera)
	require.NotNil(t, got.Altitude)
	assert.Equal(t, 417.0, *got.Altitude)
	assert.True(t, at.Equal(got.EnrichedAt))

	missing, err := store.GetByID(ctx, "ISS071-E-9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 覆盖已有记录
	_, err = store.UpsertBatch(ctx, []models.EnrichedMetadata{{ID: "ISS071-E-1", Camera: "Hasselblad", EnrichedAt: at}})
	require.NoError(t, err)
	got, err = store.GetByID(ctx, "ISS071-E-1")
	require.NoError(t, err)
	assert.Equal(t, "Hasselblad", got.Camera)

	list, total, err := store.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, models.Identity("ISS071-E-2"), list[0].ID)
}

func TestExistingIDs_LargeAndEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	found, err := s.Metadata().ExistingIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	ids := make([]models.Identity, 1200)
	for i := range ids {
		ids[i] = models.Identity("ISS071-E-" + strconv.Itoa(i))
	}
	_, err = s.Metadata().UpsertBatch(ctx, []models.EnrichedMetadata{{ID: ids[1100]}})
	require.NoError(t, err)

	found, err = s.Metadata().ExistingIDs(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, ids[1100])
}

func TestLegacyRowWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	_, err := s.db.ExecContext(ctx, `INSERT INTO Image (nasa_id) VALUES (?)`, "ISS030-E-5")
	require.NoError(t, err)

	got, err := s.Metadata().GetByID(ctx, "ISS030-E-5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.Identity("ISS030-E-5"), got.ID)
	assert.Empty(t, got.Camera)
}

func TestOpen_MigratesLegacyImageTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.db")

	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `CREATE TABLE Image (
		image_id INTEGER PRIMARY KEY AUTOINCREMENT,
		nasa_id TEXT,
		date TEXT,
		time TEXT,
		resolution TEXT,
		path TEXT
	)`)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `INSERT INTO Image (nasa_id, date, path) VALUES ('ISS030-E-5', '2012-01-01', 'a.jpg'), (NULL, NULL, 'b.jpg')`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close(ctx)

	cols, err := s.columns(ctx)
	require.NoError(t, err)
	assert.True(t, cols["metadata_json"])
	assert.True(t, cols["enriched_at"])
	assert.True(t, cols["path"])

	store := s.Metadata()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := store.UpsertBatch(ctx, []models.EnrichedMetadata{
		{ID: "ISS030-E-5", Camera: "Nikon D3S", EnrichedAt: at},
		{ID: "ISS071-E-1", Camera: "Nikon D5", EnrichedAt: at.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var rows int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Image WHERE nasa_id = 'ISS030-E-5'`).Scan(&rows))
	assert.Equal(t, 1, rows)

	got, err := store.GetByID(ctx, "ISS030-E-5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Nikon D3S", got.Camera)

	found, err := store.ExistingIDs(ctx, []models.Identity{"ISS030-E-5", "ISS071-E-1", "ISS071-E-9"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	list, total, err := store.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, models.Identity("ISS071-E-1"), list[0].ID)

	// 再次打开不会重复加列
	require.NoError(t, s.EnsureIndexes(ctx))
}
