package identity

import (
	"ISS_Harvester/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	name string
	id   string
}

func byID(i item) models.Identity { return Resolve(i.id, "") }

func TestDedupe_OrderPreservation(t *testing.T) {
	a, b, c := item{"A", "1"}, item{"B", "2"}, item{"C", "1"}
	got, stats := Dedupe([]item{a, b, c}, byID)
	assert.Equal(t, []item{a, b}, got)
	assert.Equal(t, Stats{Kept: 2, Dropped: 1}, stats)
}

func TestDedupe_Idempotent(t *testing.T) {
	in := []item{{"A", "1"}, {"B", ""}, {"C", "2"}, {"D", "1"}, {"E", ""}, {"F", "2"}, {"G", "3"}}
	once, _ := Dedupe(in, byID)
	twice, _ := Dedupe(once, byID)
	assert.Equal(t, once, twice)
}

func TestDedupe_UnresolvedAlwaysKept(t *testing.T) {
	in := []item{{"X", ""}, {"X", ""}, {"Y", "Sin_ID"}}
	got, stats := Dedupe(in, byID)
	assert.Equal(t, in, got)
	assert.Equal(t, 3, stats.Unresolved)
	assert.Zero(t, stats.Dropped)
}

func TestDedupe_Empty(t *testing.T) {
	got, stats := Dedupe[item](nil, byID)
	assert.Empty(t, got)
	assert.Zero(t, stats.Kept)
}

func TestResolveOrder(t *testing.T) {
	assert.Equal(t, models.Identity("ISS071-E-1"), Resolve("ISS071-E-1", "other.jpg"))
	assert.Equal(t, models.Identity("ISS071-E-2"), Resolve("", "ISS071-E-2.JPG"))
	assert.Equal(t, models.UnresolvedIdentity, Resolve("", ""))
	assert.Equal(t, models.UnresolvedIdentity, Resolve("", ".jpg"))
}

func TestAdapters(t *testing.T) {
	raw := models.RawRecord{"images|filename": "ISS071-E-3.JPG", "frames|lat": 9.9}
	assert.Equal(t, models.Identity("ISS071-E-3"), FromRaw(raw))
	assert.Equal(t, models.UnresolvedIdentity, FromRaw(models.RawRecord{"frames|lat": 9.9}))

	norm := models.NormalizedRecord{Fields: map[string]string{"images.filename": "ISS071-E-4.JPG"}, CoordSource: models.SourceFrames}
	assert.Equal(t, models.Identity("ISS071-E-4"), FromNormalized(norm))

	assert.Equal(t, models.Identity("ISS071-E-5"), FromEnriched(models.EnrichedMetadata{ID: "ISS071-E-5"}))
	assert.Equal(t, models.UnresolvedIdentity, FromEnriched(models.EnrichedMetadata{}))
}

func TestDedupe_AcrossWindowsNormalized(t *testing.T) {
	mk := func(src models.CoordinateSource, file string) models.NormalizedRecord {
		return models.NormalizedRecord{Fields: map[string]string{"images.filename": file}, CoordSource: src}
	}
	in := []models.NormalizedRecord{
		mk(models.SourceFrames, "ISS071-E-1.JPG"),
		mk(models.SourceNadir, "ISS071-E-1.JPG"),
		mk(models.SourceNadir, "ISS071-E-2.JPG"),
	}
	got, _ := Dedupe(in, FromNormalized)
	assert.Len(t, got, 2)
	assert.Equal(t, models.SourceFrames, got[0].CoordSource)
}
