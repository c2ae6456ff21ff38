package planner

import (
	"ISS_Harvester/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBox = models.BoundingBox{LatMin: 6, LatMax: 10, LonMin: -82, LonMax: -77}

func countField(filters []models.FilterClause, table, field string) int {
	n := 0
	for _, f := range filters {
		if f.Table == table && f.Field == field {
			n++
		}
	}
	return n
}

func TestPlan_NightModeSplitsTimeAwareSource(t *testing.T) {
	got := Plan(nil, []models.CoordinateSource{models.SourceFrames}, true, testBox, nil)
	require.Len(t, got, 2)

	assert.Equal(t, "003000", got[0].Window.TimeLowerBound)
	assert.Equal(t, "045959", got[0].Window.TimeUpperBound)
	assert.Equal(t, "050000", got[1].Window.TimeLowerBound)
	assert.Equal(t, "103000", got[1].Window.TimeUpperBound)
	assert.Less(t, got[0].Window.TimeUpperBound, got[1].Window.TimeLowerBound)
}

func TestPlan_NonTimeSourceSingleWindow(t *testing.T) {
	for _, night := range []bool{true, false} {
		got := Plan(nil, []models.CoordinateSource{models.SourceMLCoord}, night, testBox, nil)
		require.Len(t, got, 1)
		assert.False(t, got[0].Window.Bounded())
		assert.Zero(t, countField(got[0].Filters, "mlcoord", models.TimeField))
	}
}

func TestPlan_NightModeOffSingleWindowForFrames(t *testing.T) {
	got := Plan(nil, []models.CoordinateSource{models.SourceFrames}, false, testBox, nil)
	require.Len(t, got, 1)
	assert.False(t, got[0].Window.Bounded())
}

func TestPlan_EndToEndScenario(t *testing.T) {
	filters := []models.FilterClause{
		{Table: "frames", Field: "mission", Operator: "like", Value: "ISS"},
		{Table: "frames", Field: "ptime", Operator: "ge", Value: "120000"},
		{Table: "nadir", Field: "cldp", Operator: "le", Value: "25"},
	}
	got := Plan(filters, []models.CoordinateSource{models.SourceFrames}, true, testBox, nil)
	require.Len(t, got, 2)

	for i, d := range got {
		assert.Equal(t, models.SourceFrames, d.Source)
		assert.Equal(t, 2, countField(d.Filters, "frames", "lat"), "descriptor %d", i)
		assert.Equal(t, 2, countField(d.Filters, "frames", "lon"), "descriptor %d", i)
		assert.Equal(t, 1, countField(d.Filters, "frames", "mission"), "descriptor %d", i)
		assert.Equal(t, 2, countField(d.Filters, "frames", "ptime"), "descriptor %d", i)
		assert.Zero(t, countField(d.Filters, "nadir", "cldp"))
		assert.NotContains(t, d.Filters, filters[1])
		assert.Len(t, d.Filters, 7)
	}

	assert.Equal(t,
		"frames|mission|like|ISS|frames|ptime|ge|003000|frames|ptime|le|045959|frames|lat|ge|6|frames|lat|le|10|frames|lon|ge|-82|frames|lon|le|-77",
		EncodeQuery(got[0].Filters))
	assert.Contains(t, got[1].Filters, models.FilterClause{Table: "frames", Field: "ptime", Operator: "ge", Value: "050000"})
	assert.Contains(t, got[1].Filters, models.FilterClause{Table: "frames", Field: "ptime", Operator: "le", Value: "103000"})
}

func TestEffectiveFilters_KeepsPdateFromAnyTable(t *testing.T) {
	filters := []models.FilterClause{
		{Table: "frames", Field: "pdate", Operator: "ge", Value: "20240101"},
		{Table: "frames", Field: "pdate", Operator: "ge", Value: "20240101"},
	}
	got := EffectiveFilters(filters, models.QueryWindow{Table: models.SourceMLCoord}, testBox)
	assert.Equal(t, 1, countField(got, "frames", "pdate"))
	assert.Len(t, got, 5)
}

func TestEffectiveFilters_UnboundedKeepsUserTimeFilter(t *testing.T) {
	filters := []models.FilterClause{{Table: "nadir", Field: "ptime", Operator: "ge", Value: "120000"}}
	got := EffectiveFilters(filters, models.QueryWindow{Table: models.SourceNadir}, testBox)
	assert.Contains(t, got, filters[0])
}

func TestBuildReturn(t *testing.T) {
	selected := map[string][]string{
		"frames": {"mission", "lat"},
		"nadir":  {"azi"},
		"images": {"directory", "filename"},
	}
	got := BuildReturn(selected, models.SourceFrames)
	assert.Equal(t, "frames|mission|frames|lat|images|directory|images|filename", EncodeReturn(got))
}

func TestBuildReturn_FallbackWhenEmpty(t *testing.T) {
	got := BuildReturn(map[string][]string{"camera": {"camera"}}, models.SourceNadir)
	assert.Equal(t, "images|directory|images|filename|nadir|lat|nadir|lon", EncodeReturn(got))
}
