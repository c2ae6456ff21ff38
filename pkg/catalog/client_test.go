package catalog

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/logger"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor() models.QueryDescriptor {
	return models.QueryDescriptor{
		Source:       models.SourceFrames,
		Window:       models.QueryWindow{Table: models.SourceFrames},
		Filters:      []models.FilterClause{{Table: "frames", Field: "mission", Operator: "like", Value: "ISS"}},
		ReturnFields: []models.ReturnField{{Table: "images", Field: "filename"}},
	}
}

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Default().Catalog
	cfg.APIURL = srv.URL
	cfg.APIKey = "secret"
	return NewClient(cfg, WithLogger(logger.Discard()))
}

func TestQuery_Rows(t *testing.T) {
	var got map[string]string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{
			"query":  r.URL.Query().Get("query"),
			"return": r.URL.Query().Get("return"),
			"key":    r.URL.Query().Get("key"),
		}
		_, _ = w.Write([]byte(`[{"images|filename":"ISS071-E-1.JPG","frames|lat":9.9}]`))
	})

	rows, err := c.Query(context.Background(), descriptor())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ISS071-E-1.JPG", rows[0]["images|filename"])
	assert.Equal(t, "frames|mission|like|ISS", got["query"])
	assert.Equal(t, "images|filename", got["return"])
	assert.Equal(t, "secret", got["key"])
}

func TestQuery_NonArrayIsEmpty(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"no results"}`))
	})
	rows, err := c.Query(context.Background(), descriptor())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQuery_Errors(t *testing.T) {
	bad := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := bad.Query(context.Background(), descriptor())
	assert.ErrorContains(t, err, "502")

	garbage := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	})
	_, err = garbage.Query(context.Background(), descriptor())
	assert.Error(t, err)
}
