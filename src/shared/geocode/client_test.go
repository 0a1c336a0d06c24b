package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCityName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "portland", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`[{"lat":"45.5202471","lon":"-122.6741949","display_name":"Portland, Oregon, United States"}]`))
	}))
	defer srv.Close()

	coords, err := NewClient(srv.URL).CityName(context.Background(), "portland")

	require.NoError(t, err)
	assert.InDelta(t, 45.5202471, coords.Latitude, 1e-6)
	assert.InDelta(t, -122.6741949, coords.Longitude, 1e-6)
	assert.Contains(t, coords.DisplayName, "Portland")
}

func TestCityNameNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CityName(context.Background(), "atlantis")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestCityNameBadCoordinate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"garbage","lon":"-122.67"}]`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CityName(context.Background(), "portland")
	assert.Error(t, err)
}
