package matcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipstack/pinbot/src/shared/pinmap"
)

type fakeAPI struct {
	locations map[int64]*pinmap.Location
	search    map[string][]pinmap.Location
	getErr    error
	searchErr error
}

func (f *fakeAPI) GetLocation(_ context.Context, id int64) (*pinmap.Location, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	loc, ok := f.locations[id]
	if !ok {
		return nil, pinmap.ErrNotFound
	}
	return loc, nil
}

func (f *fakeAPI) SearchLocations(_ context.Context, name string) ([]pinmap.Location, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.search[name], nil
}

func TestResolveExactByID(t *testing.T) {
	api := &fakeAPI{locations: map[int64]*pinmap.Location{
		1309: {ID: 1309, Name: "Ground Kontrol", City: "Portland", State: "OR"},
	}}

	result := New(api).Resolve(context.Background(), " 1309 ")

	require.Equal(t, MatchExact, result.Kind)
	require.NotNil(t, result.Location)
	assert.Equal(t, int64(1309), result.Location.ID)
	assert.Equal(t, "Ground Kontrol", result.Location.Name)
}

func TestResolveUnknownIDFallsBackToSearch(t *testing.T) {
	api := &fakeAPI{
		search: map[string][]pinmap.Location{
			"1015": {
				{ID: 4000, Name: "1015 Folsom", City: "San Francisco", State: "CA"},
				{ID: 4001, Name: "Bar 1015", City: "Oakland", State: "CA"},
			},
		},
	}

	result := New(api).Resolve(context.Background(), "1015")

	require.Equal(t, MatchSuggestions, result.Kind)
	assert.Len(t, result.Suggestions, 2)
}

func TestResolveSingleCandidateIsAmbiguous(t *testing.T) {
	api := &fakeAPI{
		search: map[string][]pinmap.Location{
			"ground kontrol": {{ID: 1309, Name: "Ground Kontrol", City: "Portland", State: "OR"}},
		},
	}

	result := New(api).Resolve(context.Background(), "ground kontrol")

	// A single fuzzy hit still requires id confirmation.
	require.Equal(t, MatchAmbiguous, result.Kind)
	require.Len(t, result.Suggestions, 1)
	assert.Nil(t, result.Location)
}

func TestResolveNoCandidates(t *testing.T) {
	api := &fakeAPI{search: map[string][]pinmap.Location{}}

	result := New(api).Resolve(context.Background(), "nowhere at all")

	assert.Equal(t, MatchNotFound, result.Kind)
	assert.Empty(t, result.Suggestions)
}

func TestResolveCapsSuggestionsAtFive(t *testing.T) {
	var many []pinmap.Location
	for i := 0; i < 8; i++ {
		many = append(many, pinmap.Location{ID: int64(100 + i), Name: fmt.Sprintf("Arcade %d", i)})
	}
	api := &fakeAPI{search: map[string][]pinmap.Location{"arcade": many}}

	result := New(api).Resolve(context.Background(), "arcade")

	require.Equal(t, MatchSuggestions, result.Kind)
	require.Len(t, result.Suggestions, 5)
	// API order is preserved, the tail is cut.
	for i, loc := range result.Suggestions {
		assert.Equal(t, int64(100+i), loc.ID)
	}
}

func TestResolveLookupFailure(t *testing.T) {
	boom := errors.New("connection refused")

	result := New(&fakeAPI{searchErr: boom}).Resolve(context.Background(), "somewhere")
	require.Equal(t, MatchFailed, result.Kind)
	assert.ErrorIs(t, result.Err, boom)

	result = New(&fakeAPI{getErr: boom}).Resolve(context.Background(), "42")
	require.Equal(t, MatchFailed, result.Kind)
	assert.ErrorIs(t, result.Err, boom)
}
