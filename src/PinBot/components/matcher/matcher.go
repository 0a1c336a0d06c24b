package matcher

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/flipstack/pinbot/src/shared/pinmap"
)

// Kind classifies how an input resolved.
type Kind int

const (
	// MatchExact: a direct id lookup succeeded.
	MatchExact Kind = iota
	// MatchNotFound: the search returned nothing.
	MatchNotFound
	// MatchAmbiguous: exactly one fuzzy candidate. A single fuzzy hit is
	// never auto-accepted; the user confirms by id.
	MatchAmbiguous
	// MatchSuggestions: two or more fuzzy candidates, capped at five.
	MatchSuggestions
	// MatchFailed: the API was unreachable or errored.
	MatchFailed
)

const maxSuggestions = 5

// Result of resolving user input to a location.
type Result struct {
	Kind        Kind
	Location    *pinmap.Location
	Suggestions []pinmap.Location
	Err         error
}

// LocationAPI is the lookup surface the matcher needs.
type LocationAPI interface {
	GetLocation(ctx context.Context, id int64) (*pinmap.Location, error)
	SearchLocations(ctx context.Context, name string) ([]pinmap.Location, error)
}

type Matcher struct {
	api LocationAPI
}

func New(api LocationAPI) *Matcher {
	return &Matcher{api: api}
}

// Resolve turns user input into zero, one or many candidate locations.
// Numeric input is tried as an id first; an unknown id falls through to a
// name search so venues with numeric names still produce suggestions.
func (m *Matcher) Resolve(ctx context.Context, input string) Result {
	input = strings.TrimSpace(input)

	if id, err := strconv.ParseInt(input, 10, 64); err == nil && id > 0 {
		loc, err := m.api.GetLocation(ctx, id)
		switch {
		case err == nil:
			return Result{Kind: MatchExact, Location: loc}
		case errors.Is(err, pinmap.ErrNotFound):
			// fall through to a name search with the literal digits
		default:
			return Result{Kind: MatchFailed, Err: err}
		}
	}

	candidates, err := m.api.SearchLocations(ctx, input)
	if err != nil {
		return Result{Kind: MatchFailed, Err: err}
	}

	switch {
	case len(candidates) == 0:
		return Result{Kind: MatchNotFound}
	case len(candidates) == 1:
		return Result{Kind: MatchAmbiguous, Suggestions: candidates}
	default:
		if len(candidates) > maxSuggestions {
			candidates = candidates[:maxSuggestions]
		}
		return Result{Kind: MatchSuggestions, Suggestions: candidates}
	}
}
