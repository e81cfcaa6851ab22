// Package geocode resolves a free-text address to a map coordinate.
//
// Queries are biased toward a fixed home region: when the text names no
// prefecture-level division the home region is prefixed, and among the
// returned candidates the first one inside the home region wins. A prefixed
// query that finds nothing is retried once without the prefix.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rubiojr/deliverymap/pkg/logger"
)

// Errors returned by Resolve.
var (
	ErrEmptyQuery = errors.New("geocode: empty query")
	ErrNotFound   = errors.New("geocode: address not found")
	ErrLookup     = errors.New("geocode: lookup failed")
)

// regionMarkers are the characters ending prefecture-level names (東京都,
// 北海道, 大阪府, 埼玉県). A query containing any of them already names its
// region.
const regionMarkers = "都道府県"

// Defaults of a lookup.
const (
	DefaultLimit    = 5
	DefaultCountry  = "jp"
	DefaultLanguage = "ja"
)

// Result is one ranked candidate as returned by the geocoding service.
// Coordinates arrive as text.
type Result struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Class       string `json:"class,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Query is a single lookup request.
type Query struct {
	Text           string
	Limit          int
	CountryCodes   []string
	Language       string
	AddressDetails bool
}

// Searcher performs one lookup and returns candidates best first.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Location is the resolved coordinate.
type Location struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayName string  `json:"display_name"`
	// Searched is the text of the lookup that produced the candidates.
	Searched string `json:"searched"`
	// Fallback is true when the unprefixed retry found the result.
	Fallback bool `json:"fallback"`
}

// Resolver applies the home-region policy on top of a Searcher.
type Resolver struct {
	searcher Searcher
	home     string
	country  string
	language string
	limit    int
}

// NewResolver returns a resolver biased toward home. An empty home disables
// both the prefixing and the re-ranking.
func NewResolver(s Searcher, home string) *Resolver {
	return &Resolver{
		searcher: s,
		home:     strings.TrimSpace(home),
		country:  DefaultCountry,
		language: DefaultLanguage,
		limit:    DefaultLimit,
	}
}

// HomeRegion returns the configured home region.
func (r *Resolver) HomeRegion() string { return r.home }

// NamesRegion reports whether q already names a prefecture-level division.
func NamesRegion(q string) bool {
	return strings.ContainsAny(q, regionMarkers)
}

// BiasQuery returns the text to search first and whether it was prefixed.
func BiasQuery(q, home string) (string, bool) {
	if NamesRegion(q) || home == "" {
		return q, false
	}
	return home + " " + q, true
}

// SelectBest returns the first candidate whose display name contains home,
// or the first candidate when none does. cands must not be empty.
func SelectBest(cands []Result, home string) Result {
	if home != "" {
		for _, c := range cands {
			if strings.Contains(c.DisplayName, home) {
				return c
			}
		}
	}
	return cands[0]
}

// Resolve looks q up and returns the coordinate the map should center on.
func (r *Resolver) Resolve(ctx context.Context, q string) (Location, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Location{}, ErrEmptyQuery
	}
	text, prefixed := BiasQuery(q, r.home)
	cands, err := r.lookup(ctx, text)
	if err != nil {
		return Location{}, err
	}
	fallback := false
	if len(cands) == 0 && prefixed {
		logger.Debug("geocode: no result for %q, retrying with %q", text, q)
		text, fallback = q, true
		if cands, err = r.lookup(ctx, text); err != nil {
			return Location{}, err
		}
	}
	if len(cands) == 0 {
		return Location{}, fmt.Errorf("%w: %q", ErrNotFound, q)
	}

	best := SelectBest(cands, r.home)
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(best.Lat), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(best.Lon), 64)
	if errLat != nil || errLng != nil {
		return Location{}, fmt.Errorf("%w: bad coordinate %q,%q for %q", ErrLookup, best.Lat, best.Lon, best.DisplayName)
	}
	return Location{Lat: lat, Lng: lng, DisplayName: best.DisplayName, Searched: text, Fallback: fallback}, nil
}

func (r *Resolver) lookup(ctx context.Context, text string) ([]Result, error) {
	res, err := r.searcher.Search(ctx, Query{
		Text:           text,
		Limit:          r.limit,
		CountryCodes:   []string{r.country},
		Language:       r.language,
		AddressDetails: true,
	})
	if err != nil {
		if errors.Is(err, ErrLookup) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	return res, nil
}
