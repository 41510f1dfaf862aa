// Package geocode maps coordinates to countries and administrative regions
// using an offline reverse-geocoding index. It backfills missing panorama
// country codes during normalization and resolves guess coordinates for the
// hit-rate computation.
package geocode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sams96/rgeo"
	"github.com/twpayne/go-geom"
)

// ErrNotFound is returned for coordinates the index cannot place in any
// country, typically open ocean.
var ErrNotFound = errors.New("geocode: no country at coordinate")

type Coord struct {
	Lat float64
	Lng float64
}

// Geocoder resolves coordinates to countries. BatchCountryCode exists so
// callers aggregating a whole dataset can bound lookups to the number of
// distinct coordinates rather than one call per round; results are returned
// in input order, with "" for coordinates that did not resolve.
type Geocoder interface {
	CountryCode(lat, lng float64) (string, error)
	Region(lat, lng float64) (country, region string, err error)
	BatchCountryCode(coords []Coord) ([]string, error)
}

// Offline is a Geocoder backed by rgeo's embedded Natural Earth provinces
// dataset, which carries both country and first-level admin region.
type Offline struct {
	index  *rgeo.Rgeo
	logger zerolog.Logger
}

func NewOffline(logger zerolog.Logger) (*Offline, error) {
	logger.Info().Msg("loading offline geocoding index")

	index, err := rgeo.New(rgeo.Provinces10)
	if err != nil {
		return nil, fmt.Errorf("failed to load geocoding index: %w", err)
	}

	logger.Info().Msg("geocoding index loaded")
	return &Offline{index: index, logger: logger}, nil
}

func (g *Offline) CountryCode(lat, lng float64) (string, error) {
	loc, err := g.lookup(lat, lng)
	if err != nil {
		return "", err
	}
	return strings.ToLower(loc.CountryCode2), nil
}

func (g *Offline) Region(lat, lng float64) (string, string, error) {
	loc, err := g.lookup(lat, lng)
	if err != nil {
		return "", "", err
	}
	return strings.ToLower(loc.CountryCode2), loc.Province, nil
}

func (g *Offline) BatchCountryCode(coords []Coord) ([]string, error) {
	codes := make([]string, len(coords))
	for i, c := range coords {
		code, err := g.CountryCode(c.Lat, c.Lng)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func (g *Offline) lookup(lat, lng float64) (rgeo.Location, error) {
	loc, err := g.index.ReverseGeocode(geom.Coord{lng, lat})
	if err != nil {
		if errors.Is(err, rgeo.ErrLocationNotFound) {
			return rgeo.Location{}, fmt.Errorf("%w: (%f, %f)", ErrNotFound, lat, lng)
		}
		return rgeo.Location{}, fmt.Errorf("reverse geocode failed: %w", err)
	}
	return loc, nil
}
