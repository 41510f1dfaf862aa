package geocode

import (
	"errors"
	"sync"
)

type regionResult struct {
	country string
	region  string
}

// Cached memoizes per-coordinate results of an inner Geocoder. The same
// panorama coordinate recurs across the fill-missing-country and hit-rate
// paths, so every resolution is looked up at most once.
type Cached struct {
	inner Geocoder

	mu        sync.RWMutex
	countries map[Coord]string
	regions   map[Coord]regionResult
}

func NewCached(inner Geocoder) *Cached {
	return &Cached{
		inner:     inner,
		countries: make(map[Coord]string),
		regions:   make(map[Coord]regionResult),
	}
}

func (c *Cached) CountryCode(lat, lng float64) (string, error) {
	key := Coord{Lat: lat, Lng: lng}

	c.mu.RLock()
	code, ok := c.countries[key]
	c.mu.RUnlock()
	if ok {
		if code == "" {
			return "", ErrNotFound
		}
		return code, nil
	}

	code, err := c.inner.CountryCode(lat, lng)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	// Not-found results are cached as "" so ocean coordinates are not
	// re-resolved either.
	c.mu.Lock()
	c.countries[key] = code
	c.mu.Unlock()

	if code == "" {
		return "", ErrNotFound
	}
	return code, nil
}

func (c *Cached) Region(lat, lng float64) (string, string, error) {
	key := Coord{Lat: lat, Lng: lng}

	c.mu.RLock()
	res, ok := c.regions[key]
	c.mu.RUnlock()
	if ok {
		if res.country == "" {
			return "", "", ErrNotFound
		}
		return res.country, res.region, nil
	}

	country, region, err := c.inner.Region(lat, lng)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", "", err
	}

	c.mu.Lock()
	c.regions[key] = regionResult{country: country, region: region}
	c.mu.Unlock()

	if country == "" {
		return "", "", ErrNotFound
	}
	return country, region, nil
}

func (c *Cached) BatchCountryCode(coords []Coord) ([]string, error) {
	codes := make([]string, len(coords))

	var misses []Coord
	var missIdx []int

	c.mu.RLock()
	for i, coord := range coords {
		if code, ok := c.countries[coord]; ok {
			codes[i] = code
		} else {
			misses = append(misses, coord)
			missIdx = append(missIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return codes, nil
	}

	resolved, err := c.inner.BatchCountryCode(misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for i, code := range resolved {
		codes[missIdx[i]] = code
		c.countries[misses[i]] = code
	}
	c.mu.Unlock()

	return codes, nil
}
