// Package resorts is the read-only resort directory, loaded once from YAML.
package resorts

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/validation"
)

// MatchRadiusDegrees is how close coordinates must be, on both axes, to resolve to a resort.
const MatchRadiusDegrees = 0.01

// Resort is one ski resort.
type Resort struct {
	Slug             string  `yaml:"slug" json:"slug"`
	Name             string  `yaml:"name" json:"name"`
	State            string  `yaml:"state" json:"state"`
	Country          string  `yaml:"country" json:"country"`
	Lat              float64 `yaml:"lat" json:"lat"`
	Lon              float64 `yaml:"lon" json:"lon"`
	BaseElevationM   float64 `yaml:"base_elevation_m" json:"baseElevationM"`
	SummitElevationM float64 `yaml:"summit_elevation_m" json:"summitElevationM"`
}

// Location returns the resort as a forecast location.
func (r Resort) Location() models.Location {
	summit, base := r.SummitElevationM, r.BaseElevationM
	return models.Location{
		Slug:    r.Slug,
		Name:    r.Name,
		Lat:     r.Lat,
		Lon:     r.Lon,
		SummitM: &summit,
		BaseM:   &base,
	}
}

// Directory indexes resorts by slug. Safe for concurrent reads.
type Directory struct {
	resorts []Resort
	bySlug  map[string]int
}

type file struct {
	Resorts []Resort `yaml:"resorts"`
}

// Load reads a directory file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resorts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document with a top-level "resorts" list.
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse resorts file: %w", err)
	}
	return New(f.Resorts)
}

// New validates resorts and builds a Directory sorted by slug.
func New(resorts []Resort) (*Directory, error) {
	d := &Directory{resorts: make([]Resort, 0, len(resorts)), bySlug: make(map[string]int, len(resorts))}
	var errs []error
	for _, r := range resorts {
		slug, err := validation.ValidateSlug(r.Slug)
		if err != nil {
			errs = append(errs, fmt.Errorf("resort %q: %w", r.Slug, err))
			continue
		}
		r.Slug = slug
		if r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180 {
			errs = append(errs, fmt.Errorf("resort %s: coordinates out of range", slug))
			continue
		}
		if r.SummitElevationM < r.BaseElevationM {
			errs = append(errs, fmt.Errorf("resort %s: summit below base", slug))
			continue
		}
		if _, dup := d.bySlug[slug]; dup {
			errs = append(errs, fmt.Errorf("resort %s: duplicate slug", slug))
			continue
		}
		d.bySlug[slug] = -1
		d.resorts = append(d.resorts, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(d.resorts, func(i, j int) bool { return d.resorts[i].Slug < d.resorts[j].Slug })
	for i, r := range d.resorts {
		d.bySlug[r.Slug] = i
	}
	return d, nil
}

// Resort returns the resort for slug.
func (d *Directory) Resort(slug string) (Resort, bool) {
	i, ok := d.bySlug[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return Resort{}, false
	}
	return d.resorts[i], true
}

// Lookup returns the location for slug.
func (d *Directory) Lookup(slug string) (models.Location, bool) {
	r, ok := d.Resort(slug)
	if !ok {
		return models.Location{}, false
	}
	return r.Location(), true
}

// Match returns the nearest resort within MatchRadiusDegrees of lat/lon on both axes.
func (d *Directory) Match(lat, lon float64) (models.Location, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, r := range d.resorts {
		dLat, dLon := math.Abs(r.Lat-lat), math.Abs(r.Lon-lon)
		if dLat > MatchRadiusDegrees || dLon > MatchRadiusDegrees {
			continue
		}
		if dist := dLat*dLat + dLon*dLon; dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return models.Location{}, false
	}
	return d.resorts[best].Location(), true
}

// Slugs returns all slugs, sorted.
func (d *Directory) Slugs() []string {
	out := make([]string, len(d.resorts))
	for i, r := range d.resorts {
		out[i] = r.Slug
	}
	return out
}

// List returns resorts sorted by slug, filtered by state code when state is non-empty.
func (d *Directory) List(state string) []Resort {
	state = strings.TrimSpace(state)
	out := make([]Resort, 0, len(d.resorts))
	for _, r := range d.resorts {
		if state == "" || strings.EqualFold(r.State, state) {
			out = append(out, r)
		}
	}
	return out
}
