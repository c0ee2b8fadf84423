package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

// ErrCoordinatesMissing is returned when lat or lon is absent.
var ErrCoordinatesMissing = errors.New("lat and lon are required")

// ErrCoordinatesInvalid is returned when lat or lon is not a number or out of range.
var ErrCoordinatesInvalid = errors.New("invalid coordinates")

// ErrSlugEmpty is returned when a slug is empty after trim.
var ErrSlugEmpty = errors.New("slug is required")

// ErrSlugTooLong is returned when a slug exceeds MaxSlugLen.
var ErrSlugTooLong = errors.New("slug too long")

// ErrSlugInvalidChars is returned when a slug has characters other than a-z, 0-9 and hyphen.
var ErrSlugInvalidChars = errors.New("slug contains invalid characters")

// ErrElevationInvalid wraps elevation selector parse failures.
var ErrElevationInvalid = errors.New("invalid elevation")

// ErrInstantInvalid is returned when a time bound is not RFC 3339.
var ErrInstantInvalid = errors.New("invalid time")

// MaxSlugLen bounds resort slugs.
const MaxSlugLen = 64

// ParseCoordinates parses lat in [-90, 90] and lon in [-180, 180].
func ParseCoordinates(latStr, lonStr string) (float64, float64, error) {
	latStr, lonStr = strings.TrimSpace(latStr), strings.TrimSpace(lonStr)
	if latStr == "" || lonStr == "" {
		return 0, 0, ErrCoordinatesMissing
	}
	lat, err := parseFinite(latStr)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: lat must be between -90 and 90", ErrCoordinatesInvalid)
	}
	lon, err := parseFinite(lonStr)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: lon must be between -180 and 180", ErrCoordinatesInvalid)
	}
	return lat, lon, nil
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", s)
	}
	return f, nil
}

// ValidateSlug trims and lowercases a resort slug and restricts it to a-z, 0-9 and hyphen.
func ValidateSlug(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", ErrSlugEmpty
	}
	if len(s) > MaxSlugLen {
		return "", ErrSlugTooLong
	}
	for _, c := range s {
		if !isSlugRune(c) {
			return "", ErrSlugInvalidChars
		}
	}
	return s, nil
}

func isSlugRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
}

// ParseSlugList splits a comma-separated slug list, validating each entry and dropping
// empties and duplicates. The batch size bound is enforced by the service.
func ParseSlugList(csv string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		slug, err := ValidateSlug(part)
		if err != nil {
			return nil, fmt.Errorf("slug %q: %w", strings.TrimSpace(part), err)
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	if len(out) == 0 {
		return nil, ErrSlugEmpty
	}
	return out, nil
}

// ParseModelList splits a comma-separated model list, lowercasing entries. An empty
// input returns nil so the caller applies its defaults. Ids are checked by the service.
func ParseModelList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if id := strings.ToLower(strings.TrimSpace(part)); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ParseElevation parses an elevation selector; empty means summit.
func ParseElevation(s string) (models.ElevationSelector, error) {
	sel, err := models.ParseElevationSelector(s)
	if err != nil {
		return models.ElevationSelector{}, fmt.Errorf("%w: %v", ErrElevationInvalid, err)
	}
	return sel, nil
}

// ParseInstant parses an RFC 3339 time bound. Empty input yields the zero time,
// meaning unbounded.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInstantInvalid, s)
	}
	return t.UTC(), nil
}
