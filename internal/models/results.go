package models

// BatchResult carries per-slug outcomes of a batch request. Every requested slug
// appears in exactly one of the two maps.
type BatchResult struct {
	Forecasts map[string]Forecast `json:"forecasts"`
	Errors    map[string]string   `json:"errors"`
}

// ComparisonResult carries one forecast per requested model for a single location.
type ComparisonResult struct {
	Lat             float64             `json:"lat"`
	Lon             float64             `json:"lon"`
	ElevationMeters *float64            `json:"elevationMeters"`
	Forecasts       map[string]Forecast `json:"forecasts"`
	Errors          map[string]string   `json:"errors,omitempty"`
}
