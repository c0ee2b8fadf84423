package service

import "errors"

// Error kinds surfaced by the forecast pipeline. Per-model failures wrap
// ErrUpstreamUnavailable or ErrTimeout and are tolerated by a blend; the rest
// abort the request.
var (
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrAllModelsUnavailable = errors.New("all models unavailable")
	ErrUnknownModel         = errors.New("unknown model")
	ErrInvalidLocation      = errors.New("invalid location")
	ErrTimeout              = errors.New("upstream timeout")
	ErrLocationNotFound     = errors.New("location not found")
	ErrBatchTooLarge        = errors.New("too many locations in batch")
	ErrEmptyBatch           = errors.New("no locations in batch")
	ErrInvalidRange         = errors.New("invalid totals query")
)

// IsCallerError reports whether err was caused by the request itself rather than upstream.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrUnknownModel) ||
		errors.Is(err, ErrInvalidLocation) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrInvalidRange)
}
