package cache

import (
	"strings"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

// Key builds "{locationId}:{modelId}:{elevationSelector}". The location id is the
// resort slug or the rounded coordinate pair; model ids are case-folded.
func Key(loc models.Location, modelID string, elev models.ElevationSelector) string {
	return loc.ID() + ":" + strings.ToLower(strings.TrimSpace(modelID)) + ":" + elev.String()
}
