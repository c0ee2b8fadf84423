package models

import "fmt"

// Variable names an hourly forecast quantity. The set is closed; unknown names are rejected
// at normalization time rather than carried through the engine.
type Variable string

const (
	Temperature2m       Variable = "temperature_2m"
	WindSpeed10m        Variable = "wind_speed_10m"
	WindGusts10m        Variable = "wind_gusts_10m"
	Snowfall            Variable = "snowfall"
	Precipitation       Variable = "precipitation"
	FreezingLevelHeight Variable = "freezing_level_height"
)

// AllVariables lists every supported hourly variable in a fixed order.
var AllVariables = []Variable{
	Temperature2m,
	WindSpeed10m,
	WindGusts10m,
	Snowfall,
	Precipitation,
	FreezingLevelHeight,
}

// CanonicalUnits are the units the engine blends and aggregates in.
var CanonicalUnits = map[Variable]string{
	Temperature2m:       "°C",
	WindSpeed10m:        "km/h",
	WindGusts10m:        "km/h",
	Snowfall:            "cm",
	Precipitation:       "mm",
	FreezingLevelHeight: "m",
}

// Valid reports whether v is one of the supported variables.
func (v Variable) Valid() bool {
	_, ok := CanonicalUnits[v]
	return ok
}

// ParseVariable validates a variable name.
func ParseVariable(s string) (Variable, error) {
	v := Variable(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown hourly variable %q", s)
	}
	return v, nil
}
