package gateway

import (
	"slices"
	"strings"

	"codeberg.org/mutker/hcgsync/internal/errors"
)

// Method selection modes.
const (
	ModeCore = "core"
	ModeAll  = "all"
)

// CoreMethods is the default metric set.
var CoreMethods = []Metric{"steps", "heartRate", "sleepSession", "distance", "totalCaloriesBurned"}

// AllMethods is every record type the gateway exposes.
var AllMethods = []Metric{
	"activeCaloriesBurned", "basalBodyTemperature", "basalMetabolicRate", "bloodGlucose", "bloodPressure",
	"bodyFat", "bodyTemperature", "boneMass", "cervicalMucus", "distance", "exerciseSession", "elevationGained",
	"floorsClimbed", "heartRate", "height", "hydration", "leanBodyMass", "menstruationFlow", "menstruationPeriod",
	"nutrition", "ovulationTest", "oxygenSaturation", "power", "respiratoryRate", "restingHeartRate", "sleepSession",
	"speed", "steps", "stepsCadence", "totalCaloriesBurned", "vo2Max", "weight", "wheelchairPushes",
}

// ResolveMethods turns a "core", "all" or comma separated selection into
// the list of metrics to collect. Explicit names must be known metrics.
func ResolveMethods(selection string) ([]Metric, error) {
	sel := strings.TrimSpace(selection)
	switch strings.ToLower(sel) {
	case "", ModeCore:
		return slices.Clone(CoreMethods), nil
	case ModeAll:
		return slices.Clone(AllMethods), nil
	}

	var out []Metric
	for _, name := range strings.Split(sel, ",") {
		m := Metric(strings.TrimSpace(name))
		if m == "" {
			continue
		}
		if !slices.Contains(AllMethods, m) {
			return nil, errors.New().WithData(errors.ErrInvalidMethods, string(m))
		}
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, errors.New().WithData(errors.ErrInvalidMethods, selection)
	}

	return out, nil
}
