package sample

import (
	"fmt"
	"strings"
)

// Measurement is the set of kinds sampled during a run.
type Measurement uint8

const (
	MeasureNone    Measurement = 0
	MeasureVoltage Measurement = 1
	MeasureCurrent Measurement = 2
	MeasureBoth                = MeasureVoltage | MeasureCurrent
)

// ParseMeasurement accepts "voltage", "current", "both" or "none".
func ParseMeasurement(s string) (Measurement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voltage", "volt", "v":
		return MeasureVoltage, nil
	case "current", "curr", "i":
		return MeasureCurrent, nil
	case "both", "":
		return MeasureBoth, nil
	case "none", "off":
		return MeasureNone, nil
	}
	return MeasureNone, fmt.Errorf("unknown measurement type %q", s)
}

// Has reports whether k is part of the set.
func (m Measurement) Has(k Kind) bool {
	switch k {
	case Voltage:
		return m&MeasureVoltage != 0
	case Current:
		return m&MeasureCurrent != 0
	}
	return false
}

// Kinds returns the kinds in the set, voltage first.
func (m Measurement) Kinds() []Kind {
	var kinds []Kind
	for _, k := range []Kind{Voltage, Current} {
		if m.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (m Measurement) String() string {
	switch m {
	case MeasureVoltage:
		return "Voltage"
	case MeasureCurrent:
		return "Current"
	case MeasureBoth:
		return "Both"
	default:
		return "None"
	}
}
