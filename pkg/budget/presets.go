package budget

import (
	"fmt"
	"time"
)

// Preset names a fixed limits table. Preset strings are stable across the
// API boundary.
type Preset string

const (
	PresetLow       Preset = "low"
	PresetMedium    Preset = "medium"
	PresetHigh      Preset = "high"
	PresetUnlimited Preset = "unlimited"
)

var presetLimits = map[Preset]Limits{
	PresetLow: {
		MaxTokens:      8_000,
		MaxToolCalls:   5,
		MaxEscalations: 1,
		MaxLatency:     60 * time.Second,
		CostCeilingUsd: 0.05,
		MaxEnergyWh:    1,
	},
	PresetMedium: {
		MaxTokens:      32_000,
		MaxToolCalls:   15,
		MaxEscalations: 2,
		MaxLatency:     5 * time.Minute,
		CostCeilingUsd: 0.50,
		MaxEnergyWh:    5,
	},
	PresetHigh: {
		MaxTokens:      128_000,
		MaxToolCalls:   50,
		MaxEscalations: 4,
		MaxLatency:     15 * time.Minute,
		CostCeilingUsd: 2.50,
		MaxEnergyWh:    20,
	},
	// Unlimited disables enforcement but still records usage.
	PresetUnlimited: {Unlimited: true},
}

// LimitsForPreset returns the limits table for a preset name.
func LimitsForPreset(p Preset) (Limits, error) {
	limits, ok := presetLimits[p]
	if !ok {
		return Limits{}, fmt.Errorf("unknown budget preset '%s'", p)
	}
	return limits, nil
}

// NewEnvelopeFromPreset creates an envelope from a preset name.
func NewEnvelopeFromPreset(p Preset) (*Envelope, error) {
	limits, err := LimitsForPreset(p)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(limits), nil
}
