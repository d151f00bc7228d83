package casambi

import (
	"math"
	"testing"
)

func TestBrightnessConversion(t *testing.T) {
	tests := []struct {
		pct   float64
		level float64
	}{
		{0, 0},
		{50, 0.5},
		{100, 1},
		{-5, 0},    // clamped low
		{150, 1},   // clamped high
		{1, 0.01},
	}
	for _, tt := range tests {
		if got := BrightnessToLevel(tt.pct); math.Abs(got-tt.level) > 1e-9 {
			t.Errorf("BrightnessToLevel(%v) = %v, want %v", tt.pct, got, tt.level)
		}
	}

	// Round trip within the valid range.
	for pct := 0.0; pct <= 100; pct += 12.5 {
		got := LevelToBrightness(BrightnessToLevel(pct))
		if math.Abs(got-pct) > 1e-9 {
			t.Errorf("round trip %v -> %v", pct, got)
		}
	}

	if got := LevelToBrightness(-0.1); got != 0 {
		t.Errorf("LevelToBrightness(-0.1) = %v, want 0", got)
	}
	if got := LevelToBrightness(1.5); got != 100 {
		t.Errorf("LevelToBrightness(1.5) = %v, want 100", got)
	}
}

func TestKelvinMiredConversion(t *testing.T) {
	// 1e6 / K; the conversion is its own inverse.
	if got := KelvinToMired(4000); math.Abs(got-250) > 1e-9 {
		t.Errorf("KelvinToMired(4000) = %v, want 250", got)
	}
	if got := MiredToKelvin(250); math.Abs(got-4000) > 1e-9 {
		t.Errorf("MiredToKelvin(250) = %v, want 4000", got)
	}
	for _, kelvin := range []float64{2200, 2700, 3000, 4000, 6500} {
		got := MiredToKelvin(KelvinToMired(kelvin))
		if math.Abs(got-kelvin) > 1e-6 {
			t.Errorf("round trip %v -> %v", kelvin, got)
		}
	}
}

func TestClampKelvin(t *testing.T) {
	tests := []struct {
		name             string
		kelvin, min, max float64
		want             float64
	}{
		{"in range", 3000, 2700, 4000, 3000},
		{"below min", 2000, 2700, 4000, 2700},
		{"above max", 6500, 2700, 4000, 4000},
		{"no bounds known", 6500, 0, 0, 6500},
		{"only max known", 6500, 0, 4000, 4000},
		{"only min known", 1000, 2700, 0, 2700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampKelvin(tt.kelvin, tt.min, tt.max); got != tt.want {
				t.Errorf("ClampKelvin(%v, %v, %v) = %v, want %v", tt.kelvin, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestUnitStateMerge(t *testing.T) {
	base := UnitState{
		NetworkID: "net-1",
		UnitID:    7,
		Online:    true,
		Controls: map[string]ControlState{
			ControlDimmer:           {Value: 0.5},
			ControlColorTemperature: {Value: 3000, Min: 2700, Max: 4000},
		},
	}

	push := UnitState{
		NetworkID: "net-1",
		UnitID:    7,
		Online:    true,
		Controls: map[string]ControlState{
			ControlDimmer: {Value: 0.8},
		},
	}

	merged := base.Merge(push)
	if got := merged.Controls[ControlDimmer].Value; got != 0.8 {
		t.Errorf("merged dimmer = %v, want 0.8", got)
	}
	// Controls absent from the push keep their previous value.
	if got := merged.Controls[ControlColorTemperature].Value; got != 3000 {
		t.Errorf("merged cct = %v, want 3000", got)
	}

	// Merge never mutates the base.
	if got := base.Controls[ControlDimmer].Value; got != 0.5 {
		t.Errorf("base mutated: dimmer = %v, want 0.5", got)
	}
}

func TestUnitStateClone(t *testing.T) {
	orig := UnitState{
		NetworkID: "net-1",
		UnitID:    1,
		Controls:  map[string]ControlState{ControlDimmer: {Value: 0.2}},
	}
	clone := orig.Clone()
	clone.Controls[ControlDimmer] = ControlState{Value: 0.9}

	if got := orig.Controls[ControlDimmer].Value; got != 0.2 {
		t.Errorf("clone shares control map: original dimmer = %v", got)
	}
}

func TestUnitAddressString(t *testing.T) {
	addr := UnitAddress{NetworkID: "net-1", UnitID: 42}
	if got := addr.String(); got != "net-1/42" {
		t.Errorf("String() = %q, want net-1/42", got)
	}
}
