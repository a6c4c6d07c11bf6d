package upscale

import "testing"

func TestComputeCost(t *testing.T) {
	limits := CostLimits{Min: 1, Max: 20}

	tests := []struct {
		name        string
		mode        Mode
		scale       int
		faceEnhance bool
		denoise     bool
		want        int
	}{
		{"standard 2x", ModeStandard, 2, false, false, 1},
		{"standard 4x", ModeStandard, 4, false, false, 2},
		{"standard 8x", ModeStandard, 8, false, false, 4},
		{"photo 4x", ModePhoto, 4, false, false, 4},
		{"art 8x", ModeArt, 8, false, false, 12},
		{"addons stack", ModeStandard, 2, true, true, 3},
		{"art 8x with addons", ModeArt, 8, true, true, 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCost(tt.mode, tt.scale, tt.faceEnhance, tt.denoise, limits)
			if got != tt.want {
				t.Errorf("ComputeCost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeCost_Clamped(t *testing.T) {
	got := ComputeCost(ModeArt, 8, true, true, CostLimits{Min: 1, Max: 10})
	if got != 10 {
		t.Errorf("ComputeCost() = %d, want clamped to 10", got)
	}

	got = ComputeCost(ModeStandard, 2, false, false, CostLimits{Min: 2, Max: 10})
	if got != 2 {
		t.Errorf("ComputeCost() = %d, want raised to min 2", got)
	}
}
