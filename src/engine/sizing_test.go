package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/src/model"
)

func defaultBands() model.PositionSizingMap {
	return model.PositionSizingMap{
		{Min: 0, Max: 84, Percent: 0},
		{Min: 85, Max: 89, Percent: 3},
		{Min: 90, Max: 94, Percent: 6},
		{Min: 95, Max: 99, Percent: 8.5},
		{Min: 100, Max: 100, Percent: 10},
	}
}

func TestCalculatePositionSize(t *testing.T) {
	bands := defaultBands()

	tests := []struct {
		name        string
		balance     float64
		accuracy    float64
		maxPosition float64
		want        float64
	}{
		{"below threshold sizes to zero", 1000, 84, 100, 0},
		{"lowest active band", 1000, 85, 100, 30},
		{"band upper edge", 1000, 89, 100, 30},
		{"mid band", 1000, 92, 100, 60},
		{"high band", 1000, 97, 100, 85},
		{"perfect accuracy", 1000, 100, 200, 100},
		{"cap binds", 1000, 100, 50, 50},
		{"tight cap on mid band", 1000, 92, 5, 5},
		{"no balance", 0, 95, 100, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := CalculatePositionSize(tc.balance, tc.accuracy, bands, tc.maxPosition)
			require.InDelta(t, tc.want, got, 1e-9)
			require.NotEmpty(t, reason)
		})
	}
}

// At a balance of 100 the notional equals the band percent, so this pins the
// accuracy-to-percent mapping itself: 87 in the 85-89 band risks 3, 97 in the
// 95-99 band risks 8.5, and the cap overrides the band when lower.
func TestCalculatePositionSizePercentMapping(t *testing.T) {
	bands := defaultBands()

	size, _ := CalculatePositionSize(100, 87, bands, 0)
	require.InDelta(t, 3.0, size, 1e-9)

	size, _ = CalculatePositionSize(100, 97, bands, 0)
	require.InDelta(t, 8.5, size, 1e-9)

	size, reason := CalculatePositionSize(100, 100, bands, 5)
	require.InDelta(t, 5.0, size, 1e-9)
	require.Contains(t, reason, "capped at max position")
}

func TestCalculatePositionSizeGapAccuracy(t *testing.T) {
	bands := model.PositionSizingMap{
		{Min: 0, Max: 50, Percent: 0},
		{Min: 80, Max: 100, Percent: 5},
	}

	size, reason := CalculatePositionSize(1000, 65, bands, 100)
	require.Zero(t, size)
	require.Contains(t, reason, "matches no sizing band")
}

func TestCalculatePositionSizeNeverExceedsCap(t *testing.T) {
	bands := defaultBands()
	for accuracy := 0.0; accuracy <= 100; accuracy += 0.5 {
		size, _ := CalculatePositionSize(1_000_000, accuracy, bands, 250)
		require.LessOrEqual(t, size, 250.0, "accuracy %.1f", accuracy)
	}
}
