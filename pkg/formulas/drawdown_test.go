package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name        string
		pnl         []float64
		want        float64
		description string
	}{
		{
			name:        "single dip",
			pnl:         []float64{10, -25, 5, 30},
			want:        25.0,
			description: "peak 10 falls to -15, drawdown 25",
		},
		{
			name:        "monotonic gains",
			pnl:         []float64{5, 5, 5},
			want:        0.0,
			description: "no decline means no drawdown",
		},
		{
			name:        "all losses",
			pnl:         []float64{-10, -20, -5},
			want:        35.0,
			description: "peak stays at 0, trough at -35",
		},
		{
			name:        "empty",
			pnl:         []float64{},
			want:        0.0,
			description: "no data yields zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaxDrawdown(tt.pnl)
			assert.InDelta(t, tt.want, result, 1e-12, tt.description)
		})
	}
}
