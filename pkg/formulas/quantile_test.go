package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name        string
		data        []float64
		p           float64
		want        float64
		tolerance   float64
		description string
	}{
		{
			name:        "median of odd sample",
			data:        []float64{3, 1, 2},
			p:           0.5,
			want:        2.0,
			tolerance:   1e-12,
			description: "median of {1,2,3} is the middle value",
		},
		{
			name:        "median interpolates between two samples",
			data:        []float64{1, 2, 3, 4},
			p:           0.5,
			want:        2.5,
			tolerance:   1e-12,
			description: "rank 0.5*(4-1)=1.5 interpolates between 2 and 3",
		},
		{
			name:        "5th percentile of 0..100",
			data:        rangeSlice(0, 101),
			p:           0.05,
			want:        5.0,
			tolerance:   1e-12,
			description: "101 evenly spaced samples give exact percentiles",
		},
		{
			name:        "interpolated rank between order statistics",
			data:        []float64{10, 20},
			p:           0.25,
			want:        12.5,
			tolerance:   1e-12,
			description: "quarter of the way between the two samples",
		},
		{
			name:        "p=0 returns minimum",
			data:        []float64{5, -3, 7},
			p:           0.0,
			want:        -3.0,
			tolerance:   1e-12,
			description: "zero quantile is the smallest sample",
		},
		{
			name:        "p=1 returns maximum",
			data:        []float64{5, -3, 7},
			p:           1.0,
			want:        7.0,
			tolerance:   1e-12,
			description: "unit quantile is the largest sample",
		},
		{
			name:        "empty sample",
			data:        []float64{},
			p:           0.5,
			want:        0.0,
			tolerance:   1e-12,
			description: "empty sample yields 0",
		},
		{
			name:        "single sample",
			data:        []float64{42},
			p:           0.99,
			want:        42.0,
			tolerance:   1e-12,
			description: "single sample is every quantile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Quantile(tt.data, tt.p)
			assert.InDelta(t, tt.want, result, tt.tolerance, tt.description)
		})
	}
}

func TestQuantile_DoesNotMutateInput(t *testing.T) {
	data := []float64{3, 1, 2}
	Quantile(data, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, data, "input slice must stay unsorted")
}

func TestTailMean(t *testing.T) {
	tests := []struct {
		name        string
		data        []float64
		threshold   float64
		want        float64
		wantOK      bool
		description string
	}{
		{
			name:        "tail below threshold",
			data:        []float64{-10, -5, -1, 0, 3},
			threshold:   -5,
			want:        -7.5,
			wantOK:      true,
			description: "mean of {-10, -5}",
		},
		{
			name:        "empty tail",
			data:        []float64{1, 2, 3},
			threshold:   -1,
			want:        0.0,
			wantOK:      false,
			description: "nothing at or below -1",
		},
		{
			name:        "whole sample in tail",
			data:        []float64{-2, -4},
			threshold:   0,
			want:        -3.0,
			wantOK:      true,
			description: "threshold above every sample",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TailMean(tt.data, tt.threshold)
			assert.Equal(t, tt.wantOK, ok, tt.description)
			assert.InDelta(t, tt.want, got, 1e-12, tt.description)
		})
	}
}

// rangeSlice returns [start, end) as float64s.
func rangeSlice(start, end int) []float64 {
	out := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, float64(i))
	}
	return out
}
