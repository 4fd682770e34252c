package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfiniteLosses(t *testing.T) {
	losses := InfiniteLosses(3)
	assert.Len(t, losses, 3)
	for _, l := range losses {
		assert.True(t, math.IsInf(l, 1))
	}
	assert.Empty(t, InfiniteLosses(0))
}

func TestAverageLoss(t *testing.T) {
	assert.InDelta(t, 1.5, AverageLoss([]float64{1, 2}), 1e-12)
	assert.True(t, math.IsInf(AverageLoss(nil), 1))
	assert.True(t, math.IsInf(AverageLoss(InfiniteLosses(2)), 1))
}
