package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIDStats_MarshalJSON_InfiniteLossIsNull(t *testing.T) {
	summary := RoundSummary{
		Stats: []UIDStats{
			{UID: 1, AverageLoss: 2.5, WinRate: 1},
			{UID: 2, AverageLoss: math.Inf(1)},
		},
	}
	raw, err := json.Marshal(summary)
	require.NoError(t, err)

	var decoded struct {
		Stats []map[string]any `json:"uid_data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Stats, 2)
	assert.Equal(t, 2.5, decoded.Stats[0]["average_loss"])
	assert.Nil(t, decoded.Stats[1]["average_loss"])
	assert.Equal(t, float64(2), decoded.Stats[1]["uid"])
}

func TestRoundSummary_Duration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := RoundSummary{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, s.Duration())
}
