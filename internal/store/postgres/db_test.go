package postgres

import (
	"math"
	"testing"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStatementTimeoutMS_ConfigOverride(t *testing.T) {
	resolved, err := resolveStatementTimeoutMS(Config{StatementTimeoutMS: 45000})
	require.NoError(t, err)
	assert.Equal(t, 45000, resolved)
}

func TestResolveStatementTimeoutMS_ConfigInvalidValue(t *testing.T) {
	_, err := resolveStatementTimeoutMS(Config{StatementTimeoutMS: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}

func TestResolveStatementTimeoutMS_EnvFallback(t *testing.T) {
	t.Setenv("DB_STATEMENT_TIMEOUT_MS", "45000")

	resolved, err := resolveStatementTimeoutMS(Config{})
	require.NoError(t, err)
	assert.Equal(t, 45000, resolved)
}

func TestResolveStatementTimeoutMS_EnvInvalidValue(t *testing.T) {
	t.Setenv("DB_STATEMENT_TIMEOUT_MS", "invalid")

	_, err := resolveStatementTimeoutMS(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_STATEMENT_TIMEOUT_MS")
}

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://u@h/db?options=-c%20statement_timeout%3D500",
		appendStatementTimeout("postgres://u@h/db", 500))
	assert.Equal(t,
		"postgres://u@h/db?sslmode=disable&options=-c%20statement_timeout%3D500",
		appendStatementTimeout("postgres://u@h/db?sslmode=disable", 500))
}

func TestStatsCodec_InfiniteLossRoundTrips(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := []model.UIDStats{
		{UID: 1, Timestamp: ts, AverageLoss: 2.5, WinRate: 0.75, WinTotal: 3, Weight: 0.6},
		{UID: 2, Timestamp: ts, AverageLoss: math.Inf(1), WinRate: 0, WinTotal: 0, Weight: math.NaN()},
	}

	raw, err := encodeStats(in)
	require.NoError(t, err)

	out, err := decodeStats(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.True(t, math.IsInf(out[1].AverageLoss, 1))
	assert.Zero(t, out[1].Weight)
}
