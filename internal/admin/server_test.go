package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/pool"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	status pipeline.Status
}

func (f *fakeStatus) Status() pipeline.Status { return f.status }

type fakeStager struct {
	staged []model.UID
}

func (f *fakeStager) AddPending(uid model.UID) bool {
	for _, u := range f.staged {
		if u == uid {
			return false
		}
	}
	f.staged = append(f.staged, uid)
	return true
}

type fakeHistory struct {
	gotNetUID model.NetUID
	gotLimit  int
	rounds    []model.RoundSummary
	err       error
}

func (f *fakeHistory) RecentRounds(_ context.Context, netuid model.NetUID, limit int) ([]model.RoundSummary, error) {
	f.gotNetUID = netuid
	f.gotLimit = limit
	return f.rounds, f.err
}

func newTestServer(status pipeline.Status, opts ...ServerOption) (*Server, *fakeStager) {
	stager := &fakeStager{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(9, &fakeStatus{status: status}, stager, logger, opts...), stager
}

func serve(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func TestHandleGetStatus(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{Step: 7, LastEpochBlock: 350})

	rec := serve(t, s, http.MethodGet, "/admin/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, 7.0, decoded["step"])
	assert.Equal(t, 350.0, decoded["last_epoch_block"])
}

func TestHandleHealth_UnhealthyIs503(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{Health: pipeline.HealthSnapshot{
		Status:              string(pipeline.HealthStatusUnhealthy),
		ConsecutiveFailures: 4,
	}})

	rec := serve(t, s, http.MethodGet, "/admin/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"consecutive_failures":4`)
}

func TestHandleListCandidates_EmptyIsArray(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{})

	rec := serve(t, s, http.MethodGet, "/admin/v1/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleListCandidates_JoinsPoolStatsAndSync(t *testing.T) {
	synced := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestServer(pipeline.Status{
		Pool: pool.Snapshot{Active: []model.UID{1, 2}, Pending: []model.UID{2, 9}},
		LastScored: &model.RoundSummary{
			Status: model.RoundStatusSucceeded,
			Stats:  []model.UIDStats{{UID: 1, AverageLoss: 2.5, WinRate: 0.75, WinTotal: 3}},
		},
		Candidates: []model.Candidate{{UID: 9, SyncStatus: model.SyncStatusUpdated, LastSyncedAt: &synced, LastBlock: 265}},
	})

	rec := serve(t, s, http.MethodGet, "/admin/v1/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded, 3)

	assert.Equal(t, 1.0, decoded[0]["uid"])
	assert.Equal(t, false, decoded[0]["pending"])
	last, ok := decoded[0]["last_round"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.75, last["win_rate"])
	assert.Equal(t, 2.5, last["average_loss"])

	assert.Equal(t, 2.0, decoded[1]["uid"])
	assert.NotContains(t, decoded[1], "last_round")

	assert.Equal(t, 9.0, decoded[2]["uid"])
	assert.Equal(t, true, decoded[2]["pending"])
	sync, ok := decoded[2]["sync"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UPDATED", sync["sync_status"])
}

func TestHandleTopWeights(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{
		Step:       3,
		TopWeights: []aggregator.UIDWeight{{UID: 5, Weight: 0.75}, {UID: 2, Weight: 0.25}},
	})

	rec := serve(t, s, http.MethodGet, "/admin/v1/weights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"step":3,"weights":[{"uid":5,"weight":0.75},{"uid":2,"weight":0.25}]}`, rec.Body.String())
}

func TestHandleListRounds(t *testing.T) {
	history := &fakeHistory{rounds: []model.RoundSummary{{
		ID:        uuid.New(),
		Step:      11,
		Status:    model.RoundStatusSucceeded,
		StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}}}
	s, _ := newTestServer(pipeline.Status{}, WithRoundHistory(history))

	rec := serve(t, s, http.MethodGet, "/admin/v1/rounds?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.NetUID(9), history.gotNetUID)
	assert.Equal(t, 5, history.gotLimit)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 11.0, decoded[0]["step"])
}

func TestHandleListRounds_DefaultLimitAndErrors(t *testing.T) {
	history := &fakeHistory{}
	s, _ := newTestServer(pipeline.Status{}, WithRoundHistory(history))

	rec := serve(t, s, http.MethodGet, "/admin/v1/rounds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRoundsLimit, history.gotLimit)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/admin/v1/rounds?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodGet, "/admin/v1/rounds?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history.err = errors.New("connection refused")
	rec = serve(t, s, http.MethodGet, "/admin/v1/rounds", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleListRounds_NotConfigured(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{})

	rec := serve(t, s, http.MethodGet, "/admin/v1/rounds", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAddPending(t *testing.T) {
	s, stager := newTestServer(pipeline.Status{})

	rec := serve(t, s, http.MethodPost, "/admin/v1/pending", []byte(`{"uid":42}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"uid":42,"staged":true}`, rec.Body.String())
	assert.Equal(t, []model.UID{42}, stager.staged)

	rec = serve(t, s, http.MethodPost, "/admin/v1/pending", []byte(`{"uid":42}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"uid":42,"staged":false}`, rec.Body.String())
}

func TestHandleAddPending_Validation(t *testing.T) {
	s, stager := newTestServer(pipeline.Status{})

	testCases := []struct {
		name string
		body string
	}{
		{name: "missing uid", body: `{}`},
		{name: "negative uid", body: `{"uid":-1}`},
		{name: "uid past pool", body: `{"uid":256}`},
		{name: "not json", body: `uid=3`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, s, http.MethodPost, "/admin/v1/pending", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, stager.staged)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{})

	rec := serve(t, s, http.MethodDelete, "/admin/v1/pending", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
