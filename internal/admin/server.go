package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline/aggregator"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MB

	defaultRoundsLimit = 20
	maxRoundsLimit     = 200
)

// StatusProvider exposes the validator's live state.
type StatusProvider interface {
	Status() pipeline.Status
}

// PendingStager queues a uid for the next evaluation round. In production
// this is the pipeline's *pool.Manager.
type PendingStager interface {
	AddPending(uid model.UID) bool
}

// RoundHistory reads persisted round summaries.
type RoundHistory interface {
	RecentRounds(ctx context.Context, netuid model.NetUID, limit int) ([]model.RoundSummary, error)
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	netuid  model.NetUID
	status  StatusProvider
	pending PendingStager
	rounds  RoundHistory
	logger  *slog.Logger
}

// NewServer creates a new admin API server.
func NewServer(netuid model.NetUID, status StatusProvider, pending PendingStager, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		netuid:  netuid,
		status:  status,
		pending: pending,
		logger:  logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithRoundHistory enables /admin/v1/rounds. Without it the endpoint
// answers 503.
func WithRoundHistory(rounds RoundHistory) ServerOption {
	return func(s *Server) { s.rounds = rounds }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/status", s.handleGetStatus)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("GET /admin/v1/candidates", s.handleListCandidates)
	mux.HandleFunc("GET /admin/v1/weights", s.handleTopWeights)
	mux.HandleFunc("GET /admin/v1/rounds", s.handleListRounds)
	mux.HandleFunc("POST /admin/v1/pending", s.handleAddPending)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Status().Health
	code := http.StatusOK
	if !snap.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, snap)
}

// candidateView is one active or pending uid with the stats of the last
// scored round it took part in and its latest sync outcome.
type candidateView struct {
	UID       model.UID        `json:"uid"`
	Pending   bool             `json:"pending"`
	LastRound *model.UIDStats  `json:"last_round,omitempty"`
	Sync      *model.Candidate `json:"sync,omitempty"`
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, candidateViews(s.status.Status()))
}

func candidateViews(st pipeline.Status) []candidateView {
	stats := make(map[model.UID]model.UIDStats)
	if st.LastScored != nil {
		for _, us := range st.LastScored.Stats {
			stats[us.UID] = us
		}
	}
	synced := make(map[model.UID]model.Candidate, len(st.Candidates))
	for _, c := range st.Candidates {
		synced[c.UID] = c
	}

	views := make([]candidateView, 0, len(st.Pool.Active)+len(st.Pool.Pending))
	add := func(uid model.UID, pending bool) {
		v := candidateView{UID: uid, Pending: pending}
		if us, ok := stats[uid]; ok {
			v.LastRound = &us
		}
		if c, ok := synced[uid]; ok {
			v.Sync = &c
		}
		views = append(views, v)
	}
	seen := make(map[model.UID]bool, len(st.Pool.Active))
	for _, uid := range st.Pool.Active {
		seen[uid] = true
		add(uid, false)
	}
	for _, uid := range st.Pool.Pending {
		if !seen[uid] {
			add(uid, true)
		}
	}
	return views
}

type weightsResponse struct {
	Step    int64                  `json:"step"`
	Weights []aggregator.UIDWeight `json:"weights"`
}

func (s *Server) handleTopWeights(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	weights := st.TopWeights
	if weights == nil {
		weights = []aggregator.UIDWeight{}
	}
	writeJSON(w, http.StatusOK, weightsResponse{Step: st.Step, Weights: weights})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		http.Error(w, `{"error":"round history not available"}`, http.StatusServiceUnavailable)
		return
	}

	limit := defaultRoundsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRoundsLimit {
			http.Error(w, `{"error":"limit must be an integer within [1, 200]"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	rounds, err := s.rounds.RecentRounds(r.Context(), s.netuid, limit)
	if err != nil {
		s.logger.Error("list rounds failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.RoundSummary{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

type addPendingRequest struct {
	UID *int `json:"uid"`
}

type addPendingResponse struct {
	UID    int  `json:"uid"`
	Staged bool `json:"staged"`
}

// handleAddPending stages a uid for the next round, as if the sync
// scheduler had just refreshed it.
func (s *Server) handleAddPending(w http.ResponseWriter, r *http.Request) {
	var req addPendingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UID == nil {
		http.Error(w, `{"error":"uid is required"}`, http.StatusBadRequest)
		return
	}
	if *req.UID < 0 || *req.UID >= model.PoolSize {
		http.Error(w, `{"error":"uid out of range"}`, http.StatusBadRequest)
		return
	}

	uid := model.UID(*req.UID)
	staged := s.pending.AddPending(uid)
	s.logger.Info("uid staged for evaluation", "uid", uid, "newly_staged", staged)

	writeJSON(w, http.StatusAccepted, addPendingResponse{UID: *req.UID, Staged: staged})
}
