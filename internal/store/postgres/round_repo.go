package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type RoundRepo struct {
	db *DB
}

var _ store.RoundRepository = (*RoundRepo)(nil)

func NewRoundRepo(db *DB) *RoundRepo {
	return &RoundRepo{db: db}
}

// uidStatRow is the JSONB form of model.UIDStats. JSON cannot carry
// infinities, so a diverged average loss is stored as null.
type uidStatRow struct {
	UID         model.UID `json:"uid"`
	Timestamp   time.Time `json:"timestamp"`
	AverageLoss *float64  `json:"average_loss"`
	WinRate     float64   `json:"win_rate"`
	WinTotal    int       `json:"win_total"`
	Weight      float64   `json:"weight"`
}

func encodeStats(stats []model.UIDStats) ([]byte, error) {
	rows := make([]uidStatRow, len(stats))
	for i, s := range stats {
		row := uidStatRow{
			UID:       s.UID,
			Timestamp: s.Timestamp,
			WinRate:   finiteOrZero(s.WinRate),
			WinTotal:  s.WinTotal,
			Weight:    finiteOrZero(s.Weight),
		}
		if !math.IsInf(s.AverageLoss, 0) && !math.IsNaN(s.AverageLoss) {
			loss := s.AverageLoss
			row.AverageLoss = &loss
		}
		rows[i] = row
	}
	return json.Marshal(rows)
}

func decodeStats(raw []byte) ([]model.UIDStats, error) {
	var rows []uidStatRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	stats := make([]model.UIDStats, len(rows))
	for i, r := range rows {
		loss := math.Inf(1)
		if r.AverageLoss != nil {
			loss = *r.AverageLoss
		}
		stats[i] = model.UIDStats{
			UID:         r.UID,
			Timestamp:   r.Timestamp,
			AverageLoss: loss,
			WinRate:     r.WinRate,
			WinTotal:    r.WinTotal,
			Weight:      r.Weight,
		}
	}
	return stats, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

func (r *RoundRepo) InsertRound(ctx context.Context, netuid model.NetUID, s model.RoundSummary) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	stats, err := encodeStats(s.Stats)
	if err != nil {
		return fmt.Errorf("encode uid stats: %w", err)
	}
	pages := s.Pages
	if pages == nil {
		pages = []int64{}
	}
	uids := make([]int64, len(s.UIDs))
	for i, uid := range s.UIDs {
		uids[i] = int64(uid)
	}
	var errText sql.NullString
	if s.Error != "" {
		errText = sql.NullString{String: s.Error, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO evaluation_rounds (id, netuid, step, status, error, started_at, finished_at, pages, uids, active_size, uid_stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, int(netuid), s.Step, string(s.Status), errText, s.StartedAt, s.FinishedAt,
		pq.Array(pages), pq.Array(uids), s.ActiveSize, stats)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (r *RoundRepo) RecentRounds(ctx context.Context, netuid model.NetUID, limit int) ([]model.RoundSummary, error) {
	if limit <= 0 {
		return []model.RoundSummary{}, nil
	}
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, step, status, error, started_at, finished_at, pages, uids, active_size, uid_stats
		FROM evaluation_rounds
		WHERE netuid = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, int(netuid), limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	out := make([]model.RoundSummary, 0, limit)
	for rows.Next() {
		var (
			s       model.RoundSummary
			id      uuid.UUID
			status  string
			errText sql.NullString
			pages   pq.Int64Array
			uids    pq.Int64Array
			stats   []byte
		)
		if err := rows.Scan(&id, &s.Step, &status, &errText, &s.StartedAt, &s.FinishedAt, &pages, &uids, &s.ActiveSize, &stats); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		s.ID = id
		s.Status = model.RoundStatus(status)
		s.Error = errText.String
		s.Pages = []int64(pages)
		s.UIDs = make([]model.UID, len(uids))
		for i, uid := range uids {
			s.UIDs[i] = model.UID(uid)
		}
		if s.Stats, err = decodeStats(stats); err != nil {
			return nil, fmt.Errorf("decode uid stats: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}
