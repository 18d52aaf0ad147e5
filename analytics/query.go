package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// TopGuides ranks guides by clicks over the trailing window of days.
//
// The window is answered from two sources without double counting: daily
// aggregate rows cover everything a rollup has summed, and raw rows still
// marked un-aggregated cover the recent remainder. Ordering is clicks
// descending with guide_id ascending as the tie-break, so results are
// deterministic.
func (s *Store) TopGuides(ctx context.Context, days, limit int) ([]GuideCount, error) {
	now := s.Now()
	cutoff := now.AddDate(0, 0, -days)
	cutoffDay := cutoff.Format("2006-01-02")

	totals := make(map[string]int64)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT guide_id, SUM(clicks) FROM guide_clicks_daily WHERE day >= ? GROUP BY guide_id`),
		cutoffDay)
	if err != nil {
		return nil, fmt.Errorf("query daily: %w", err)
	}
	if err := sumInto(totals, rows); err != nil {
		return nil, fmt.Errorf("scan daily: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		s.rebind(`SELECT guide_id, COUNT(*) FROM guide_clicks WHERE aggregated = 0 AND ts_utc >= ? GROUP BY guide_id`),
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("query raw: %w", err)
	}
	if err := sumInto(totals, rows); err != nil {
		return nil, fmt.Errorf("scan raw: %w", err)
	}

	ranked := make([]GuideCount, 0, len(totals))
	for id, clicks := range totals {
		ranked = append(ranked, GuideCount{GuideID: id, Clicks: clicks})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Clicks != ranked[j].Clicks {
			return ranked[i].Clicks > ranked[j].Clicks
		}
		return ranked[i].GuideID < ranked[j].GuideID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

type countRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func sumInto(totals map[string]int64, rows countRows) error {
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		totals[id] += n
	}
	return rows.Err()
}

// LastClickAt returns the timestamp of the most recent raw click, or the
// zero time when the raw table is empty. Used by the admin stats surface.
func (s *Store) LastClickAt(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT ts_utc FROM guide_clicks ORDER BY ts_utc DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
