package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Rollup aggregates raw clicks into guide_clicks_daily and purges aged raw
// rows, all inside one transaction.
//
// Only rows still marked un-aggregated and older than the buffer (complete
// UTC days) are summed, so re-running the job never double counts. The purge
// touches only rows already marked aggregated: an event is never deleted
// before it is reflected in a daily summary, and a crash anywhere in the run
// rolls the whole thing back.
func (s *Store) Rollup(ctx context.Context, bufferDays, retentionDays int) (RollupResult, error) {
	var result RollupResult

	now := s.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	// bufferDays=1 aggregates every complete day strictly before today.
	aggCutoff := startOfDay.AddDate(0, 0, 1-bufferDays)
	retentionCutoff := now.AddDate(0, 0, -retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin rollup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		s.rebind(`SELECT guide_id, ts_utc FROM guide_clicks WHERE aggregated = 0 AND ts_utc < ?`),
		aggCutoff)
	if err != nil {
		return result, fmt.Errorf("select unaggregated: %w", err)
	}

	type dayGuide struct {
		day     string
		guideID string
	}
	counts := make(map[dayGuide]int64)
	for rows.Next() {
		var guideID string
		var ts time.Time
		if err := rows.Scan(&guideID, &ts); err != nil {
			rows.Close()
			return result, fmt.Errorf("scan unaggregated: %w", err)
		}
		counts[dayGuide{day: ts.UTC().Format("2006-01-02"), guideID: guideID}]++
	}
	if err := rows.Close(); err != nil {
		return result, fmt.Errorf("read unaggregated: %w", err)
	}

	// Deterministic upsert order keeps runs reproducible.
	keys := make([]dayGuide, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].guideID < keys[j].guideID
	})

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, s.upsertDailySQL(), k.day, k.guideID, counts[k]); err != nil {
			return result, fmt.Errorf("upsert daily %s/%s: %w", k.day, k.guideID, err)
		}
	}
	result.AggregatedGuides = len(keys)

	// Mark the rows just summed so no later run counts them again.
	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE guide_clicks SET aggregated = 1 WHERE aggregated = 0 AND ts_utc < ?`),
		aggCutoff); err != nil {
		return result, fmt.Errorf("mark aggregated: %w", err)
	}

	// Purge only rows already reflected in the aggregate.
	purged, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM guide_clicks WHERE aggregated = 1 AND ts_utc < ?`),
		retentionCutoff)
	if err != nil {
		return result, fmt.Errorf("purge raw: %w", err)
	}
	if n, err := purged.RowsAffected(); err == nil {
		result.PurgedRecords = int(n)
	}

	if err := tx.Commit(); err != nil {
		return RollupResult{}, fmt.Errorf("commit rollup: %w", err)
	}
	return result, nil
}
