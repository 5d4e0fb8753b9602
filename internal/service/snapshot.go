package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
)

// SnapshotService materializes daily pool valuations and reconstructs value
// time series from them. Persisted past days are immutable; the current day
// is always computed live.
type SnapshotService struct {
	valuation *ValuationService
	snapshots domain.SnapshotStore
	archiver  domain.Archiver
	logger    *slog.Logger
}

// NewSnapshotService creates a SnapshotService. archiver may be nil, in which
// case materialization skips the export step.
func NewSnapshotService(
	valuation *ValuationService,
	snapshots domain.SnapshotStore,
	archiver domain.Archiver,
	logger *slog.Logger,
) *SnapshotService {
	return &SnapshotService{
		valuation: valuation,
		snapshots: snapshots,
		archiver:  archiver,
		logger:    logger,
	}
}

// MaterializeDaily computes the pool's valuation and persists it under the
// asOf date. Re-running for an already-materialized date is a no-op thanks to
// the (pool, date) uniqueness, so the job is safe to retry and to run from
// multiple replicas. Backfilling a past day replays the ledger up to the end
// of that day instead of sampling live prices, so the stored value is what
// the pool was worth then, not now.
func (s *SnapshotService) MaterializeDaily(ctx context.Context, pool domain.Pool, asOf time.Time) error {
	day := midnightUTC(asOf)
	today := midnightUTC(time.Now().UTC())
	if day.After(today) {
		return fmt.Errorf("snapshot: %w: cannot materialize future date %s",
			domain.ErrValidation, day.Format("2006-01-02"))
	}

	// Skip the computation entirely when the day is already persisted.
	if _, err := s.snapshots.Get(ctx, pool, day); err == nil {
		s.logger.InfoContext(ctx, "snapshot: already materialized",
			slog.String("pool", string(pool)),
			slog.String("date", day.Format("2006-01-02")),
		)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("snapshot: check %s/%s: %w", pool, day.Format("2006-01-02"), err)
	}

	var snap domain.Snapshot
	if day.Before(today) {
		// Historical quotes are gone, so a backfilled day carries the
		// realized component only, matching the replay that serves reads
		// for days with no snapshot.
		state, err := s.valuation.PoolStateAt(ctx, pool, day.Add(24*time.Hour))
		if err != nil {
			return fmt.Errorf("snapshot: backfill %s/%s: %w", pool, day.Format("2006-01-02"), err)
		}
		snap = domain.Snapshot{
			Pool:            pool,
			Date:            day,
			TotalValue:      state.TotalLiquidity,
			RealizedPnL:     state.CumulativeRealizedPnL,
			ActivePositions: state.ActivePositions,
			ClosedPositions: state.ClosedPositions,
		}
	} else {
		val, err := s.valuation.CurrentValue(ctx, pool)
		if err != nil {
			return fmt.Errorf("snapshot: materialize %s/%s: %w", pool, day.Format("2006-01-02"), err)
		}
		snap = domain.Snapshot{
			Pool:            pool,
			Date:            day,
			TotalValue:      val.TotalValue,
			UnrealizedPnL:   val.UnrealizedPnL,
			RealizedPnL:     val.RealizedPnL,
			ActivePositions: val.PoolState.ActivePositions,
			ClosedPositions: val.PoolState.ClosedPositions,
		}
	}
	if err := s.snapshots.Insert(ctx, snap); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "snapshot: materialized",
		slog.String("pool", string(pool)),
		slog.String("date", day.Format("2006-01-02")),
		slog.Float64("total_value", snap.TotalValue),
	)

	if s.archiver != nil {
		path, err := s.archiver.ArchiveEvents(ctx, pool, day.Format("2006-01-02"))
		if err != nil {
			// Archival is retention, not correctness; the snapshot stands.
			s.logger.WarnContext(ctx, "snapshot: archive export failed",
				slog.String("pool", string(pool)),
				slog.String("error", err.Error()),
			)
		} else if path != "" {
			s.logger.InfoContext(ctx, "snapshot: ledger archived",
				slog.String("pool", string(pool)),
				slog.String("path", path),
			)
		}
	}

	return nil
}

// EvolutionSeries returns one point per day over [from, to]. Dates strictly
// before today read persisted snapshots; today is computed live. A date with
// no snapshot carries the last known value forward, never zero; leading gaps
// backfill from the first known value.
func (s *SnapshotService) EvolutionSeries(ctx context.Context, pool domain.Pool, from, to time.Time) ([]domain.EvolutionPoint, error) {
	if !domain.ValidPool(pool) {
		return nil, fmt.Errorf("snapshot: %w: unknown pool %q", domain.ErrValidation, pool)
	}
	from, to = midnightUTC(from), midnightUTC(to)
	if to.Before(from) {
		return nil, fmt.Errorf("snapshot: %w: range end before start", domain.ErrValidation)
	}

	snaps, err := s.snapshots.Range(ctx, pool, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot: range %s: %w", pool, err)
	}
	byDate := make(map[time.Time]float64, len(snaps))
	for _, snap := range snaps {
		byDate[midnightUTC(snap.Date)] = snap.TotalValue
	}

	today := midnightUTC(time.Now().UTC())

	var liveValue float64
	var haveLive bool
	if !to.Before(today) && !from.After(today) {
		val, err := s.valuation.CurrentValue(ctx, pool)
		if err != nil {
			return nil, err
		}
		liveValue = val.TotalValue
		haveLive = true
	}

	// Seed the carry-forward with the last snapshot before the range, so a
	// gap at the start of the range still carries a real value.
	carry, haveCarry := 0.0, false
	if prev, err := s.snapshots.Latest(ctx, pool, from); err == nil {
		carry, haveCarry = prev.TotalValue, true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("snapshot: latest before %s: %w", from.Format("2006-01-02"), err)
	}
	if !haveCarry {
		// No history before the range: backfill leading gap days from the
		// first value inside the range.
		if len(snaps) > 0 {
			carry, haveCarry = snaps[0].TotalValue, true
		} else if haveLive {
			carry, haveCarry = liveValue, true
		}
	}

	var series []domain.EvolutionPoint
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		switch {
		case day.Equal(today) && haveLive:
			carry, haveCarry = liveValue, true
		case day.After(today):
			// Future dates have no value yet.
			continue
		default:
			if v, ok := byDate[day]; ok {
				carry, haveCarry = v, true
			}
		}
		if !haveCarry {
			continue
		}
		series = append(series, domain.EvolutionPoint{Date: day, Value: carry})
	}

	return series, nil
}
