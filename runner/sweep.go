package runner

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SweepReport summarizes a bulk synchronization.
type SweepReport struct {
	Renamed   []string
	Adopted   []string
	Unchanged int
	Failed    map[string]error
}

func (s SweepReport) Total() int {
	return len(s.Renamed) + len(s.Adopted) + s.Unchanged + len(s.Failed)
}

// SynchronizeAll synchronizes every entity with bounded parallelism.
// A failing entity is logged and reported; the sweep continues. Only
// cancellation of ctx ends it early.
func (r *Runner) SynchronizeAll(ctx context.Context) (SweepReport, error) {
	entities, err := r.Snapshot(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, e := range entities {
		id := e.ID
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.Synchronize(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			case err != nil:
				report.Failed[id] = err
				r.logger.Warn("folder synchronization failed", "entity", id, "err", err)
			case res.Adopted:
				report.Adopted = append(report.Adopted, id)
			case res.Renamed:
				report.Renamed = append(report.Renamed, id)
			default:
				report.Unchanged++
			}
			return nil
		})
	}
	err = g.Wait()
	sort.Strings(report.Renamed)
	sort.Strings(report.Adopted)

	r.logger.Info("folder sweep finished",
		"renamed", len(report.Renamed),
		"adopted", len(report.Adopted),
		"unchanged", report.Unchanged,
		"failed", len(report.Failed))
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}
