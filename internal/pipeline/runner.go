// Package pipeline drives collection runs: for each volume it holds the
// volume's lease, moves batches from the collector into the hot tier and
// commits the cursor only over records that are durable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"jt-go/internal/collector"
	"jt-go/internal/hottier"
	"jt-go/internal/jt"
)

// Options configures a Runner.
type Options struct {
	HostID string
	// MaxBatches bounds the batches per volume in one run. Zero runs each
	// volume until its journal is drained.
	MaxBatches int
	// Parallelism caps concurrently collected volumes. Zero is unbounded.
	Parallelism int
}

// Runner executes collection runs.
type Runner struct {
	collector *collector.Collector
	hot       *hottier.Store
	leases    jt.LeaseManager
	docs      jt.DocumentStore
	clock     jt.Clock
	ids       jt.IDGenerator
	logger    jt.Logger
	opts      Options
}

func NewRunner(col *collector.Collector, hot *hottier.Store, leases jt.LeaseManager, docs jt.DocumentStore,
	clock jt.Clock, ids jt.IDGenerator, logger jt.Logger, opts Options) *Runner {
	return &Runner{
		collector: col,
		hot:       hot,
		leases:    leases,
		docs:      docs,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		opts:      opts,
	}
}

// Run collects every volume in parallel and persists the run report.
// A volume's failure is recorded in its VolumeReport and does not stop the
// others; the returned error is non-nil only when ctx ends the run or the
// report cannot be stored.
func (r *Runner) Run(ctx context.Context, volumes []string) (*RunReport, error) {
	report := &RunReport{
		RunID:     r.ids.New(),
		HostID:    r.opts.HostID,
		StartedAt: r.clock.Now().UTC(),
		Volumes:   make([]VolumeReport, len(volumes)),
	}

	sorted := append([]string(nil), volumes...)
	sort.Strings(sorted)

	g, gctx := errgroup.WithContext(ctx)
	if r.opts.Parallelism > 0 {
		g.SetLimit(r.opts.Parallelism)
	}
	for i, vol := range sorted {
		g.Go(func() error {
			report.Volumes[i] = r.runVolume(gctx, vol)
			return nil
		})
	}
	_ = g.Wait()
	report.FinishedAt = r.clock.Now().UTC()

	r.log(report)

	if err := r.save(context.WithoutCancel(ctx), report); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

func (r *Runner) runVolume(ctx context.Context, volume string) VolumeReport {
	rep := VolumeReport{Volume: volume}
	log := r.logger.With("volume", volume)

	lease, err := r.leases.Acquire(ctx, volume)
	if err != nil {
		rep.Err = err
		return rep
	}
	defer func() {
		if err := lease.Release(); err != nil {
			log.Warn("releasing volume lease", "error", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			rep.Err = err
			return rep
		}

		batch, err := r.collector.Collect(ctx, volume)
		if err != nil {
			rep.Err = err
			return rep
		}
		if rep.Batches == 0 {
			rep.StartCursor = batch.After
			rep.EndCursor = batch.After
		}
		rep.Batches++
		rep.Identity = batch.Identity
		rep.Collected += len(batch.Records)
		rep.Skipped = append(rep.Skipped, batch.Skipped...)
		rep.DecodeErrors = append(rep.DecodeErrors, batch.DecodeErrors...)
		if batch.Resync != nil {
			rep.Resyncs = append(rep.Resyncs, batch.Resync)
			rep.EndCursor = batch.After
		}

		res := r.hot.IngestBatch(ctx, batch.Records)
		rep.Ingested += res.Ingested
		rep.Duplicates += res.Duplicates

		upTo := batch.Last
		if res.Failed != nil {
			rep.Failed = res.Failed
			upTo = res.Failed.Sequence - 1
		}
		// The cursor only moves under a live lease.
		if err := lease.Renew(); err != nil {
			rep.Err = err
			return rep
		}
		if err := r.collector.Commit(ctx, batch, upTo); err != nil {
			rep.Err = fmt.Errorf("committing cursor: %w", err)
			return rep
		}
		rep.EndCursor = max(upTo, batch.After)

		if res.Failed != nil || batch.Drained {
			return rep
		}
		if r.opts.MaxBatches > 0 && rep.Batches >= r.opts.MaxBatches {
			return rep
		}
	}
}

func (r *Runner) log(report *RunReport) {
	for i := range report.Volumes {
		v := &report.Volumes[i]
		log := r.logger.With("volume", v.Volume)
		for _, rs := range v.Resyncs {
			log.Error("JOURNAL RESYNC: records may have been lost",
				"reason", rs.Reason, "previous_sequence", rs.PreviousSequence, "restart_sequence", rs.RestartSequence)
		}
		switch {
		case v.Err != nil && errors.Is(v.Err, jt.ErrLeaseHeld):
			log.Warn("volume skipped, lease held elsewhere")
		case v.Err != nil && errors.Is(v.Err, jt.ErrLeaseLost):
			log.Error("volume lease taken over, cursor left at last commit", "cursor", v.EndCursor)
		case v.Err != nil:
			log.Error("volume collection failed", "error", v.Err)
		default:
			log.Info("volume collected", "batches", v.Batches,
				"ingested", v.Ingested, "duplicates", v.Duplicates, "skipped", len(v.Skipped),
				"decode_errors", len(v.DecodeErrors), "cursor", v.EndCursor)
		}
	}
}

func (r *Runner) save(ctx context.Context, report *RunReport) error {
	s := report.Summary()
	if _, err := r.docs.InsertIfAbsent(ctx, jt.CollectionRuns, s.RunID, s); err != nil {
		return fmt.Errorf("saving run report: %w", err)
	}
	return nil
}

// History returns up to limit stored runs, newest first.
func History(ctx context.Context, docs jt.DocumentStore, limit int) ([]RunSummary, error) {
	it, err := docs.Query(ctx, jt.CollectionRuns, jt.Query{OrderBy: "started_at", Desc: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer it.Close()

	var out []RunSummary
	for it.Next() {
		var s RunSummary
		if err := it.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", it.Key(), err)
		}
		out = append(out, s)
	}
	return out, it.Err()
}
