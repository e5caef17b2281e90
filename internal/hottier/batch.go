package hottier

import (
	"context"
	"errors"
	"time"

	"jt-go/internal/jt"
)

// RetryPolicy bounds how transient store failures are retried.
type RetryPolicy struct {
	Attempts  int // total tries, including the first
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// BatchResult is the outcome of IngestBatch.
type BatchResult struct {
	Records    []jt.ActivityRecord // stored records, in input order
	Ingested   int                 // newly stored
	Duplicates int                 // already present
	Failed     *jt.StoreWriteError // first record that could not be stored
}

// Stored reports how many leading records of the batch are durable.
func (r *BatchResult) Stored() int { return len(r.Records) }

// IngestBatch ingests records in order, retrying transient failures with
// exponential backoff. It stops at the first record that still fails so the
// durable records always form a prefix of the input.
func (s *Store) IngestBatch(ctx context.Context, records []jt.ChangeRecord) BatchResult {
	var res BatchResult
	for _, rec := range records {
		a, created, err := s.ingestWithRetry(ctx, rec)
		if err != nil {
			var swe *jt.StoreWriteError
			if !errors.As(err, &swe) {
				swe = &jt.StoreWriteError{Volume: rec.VolumeID, Sequence: rec.Sequence, Attempts: 1, Err: err}
			}
			res.Failed = swe
			s.logger.Error("record not stored", "volume", rec.VolumeID, "sequence", rec.Sequence,
				"attempts", swe.Attempts, "error", swe.Err)
			return res
		}
		res.Records = append(res.Records, a)
		if created {
			res.Ingested++
		} else {
			res.Duplicates++
		}
	}
	return res
}

func (s *Store) ingestWithRetry(ctx context.Context, rec jt.ChangeRecord) (jt.ActivityRecord, bool, error) {
	attempts := max(s.opts.Retry.Attempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		a, created, err := s.ingest(ctx, rec)
		if err == nil {
			return a, created, nil
		}
		lastErr = err
		if !jt.IsRetryable(err) || attempt == attempts {
			return jt.ActivityRecord{}, false, &jt.StoreWriteError{Volume: rec.VolumeID, Sequence: rec.Sequence, Attempts: attempt, Err: err}
		}

		wait := s.opts.Retry.delay(attempt)
		s.logger.Warn("retrying record", "volume", rec.VolumeID, "sequence", rec.Sequence,
			"attempt", attempt, "wait", wait, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return jt.ActivityRecord{}, false, &jt.StoreWriteError{Volume: rec.VolumeID, Sequence: rec.Sequence, Attempts: attempt, Err: ctx.Err()}
		case <-t.C:
		}
	}
	return jt.ActivityRecord{}, false, lastErr
}
