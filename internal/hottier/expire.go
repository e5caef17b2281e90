package hottier

import (
	"context"
	"fmt"

	"jt-go/internal/jt"
)

// handoffBatchSize caps the records passed to the sink in one call.
const handoffBatchSize = 500

// Expire removes every record with expires_at <= now and returns how many
// were removed. With a sink configured each batch is handed off first; a
// batch the sink rejects stays in the store and the error is returned.
func (s *Store) Expire(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	cutoff := jt.Lte("expires_at", now.UnixNano())

	if s.opts.Sink == nil {
		n, err := s.docs.DeleteWhere(ctx, jt.CollectionActivities, []jt.Cond{cutoff})
		if err != nil {
			return 0, fmt.Errorf("deleting expired activities: %w", err)
		}
		if n > 0 {
			s.logger.Info("expired activities", "count", n)
		}
		return n, nil
	}

	expired, err := s.expired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(expired); start += handoffBatchSize {
		chunk := expired[start:min(start+handoffBatchSize, len(expired))]
		batch := jt.HandoffBatch{
			ID:        s.opts.IDs.New(),
			HostID:    s.opts.HostID,
			CreatedAt: now,
			Records:   chunk,
		}
		if err := s.opts.Sink.Handoff(ctx, batch); err != nil {
			return removed, fmt.Errorf("handing off batch %s: %w", batch.ID, err)
		}
		s.logger.Info("handed off expired activities", "batch", batch.ID, "count", len(chunk))

		for _, a := range chunk {
			n, err := s.docs.DeleteWhere(ctx, jt.CollectionActivities, []jt.Cond{
				jt.Eq("volume_id", a.VolumeID),
				jt.Eq("sequence", a.Sequence),
			})
			if err != nil {
				return removed, fmt.Errorf("deleting %s: %w", Key(a.VolumeID, a.Sequence), err)
			}
			removed += n
		}
	}
	return removed, nil
}

func (s *Store) expired(ctx context.Context, cutoff jt.Cond) ([]jt.ActivityRecord, error) {
	it, err := s.docs.Query(ctx, jt.CollectionActivities, jt.Query{
		Where:   []jt.Cond{cutoff},
		OrderBy: "expires_at",
	})
	if err != nil {
		return nil, fmt.Errorf("querying expired activities: %w", err)
	}
	defer it.Close()

	var out []jt.ActivityRecord
	for it.Next() {
		var d activityDoc
		if err := it.Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding activity %s: %w", it.Key(), err)
		}
		out = append(out, d.record())
	}
	return out, it.Err()
}
