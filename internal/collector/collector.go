// Package collector reads change journals incrementally, one batch per
// call, and tracks per-volume cursors.
package collector

import (
	"context"
	"fmt"

	"jt-go/internal/jt"
	"jt-go/internal/usn"
)

// SkipReason explains why a journal entry produced no record.
type SkipReason string

const (
	SkipIgnored    SkipReason = "ignored"
	SkipOutOfOrder SkipReason = "out_of_order"
)

// Skipped is a decoded entry that was consumed without being ingested.
type Skipped struct {
	Sequence int64
	Name     string
	Reason   SkipReason
	Detail   string
}

// Batch is one collection step for a volume.
type Batch struct {
	Volume       string
	Identity     string
	After        int64 // cursor position the batch was read from
	Records      []jt.ChangeRecord
	Skipped      []Skipped
	DecodeErrors []*jt.DecodeError
	Resync       *jt.ResyncRequiredError
	Last         int64 // highest consumed sequence; After when nothing was consumed
	Drained      bool  // no entries remained after this batch
}

// Options configures a Collector.
type Options struct {
	BatchSize int
	Ignore    []string
}

// Collector turns a journal source into batches of change records.
// Collect and Commit for one volume must not run concurrently; the
// pipeline holds the volume's lease around them.
type Collector struct {
	source    jt.JournalSource
	cursors   *CursorStore
	ignore    *IgnoreMatcher
	batchSize int
	logger    jt.Logger
}

func New(source jt.JournalSource, cursors *CursorStore, opts Options, logger jt.Logger) (*Collector, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	ignore, err := NewIgnoreMatcher(opts.Ignore)
	if err != nil {
		return nil, err
	}
	return &Collector{
		source:    source,
		cursors:   cursors,
		ignore:    ignore,
		batchSize: opts.BatchSize,
		logger:    logger,
	}, nil
}

// Cursors returns the collector's cursor store.
func (c *Collector) Cursors() *CursorStore {
	return c.cursors
}

// Collect reads the next batch for volume. It never moves the cursor past
// unconfirmed records; the caller commits after durable hand-off.
//
// A volume seen for the first time starts at the journal's current end.
// A changed journal identity resets the cursor to the current end and
// returns an empty batch with Resync set. A cursor whose next record has
// already been overwritten restarts at the oldest readable record, also
// with Resync set.
func (c *Collector) Collect(ctx context.Context, volume string) (*Batch, error) {
	log := c.logger.With("volume", volume)
	state, err := c.source.CurrentState(ctx, volume)
	if err != nil {
		return nil, err
	}

	cur, found, err := c.cursors.Get(ctx, volume)
	if err != nil {
		return nil, err
	}

	if !found {
		start := state.NextSequence - 1
		if err := c.cursors.Reset(ctx, volume, state.Identity, start); err != nil {
			return nil, err
		}
		log.Info("starting new cursor at journal end", "journal", state.Identity, "sequence", start)
		return &Batch{Volume: volume, Identity: state.Identity, After: start, Last: start, Drained: true}, nil
	}

	if cur.JournalIdentity != state.Identity {
		restart := state.NextSequence - 1
		if err := c.cursors.Reset(ctx, volume, state.Identity, restart); err != nil {
			return nil, err
		}
		resync := &jt.ResyncRequiredError{
			Volume:           volume,
			Reason:           jt.ResyncIdentityChanged,
			PreviousIdentity: cur.JournalIdentity,
			CurrentIdentity:  state.Identity,
			PreviousSequence: cur.LastSequence,
			RestartSequence:  restart,
		}
		log.Error("journal identity changed, cursor reset",
			"previous", cur.JournalIdentity, "current", state.Identity, "restart", restart)
		return &Batch{Volume: volume, Identity: state.Identity, After: restart, Last: restart, Resync: resync, Drained: true}, nil
	}

	batch := &Batch{Volume: volume, Identity: state.Identity, After: cur.LastSequence}
	if cur.LastSequence+1 < state.LowestSequence {
		restart := state.LowestSequence - 1
		if err := c.cursors.Reset(ctx, volume, state.Identity, restart); err != nil {
			return nil, err
		}
		batch.Resync = &jt.ResyncRequiredError{
			Volume:           volume,
			Reason:           jt.ResyncWrapped,
			PreviousIdentity: cur.JournalIdentity,
			CurrentIdentity:  state.Identity,
			PreviousSequence: cur.LastSequence,
			RestartSequence:  restart,
		}
		batch.After = restart
		log.Error("journal wrapped past cursor, records lost",
			"cursor", cur.LastSequence, "lowest_valid", state.LowestSequence)
	}
	batch.Last = batch.After

	if err := c.read(ctx, batch, state.NextSequence); err != nil {
		return nil, err
	}
	return batch, nil
}

// read fills batch from the journal. next is the journal's end as reported
// before reading; it bounds sequences taken from undecodable records.
func (c *Collector) read(ctx context.Context, batch *Batch, next int64) error {
	it, err := c.source.ReadFrom(ctx, batch.Volume, batch.After)
	if err != nil {
		return err
	}
	defer it.Close()

	consumed := 0
	offset := 0
	for consumed < c.batchSize {
		if !it.Next() {
			if err := it.Err(); err != nil {
				return err
			}
			batch.Drained = true
			return nil
		}
		raw := it.Entry()
		consumed++
		c.consume(batch, raw, offset, next)
		offset += len(raw)
	}

	// Peek one entry to tell a full batch from a drained journal.
	if !it.Next() {
		if err := it.Err(); err != nil {
			return err
		}
		batch.Drained = true
	}
	return nil
}

func (c *Collector) consume(batch *Batch, raw []byte, offset int, next int64) {
	rec, err := usn.Decode(batch.Volume, raw)
	if err != nil {
		batch.DecodeErrors = append(batch.DecodeErrors, &jt.DecodeError{Volume: batch.Volume, Offset: offset, Err: err})
		c.logger.Warn("skipping undecodable journal record", "volume", batch.Volume, "offset", offset, "error", err)
		// The cursor may step over the bad record only when its sequence
		// field is plausible. A corrupt one beyond the journal end would
		// mark every later record out of order.
		if seq, ok := usn.PeekSequence(raw); ok && seq > batch.Last && seq < next {
			batch.Last = seq
		}
		return
	}

	if rec.Sequence <= batch.Last {
		batch.Skipped = append(batch.Skipped, Skipped{
			Sequence: rec.Sequence,
			Name:     rec.Name,
			Reason:   SkipOutOfOrder,
			Detail:   fmt.Sprintf("sequence %d not after %d", rec.Sequence, batch.Last),
		})
		return
	}
	batch.Last = rec.Sequence

	if pattern, ok := c.ignore.Match(rec.Name); ok {
		batch.Skipped = append(batch.Skipped, Skipped{
			Sequence: rec.Sequence,
			Name:     rec.Name,
			Reason:   SkipIgnored,
			Detail:   pattern,
		})
		return
	}
	batch.Records = append(batch.Records, rec)
}

// Commit advances the volume's cursor to upTo once every record of batch
// up to and including upTo is durable. upTo must lie within the batch.
func (c *Collector) Commit(ctx context.Context, batch *Batch, upTo int64) error {
	if upTo > batch.Last {
		return fmt.Errorf("commit of %s to %d beyond batch end %d", batch.Volume, upTo, batch.Last)
	}
	if upTo <= batch.After {
		return nil
	}
	return c.cursors.Advance(ctx, batch.Volume, batch.Identity, upTo)
}
