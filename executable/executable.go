// Package executable runs one migration: it pulls rows from the source, decides through the
// id map which rows need processing, runs them through the process pipeline, writes them to the
// destination and records the outcome. It also rolls migrations back.
//
// A run moves from idle to running and ends completed, stopped or failed. Row level problems
// are recorded in the id map and the run continues; an unreachable source or destination, an
// id map failure or too many failed rows abort it. Rows committed before an abort stay
// committed and the next run resumes from the id map.
package executable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/process"
	"github.com/contentmigrate/migrate-framework/row"
	"github.com/contentmigrate/migrate-framework/source"
)

var (
	// ErrFailureThreshold aborts a run whose failed rows exceed the configured threshold.
	ErrFailureThreshold = errors.New("row failure threshold exceeded")
	// ErrStopped is the reason of runs ended by Stop.
	ErrStopped = errors.New("migration run stopped")
	// ErrDeadlineExceeded is the reason of runs ended by their deadline.
	ErrDeadlineExceeded = errors.New("migration run deadline exceeded")
	// ErrAlreadyStarted is returned when an Executable is run twice.
	ErrAlreadyStarted = errors.New("executable already started")
)

// Executable runs a migration once.
type Executable struct {
	m    *migration.Migration
	sink events.Sink
	lggr logger.Logger
	cfg  config

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	stopOnce sync.Once
}

// New returns an idle executable for m. A nil sink drops events.
func New(m *migration.Migration, sink events.Sink, lggr logger.Logger, opts ...Option) *Executable {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if sink == nil {
		sink = events.Nop()
	}

	return &Executable{
		m:    m,
		sink: sink,
		lggr: lggr.With("migration", m.ID()),
		cfg:  cfg,
		stop: make(chan struct{}),
	}
}

// State returns the current state.
func (e *Executable) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Stop asks a running import or rollback to end at the next row boundary.
func (e *Executable) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Executable) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s
}

func (e *Executable) start() (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return nil, ErrAlreadyStarted
	}
	e.state = StateRunning

	r := &run{e: e, res: Result{MigrationID: e.m.ID(), State: StateRunning, StartedAt: e.cfg.now()}}
	e.emit(events.New(events.RunStarted, e.m.ID(), r.res.StartedAt))

	return r, nil
}

func (e *Executable) emit(ev events.Event) {
	e.sink.Emit(ev)
}

func (e *Executable) event(typ events.Type, ids row.IDs) events.Event {
	ev := events.New(typ, e.m.ID(), e.cfg.now())
	ev.SourceIDs = ids

	return ev
}

// interrupted returns the reason to stop at a row boundary, or nil.
func (e *Executable) interrupted(ctx context.Context) error {
	select {
	case <-e.stop:
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.cfg.deadline.IsZero() && !e.cfg.now().Before(e.cfg.deadline) {
		return ErrDeadlineExceeded
	}

	return nil
}

// run holds the bookkeeping of one Import or Rollback call.
type run struct {
	e   *Executable
	res Result
}

func (r *run) finish(state State, err error) (Result, error) {
	r.res.State = state
	r.res.Err = err
	r.res.FinishedAt = r.e.cfg.now()
	r.e.setState(state)

	counts := r.res.Counts()
	ev := r.e.event(events.RunCompleted, nil)
	ev.Counts = &counts
	if err != nil {
		ev.Message = err.Error()
	}
	r.e.emit(ev)

	switch state {
	case StateFailed:
		r.e.lggr.Errorw("Migration run failed", "error", err, "processed", r.res.Processed, "failed", r.res.Failed)
		return r.res, err
	case StateStopped:
		r.e.lggr.Infow("Migration run stopped", "reason", err, "processed", r.res.Processed)
	default:
		r.e.lggr.Infow("Migration run completed", "processed", r.res.Processed, "created", r.res.Created,
			"updated", r.res.Updated, "skipped", r.res.Skipped, "failed", r.res.Failed,
			"upToDate", r.res.UpToDate, "rolledBack", r.res.RolledBack, "duration", r.res.Duration())
	}

	return r.res, nil
}

// Import runs the migration. The returned error is non-nil only for failed runs; stopped runs
// carry their reason in Result.Err.
func (e *Executable) Import(ctx context.Context) (Result, error) {
	r, err := e.start()
	if err != nil {
		return Result{}, err
	}
	e.lggr.Infow("Migration import started", "sync", e.cfg.sync, "update", e.cfg.update, "limit", e.cfg.limit)

	filter, err := e.idFilter()
	if err != nil {
		return r.finish(StateFailed, err)
	}
	if e.cfg.update {
		if err := e.m.IDMap.PrepareUpdate(ctx); err != nil {
			return r.finish(StateFailed, fmt.Errorf("failed to prepare update: %w", err))
		}
	}

	it, err := source.Open(ctx, e.m.Source, e.cfg.retry, e.lggr)
	if err != nil {
		if ctx.Err() != nil {
			return r.finish(StateStopped, ctx.Err())
		}

		return r.finish(StateFailed, err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			e.lggr.Warnw("Failed to close source iterator", "error", cerr)
		}
	}()

	seen := make(map[string]struct{})
	complete := filter == nil
	for {
		if err := e.interrupted(ctx); err != nil {
			return r.finish(StateStopped, err)
		}
		if e.cfg.limit > 0 && r.res.Processed >= e.cfg.limit {
			complete = false
			break
		}
		if !it.Next(ctx) {
			break
		}

		rec, err := row.New(it.Record(), e.m.Source.IDs())
		if err != nil {
			if err := r.unidentifiedRow(err); err != nil {
				return r.finish(StateFailed, err)
			}

			continue
		}
		ids := rec.SourceIDValues()
		if filter != nil {
			if _, ok := filter[ids.Key()]; !ok {
				continue
			}
		}
		seen[ids.Key()] = struct{}{}

		if err := r.importRow(ctx, rec); err != nil {
			return r.finish(StateFailed, err)
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return r.finish(StateStopped, ctx.Err())
		}

		return r.finish(StateFailed, fmt.Errorf("source iteration failed: %w", err))
	}

	if e.cfg.sync && complete {
		if err := r.rollbackMissing(ctx, seen); err != nil {
			return r.finish(StateFailed, err)
		}
	}

	return r.finish(StateCompleted, nil)
}

func (e *Executable) idFilter() (map[string]struct{}, error) {
	if len(e.cfg.idList) == 0 {
		return nil, nil
	}
	fields := e.m.Source.IDs()
	filter := make(map[string]struct{}, len(e.cfg.idList))
	for _, ids := range e.cfg.idList {
		if len(ids) != len(fields) {
			return nil, fmt.Errorf("id list entry %s: expected %d values", ids.String(), len(fields))
		}
		normalized := make(row.IDs, len(ids))
		for i, f := range fields {
			v, err := f.Normalize(ids[i])
			if err != nil {
				return nil, fmt.Errorf("id list entry %s: %w", ids.String(), err)
			}
			normalized[i] = v
		}
		filter[normalized.Key()] = struct{}{}
	}

	return filter, nil
}

// importRow handles one source row. A non-nil error is fatal to the run.
func (r *run) importRow(ctx context.Context, rec *row.Row) error {
	e := r.e
	ids := rec.SourceIDValues()
	hash := rec.Hash()

	entry, err := e.m.IDMap.Get(ctx, ids)
	found := err == nil
	if err != nil && !errors.Is(err, idmap.ErrNotFound) {
		return fmt.Errorf("failed to read id map: %w", err)
	}
	if !idmap.NeedsProcessing(entry, found, hash, e.cfg.sync) {
		r.res.UpToDate++
		e.emit(e.event(events.RowUpToDate, ids))

		return nil
	}

	r.res.Processed++
	e.lggr.Debugw("Processing row", "sourceIDs", ids.String())
	if found && len(entry.Messages) > 0 {
		if err := e.m.IDMap.ClearMessages(ctx, ids); err != nil {
			return fmt.Errorf("failed to clear row messages: %w", err)
		}
	}

	if err := e.m.Source.PrepareRow(ctx, rec); err != nil {
		var unavailable *source.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}

		return r.rowFailed(ctx, ids, entry.DestinationIDs, hash, fmt.Errorf("prepare row: %w", err))
	}
	rec.Freeze()

	if err := e.m.ProcessRow(ctx, rec); err != nil {
		var skip *process.SkipRowError
		if errors.As(err, &skip) {
			return r.rowSkipped(ctx, ids, entry.DestinationIDs, hash, skip)
		}

		return r.rowFailed(ctx, ids, entry.DestinationIDs, hash, err)
	}

	existing := entry.DestinationIDs
	destIDs, err := e.m.Destination.Import(ctx, rec, existing)
	if err != nil {
		var unavailable *destination.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}

		return r.rowFailed(ctx, ids, existing, hash, err)
	}
	if err := e.m.IDMap.SaveIDMapping(ctx, ids, destIDs, hash, idmap.StatusImported); err != nil {
		return fmt.Errorf("failed to save id mapping: %w", err)
	}

	if existing.IsEmpty() {
		r.res.Created++
	} else {
		r.res.Updated++
	}
	ev := e.event(events.RowImported, ids)
	ev.DestinationIDs = destIDs
	e.emit(ev)

	return nil
}

func (r *run) rowSkipped(ctx context.Context, ids, existing row.IDs, hash string, skip *process.SkipRowError) error {
	e := r.e
	r.res.Skipped++
	if err := e.m.IDMap.SaveIDMapping(ctx, ids, existing, hash, idmap.StatusIgnored); err != nil {
		return fmt.Errorf("failed to save id mapping: %w", err)
	}
	if skip.Message != "" {
		if err := e.m.IDMap.SaveMessage(ctx, ids, skip.Message); err != nil {
			return fmt.Errorf("failed to save row message: %w", err)
		}
	}
	ev := e.event(events.RowSkipped, ids)
	ev.Message = skip.Message
	e.emit(ev)

	return nil
}

func (r *run) rowFailed(ctx context.Context, ids, existing row.IDs, hash string, cause error) error {
	e := r.e
	r.res.Failed++
	r.res.FailedIDs = append(r.res.FailedIDs, ids)

	if err := e.m.IDMap.SaveIDMapping(ctx, ids, existing, hash, idmap.StatusFailed); err != nil {
		return fmt.Errorf("failed to save id mapping: %w", err)
	}
	if err := e.m.IDMap.SaveMessage(ctx, ids, cause.Error()); err != nil {
		return fmt.Errorf("failed to save row message: %w", err)
	}
	ev := e.event(events.RowFailed, ids)
	ev.Message = cause.Error()
	e.emit(ev)

	return r.checkThreshold()
}

// unidentifiedRow records a source record whose ids cannot be read. Without ids it cannot be
// recorded in the id map.
func (r *run) unidentifiedRow(cause error) error {
	r.res.Processed++
	r.res.Failed++
	ev := r.e.event(events.RowFailed, nil)
	ev.Message = cause.Error()
	r.e.emit(ev)

	return r.checkThreshold()
}

func (r *run) checkThreshold() error {
	if t := r.e.cfg.failureThreshold; t > 0 && r.res.Failed > t {
		return fmt.Errorf("%w: %d rows failed, threshold is %d", ErrFailureThreshold, r.res.Failed, t)
	}

	return nil
}

// rollbackMissing rolls back the entries whose source rows were not seen during a complete
// pass.
func (r *run) rollbackMissing(ctx context.Context, seen map[string]struct{}) error {
	entries, err := r.e.m.IDMap.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read id map: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if _, ok := seen[entry.SourceIDs.Key()]; ok {
			continue
		}
		r.e.lggr.Infow("Source row disappeared, rolling back", "sourceIDs", entry.SourceIDs.String())
		if err := r.rollbackEntry(ctx, entry); err != nil {
			var unavailable *destination.UnavailableError
			if errors.As(err, &unavailable) {
				return err
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Rollback removes the destination artifact of every id map entry and then the entry itself.
// Entries whose artifact could not be removed are kept so that a later rollback can retry them.
func (e *Executable) Rollback(ctx context.Context) (Result, error) {
	r, err := e.start()
	if err != nil {
		return Result{}, err
	}
	e.lggr.Infow("Migration rollback started")

	entries, err := e.m.IDMap.Entries(ctx)
	if err != nil {
		return r.finish(StateFailed, fmt.Errorf("failed to read id map: %w", err))
	}

	var errs []error
	for _, entry := range entries {
		if err := e.interrupted(ctx); err != nil {
			return r.finish(StateStopped, err)
		}
		if err := r.rollbackEntry(ctx, entry); err != nil {
			var unavailable *destination.UnavailableError
			if errors.As(err, &unavailable) {
				return r.finish(StateFailed, err)
			}
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return r.finish(StateFailed, err)
	}

	return r.finish(StateCompleted, nil)
}

func (r *run) rollbackEntry(ctx context.Context, entry idmap.Entry) error {
	e := r.e
	if !entry.DestinationIDs.IsEmpty() {
		if err := e.m.Destination.RollbackImport(ctx, entry.DestinationIDs); err != nil {
			return fmt.Errorf("rollback of %s: %w", entry.SourceIDs.String(), err)
		}
	}
	if err := e.m.IDMap.Delete(ctx, entry.SourceIDs); err != nil {
		return fmt.Errorf("failed to delete id map entry %s: %w", entry.SourceIDs.String(), err)
	}

	r.res.RolledBack++
	ev := e.event(events.RowRolledBack, entry.SourceIDs)
	ev.DestinationIDs = entry.DestinationIDs
	e.emit(ev)

	return nil
}
