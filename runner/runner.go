// Package runner orchestrates migrations: it selects them, runs them in dependency order,
// makes sure a migration only starts once its required dependencies completed, prevents two
// runs of the same migration and records a report per run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/executable"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/source"
)

// DependencyNotMetError is returned for migrations whose required dependency has no
// successful import.
type DependencyNotMetError struct {
	Migration  string
	Dependency string
}

func (e *DependencyNotMetError) Error() string {
	return fmt.Sprintf("migration %s requires %s to have completed successfully", e.Migration, e.Dependency)
}

// Runner runs the migrations of a manager.
type Runner struct {
	manager     *migration.Manager
	reporter    Reporter
	sink        events.Sink
	lggr        logger.Logger
	locks       *RunLock
	concurrency int
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter sets where run reports are stored. The default keeps them in memory.
func WithReporter(r Reporter) Option {
	return func(rn *Runner) { rn.reporter = r }
}

// WithSink sets the sink receiving the events of every run.
func WithSink(s events.Sink) Option {
	return func(rn *Runner) { rn.sink = s }
}

// WithRunLock shares a run lock between runners.
func WithRunLock(l *RunLock) Option {
	return func(rn *Runner) { rn.locks = l }
}

// WithConcurrency sets how many independent migrations run at the same time. Values below
// one mean one.
func WithConcurrency(n int) Option {
	return func(rn *Runner) { rn.concurrency = max(n, 1) }
}

// New returns a runner over the migrations of manager.
func New(manager *migration.Manager, lggr logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		manager:     manager,
		reporter:    NewMemoryReporter(),
		sink:        events.Nop(),
		lggr:        lggr,
		locks:       NewRunLock(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reporter returns the reporter of the runner.
func (r *Runner) Reporter() Reporter { return r.reporter }

// Manager returns the migration manager of the runner.
func (r *Runner) Manager() *migration.Manager { return r.manager }

// Select returns the definitions with the given ids and those carrying one of the tags. With
// neither ids nor tags every definition is selected.
func (r *Runner) Select(ids, tags []string) ([]migration.Definition, error) {
	all := r.manager.Definitions()
	if len(ids) == 0 && len(tags) == 0 {
		return all, nil
	}
	for _, id := range ids {
		if _, err := r.manager.Definition(id); err != nil {
			return nil, err
		}
	}

	var selected []migration.Definition
	for _, d := range all {
		if slices.Contains(ids, d.ID) || slices.ContainsFunc(tags, d.HasTag) {
			selected = append(selected, d)
		}
	}

	return selected, nil
}

// levels validates the dependency graph of every definition, then returns the levels
// restricted to the selection.
func (r *Runner) levels(selected []migration.Definition) ([][]migration.Definition, error) {
	if _, err := migration.Levels(r.manager.Definitions()); err != nil {
		return nil, err
	}
	levels, err := migration.Levels(selected)
	if err != nil {
		var missing *migration.MissingDependencyError
		if !errors.As(err, &missing) {
			return nil, err
		}
		// Dependencies outside the selection are checked against earlier reports instead.
		levels, err = migration.Levels(withoutExternalDeps(selected))
		if err != nil {
			return nil, err
		}
	}

	return levels, nil
}

func withoutExternalDeps(defs []migration.Definition) []migration.Definition {
	in := make(map[string]bool, len(defs))
	for _, d := range defs {
		in[d.ID] = true
	}
	out := make([]migration.Definition, len(defs))
	for i, d := range defs {
		var required []string
		for _, dep := range d.Dependencies.Required {
			if in[dep] {
				required = append(required, dep)
			}
		}
		d.Dependencies.Required = required
		out[i] = d
	}

	return out
}

// Import runs the selected migrations in dependency order. Migrations of one level run
// concurrently, bounded by the configured concurrency; the next level starts when the previous
// one finished. A failed migration does not stop independent migrations of its level, but no
// later level is started.
func (r *Runner) Import(ctx context.Context, defs []migration.Definition, opts ...executable.Option) ([]Report, error) {
	levels, err := r.levels(defs)
	if err != nil {
		return nil, err
	}

	var reports []Report
	for _, level := range levels {
		levelReports := make([]*Report, len(level))
		var (
			mu   sync.Mutex
			errs []error
		)

		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for i, def := range level {
			g.Go(func() error {
				rep, err := r.importOne(ctx, def, opts)
				levelReports[i] = rep
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}

				return nil
			})
		}
		_ = g.Wait()

		for _, rep := range levelReports {
			if rep != nil {
				reports = append(reports, *rep)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return reports, err
		}
	}

	return reports, nil
}

// ImportAll imports every migration of the manager.
func (r *Runner) ImportAll(ctx context.Context, opts ...executable.Option) ([]Report, error) {
	return r.Import(ctx, r.manager.Definitions(), opts...)
}

func (r *Runner) importOne(ctx context.Context, def migration.Definition, opts []executable.Option) (*Report, error) {
	for _, dep := range def.Dependencies.Required {
		if _, err := LastSuccessfulImport(r.reporter, dep); err != nil {
			if errors.Is(err, ErrReportNotFound) {
				return nil, &DependencyNotMetError{Migration: def.ID, Dependency: dep}
			}

			return nil, err
		}
	}

	return r.run(ctx, def, OperationImport, func(exe *executable.Executable) (executable.Result, error) {
		return exe.Import(ctx)
	}, opts)
}

// Rollback rolls the selected migrations back, dependents first.
func (r *Runner) Rollback(ctx context.Context, defs []migration.Definition) ([]Report, error) {
	levels, err := r.levels(defs)
	if err != nil {
		return nil, err
	}

	var reports []Report
	for i := len(levels) - 1; i >= 0; i-- {
		level := levels[i]
		for j := len(level) - 1; j >= 0; j-- {
			rep, err := r.run(ctx, level[j], OperationRollback, func(exe *executable.Executable) (executable.Result, error) {
				return exe.Rollback(ctx)
			}, nil)
			if rep != nil {
				reports = append(reports, *rep)
			}
			if err != nil {
				return reports, err
			}
		}
	}

	return reports, nil
}

func (r *Runner) run(
	ctx context.Context,
	def migration.Definition,
	op Operation,
	do func(exe *executable.Executable) (executable.Result, error),
	opts []executable.Option,
) (*Report, error) {
	if err := r.locks.TryLock(def.ID); err != nil {
		return nil, err
	}
	defer r.locks.Unlock(def.ID)

	m, err := r.manager.Migration(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	res, err := do(executable.New(m, r.sink, r.lggr, opts...))
	rep := NewReport(def, op, res, err)
	if aerr := r.reporter.AddReport(rep); aerr != nil {
		return &rep, errors.Join(err, fmt.Errorf("failed to store run report: %w", aerr))
	}
	if err != nil {
		return &rep, fmt.Errorf("migration %s: %w", def.ID, err)
	}
	if res.State != executable.StateCompleted {
		return &rep, fmt.Errorf("migration %s %s: %w", def.ID, res.State, res.Err)
	}

	return &rep, nil
}

// Status describes the progress of one migration.
type Status struct {
	ID      string
	Label   string
	Version string
	// Total is the number of source records, or -1 when the source cannot count them.
	Total int
	// IDMap counts the id map entries per status.
	IDMap idmap.Summary
	// Unprocessed is Total minus the id map entries, or -1 when Total is unknown.
	Unprocessed int
	Running     bool
	LastImport  *Report
	// Messages holds the row messages of the id map, keyed by source ids.
	Messages map[string][]string
}

// Status reports the progress of the selected migrations.
func (r *Runner) Status(ctx context.Context, defs []migration.Definition) ([]Status, error) {
	out := make([]Status, 0, len(defs))
	for _, def := range defs {
		m, err := r.manager.Migration(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		entries, err := m.IDMap.Entries(ctx)
		if err != nil {
			return nil, fmt.Errorf("migration %s: failed to read id map: %w", def.ID, err)
		}

		st := Status{
			ID:          def.ID,
			Label:       def.Label,
			Total:       -1,
			IDMap:       idmap.Summarize(entries),
			Unprocessed: -1,
			Running:     r.locks.Running(def.ID),
		}
		if def.Version != nil {
			st.Version = def.Version.String()
		}
		if counter, ok := m.Source.(source.Counter); ok {
			n, err := counter.Count(ctx)
			switch {
			case err == nil:
				st.Total = n
				st.Unprocessed = max(n-len(entries), 0)
			case !errors.Is(err, source.ErrUncountable):
				return nil, fmt.Errorf("migration %s: failed to count source: %w", def.ID, err)
			}
		}
		if rep, err := LastSuccessfulImport(r.reporter, def.ID); err == nil {
			st.LastImport = &rep
		}
		for _, e := range idmap.Filter(entries, idmap.WithMessages()) {
			if st.Messages == nil {
				st.Messages = make(map[string][]string)
			}
			st.Messages[e.SourceIDs.String()] = e.Messages
		}

		out = append(out, st)
	}

	return out, nil
}
