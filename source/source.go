// Package source defines how a migration reads its input. A source plugin opens a lazy,
// forward-only iterator over raw records, declares which fields identify a record, and may
// enrich every row before it enters the process pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// ErrUncountable is returned by Counter implementations that cannot count their records.
var ErrUncountable = errors.New("source cannot count its records")

// Field names and describes a source property.
type Field = plugin.Field

// Plugin reads the records of one migration.
type Plugin interface {
	// InitializeIterator opens a new pass over the source records. It fails with an
	// *UnavailableError when the source system cannot be reached.
	InitializeIterator(ctx context.Context) (Iterator, error)
	// Fields describes the source properties in order.
	Fields() []Field
	// IDs declares the fields forming the identifier tuple.
	IDs() []row.IDField
	// PrepareRow enriches a row with derived source properties before processing.
	PrepareRow(ctx context.Context, r *row.Row) error
}

// Iterator is a forward-only cursor over raw records. It cannot be restarted.
type Iterator interface {
	// Next advances to the next record and reports whether there is one.
	Next(ctx context.Context) bool
	// Record returns the current record.
	Record() *row.OrderedMap
	// Err returns the error that stopped the iteration, if any.
	Err() error
	// Close releases the cursor.
	Close() error
}

// Counter is implemented by sources that can count their records without iterating them.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// UnavailableError reports that the source system cannot be reached. It is fatal to a run.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Deps are the collaborators handed to source factories.
type Deps struct {
	// DB is the database read by the sql source.
	DB *sqlx.DB
	// BaseDir resolves relative file paths.
	BaseDir string
	Logger  logger.Logger
}

// Factory builds a source plugin from its configuration.
type Factory func(cfg plugin.Config, deps Deps) (Plugin, error)

// Registry maps source plugin ids to factories.
type Registry = plugin.Registry[Factory]

// NewRegistry returns an empty source registry.
func NewRegistry() *Registry {
	return plugin.NewRegistry[Factory]("source")
}

// DefaultRegistry returns a registry holding every source plugin of this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(EmbeddedDataID, NewEmbeddedData)
	r.MustRegister(SQLID, NewSQL)
	r.MustRegister(YAMLFileID, NewYAMLFile)

	return r
}

// RetryPolicy controls how often opening a source is attempted.
type RetryPolicy struct {
	MaxAttempts uint
	Delay       time.Duration
}

// DefaultRetryPolicy tries three times, one second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

// Open initializes the iterator of p. Failures wrapped in an *UnavailableError are retried
// according to policy; any other error is returned immediately.
func Open(ctx context.Context, p Plugin, policy RetryPolicy, lggr logger.Logger) (Iterator, error) {
	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.DoWithData(
		func() (Iterator, error) {
			it, err := p.InitializeIterator(ctx)
			if err != nil {
				var unavailable *UnavailableError
				if !errors.As(err, &unavailable) {
					return nil, retry.Unrecoverable(err)
				}

				return nil, err
			}

			return it, nil
		},
		retry.Attempts(attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			lggr.Infow("Source unavailable. Retrying...", "attempt", attempt, "error", err)
		}),
	)
}

// base carries the id and field declarations shared by every variant.
type base struct {
	IDFields    []row.IDField `yaml:"ids"`
	FieldsDecl  []Field       `yaml:"fields"`
	ConstFields []constant    `yaml:"constants"`
}

type constant struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

func (b base) IDs() []row.IDField {
	return append([]row.IDField(nil), b.IDFields...)
}

func (b base) Fields() []Field {
	return append([]Field(nil), b.FieldsDecl...)
}

// PrepareRow adds the configured constants to the row.
func (b base) PrepareRow(_ context.Context, r *row.Row) error {
	for _, c := range b.ConstFields {
		if err := r.Enrich(c.Name, row.FromAny(c.Value)); err != nil {
			return err
		}
	}

	return nil
}

func (b base) validate(id string) error {
	if len(b.IDFields) == 0 {
		return fmt.Errorf("%s source: at least one id field is required", id)
	}
	for _, f := range b.IDFields {
		if f.Name == "" {
			return fmt.Errorf("%s source: id field without name", id)
		}
	}

	return nil
}

// RowPreparer is an extra preparation step attached to a source with WithPrepareRow.
type RowPreparer func(ctx context.Context, r *row.Row) error

// WithPrepareRow returns p with additional preparation steps run after its own PrepareRow.
func WithPrepareRow(p Plugin, fns ...RowPreparer) Plugin {
	return &preparing{Plugin: p, fns: fns}
}

type preparing struct {
	Plugin
	fns []RowPreparer
}

func (p *preparing) PrepareRow(ctx context.Context, r *row.Row) error {
	if err := p.Plugin.PrepareRow(ctx, r); err != nil {
		return err
	}
	for _, fn := range p.fns {
		if err := fn(ctx, r); err != nil {
			return err
		}
	}

	return nil
}

func (p *preparing) Count(ctx context.Context) (int, error) {
	if c, ok := p.Plugin.(Counter); ok {
		return c.Count(ctx)
	}

	return 0, ErrUncountable
}
