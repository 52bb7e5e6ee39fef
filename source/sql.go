package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// SQLID is the id of the source reading the result of a query.
const SQLID = "sql"

// PrepareQuery is an auxiliary query run for every row. Named parameters such as :nid are bound
// from the row's source properties and the result rows are attached as a list property.
type PrepareQuery struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// SQL streams the rows of a query through a database cursor.
type SQL struct {
	base `yaml:",inline"`

	Query          string         `yaml:"query"`
	CountQuery     string         `yaml:"count_query"`
	PrepareQueries []PrepareQuery `yaml:"prepare_queries"`

	db *sqlx.DB
}

var _ Counter = &SQL{}

// NewSQL is the Factory of the sql source.
func NewSQL(cfg plugin.Config, deps Deps) (Plugin, error) {
	s := &SQL{db: deps.DB}
	if err := cfg.Decode(s); err != nil {
		return nil, err
	}
	if err := s.validate(SQLID); err != nil {
		return nil, err
	}
	if s.Query == "" {
		return nil, errors.New("sql source: query is required")
	}
	if s.db == nil {
		return nil, errors.New("sql source: no source database configured")
	}

	return s, nil
}

// InitializeIterator runs the query and returns a cursor over its result.
func (s *SQL) InitializeIterator(ctx context.Context) (Iterator, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, &UnavailableError{Source: SQLID, Err: err}
	}
	rows, err := s.db.QueryxContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("sql source: failed to run query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sql source: failed to read columns: %w", err)
	}

	return &rowsIterator{rows: rows, cols: cols}, nil
}

// Count runs count_query.
func (s *SQL) Count(ctx context.Context) (int, error) {
	if s.CountQuery == "" {
		return 0, ErrUncountable
	}
	var n int
	if err := s.db.QueryRowxContext(ctx, s.CountQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("sql source: failed to count rows: %w", err)
	}

	return n, nil
}

// PrepareRow adds constants and runs every prepare query.
func (s *SQL) PrepareRow(ctx context.Context, r *row.Row) error {
	if err := s.base.PrepareRow(ctx, r); err != nil {
		return err
	}
	if len(s.PrepareQueries) == 0 {
		return nil
	}
	args := r.Source().Any()
	for _, pq := range s.PrepareQueries {
		list, err := s.collect(ctx, pq, args)
		if err != nil {
			return err
		}
		if err := r.Enrich(pq.Name, row.List(list...)); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQL) collect(ctx context.Context, pq PrepareQuery, args map[string]any) ([]row.Value, error) {
	rows, err := s.db.NamedQueryContext(ctx, pq.Query, args)
	if err != nil {
		return nil, fmt.Errorf("sql source: prepare query %s: %w", pq.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var list []row.Value
	for rows.Next() {
		rec, err := scanOrdered(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("sql source: prepare query %s: %w", pq.Name, err)
		}
		list = append(list, row.Map(rec))
	}

	return list, rows.Err()
}

type rowsIterator struct {
	rows    *sqlx.Rows
	cols    []string
	current *row.OrderedMap
	err     error
}

func (it *rowsIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	rec, err := scanOrdered(it.rows, it.cols)
	if err != nil {
		it.err = err
		return false
	}
	it.current = rec

	return true
}

func (it *rowsIterator) Record() *row.OrderedMap {
	if it.current == nil {
		return row.NewOrderedMap()
	}

	return it.current.Clone()
}

func (it *rowsIterator) Err() error { return it.err }

func (it *rowsIterator) Close() error { return it.rows.Close() }

// scanOrdered scans the current row keeping the column order of the result set.
func scanOrdered(rows *sqlx.Rows, cols []string) (*row.OrderedMap, error) {
	values := make(map[string]any, len(cols))
	if err := rows.MapScan(values); err != nil {
		return nil, err
	}
	rec := row.NewOrderedMap()
	for _, c := range cols {
		rec.Set(c, row.FromAny(values[c]))
	}

	return rec, nil
}
