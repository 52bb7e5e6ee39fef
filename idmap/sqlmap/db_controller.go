package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
)

// querier is the subset of *sql.DB and *sql.Tx used by the id map.
type querier interface {
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
}

var _ querier = &sql.DB{}
var _ querier = &sql.Tx{}

// dbController logs statements at debug level and runs units of work in transactions.
type dbController struct {
	base *sql.DB
	lggr logger.Logger
}

func newDBController(db *sql.DB, lggr logger.Logger) *dbController {
	return &dbController{base: db, lggr: lggr}
}

func (d *dbController) query(ctx context.Context, q querier, stmt string, args ...any) (*sql.Rows, error) {
	d.lggr.Debugw("Executing query", "query", stmt, "args", args)
	return q.QueryContext(ctx, stmt, args...)
}

func (d *dbController) queryRow(ctx context.Context, q querier, stmt string, args ...any) *sql.Row {
	d.lggr.Debugw("Executing query", "query", stmt, "args", args)
	return q.QueryRowContext(ctx, stmt, args...)
}

func (d *dbController) exec(ctx context.Context, q querier, stmt string, args ...any) error {
	d.lggr.Debugw("Executing statement", "statement", stmt, "args", args)
	_, err := q.ExecContext(ctx, stmt, args...)

	return err
}

// withTx runs fn inside a transaction. The transaction is rolled back when fn returns an error
// or panics, and committed otherwise.
func (d *dbController) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.base.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var txerr error
	defer func() {
		if r := recover(); r != nil {
			// rollback before re-panicking
			_ = tx.Rollback()
			panic(r)
		} else if txerr != nil {
			err = errors.Join(txerr, tx.Rollback())
		} else {
			err = tx.Commit()
		}
	}()

	txerr = fn(tx)

	return txerr
}
