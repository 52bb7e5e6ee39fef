package destination

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// TableID is the id of the destination upserting rows into a database table.
const TableID = "table"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table writes every row as one table record keyed by id_fields. The columns are the
// destination properties of the row; lists and maps are stored as JSON text.
type Table struct {
	fields `yaml:",inline"`

	TableName string        `yaml:"table_name"`
	IDFields  []row.IDField `yaml:"id_fields"`

	db *sqlx.DB
}

// NewTable is the Factory of the table destination.
func NewTable(cfg plugin.Config, deps Deps) (Plugin, error) {
	t := &Table{db: deps.DB}
	if err := cfg.Decode(t); err != nil {
		return nil, err
	}
	if !identifierPattern.MatchString(t.TableName) {
		return nil, fmt.Errorf("table destination: invalid table_name %q", t.TableName)
	}
	if len(t.IDFields) == 0 {
		return nil, errors.New("table destination: id_fields is required")
	}
	for _, f := range t.IDFields {
		if !identifierPattern.MatchString(f.Name) {
			return nil, fmt.Errorf("table destination: invalid id field %q", f.Name)
		}
	}
	if t.db == nil {
		return nil, errors.New("table destination: no database configured")
	}

	return t, nil
}

func (t *Table) IDs() []row.IDField {
	return append([]row.IDField(nil), t.IDFields...)
}

func (t *Table) Import(ctx context.Context, r *row.Row, _ row.IDs) (row.IDs, error) {
	props := r.Destination()
	ids := make(row.IDs, 0, len(t.IDFields))
	for _, f := range t.IDFields {
		v, ok := props.Get(f.Name)
		if !ok || v.IsNull() {
			return nil, &WriteError{Destination: TableID, Err: fmt.Errorf("id field %q is not set", f.Name)}
		}
		nv, err := f.Normalize(v)
		if err != nil {
			return nil, &WriteError{Destination: TableID, Err: err}
		}
		props.Set(f.Name, nv)
		ids = append(ids, nv)
	}

	cols := props.Keys()
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		if !identifierPattern.MatchString(c) {
			return nil, &WriteError{Destination: TableID, Err: fmt.Errorf("invalid column name %q", c)}
		}
		v, _ := props.Get(c)
		args = append(args, columnValue(v))
	}

	err := t.withTx(ctx, func(tx *sqlx.Tx) error {
		where, whereArgs := t.where(ids)
		var n int
		if err := tx.QueryRowxContext(ctx, tx.Rebind("SELECT COUNT(*) FROM "+t.TableName+" WHERE "+where), whereArgs...).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				t.TableName, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
			_, err := tx.ExecContext(ctx, tx.Rebind(stmt), args...)

			return err
		}
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = ?"
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.TableName, strings.Join(sets, ", "), where)
		_, err := tx.ExecContext(ctx, tx.Rebind(stmt), append(args, whereArgs...)...)

		return err
	})
	if err != nil {
		return nil, t.classify(err)
	}

	return ids, nil
}

func (t *Table) RollbackImport(ctx context.Context, ids row.IDs) error {
	if len(ids) != len(t.IDFields) {
		return &WriteError{Destination: TableID, Err: fmt.Errorf("expected %d ids, got %d", len(t.IDFields), len(ids))}
	}
	where, args := t.where(ids)
	if _, err := t.db.ExecContext(ctx, t.db.Rebind("DELETE FROM "+t.TableName+" WHERE "+where), args...); err != nil {
		return t.classify(err)
	}

	return nil
}

func (t *Table) where(ids row.IDs) (string, []any) {
	conds := make([]string, len(t.IDFields))
	args := make([]any, len(t.IDFields))
	for i, f := range t.IDFields {
		conds[i] = f.Name + " = ?"
		args[i] = columnValue(ids[i])
	}

	return strings.Join(conds, " AND "), args
}

func (t *Table) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			err = errors.Join(err, tx.Rollback())
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}

func (t *Table) classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &UnavailableError{Destination: TableID, Err: err}
	}

	return &WriteError{Destination: TableID, Err: err}
}

func columnValue(v row.Value) any {
	if v.IsList() || v.IsMap() {
		return v.String()
	}

	return v.Any()
}
