package source

import (
	"context"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// EmbeddedDataID is the id of the source reading rows written inline in the migration.
const EmbeddedDataID = "embedded_data"

// EmbeddedData yields the rows listed under data_rows.
type EmbeddedData struct {
	base `yaml:",inline"`

	Rows []*row.OrderedMap `yaml:"data_rows"`
}

var _ Counter = &EmbeddedData{}

// NewEmbeddedData is the Factory of the embedded_data source.
func NewEmbeddedData(cfg plugin.Config, _ Deps) (Plugin, error) {
	s := &EmbeddedData{}
	if err := cfg.Decode(s); err != nil {
		return nil, err
	}
	if err := s.validate(EmbeddedDataID); err != nil {
		return nil, err
	}

	return s, nil
}

// Fields returns the declared fields, or the keys of the first row when none are declared.
func (s *EmbeddedData) Fields() []Field {
	if len(s.FieldsDecl) > 0 || len(s.Rows) == 0 || s.Rows[0] == nil {
		return s.base.Fields()
	}
	keys := s.Rows[0].Keys()
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Name: k})
	}

	return fields
}

// InitializeIterator starts a pass over the rows.
func (s *EmbeddedData) InitializeIterator(_ context.Context) (Iterator, error) {
	return &sliceIterator{records: s.Rows, pos: -1}, nil
}

// Count returns the number of rows.
func (s *EmbeddedData) Count(_ context.Context) (int, error) {
	return len(s.Rows), nil
}

type sliceIterator struct {
	records []*row.OrderedMap
	pos     int
	err     error
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++

	return it.pos < len(it.records)
}

func (it *sliceIterator) Record() *row.OrderedMap {
	if it.pos < 0 || it.pos >= len(it.records) || it.records[it.pos] == nil {
		return row.NewOrderedMap()
	}

	return it.records[it.pos].Clone()
}

func (it *sliceIterator) Err() error { return it.err }

func (it *sliceIterator) Close() error { return nil }
