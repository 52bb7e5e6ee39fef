package destination

import (
	"context"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// NullID is the id of the destination that discards rows.
const NullID = "null"

// Null writes nothing and reports the source ids as destination ids, which keeps the id map
// usable for lookups.
type Null struct {
	ids []row.IDField
}

// NewNull is the Factory of the null destination.
func NewNull(_ plugin.Config, deps Deps) (Plugin, error) {
	return &Null{ids: deps.SourceIDs}, nil
}

func (n *Null) IDs() []row.IDField { return append([]row.IDField(nil), n.ids...) }

func (n *Null) Fields() []Field { return nil }

func (n *Null) Import(_ context.Context, r *row.Row, _ row.IDs) (row.IDs, error) {
	return r.SourceIDValues(), nil
}

func (n *Null) RollbackImport(context.Context, row.IDs) error { return nil }
