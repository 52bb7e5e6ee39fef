package process

import (
	"context"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// Log writes the value flowing through the chain to the logger and passes it on unchanged.
type Log struct {
	lggr logger.Logger
}

// NewLog is the Factory of the log plugin.
func NewLog(_ plugin.Config, deps Deps) (Plugin, error) {
	return &Log{lggr: deps.logger()}, nil
}

func (l *Log) Transform(_ context.Context, value row.Value, r *row.Row, destination string) (row.Value, error) {
	l.lggr.Infow("Process value",
		"destination", destination,
		"sourceIDs", r.SourceIDValues().String(),
		"value", value.String(),
	)

	return value, nil
}
