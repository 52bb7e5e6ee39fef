package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

const (
	skipMethodRow     = "row"
	skipMethodProcess = "process"
)

// SkipOnEmpty skips the row or the property when the input is empty.
type SkipOnEmpty struct {
	method  string
	message string
}

// NewSkipOnEmpty is the Factory of the skip_on_empty plugin.
func NewSkipOnEmpty(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Method  string `yaml:"method"`
		Message string `yaml:"message"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.Method != skipMethodRow && c.Method != skipMethodProcess {
		return nil, fmt.Errorf("skip_on_empty: method must be %q or %q, got %q", skipMethodRow, skipMethodProcess, c.Method)
	}

	return &SkipOnEmpty{method: c.Method, message: c.Message}, nil
}

func (s *SkipOnEmpty) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsEmpty() {
		return value, nil
	}
	if s.method == skipMethodRow {
		return row.Null(), SkipRow(s.message)
	}

	return row.Null(), SkipProcess(s.message)
}

// SkipRowIfNotSet skips the row when index is absent from the input and returns the element
// at index otherwise.
type SkipRowIfNotSet struct {
	index   []string
	message string
}

var _ MultipleHandler = &SkipRowIfNotSet{}

// NewSkipRowIfNotSet is the Factory of the skip_row_if_not_set plugin.
func NewSkipRowIfNotSet(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Index   string `yaml:"index"`
		Message string `yaml:"message"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.Index == "" {
		return nil, fmt.Errorf("skip_row_if_not_set: index is required")
	}

	return &SkipRowIfNotSet{index: strings.Split(c.Index, row.PathSeparator), message: c.Message}, nil
}

func (s *SkipRowIfNotSet) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if v, ok := value.Lookup(s.index...); ok && !v.IsNull() {
		return v, nil
	}
	msg := s.message
	if msg == "" {
		msg = fmt.Sprintf("index %q not set", strings.Join(s.index, row.PathSeparator))
	}

	return row.Null(), SkipRow(msg)
}

func (s *SkipRowIfNotSet) HandlesMultiples() bool { return true }
