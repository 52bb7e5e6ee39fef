package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// YAMLFileID is the id of the source reading records from a YAML file.
const YAMLFileID = "yaml_file"

// YAMLFile reads records from a YAML file. Every document of the stream is either one record
// or a list of records; documents are decoded one at a time.
type YAMLFile struct {
	base `yaml:",inline"`

	Path string `yaml:"path"`
}

// NewYAMLFile is the Factory of the yaml_file source.
func NewYAMLFile(cfg plugin.Config, deps Deps) (Plugin, error) {
	s := &YAMLFile{}
	if err := cfg.Decode(s); err != nil {
		return nil, err
	}
	if err := s.validate(YAMLFileID); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, errors.New("yaml_file source: path is required")
	}
	if !filepath.IsAbs(s.Path) && deps.BaseDir != "" {
		s.Path = filepath.Join(deps.BaseDir, s.Path)
	}

	return s, nil
}

// InitializeIterator opens the file.
func (s *YAMLFile) InitializeIterator(_ context.Context) (Iterator, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, &UnavailableError{Source: YAMLFileID, Err: err}
		}

		return nil, fmt.Errorf("yaml_file source: %w", err)
	}

	return &yamlIterator{file: f, dec: yaml.NewDecoder(f)}, nil
}

type yamlIterator struct {
	file    *os.File
	dec     *yaml.Decoder
	pending []*yaml.Node
	current *row.OrderedMap
	err     error
}

func (it *yamlIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	for len(it.pending) == 0 {
		var doc yaml.Node
		if err := it.dec.Decode(&doc); err != nil {
			if !errors.Is(err, io.EOF) {
				it.err = fmt.Errorf("yaml_file source: %w", err)
			}

			return false
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		if root.Kind == yaml.SequenceNode {
			it.pending = root.Content
		} else {
			it.pending = []*yaml.Node{root}
		}
	}

	node := it.pending[0]
	it.pending = it.pending[1:]
	rec := row.NewOrderedMap()
	if err := rec.UnmarshalYAML(node); err != nil {
		it.err = fmt.Errorf("yaml_file source: %w", err)
		return false
	}
	it.current = rec

	return true
}

func (it *yamlIterator) Record() *row.OrderedMap {
	if it.current == nil {
		return row.NewOrderedMap()
	}

	return it.current.Clone()
}

func (it *yamlIterator) Err() error { return it.err }

func (it *yamlIterator) Close() error { return it.file.Close() }
