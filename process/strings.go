package process

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// Callables are the functions available to the callback plugin.
var Callables = map[string]func(row.Value) (row.Value, error){
	"strtoupper": func(v row.Value) (row.Value, error) { return row.String(strings.ToUpper(v.String())), nil },
	"strtolower": func(v row.Value) (row.Value, error) { return row.String(strings.ToLower(v.String())), nil },
	"trim":       func(v row.Value) (row.Value, error) { return row.String(strings.TrimSpace(v.String())), nil },
	"ucfirst":    func(v row.Value) (row.Value, error) { return row.String(upperFirst(v.String())), nil },
	"ucwords": func(v row.Value) (row.Value, error) {
		words := strings.Fields(v.String())
		for i, w := range words {
			words[i] = upperFirst(w)
		}

		return row.String(strings.Join(words, " ")), nil
	},
	"intval": func(v row.Value) (row.Value, error) {
		i, _ := v.AsInt()
		return row.Int(i), nil
	},
	"strval": func(v row.Value) (row.Value, error) { return row.String(v.String()), nil },
	"strlen": func(v row.Value) (row.Value, error) { return row.Int(int64(len(v.String()))), nil },
	"md5": func(v row.Value) (row.Value, error) {
		sum := md5.Sum([]byte(v.String()))
		return row.String(hex.EncodeToString(sum[:])), nil
	},
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}

// Callback applies a named function from Callables.
type Callback struct {
	name string
	fn   func(row.Value) (row.Value, error)
}

// NewCallback is the Factory of the callback plugin.
func NewCallback(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Callable string `yaml:"callable"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	fn, ok := Callables[c.Callable]
	if !ok {
		return nil, fmt.Errorf("callback: unknown callable %q", c.Callable)
	}

	return &Callback{name: c.Callable, fn: fn}, nil
}

func (c *Callback) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsScalar() {
		return row.Null(), invalidInput("callback "+c.name, value, "a scalar")
	}

	return c.fn(value)
}

// Explode splits a string into a list of strings.
type Explode struct {
	delimiter string
	limit     int
	strict    bool
}

var _ MultipleProducer = &Explode{}

// NewExplode is the Factory of the explode plugin.
func NewExplode(cfg plugin.Config, _ Deps) (Plugin, error) {
	c := struct {
		Delimiter string `yaml:"delimiter"`
		Limit     int    `yaml:"limit"`
		Strict    *bool  `yaml:"strict"`
	}{}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.Delimiter == "" {
		return nil, errors.New("explode: delimiter is empty")
	}
	strict := true
	if c.Strict != nil {
		strict = *c.Strict
	}

	return &Explode{delimiter: c.Delimiter, limit: c.Limit, strict: strict}, nil
}

func (e *Explode) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if value.IsNull() || (value.Kind() == row.KindString && value.String() == "") {
		return row.List(), nil
	}
	if e.strict && value.Kind() != row.KindString {
		return row.Null(), invalidInput("explode", value, "a string")
	}
	if !value.IsScalar() {
		return row.Null(), invalidInput("explode", value, "a scalar")
	}

	parts := explode(value.String(), e.delimiter, e.limit)
	out := make([]row.Value, len(parts))
	for i, p := range parts {
		out[i] = row.String(p)
	}

	return row.List(out...), nil
}

func (e *Explode) Multiple() bool { return true }

// explode follows the limit rules of the classic explode function: a positive limit caps the
// number of parts, a negative limit drops that many trailing parts.
func explode(s, sep string, limit int) []string {
	switch {
	case limit > 0:
		return strings.SplitN(s, sep, limit)
	case limit < 0:
		parts := strings.Split(s, sep)
		if -limit >= len(parts) {
			return []string{}
		}

		return parts[:len(parts)+limit]
	default:
		return strings.Split(s, sep)
	}
}

// Substr returns part of a string, counting in characters. A negative start counts from the
// end; without a length the rest of the string is returned.
type Substr struct {
	start  int
	length *int
}

// NewSubstr is the Factory of the substr plugin.
func NewSubstr(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Start  int  `yaml:"start"`
		Length *int `yaml:"length"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}

	return &Substr{start: c.Start, length: c.Length}, nil
}

func (s *Substr) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if value.Kind() != row.KindString {
		return row.Null(), invalidInput("substr", value, "a string")
	}
	runes := []rune(value.String())
	n := len(runes)

	start := s.start
	if start < 0 {
		start = max(n+start, 0)
	}
	if start > n {
		return row.String(""), nil
	}
	end := n
	if s.length != nil {
		l := *s.length
		if l < 0 {
			end = max(n+l, start)
		} else {
			end = min(start+l, n)
		}
	}

	return row.String(string(runes[start:end])), nil
}

// StrReplace replaces substrings or regular expression matches. Search and replace may be
// lists of the same length, applied pairwise.
type StrReplace struct {
	search   []string
	replace  []string
	patterns []*regexp.Regexp
}

var phpDelimited = regexp.MustCompile(`^/(.*)/([a-zA-Z]*)$`)

// NewStrReplace is the Factory of the str_replace plugin.
func NewStrReplace(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Search          names `yaml:"search"`
		Replace         names `yaml:"replace"`
		Regex           bool  `yaml:"regex"`
		CaseInsensitive bool  `yaml:"case_insensitive"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if len(c.Search.values) == 0 {
		return nil, errors.New("str_replace: search is required")
	}
	replace := c.Replace.values
	if len(replace) == 1 && len(c.Search.values) > 1 {
		for len(replace) < len(c.Search.values) {
			replace = append(replace, replace[0])
		}
	}
	if len(replace) != len(c.Search.values) {
		return nil, errors.New("str_replace: search and replace must have the same length")
	}

	p := &StrReplace{search: c.Search.values, replace: replace}
	if c.Regex || c.CaseInsensitive {
		for _, expr := range c.Search.values {
			if !c.Regex {
				expr = regexp.QuoteMeta(expr)
			}
			if m := phpDelimited.FindStringSubmatch(expr); m != nil && c.Regex {
				expr = m[1]
				if flags := goFlags(m[2]); flags != "" {
					expr = "(?" + flags + ")" + expr
				}
			}
			if c.CaseInsensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("str_replace: %w", err)
			}
			p.patterns = append(p.patterns, re)
		}
	}

	return p, nil
}

// goFlags keeps the pattern modifiers that Go regular expressions understand.
func goFlags(modifiers string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune("imsU", r) {
			return r
		}

		return -1
	}, modifiers)
}

func (s *StrReplace) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsScalar() {
		return row.Null(), invalidInput("str_replace", value, "a scalar")
	}
	out := value.String()
	for i := range s.search {
		if s.patterns != nil {
			out = s.patterns[i].ReplaceAllString(out, s.replace[i])
			continue
		}
		out = strings.ReplaceAll(out, s.search[i], s.replace[i])
	}

	return row.String(out), nil
}

// MachineName turns a label into a lower case identifier made of letters, digits and
// underscores.
type MachineName struct {
	pattern     *regexp.Regexp
	replacement string
}

var defaultMachineNamePattern = regexp.MustCompile(`[^a-z0-9_]+`)

// NewMachineName is the Factory of the machine_name plugin.
func NewMachineName(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		ReplacePattern string    `yaml:"replace_pattern"`
		ReplaceWith    yaml.Node `yaml:"replace"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	m := &MachineName{pattern: defaultMachineNamePattern, replacement: "_"}
	if c.ReplacePattern != "" {
		expr := c.ReplacePattern
		if sub := phpDelimited.FindStringSubmatch(expr); sub != nil {
			expr = sub[1]
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("machine_name: %w", err)
		}
		m.pattern = re
	}
	if c.ReplaceWith.Kind != 0 {
		m.replacement = c.ReplaceWith.Value
	}

	return m, nil
}

func (m *MachineName) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsScalar() {
		return row.Null(), invalidInput("machine_name", value, "a scalar")
	}
	lower := strings.ToLower(strings.TrimSpace(value.String()))

	return row.String(m.pattern.ReplaceAllString(lower, m.replacement)), nil
}
