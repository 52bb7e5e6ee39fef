package process

import (
	"context"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

func TestPlugins_Transform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		plugin   string
		config   map[string]any
		input    any
		want     any
		wantErr  string
		wantSkip bool
	}{
		{name: "default_value replaces empty", plugin: "default_value", config: map[string]any{"default_value": "en"}, input: "", want: "en"},
		{name: "default_value keeps value", plugin: "default_value", config: map[string]any{"default_value": "en"}, input: "fr", want: "fr"},
		{name: "default_value strict keeps zero", plugin: "default_value", config: map[string]any{"default_value": 5, "strict": true}, input: 0, want: int64(0)},
		{name: "default_value strict replaces null", plugin: "default_value", config: map[string]any{"default_value": 5, "strict": true}, input: nil, want: int64(5)},
		{name: "concat", plugin: "concat", config: map[string]any{"delimiter": " "}, input: []any{"a", 1, true}, want: "a 1 1"},
		{name: "concat needs list", plugin: "concat", input: "a", wantErr: "expected a list"},
		{name: "static_map", plugin: "static_map", config: map[string]any{"map": map[string]any{"1": "yes"}}, input: 1, want: "yes"},
		{name: "static_map nested", plugin: "static_map", config: map[string]any{"map": map[string]any{"filter": map[string]any{"html": "basic_html"}}}, input: []any{"filter", "html"}, want: "basic_html"},
		{name: "static_map bypass", plugin: "static_map", config: map[string]any{"map": map[string]any{"a": "b"}, "bypass": true}, input: "z", want: "z"},
		{name: "static_map skips row", plugin: "static_map", config: map[string]any{"map": map[string]any{"a": "b"}}, input: "z", wantSkip: true},
		{name: "null_coalesce", plugin: "null_coalesce", input: []any{nil, nil, "x"}, want: "x"},
		{name: "null_coalesce default", plugin: "null_coalesce", config: map[string]any{"default_value": "d"}, input: []any{nil}, want: "d"},
		{name: "callback ucfirst", plugin: "callback", config: map[string]any{"callable": "ucfirst"}, input: "élan", want: "Élan"},
		{name: "callback intval", plugin: "callback", config: map[string]any{"callable": "intval"}, input: "42", want: int64(42)},
		{name: "callback md5", plugin: "callback", config: map[string]any{"callable": "md5"}, input: "", want: "d41d8cd98f00b204e9800998ecf8427e"},
		{name: "explode", plugin: "explode", config: map[string]any{"delimiter": ","}, input: "a,b,c", want: []any{"a", "b", "c"}},
		{name: "explode limit", plugin: "explode", config: map[string]any{"delimiter": ",", "limit": 2}, input: "a,b,c", want: []any{"a", "b,c"}},
		{name: "explode negative limit", plugin: "explode", config: map[string]any{"delimiter": ",", "limit": -1}, input: "a,b,c", want: []any{"a", "b"}},
		{name: "explode empty", plugin: "explode", config: map[string]any{"delimiter": ","}, input: "", want: []any{}},
		{name: "explode strict", plugin: "explode", config: map[string]any{"delimiter": ","}, input: 12, wantErr: "expected a string"},
		{name: "explode lax", plugin: "explode", config: map[string]any{"delimiter": "2", "strict": false}, input: 121, want: []any{"1", "1"}},
		{name: "substr", plugin: "substr", config: map[string]any{"start": 1, "length": 3}, input: "héllo", want: "éll"},
		{name: "substr negative start", plugin: "substr", config: map[string]any{"start": -2}, input: "hello", want: "lo"},
		{name: "substr negative length", plugin: "substr", config: map[string]any{"length": -1}, input: "hello", want: "hell"},
		{name: "str_replace", plugin: "str_replace", config: map[string]any{"search": "foo", "replace": "bar"}, input: "foo foo", want: "bar bar"},
		{name: "str_replace pairs", plugin: "str_replace", config: map[string]any{"search": []any{"a", "b"}, "replace": []any{"1", "2"}}, input: "abc", want: "12c"},
		{name: "str_replace regex", plugin: "str_replace", config: map[string]any{"search": "/[0-9]+/", "replace": "#", "regex": true}, input: "a1b22", want: "a#b#"},
		{name: "str_replace case insensitive", plugin: "str_replace", config: map[string]any{"search": "FOO", "replace": "x", "case_insensitive": true}, input: "foo.Foo", want: "x.x"},
		{name: "machine_name", plugin: "machine_name", input: "  Blog Post (v2) ", want: "blog_post_v2_"},
		{name: "extract", plugin: "extract", config: map[string]any{"index": []any{"0", "value"}}, input: []any{map[string]any{"value": "v"}}, want: "v"},
		{name: "extract default", plugin: "extract", config: map[string]any{"index": []any{"9"}, "default": "d"}, input: []any{"a"}, want: "d"},
		{name: "extract missing", plugin: "extract", config: map[string]any{"index": []any{"9"}}, input: []any{"a"}, wantErr: "not found"},
		{name: "flatten", plugin: "flatten", input: []any{"a", []any{"b", []any{"c"}}, map[string]any{"k": "d"}}, want: []any{"a", "b", "c", "d"}},
		{name: "skip_on_empty process", plugin: "skip_on_empty", config: map[string]any{"method": "process"}, input: "", wantErr: "process skipped"},
		{name: "skip_on_empty passes", plugin: "skip_on_empty", config: map[string]any{"method": "row"}, input: "x", want: "x"},
		{name: "skip_row_if_not_set", plugin: "skip_row_if_not_set", config: map[string]any{"index": "name"}, input: map[string]any{"id": 1}, wantSkip: true},
		{name: "skip_row_if_not_set returns element", plugin: "skip_row_if_not_set", config: map[string]any{"index": "id"}, input: map[string]any{"id": 1}, want: int64(1)},
		{name: "format_date", plugin: "format_date", config: map[string]any{"from_format": "d/m/Y", "to_format": "Y-m-d"}, input: "31/12/2023", want: "2023-12-31"},
		{name: "format_date from timestamp", plugin: "format_date", config: map[string]any{"from_format": "U", "to_format": `Y-m-d\TH:i:s`}, input: 86400, want: "1970-01-02T00:00:00"},
		{name: "format_date to timestamp", plugin: "format_date", config: map[string]any{"from_format": "Y-m-d H:i:s", "to_format": "U"}, input: "1970-01-01 00:01:40", want: "100"},
		{name: "format_date timezones", plugin: "format_date", config: map[string]any{"from_format": "Y-m-d H:i", "to_format": "Y-m-d H:i", "from_timezone": "UTC", "to_timezone": "Europe/Paris"}, input: "2024-01-15 10:00", want: "2024-01-15 11:00"},
		{name: "format_date mismatch", plugin: "format_date", config: map[string]any{"from_format": "Y-m-d", "to_format": "U"}, input: "yesterday", wantErr: "does not match"},
		{name: "format_date empty", plugin: "format_date", config: map[string]any{"from_format": "Y-m-d", "to_format": "U"}, input: "", want: nil},
	}

	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory, err := reg.Lookup(tt.plugin)
			require.NoError(t, err)
			cfg := tt.config
			if cfg == nil {
				cfg = map[string]any{}
			}
			p, err := factory(plugin.MustConfig(tt.plugin, cfg), Deps{})
			require.NoError(t, err)

			r := newRow(t, "id", 1)
			got, err := p.Transform(context.Background(), row.FromAny(tt.input), r, "dest")
			switch {
			case tt.wantSkip:
				require.True(t, IsSkipRow(err), "expected a row skip, got %v", err)
			case tt.wantErr != "":
				require.ErrorContains(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.Any())
			}
		})
	}
}

func TestPlugins_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		plugin string
		config map[string]any
		want   string
	}{
		{plugin: "get", config: map[string]any{}, want: "source is required"},
		{plugin: "default_value", config: map[string]any{}, want: "default_value is required"},
		{plugin: "static_map", config: map[string]any{"map": "flat"}, want: "map must be a mapping"},
		{plugin: "callback", config: map[string]any{"callable": "exec"}, want: "unknown callable"},
		{plugin: "explode", config: map[string]any{}, want: "delimiter is empty"},
		{plugin: "str_replace", config: map[string]any{"search": []any{"a", "b"}, "replace": []any{"1", "2", "3"}}, want: "same length"},
		{plugin: "extract", config: map[string]any{}, want: "index is required"},
		{plugin: "sub_process", config: map[string]any{}, want: "process is required"},
		{plugin: "migration_lookup", config: map[string]any{"migration": "users"}, want: "no lookup service"},
		{plugin: "format_date", config: map[string]any{"from_format": "Y", "to_format": "Q"}, want: "unsupported date format character"},
		{plugin: "format_date", config: map[string]any{"from_format": "Y", "to_format": "Y", "to_timezone": "Mars/Base"}, want: "to_timezone"},
	}

	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.plugin+" "+tt.want, func(t *testing.T) {
			t.Parallel()

			factory, err := reg.Lookup(tt.plugin)
			require.NoError(t, err)
			_, err = factory(plugin.MustConfig(tt.plugin, tt.config), Deps{Registry: reg})
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLog(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.InfoLevel)
	p, err := NewLog(plugin.Config{ID: "log"}, Deps{Logger: lggr})
	require.NoError(t, err)

	got, err := p.Transform(context.Background(), row.String("v"), newRow(t, "id", 3), "title")
	require.NoError(t, err)
	assert.Equal(t, "v", got.String())

	entries := logs.FilterMessage("Process value").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "title", entries[0].ContextMap()["destination"])
	assert.Equal(t, "3", entries[0].ContextMap()["sourceIDs"])
}

func TestDateLayout(t *testing.T) {
	t.Parallel()

	layout, err := dateLayout(`D, d M Y \a\t H:i`)
	require.NoError(t, err)
	assert.Equal(t, "Mon, 02 Jan 2006 at 15:04", layout)
}
