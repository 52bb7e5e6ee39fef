package row

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNew(t *testing.T) {
	t.Parallel()

	ids := []IDField{{Name: "nid", Type: IDTypeInteger}, {Name: "langcode", Type: IDTypeString}}

	t.Run("normalizes id values", func(t *testing.T) {
		t.Parallel()

		r, err := New(OrderedMapOf("nid", "12", "langcode", "en", "title", "Hello"), ids)
		require.NoError(t, err)
		assert.True(t, r.SourceIDValues().Equal(NewIDs(12, "en")))
		assert.Equal(t, "12:en", r.SourceIDValues().String())
	})

	t.Run("missing id field", func(t *testing.T) {
		t.Parallel()

		_, err := New(OrderedMapOf("nid", 1), ids)
		require.ErrorContains(t, err, `no id field "langcode"`)
	})

	t.Run("non integer id", func(t *testing.T) {
		t.Parallel()

		_, err := New(OrderedMapOf("nid", "abc", "langcode", "en"), ids)
		require.ErrorContains(t, err, "not an integer")
	})
}

func TestRow_Get(t *testing.T) {
	t.Parallel()

	src := OrderedMapOf(
		"id", 1,
		"name", "x",
		"body", []any{map[string]any{"value": "text", "format": "html"}},
	)
	r, err := New(src, []IDField{{Name: "id", Type: IDTypeInteger}})
	require.NoError(t, err)
	r.SetDestinationProperty("NAME", String("X"))
	r.SetDestinationProperty("field/0/value", String("nested"))

	tests := []struct {
		name    string
		give    string
		want    Value
		wantErr bool
	}{
		{name: "source property", give: "name", want: String("x")},
		{name: "nested source path", give: "body/0/format", want: String("html")},
		{name: "destination prefix", give: "@NAME", want: String("X")},
		{name: "falls back to destination", give: "NAME", want: String("X")},
		{name: "nested destination", give: "@field/0/value", want: String("nested")},
		{name: "destination prefix does not read source", give: "@name", wantErr: true},
		{name: "missing", give: "nope", wantErr: true},
		{name: "index out of range", give: "body/3/value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.Get(tt.give)
			if tt.wantErr {
				var missing *MissingPropertyError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, tt.give, missing.Name)

				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got.String())
		})
	}
}

func TestRow_SourceIsNotMutatedByProcessing(t *testing.T) {
	t.Parallel()

	src := OrderedMapOf("id", 1, "name", "x")
	r, err := New(src, []IDField{{Name: "id", Type: IDTypeInteger}})
	require.NoError(t, err)
	before := r.Hash()

	require.NoError(t, r.Enrich("extra", String("joined")))
	assert.NotEqual(t, before, r.Hash())
	enriched := r.Hash()

	r.Freeze()
	err = r.Enrich("late", String("nope"))
	require.ErrorIs(t, err, ErrFrozen)

	r.SetDestinationProperty("name", String("y"))
	assert.Equal(t, enriched, r.Hash())

	// mutating the caller's map does not leak into the row
	src.Set("name", String("changed"))
	v, ok := r.SourceProperty("name")
	require.True(t, ok)
	assert.Equal(t, "x", v.String())
}

func TestRow_NestedDestinationWriteKeepsSource(t *testing.T) {
	t.Parallel()

	r, err := New(OrderedMapOf("id", 1, "kind", "html", "body", map[string]any{"value": "x"}), []IDField{{Name: "id", Type: IDTypeInteger}})
	require.NoError(t, err)
	r.Freeze()
	before := r.Hash()

	body, err := r.Get("body")
	require.NoError(t, err)
	r.SetDestinationProperty("body", body)
	r.SetDestinationProperty("body/format", String("html"))

	copied, err := r.Get("@body")
	require.NoError(t, err)
	copied.Map().Set("summary", String("s"))
	r.SetDestinationProperty("teaser", copied)

	src, ok := r.SourceProperty("body")
	require.True(t, ok)
	assert.Equal(t, []string{"value"}, src.Map().Keys())
	assert.Equal(t, before, r.Hash())

	dest, ok := r.DestinationProperty("body")
	require.True(t, ok)
	assert.Equal(t, []string{"value", "format"}, dest.Map().Keys())

	dest.Map().Set("value", String("changed"))
	v, err := r.Get("@body/value")
	require.NoError(t, err)
	assert.Equal(t, "x", v.String())
}

func TestHashOf_NonFiniteFloats(t *testing.T) {
	t.Parallel()

	nan := HashOf(OrderedMapOf("id", 1, "score", math.NaN()))
	posInf := HashOf(OrderedMapOf("id", 1, "score", math.Inf(1)))
	negInf := HashOf(OrderedMapOf("id", 1, "score", math.Inf(-1)))
	finite := HashOf(OrderedMapOf("id", 1, "score", 1.5))
	other := HashOf(OrderedMapOf("id", 2, "score", math.NaN()))

	assert.NotEqual(t, nan, posInf)
	assert.NotEqual(t, posInf, negInf)
	assert.NotEqual(t, nan, finite)
	assert.NotEqual(t, nan, other)
	assert.Equal(t, nan, HashOf(OrderedMapOf("id", 1, "score", math.NaN())))

	b, err := Float(math.Inf(-1)).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"-Inf"`, string(b))
}

func TestHashOf_IgnoresKeyOrder(t *testing.T) {
	t.Parallel()

	a := OrderedMapOf("id", 1, "name", "x", "tags", []any{"a", "b"})
	b := OrderedMapOf("tags", []any{"a", "b"}, "name", "x", "id", 1)
	c := OrderedMapOf("id", 1, "name", "y", "tags", []any{"a", "b"})

	assert.Equal(t, HashOf(a), HashOf(b))
	assert.NotEqual(t, HashOf(a), HashOf(c))
}

func TestFromYAML_PreservesOrder(t *testing.T) {
	t.Parallel()

	doc := `
zeta: 1
alpha:
  - two
  - 3
middle:
  inner: true
`
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &node))

	v, err := FromYAML(&node)
	require.NoError(t, err)
	require.True(t, v.IsMap())

	if diff := cmp.Diff([]string{"zeta", "alpha", "middle"}, v.Map().Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	alpha, ok := v.Lookup("alpha", "1")
	require.True(t, ok)
	assert.Equal(t, KindInt, alpha.Kind())

	b, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":["two",3],"middle":{"inner":true}}`, string(b))
}

func TestValue_IsEmpty(t *testing.T) {
	t.Parallel()

	empty := []Value{Null(), String(""), String("0"), Int(0), Float(0), Bool(false), List(), Map(nil)}
	for _, v := range empty {
		assert.True(t, v.IsEmpty(), "%s should be empty", v.Kind())
	}
	notEmpty := []Value{String("a"), Int(2), Bool(true), List(Null()), Map(OrderedMapOf("a", 1))}
	for _, v := range notEmpty {
		assert.False(t, v.IsEmpty(), "%s should not be empty", v.Kind())
	}
}

func TestIDs_KeyRoundTrip(t *testing.T) {
	t.Parallel()

	ids := NewIDs(7, "en")
	parsed, err := ParseIDs(ids.Key())
	require.NoError(t, err)
	assert.True(t, ids.Equal(parsed))
	assert.Len(t, ids.Hash(), 64)

	_, err = ParseIDs(`{"a":1}`)
	require.Error(t, err)
}

func TestParseIDList(t *testing.T) {
	t.Parallel()

	fields := []IDField{{Name: "nid", Type: IDTypeInteger}, {Name: "langcode", Type: IDTypeString}}
	got, err := ParseIDList("1:en, 2:fr", fields)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Equal(NewIDs(2, "fr")))

	_, err = ParseIDList("1", fields)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFrozen))
}
