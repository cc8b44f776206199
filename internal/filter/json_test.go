package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "surgedb/pkg/errors"
)

func TestParseExact(t *testing.T) {
	f, err := Parse([]byte(`{"Exact": ["category", "books"]}`))
	require.NoError(t, err)
	assert.Equal(t, KindExact, f.Kind)
	assert.Equal(t, "category", f.Field)
	assert.Equal(t, "books", f.Value)

	f, err = Parse([]byte(`{"Exact": ["price", 12.5]}`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, f.Value)

	f, err = Parse([]byte(`{"Exact": ["in_stock", true]}`))
	require.NoError(t, err)
	assert.Equal(t, true, f.Value)
}

func TestParseRange(t *testing.T) {
	f, err := Parse([]byte(`{"Range": ["price", 5, 15]}`))
	require.NoError(t, err)
	assert.Equal(t, KindRange, f.Kind)
	require.NotNil(t, f.Min)
	require.NotNil(t, f.Max)
	assert.Equal(t, 5.0, *f.Min)
	assert.Equal(t, 15.0, *f.Max)

	f, err = Parse([]byte(`{"Range": ["price", null, 9.99]}`))
	require.NoError(t, err)
	assert.Nil(t, f.Min)
	require.NotNil(t, f.Max)
	assert.Equal(t, 9.99, *f.Max)
}

func TestParseNested(t *testing.T) {
	payload := []byte(`{
		"And": [
			{"Or": [
				{"Exact": ["category", "books"]},
				{"Exact": ["category", "music"]}
			]},
			{"Not": {"Range": ["price", 50, null]}}
		]
	}`)
	f, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, KindAnd, f.Kind)
	require.Len(t, f.Children, 2)
	assert.Equal(t, KindOr, f.Children[0].Kind)
	assert.Len(t, f.Children[0].Children, 2)
	assert.Equal(t, KindNot, f.Children[1].Kind)
	assert.Equal(t, KindRange, f.Children[1].Children[0].Kind)

	assert.True(t, f.Matches(map[string]any{"category": "music", "price": 10.0}))
	assert.False(t, f.Matches(map[string]any{"category": "music", "price": 60.0}))
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		`{"Exact": ["only-field"]}`,
		`{"Exact": [1, "value"]}`,
		`{"Range": ["price", 5]}`,
		`{"Range": ["price", "low", 10]}`,
		`{"Range": ["price", null, null]}`,
		`{"Between": ["price", 5, 15]}`,
		`{"Exact": ["a", 1], "Range": ["b", 0, 1]}`,
		`{"Not": [{"Exact": ["a", 1]}]}`,
		`{}`,
		`[1, 2]`,
	}
	for _, payload := range cases {
		_, err := Parse([]byte(payload))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidFilter, payload)
	}
}
