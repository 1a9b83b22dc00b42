package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRow_Accessors(t *testing.T) {
	row := Row{
		"str_int":   "42",
		"num":       json.Number("7"),
		"frac":      json.Number("2.6"),
		"float":     3.0,
		"bool_str":  "true",
		"bool":      true,
		"null":      nil,
		"garbage":   "n/a",
		"zero_str":  "0",
		"empty_str": "",
	}

	assert.Equal(t, int64(42), row.Int64("str_int"))
	assert.Equal(t, int64(7), row.Int64("num"))
	assert.Equal(t, int64(3), row.Int64("frac"))
	assert.Equal(t, int64(3), row.Int64("float"))
	assert.Equal(t, int64(0), row.Int64("garbage"))
	assert.Equal(t, int64(0), row.Int64("missing"))
	assert.Equal(t, int64(0), row.Int64("empty_str"))

	assert.True(t, row.Bool("bool_str"))
	assert.True(t, row.Bool("bool"))
	assert.True(t, row.Bool("num"))
	assert.False(t, row.Bool("zero_str"))
	assert.False(t, row.Bool("null"))

	assert.Equal(t, "7", row.String("num"))
	assert.Equal(t, "", row.String("null"))
	assert.Equal(t, "true", row.String("bool"))

	assert.True(t, row.Has("num"))
	assert.False(t, row.Has("null"))
	assert.False(t, row.Has("missing"))
}

func TestQuerySpec_WhereDoesNotAlias(t *testing.T) {
	base := QuerySpec{DataSource: SourceCommandData, Filters: make([]Filter, 0, 4)}
	a := base.ForIdentifier("a")
	b := base.ForIdentifier("b")
	assert.Equal(t, "a", a.Filters[0].Value)
	assert.Equal(t, "b", b.Filters[0].Value)
	assert.Empty(t, base.Filters)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "abcdefgh...", MaskKey("abcdefghijkl"))
	assert.Equal(t, "short", MaskKey("short"))
}
