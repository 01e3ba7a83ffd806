package dataset

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key(SystemSIM, "2601201", 2023)
	k2 := Key(SystemSIM, "2601201", 2023)
	assert.Equal(t, k1, k2)
	assert.Equal(t, "sim_2601201_2023", k1)
}

func TestKeyDistinctAcrossPartitions(t *testing.T) {
	municipalities := []string{"2601201", "2611606"}
	years := []int{2021, 2022, 2023}

	seen := make(map[string]string)
	for _, system := range Systems() {
		for _, muni := range municipalities {
			for _, year := range years {
				key := Key(system, muni, year)
				part := fmt.Sprintf("%s/%s/%d", system, muni, year)
				prev, dup := seen[key]
				require.False(t, dup, "key %q produced by both %s and %s", key, prev, part)
				seen[key] = part

				assert.True(t, ValidKey(key), "key %q should be filesystem-safe", key)
			}
		}
	}
	assert.Len(t, seen, len(Systems())*len(municipalities)*len(years))
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"sim_2601201_2023", true},
		{"sinan-notificacoes_2022", true},
		{"", false},
		{"has space", false},
		{"UPPER_2023", false},
		{"../escape", false},
		{"a/b", false},
		{"dot.meta", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKey(tt.key), "key %q", tt.key)
	}
}

func TestSystemValid(t *testing.T) {
	for _, s := range Systems() {
		assert.True(t, s.Valid())
	}
	assert.False(t, System("SIH").Valid())
	assert.False(t, System("").Valid())
}

func TestTableValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tb := NewTable("ano", "obitos")
		tb.Append(map[string]any{"ano": 2023, "obitos": 10})
		require.NoError(t, tb.Validate())
	})

	t.Run("nil table", func(t *testing.T) {
		var tb *Table
		assert.Error(t, tb.Validate())
	})

	t.Run("no columns", func(t *testing.T) {
		assert.Error(t, NewTable().Validate())
	})

	t.Run("duplicate column", func(t *testing.T) {
		assert.Error(t, NewTable("ano", "ano").Validate())
	})

	t.Run("empty column name", func(t *testing.T) {
		assert.Error(t, NewTable("ano", "").Validate())
	})

	t.Run("undeclared column in row", func(t *testing.T) {
		tb := NewTable("ano")
		tb.Append(map[string]any{"mes": 1})
		assert.Error(t, tb.Validate())
	})
}

func TestTableColumnNilPadding(t *testing.T) {
	tb := NewTable("ano", "causa")
	tb.Append(map[string]any{"ano": 2022, "causa": "I21"})
	tb.Append(map[string]any{"ano": 2023})

	got := tb.Column("causa")
	require.Len(t, got, 2)
	assert.Equal(t, "I21", got[0])
	assert.Nil(t, got[1])
}

func TestTableEmptyAndCount(t *testing.T) {
	tb := NewTable("ano")
	assert.True(t, tb.Empty())
	assert.Equal(t, 0, tb.RecordCount())

	tb.Append(map[string]any{"ano": 2023})
	assert.False(t, tb.Empty())
	assert.Equal(t, 1, tb.RecordCount())

	var nilTable *Table
	assert.True(t, nilTable.Empty())
}

func TestTableEqual(t *testing.T) {
	a := NewTable("ano", "obitos")
	a.Append(map[string]any{"ano": 2023, "obitos": 10})

	b := NewTable("ano", "obitos")
	b.Append(map[string]any{"ano": 2023, "obitos": 10})
	assert.True(t, a.Equal(b))

	// Same cell values under fmt.Sprint count as equal even when the
	// numeric type differs, which is what a codec round-trip produces.
	c := NewTable("ano", "obitos")
	c.Append(map[string]any{"ano": int64(2023), "obitos": uint64(10)})
	assert.True(t, a.Equal(c))

	d := NewTable("ano", "obitos")
	d.Append(map[string]any{"ano": 2023, "obitos": 11})
	assert.False(t, a.Equal(d))

	e := NewTable("obitos", "ano")
	e.Append(map[string]any{"ano": 2023, "obitos": 10})
	assert.False(t, a.Equal(e))
}
