package sqlrest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("count query", func(t *testing.T) {
		got := Classify("SELECT COUNT(*) as count FROM users")
		assert.Equal(t, OpSelect, got.Operation)
		assert.Equal(t, "users", got.Table)
		assert.True(t, got.HasCount)
		assert.False(t, got.HasWhere)
		assert.False(t, got.HasLimit)
		assert.False(t, got.HasReturning)
	})

	t.Run("keeps original text and params", func(t *testing.T) {
		got := Classify("SELECT * FROM users WHERE id = $1", "u1")
		assert.Equal(t, RawStatement{Text: "SELECT * FROM users WHERE id = $1", Params: []any{"u1"}}, got.Original)
	})

	tests := []struct {
		sql       string
		operation Operation
		table     string
		where     bool
		limit     bool
		returning bool
	}{
		{"select * from users order by created_at desc limit $1 offset $2", OpSelect, "users", false, true, false},
		{"  SELECT * FROM public.users WHERE id = $1 LIMIT 1", OpSelect, "public.users", true, true, false},
		{"INSERT INTO users (data) VALUES ($1) RETURNING *", OpInsert, "users", false, false, true},
		{"UPDATE ONLY users SET data = $1 WHERE id = $2 RETURNING *", OpUpdate, "users", true, false, true},
		{"DELETE FROM posts WHERE id = $1", OpDelete, "posts", true, false, false},
		{"delete from posts", OpDelete, "posts", false, false, false},
		{"-- leading comment\nSELECT * FROM users", OpSelect, "users", false, false, false},
		{"SELECT * FROM users WHERE data->>'note' = 'delete from x where limit'", OpSelect, "users", true, false, false},
		{"SELECT returning_at FROM users", OpSelect, "users", false, false, false},
		{"SELECT 1", OpSelect, "", false, false, false},
		{"WITH t AS (SELECT 1) SELECT * FROM t", OpUnknown, "", false, false, false},
		{"VACUUM users", OpUnknown, "", false, false, false},
		{"", OpUnknown, "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got := Classify(tt.sql)
			assert.Equal(t, tt.operation, got.Operation)
			assert.Equal(t, tt.table, got.Table)
			assert.Equal(t, tt.where, got.HasWhere, "HasWhere")
			assert.Equal(t, tt.limit, got.HasLimit, "HasLimit")
			assert.Equal(t, tt.returning, got.HasReturning, "HasReturning")
		})
	}
}

func TestSplitTable(t *testing.T) {
	schema, table := SplitTable("public.users")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "users", table)

	schema, table = SplitTable("users")
	assert.Empty(t, schema)
	assert.Equal(t, "users", table)
}
