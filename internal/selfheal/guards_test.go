package selfheal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyNullSafetyGuards_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sum_over_count",
			in:   "SELECT SUM(amount)/COUNT(id) FROM t",
			want: "SELECT SUM(COALESCE(amount, 0))/ NULLIF(COUNT(COALESCE(id, 0)), 0) FROM t",
		},
		{
			name: "case_insensitive_aggregate",
			in:   "select avg(price) from t",
			want: "select avg(COALESCE(price, 0)) from t",
		},
		{
			name: "count_star_untouched",
			in:   "SELECT COUNT(*) FROM t",
			want: "SELECT COUNT(*) FROM t",
		},
		{
			name: "distinct_keeps_keyword_outside",
			in:   "SELECT COUNT(DISTINCT user_id) FROM t",
			want: "SELECT COUNT(DISTINCT COALESCE(user_id, 0)) FROM t",
		},
		{
			name: "all_divisions_in_one_pass",
			in:   "SELECT a / b, c/2.5 FROM t",
			want: "SELECT a / NULLIF(b, 0), c/ NULLIF(2.5, 0) FROM t",
		},
		{
			name: "parenthesised_denominator_not_guarded",
			in:   "SELECT x / (a + b) FROM t",
			want: "SELECT x / (a + b) FROM t",
		},
		{
			name: "string_literal_untouched",
			in:   "SELECT 'a/b' AS s, SUM(v) FROM t",
			want: "SELECT 'a/b' AS s, SUM(COALESCE(v, 0)) FROM t",
		},
		{
			name: "dotted_operand_and_block_comment",
			in:   "SELECT MAX(t.v) / t.n FROM t /* ratio */",
			want: "SELECT MAX(COALESCE(t.v, 0)) / NULLIF(t.n, 0) FROM t /* ratio */",
		},
		{
			name: "line_comment_untouched",
			in:   "SELECT SUM(x) -- total/count\nFROM t",
			want: "SELECT SUM(COALESCE(x, 0)) -- total/count\nFROM t",
		},
		{
			name: "nested_parens_in_argument",
			in:   "SELECT SUM(CASE WHEN a > 0 THEN b ELSE NULL END) FROM t",
			want: "SELECT SUM(COALESCE(CASE WHEN a > 0 THEN b ELSE NULL END, 0)) FROM t",
		},
		{
			name: "aggregates_inside_function_call",
			in:   "SELECT ROUND(SUM(a) / COUNT(b), 2) FROM t",
			want: "SELECT ROUND(SUM(COALESCE(a, 0)) / NULLIF(COUNT(COALESCE(b, 0)), 0), 2) FROM t",
		},
		{
			name: "word_suffix_is_not_an_aggregate",
			in:   "SELECT checksum(x), my_sum(y) FROM t",
			want: "SELECT checksum(x), my_sum(y) FROM t",
		},
		{
			name: "no_guards_needed",
			in:   "SELECT region FROM sales",
			want: "SELECT region FROM sales",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ApplyNullSafetyGuards(tt.in))
		})
	}
}

func TestApplyNullSafetyGuards_SumOverCountGuardsBothSides(t *testing.T) {
	t.Parallel()

	// COUNT is an aggregate too, so the denominator's argument is coalesced
	// before the division guard wraps the whole call.
	got := ApplyNullSafetyGuards("SELECT SUM(amount)/COUNT(id) FROM t")
	require.Equal(t, "SELECT SUM(COALESCE(amount, 0))/ NULLIF(COUNT(COALESCE(id, 0)), 0) FROM t", got)
}

func TestApplyNullSafetyGuards_EscapeStringLiteral(t *testing.T) {
	t.Parallel()

	got := ApplyNullSafetyGuards(`SELECT E'a\'b/c', a/b FROM t`)
	require.Equal(t, `SELECT E'a\'b/c', a/ NULLIF(b, 0) FROM t`, got)

	// A plain literal ending in a backslash is still closed by the next quote.
	got = ApplyNullSafetyGuards(`SELECT 'x\', a/b FROM t`)
	require.Equal(t, `SELECT 'x\', a/ NULLIF(b, 0) FROM t`, got)

	// A quote after a longer word does not open an escape string.
	got = ApplyNullSafetyGuards(`SELECT type'a\', a/b FROM t`)
	require.Equal(t, `SELECT type'a\', a/ NULLIF(b, 0) FROM t`, got)
}

func TestApplyNullSafetyGuards_ReapplicationStaysBalanced(t *testing.T) {
	t.Parallel()

	sql := "SELECT region, SUM(revenue)/COUNT(orders) AS aov, AVG(margin) FROM sales GROUP BY region"
	prev := sql
	for i := 0; i < 3; i++ {
		next := ApplyNullSafetyGuards(prev)
		require.Equal(t, strings.Count(next, "("), strings.Count(next, ")"), "unbalanced after pass %d: %s", i+1, next)
		require.Greater(t, len(next), len(prev), "pass %d did not stack guards", i+1)
		prev = next
	}
	require.Contains(t, prev, "NULLIF(NULLIF(")
	require.Contains(t, prev, "COALESCE(COALESCE(")
}
