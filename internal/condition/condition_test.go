package condition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cond, err := Parse("estimate.status == 'Sold'")
	require.NoError(t, err)
	require.Equal(t, []string{"estimate", "status"}, cond.Path)
	require.Equal(t, OpEq, cond.Op)
	require.True(t, cond.Literal.IsStr)
	require.Equal(t, "Sold", cond.Literal.Str)

	cond, err = Parse("estimate.total_cents >= 250000")
	require.NoError(t, err)
	require.Equal(t, OpGte, cond.Op)
	require.True(t, cond.Literal.IsNum)
	require.Equal(t, float64(250000), cond.Literal.Num)

	cond, err = Parse("customer.do_not_contact != true")
	require.NoError(t, err)
	require.Equal(t, OpNeq, cond.Op)
	require.True(t, cond.Literal.IsBool)
}

func TestParseRejectsMalformedExpressions(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"estimate.status",
		"status == 'Sold'",
		"estimate.status == ",
		"estimate.status == Sold",
		"1bad.path == 'x'",
	} {
		_, err := Parse(expr)
		require.Error(t, err, "expression %q should not parse", expr)
	}
}

type stubReader struct {
	state map[string]map[string]any
	err   error
}

func (s stubReader) EntityState(context.Context, string, int64) (map[string]map[string]any, error) {
	return s.state, s.err
}

func TestEvaluate(t *testing.T) {
	reader := stubReader{state: map[string]map[string]any{
		"estimate": {"status": "Sold", "total_cents": int64(300000)},
		"customer": {"do_not_contact": false},
	}}

	tests := []struct {
		expr string
		want bool
	}{
		{"estimate.status == 'Sold'", true},
		{"estimate.status == 'Open'", false},
		{"estimate.status != 'Open'", true},
		{"estimate.total_cents >= 250000", true},
		{"estimate.total_cents < 250000", false},
		{"customer.do_not_contact == false", true},
		{"customer.do_not_contact == true", false},
	}
	for _, tc := range tests {
		cond, err := Parse(tc.expr)
		require.NoError(t, err)
		got := cond.Evaluate(context.Background(), reader, "estimate", 1)
		require.Equal(t, tc.want, got, "expression %q", tc.expr)
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	cond, err := Parse("estimate.status == 'Sold'")
	require.NoError(t, err)

	// Read error.
	require.False(t, cond.Evaluate(context.Background(), stubReader{err: errors.New("db down")}, "estimate", 1))

	// Missing section and missing field.
	require.False(t, cond.Evaluate(context.Background(), stubReader{state: map[string]map[string]any{}}, "estimate", 1))
	require.False(t, cond.Evaluate(context.Background(), stubReader{state: map[string]map[string]any{"estimate": {}}}, "estimate", 1))

	// Type mismatch: string comparison against a number.
	mismatched := stubReader{state: map[string]map[string]any{"estimate": {"status": 42}}}
	require.False(t, cond.Evaluate(context.Background(), mismatched, "estimate", 1))

	// Ordering comparison on a string literal is never true.
	ordered, err := Parse("estimate.status > 'Sold'")
	require.NoError(t, err)
	sold := stubReader{state: map[string]map[string]any{"estimate": {"status": "Sold"}}}
	require.False(t, ordered.Evaluate(context.Background(), sold, "estimate", 1))

	// Nil reader.
	require.False(t, cond.Evaluate(context.Background(), nil, "estimate", 1))
}

func TestParseAll(t *testing.T) {
	conds, bad := ParseAll([]string{
		"estimate.status == 'Sold'",
		"not an expression",
		"job.status != 'Canceled'",
	})
	require.Len(t, conds, 2)
	require.Equal(t, []string{"not an expression"}, bad)
}
