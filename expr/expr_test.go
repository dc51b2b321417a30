package expr

import (
	"strings"
	"testing"

	"github.com/sdapipe/landscape/landscaperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Expr {
	t.Helper()
	e, err := NewParser().Parse(src)
	require.NoError(t, err)
	return e
}

func TestGateConditionScenario(t *testing.T) {
	// spec.md §8 scenario 2.
	e := mustParse(t, "row['score'] > 50")

	ok, err := e.Eval(Row{"score": int64(75)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Eval(Row{"score": int64(25)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBooleanOperators(t *testing.T) {
	e := mustParse(t, "row['a'] > 0 and not row['b'] > 0")
	ok, err := e.Eval(Row{"a": int64(1), "b": int64(0)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNestedSubscript(t *testing.T) {
	e := mustParse(t, "row['a']['b'] == 1")
	ok, err := e.Eval(Row{"a": map[string]any{"b": int64(1)}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInAndNotIn(t *testing.T) {
	e := mustParse(t, "row['x'] in [1, 2, 3]")
	ok, err := e.Eval(Row{"x": int64(2)})
	require.NoError(t, err)
	assert.True(t, ok)

	e2 := mustParse(t, "row['x'] not in [1, 2, 3]")
	ok2, err := e2.Eval(Row{"x": int64(9)})
	require.NoError(t, err)
	assert.True(t, ok2)
}

func TestArithmetic(t *testing.T) {
	e := mustParse(t, "row['a'] + row['b'] * 2 == 10")
	ok, err := e.Eval(Row{"a": int64(2), "b": int64(4)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingKeyIsEvaluationError(t *testing.T) {
	e := mustParse(t, "row['missing'] > 0")
	_, err := e.Eval(Row{})
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindEvaluationError))
}

func TestDivisionByZero(t *testing.T) {
	e := mustParse(t, "row['a'] / row['b'] > 0")
	_, err := e.Eval(Row{"a": int64(1), "b": int64(0)})
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindEvaluationError))
}

func TestNonBooleanResultRejected(t *testing.T) {
	e := mustParse(t, "row['a'] + 1")
	_, err := e.Eval(Row{"a": int64(1)})
	require.Error(t, err)
}

func TestForbidsArbitraryIdentifiers(t *testing.T) {
	_, err := NewParser().Parse("__import__('os')")
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindExpressionSecurity))
}

func TestForbidsAttributeAccess(t *testing.T) {
	_, err := NewParser().Parse("row.x > 1")
	require.Error(t, err)
}

func TestForbidsFunctionCalls(t *testing.T) {
	_, err := NewParser().Parse("len(row['x']) > 1")
	require.Error(t, err)
}

func TestForbidsBareRow(t *testing.T) {
	_, err := NewParser().Parse("row == None")
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindExpressionSecurity))
}

func TestRejectsOverLengthExpression(t *testing.T) {
	long := "row['a'] == '" + strings.Repeat("x", 3000) + "'"
	_, err := NewParser().Parse(long)
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindExpressionSecurity))
}

func TestRejectsOverDepthExpression(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("(")
	}
	b.WriteString("row['a'] == 1")
	for i := 0; i < 40; i++ {
		b.WriteString(")")
	}
	_, err := NewParser().Parse(b.String())
	require.Error(t, err)
	assert.True(t, landscaperr.Is(err, landscaperr.KindExpressionSecurity))
}
