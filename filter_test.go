package firelite

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyFilterToWire(t *testing.T) {
	wf, err := PropertyFilter{Path: "age", Operator: ">=", Value: int64(21)}.toWire()
	require.NoError(t, err)
	require.NotNil(t, wf.FieldFilter)
	assert.Equal(t, "age", wf.FieldFilter.Field.FieldPath)
	assert.Equal(t, "GREATER_THAN_OR_EQUAL", wf.FieldFilter.Op)
	require.NotNil(t, wf.FieldFilter.Value.IntegerValue)
	assert.Equal(t, "21", *wf.FieldFilter.Value.IntegerValue)
}

func TestPropertyFilterInvalid(t *testing.T) {
	_, err := PropertyFilter{Path: "age", Operator: "~", Value: 1}.toWire()
	assert.Error(t, err)

	_, err = PropertyFilter{Path: "", Operator: "==", Value: 1}.toWire()
	assert.Error(t, err)
}

func TestUnaryFilters(t *testing.T) {
	for _, tc := range []struct {
		op    string
		value any
		want  string
	}{
		{"==", nil, "IS_NULL"},
		{"!=", nil, "IS_NOT_NULL"},
		{"==", math.NaN(), "IS_NAN"},
		{"!=", math.NaN(), "IS_NOT_NAN"},
	} {
		wf, err := PropertyFilter{Path: "f", Operator: tc.op, Value: tc.value}.toWire()
		require.NoError(t, err)
		require.NotNil(t, wf.UnaryFilter, "op %s", tc.want)
		assert.Equal(t, tc.want, wf.UnaryFilter.Op)
		assert.Nil(t, wf.FieldFilter)
	}

	// Ordering comparisons keep null as a literal filter error path: the
	// encoder produces a nullValue, which the server rejects; equality is
	// the only rewritten case.
	wf, err := PropertyFilter{Path: "f", Operator: "==", Value: int64(0)}.toWire()
	require.NoError(t, err)
	assert.Nil(t, wf.UnaryFilter)
}

func TestAndOrFlattening(t *testing.T) {
	a := PropertyFilter{Path: "a", Operator: "==", Value: 1}
	b := PropertyFilter{Path: "b", Operator: "==", Value: 2}
	c := PropertyFilter{Path: "c", Operator: "==", Value: 3}

	and := And(And(a, b), c)
	af, ok := and.(AndFilter)
	require.True(t, ok)
	assert.Len(t, af.Filters, 3)

	or := Or(a, Or(b, c))
	of, ok := or.(OrFilter)
	require.True(t, ok)
	assert.Len(t, of.Filters, 3)

	// Mixed kinds do not flatten across each other.
	mixed := And(Or(a, b), c)
	mf, ok := mixed.(AndFilter)
	require.True(t, ok)
	assert.Len(t, mf.Filters, 2)
}

func TestCompositeToWire(t *testing.T) {
	a := PropertyFilter{Path: "a", Operator: "==", Value: 1}
	b := PropertyFilter{Path: "b", Operator: "==", Value: 2}

	wf, err := And(a, b).toWire()
	require.NoError(t, err)
	require.NotNil(t, wf.CompositeFilter)
	assert.Equal(t, "AND", wf.CompositeFilter.Op)
	assert.Len(t, wf.CompositeFilter.Filters, 2)

	// A single-child composite unwraps to its child.
	wf, err = And(a).toWire()
	require.NoError(t, err)
	assert.Nil(t, wf.CompositeFilter)
	require.NotNil(t, wf.FieldFilter)

	_, err = And().toWire()
	assert.Error(t, err)
}
