package firelite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldPath(t *testing.T) {
	fp, err := parseFieldPath("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, FieldPath{"a", "b", "c"}, fp)

	for _, bad := range []string{"", ".", "a.", ".a", "a..b"} {
		_, err := parseFieldPath(bad)
		assert.Error(t, err, "path %q", bad)
	}
}

func TestServerPathEscaping(t *testing.T) {
	for _, tc := range []struct {
		fp   FieldPath
		want string
	}{
		{FieldPath{"simple"}, "simple"},
		{FieldPath{"a", "b"}, "a.b"},
		{FieldPath{"__name__"}, "__name__"},
		{FieldPath{"with space"}, "`with space`"},
		{FieldPath{"dotted.name"}, "`dotted.name`"},
		{FieldPath{"1starts_with_digit"}, "`1starts_with_digit`"},
		{FieldPath{"back`tick"}, "`back\\`tick`"},
		{FieldPath{`back\slash`}, "`back\\\\slash`"},
		{FieldPath{"a", "odd one"}, "a.`odd one`"},
	} {
		assert.Equal(t, tc.want, tc.fp.serverPath(), "path %v", []string(tc.fp))
	}
}

func TestFieldPathPrefixOf(t *testing.T) {
	a := FieldPath{"a"}
	ab := FieldPath{"a", "b"}
	ac := FieldPath{"a", "c"}

	assert.True(t, a.prefixOf(ab))
	assert.True(t, ab.prefixOf(ab))
	assert.False(t, ab.prefixOf(a))
	assert.False(t, ab.prefixOf(ac))
}

func TestDocumentIDDetection(t *testing.T) {
	assert.True(t, DocumentID.isDocumentID())
	assert.False(t, FieldPath{"name"}.isDocumentID())
	assert.False(t, FieldPath{"__name__", "x"}.isDocumentID())
}
