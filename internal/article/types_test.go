package article

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordSetSkipsBlankValues(t *testing.T) {
	t.Parallel()

	rec := Record{}
	rec.Set(FieldTitle, "  Hello  ")
	rec.Set(FieldAuthor, "   ")
	rec.Set(FieldImage, "")

	require.Equal(t, Record{FieldTitle: "Hello"}, rec)
	require.False(t, rec.IsEmpty())
	require.True(t, Record{}.IsEmpty())
	require.True(t, Record(nil).IsEmpty())
}

func TestRecordCloneIsIndependent(t *testing.T) {
	t.Parallel()

	src := Record{FieldTitle: "t", FieldContent: "c", FieldAuthor: " "}
	cp := src.Clone()
	cp[FieldTitle] = "changed"

	require.Equal(t, "t", src[FieldTitle])
	require.NotContains(t, cp, FieldAuthor)
	require.Len(t, cp, 2)
}
