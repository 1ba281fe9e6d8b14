package query

import (
	"testing"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/memindex"
	"github.com/stretchr/testify/assert"
)

func mk(path string) entry.Entry {
	return entry.New(path, false, nil, nil, 0, 0)
}

func TestRankFor(t *testing.T) {
	q := memindex.Fold("log")
	cases := []struct {
		path string
		want int
	}{
		{"/R/x/log", rankExact},
		{"/R/x/LOG", rankExact},
		{"/R/x/log.txt", rankPrefix},
		{"/R/x/catalog", rankNameContains},
		{"/R/deep/log/readme", rankPathContains},
		{"/R/x/unrelated", rankNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rankFor(mk(tc.path), q), "path %s", tc.path)
	}
	// Directories rank by the same rules as files.
	dir := entry.New("/R/var/log", true, nil, nil, 0, 0)
	assert.Equal(t, rankExact, rankFor(dir, q))
	odd := mk("/R/some.log")
	assert.Equal(t, rankNameContains, rankFor(odd, q))
}

func TestRankPathEnd(t *testing.T) {
	q := memindex.Fold("var/log")
	e := mk("/R/var/log")
	// Name "log" does not contain "var/log"; the path suffix does.
	assert.Equal(t, rankPathEnd, rankFor(e, q))
	assert.Equal(t, rankPathContains, rankFor(mk("/R/var/log/inner.txt"), q))
}

func TestSortRankedTieBreakers(t *testing.T) {
	rs := []ranked{
		{e: mk("/R/a/b/c/file"), rank: 1},
		{e: mk("/R/z/file"), rank: 1},
		{e: mk("/R/a/file"), rank: 1},
		{e: mk("/R/deep/exact"), rank: 0},
	}
	// Equal column keys force the depth and path tie-breakers.
	sortRanked(rs, nil)

	assert.Equal(t, "/R/deep/exact", rs[0].e.Path)
	assert.Equal(t, "/R/a/file", rs[1].e.Path)
	assert.Equal(t, "/R/z/file", rs[2].e.Path)
	assert.Equal(t, "/R/a/b/c/file", rs[3].e.Path)
}

func TestColumnLess(t *testing.T) {
	small, big := int64(1), int64(2)
	a := mk("/R/a.txt")
	a.Size = &small
	b := mk("/R/b.txt")
	b.Size = &big

	asc := columnLess("size", "asc")
	desc := columnLess("size", "desc")
	assert.True(t, asc(a, b))
	assert.False(t, asc(b, a))
	assert.True(t, desc(b, a))

	// Absent values sort before present ones ascending.
	c := mk("/R/c.txt")
	assert.True(t, asc(c, a))

	byName := columnLess("name", "asc")
	assert.True(t, byName(mk("/R/Alpha"), mk("/R/beta")))
}
