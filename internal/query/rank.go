package query

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/memindex"
)

// Relevance ranks within a name search. Lower is better.
const (
	rankExact        = 0
	rankPrefix       = 1
	rankNameContains = 2
	rankPathEnd      = 3
	rankPathContains = 4
	rankNone         = 9
)

// rankFor scores an entry against a case-folded query.
func rankFor(e entry.Entry, foldedQuery string) int {
	name := memindex.Fold(e.Name)
	switch {
	case name == foldedQuery:
		return rankExact
	case strings.HasPrefix(name, foldedQuery):
		return rankPrefix
	case strings.Contains(name, foldedQuery):
		return rankNameContains
	}
	path := memindex.Fold(e.Path)
	switch {
	case strings.HasSuffix(path, foldedQuery):
		return rankPathEnd
	case strings.Contains(path, foldedQuery):
		return rankPathContains
	}
	return rankNone
}

func pathDepth(p string) int {
	return strings.Count(p, string(filepath.Separator))
}

// ranked pairs an entry with its computed rank for first-page ordering.
type ranked struct {
	e    entry.Entry
	rank int
}

// sortRanked orders by rank ascending, then the column comparator, then path
// depth ascending, then lexicographic path.
func sortRanked(rs []ranked, less func(a, b entry.Entry) bool) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].rank != rs[j].rank {
			return rs[i].rank < rs[j].rank
		}
		if less != nil {
			if less(rs[i].e, rs[j].e) {
				return true
			}
			if less(rs[j].e, rs[i].e) {
				return false
			}
		}
		di, dj := pathDepth(rs[i].e.Path), pathDepth(rs[j].e.Path)
		if di != dj {
			return di < dj
		}
		return rs[i].e.Path < rs[j].e.Path
	})
}

// columnLess builds the comparator for a configured column sort.
func columnLess(sortBy, sortDir string) func(a, b entry.Entry) bool {
	desc := sortDir == "desc"
	var cmp func(a, b entry.Entry) int
	switch sortBy {
	case "dir":
		cmp = func(a, b entry.Entry) int {
			return strings.Compare(strings.ToLower(a.Dir), strings.ToLower(b.Dir))
		}
	case "mtime":
		cmp = func(a, b entry.Entry) int { return compareNullable(a.MTime, b.MTime) }
	case "size":
		cmp = func(a, b entry.Entry) int { return compareNullable(a.Size, b.Size) }
	default: // name
		cmp = func(a, b entry.Entry) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	}
	return func(a, b entry.Entry) bool {
		c := cmp(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	}
}

func compareNullable(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}
