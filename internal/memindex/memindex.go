// Package memindex is the transient compact search structure built during
// bulk indexing. The indexer appends entries through a Builder while the DB
// upsert runs in the background; Freeze hands the finished index to the
// query engine read-only, and the whole thing is dropped once the bulk
// upsert completes.
package memindex

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"

	"golang.org/x/text/cases"
)

const (
	flagIsDir = 1 << iota
	flagHasMTime
	flagHasSize
)

// containsBudget bounds the linear contains scan.
const containsBudget = 30 * time.Millisecond

// Fold case-folds a string for case-insensitive comparison. Unicode-aware,
// unlike a plain ToLower.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Index is the frozen compact index: parallel arrays with interned directory
// strings and fixed-width numerics, about a hundred bytes per entry cheaper
// than the transport shape.
type Index struct {
	names  []string
	folded []string // case-folded names, ordered like names
	dirRef []int32  // index into dirTable
	flags  []uint8
	mtimes []int64
	sizes  []int64

	dirTable []string

	sortedIdx []int32            // entry indices ordered by folded name
	extMap    map[string][]int32 // ext -> entry indices
	dirMap    map[string][]int32 // dir -> entry indices
}

// Builder accumulates entries before the hand-off. Not safe for concurrent
// use; the indexer owns it exclusively until Freeze.
type Builder struct {
	ix       Index
	dirIntern map[string]int32
}

// NewBuilder sizes the arrays for the expected corpus.
func NewBuilder(capacityHint int) *Builder {
	if capacityHint < 1024 {
		capacityHint = 1024
	}
	return &Builder{
		ix: Index{
			names:  make([]string, 0, capacityHint),
			folded: make([]string, 0, capacityHint),
			dirRef: make([]int32, 0, capacityHint),
			flags:  make([]uint8, 0, capacityHint),
			mtimes: make([]int64, 0, capacityHint),
			sizes:  make([]int64, 0, capacityHint),
			extMap: make(map[string][]int32),
			dirMap: make(map[string][]int32),
		},
		dirIntern: make(map[string]int32),
	}
}

// Append adds one entry. Paths are assumed canonical (the indexer's walker
// already canonicalized them).
func (b *Builder) Append(e entry.Entry) {
	idx := int32(len(b.ix.names))

	dirID, ok := b.dirIntern[e.Dir]
	if !ok {
		dirID = int32(len(b.ix.dirTable))
		b.ix.dirTable = append(b.ix.dirTable, e.Dir)
		b.dirIntern[e.Dir] = dirID
	}

	var flags uint8
	var mtime, size int64
	if e.IsDir {
		flags |= flagIsDir
	}
	if e.MTime != nil {
		flags |= flagHasMTime
		mtime = *e.MTime
	}
	if e.Size != nil {
		flags |= flagHasSize
		size = *e.Size
	}

	b.ix.names = append(b.ix.names, e.Name)
	b.ix.folded = append(b.ix.folded, Fold(e.Name))
	b.ix.dirRef = append(b.ix.dirRef, dirID)
	b.ix.flags = append(b.ix.flags, flags)
	b.ix.mtimes = append(b.ix.mtimes, mtime)
	b.ix.sizes = append(b.ix.sizes, size)

	if e.Ext != "" {
		b.ix.extMap[e.Ext] = append(b.ix.extMap[e.Ext], idx)
	}
	b.ix.dirMap[e.Dir] = append(b.ix.dirMap[e.Dir], idx)
}

// Len reports how many entries have been appended so far.
func (b *Builder) Len() int { return len(b.ix.names) }

// Freeze sorts the search structures and returns the immutable index. The
// builder must not be used afterwards.
func (b *Builder) Freeze() *Index {
	ix := b.ix
	ix.sortedIdx = make([]int32, len(ix.names))
	for i := range ix.sortedIdx {
		ix.sortedIdx[i] = int32(i)
	}
	sort.Slice(ix.sortedIdx, func(i, j int) bool {
		a, c := ix.sortedIdx[i], ix.sortedIdx[j]
		if ix.folded[a] != ix.folded[c] {
			return ix.folded[a] < ix.folded[c]
		}
		return ix.path(a) < ix.path(c)
	})
	b.dirIntern = nil
	return &ix
}

// Len reports the number of entries.
func (ix *Index) Len() int { return len(ix.names) }

func (ix *Index) path(i int32) string {
	dir := ix.dirTable[ix.dirRef[i]]
	if dir == "" {
		return ix.names[i]
	}
	return dir + string(filepath.Separator) + ix.names[i]
}

// entryAt reconstructs the full record for an index slot.
func (ix *Index) entryAt(i int32) entry.Entry {
	e := entry.Entry{
		Path:  ix.path(i),
		Name:  ix.names[i],
		Dir:   ix.dirTable[ix.dirRef[i]],
		IsDir: ix.flags[i]&flagIsDir != 0,
	}
	if !e.IsDir {
		if dot := strings.LastIndexByte(e.Name, '.'); dot > 0 && dot < len(e.Name)-1 {
			e.Ext = strings.ToLower(e.Name[dot+1:])
		}
	}
	if ix.flags[i]&flagHasMTime != 0 {
		v := ix.mtimes[i]
		e.MTime = &v
	}
	if ix.flags[i]&flagHasSize != 0 {
		v := ix.sizes[i]
		e.Size = &v
	}
	return e
}

// Hit is one search result with its relevance rank (0 exact, 1 prefix,
// 2 name contains, 3 path-end match, 4 path contains).
type Hit struct {
	Entry entry.Entry
	Rank  int
}

// SearchName runs the exact / prefix / contains ladder for a name query.
// The contains phase is wall-clock bounded; truncated reports whether the
// scan hit the budget before covering every entry.
func (ix *Index) SearchName(q string, limit int) (hits []Hit, truncated bool) {
	if limit <= 0 || len(ix.names) == 0 {
		return nil, false
	}
	fq := Fold(q)
	seen := make(map[int32]struct{}, limit)

	// Exact: binary search on the folded-name order.
	lo := sort.Search(len(ix.sortedIdx), func(i int) bool {
		return ix.folded[ix.sortedIdx[i]] >= fq
	})
	for i := lo; i < len(ix.sortedIdx) && len(hits) < limit; i++ {
		idx := ix.sortedIdx[i]
		if ix.folded[idx] != fq {
			break
		}
		seen[idx] = struct{}{}
		hits = append(hits, Hit{Entry: ix.entryAt(idx), Rank: 0})
	}

	// Prefix: two binary searches bracket the folded range.
	hi := sort.Search(len(ix.sortedIdx), func(i int) bool {
		return !strings.HasPrefix(ix.folded[ix.sortedIdx[i]], fq) && ix.folded[ix.sortedIdx[i]] >= fq
	})
	for i := lo; i < hi && len(hits) < limit; i++ {
		idx := ix.sortedIdx[i]
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		hits = append(hits, Hit{Entry: ix.entryAt(idx), Rank: 1})
	}

	// Contains: linear scan bounded by wall clock; partial results are fine.
	if len(hits) < limit {
		deadline := time.Now().Add(containsBudget)
		for i := int32(0); i < int32(len(ix.folded)); i++ {
			if i%4096 == 0 && time.Now().After(deadline) {
				truncated = true
				break
			}
			if _, dup := seen[i]; dup {
				continue
			}
			if strings.Contains(ix.folded[i], fq) {
				seen[i] = struct{}{}
				hits = append(hits, Hit{Entry: ix.entryAt(i), Rank: 2})
				if len(hits) >= limit {
					break
				}
			}
		}
	}

	sortHits(hits)
	return hits, truncated
}

// SearchExt returns entries whose extension equals ext (already lowercased).
func (ix *Index) SearchExt(ext string, limit int) []Hit {
	idxs := ix.extMap[ext]
	hits := make([]Hit, 0, min(limit, len(idxs)))
	for _, i := range idxs {
		hits = append(hits, Hit{Entry: ix.entryAt(i), Rank: 1})
		if len(hits) >= limit {
			break
		}
	}
	sortHits(hits)
	return hits
}

// SearchDir returns entries directly inside dir.
func (ix *Index) SearchDir(dir string, limit int) []Hit {
	idxs := ix.dirMap[dir]
	hits := make([]Hit, 0, min(limit, len(idxs)))
	for _, i := range idxs {
		hits = append(hits, Hit{Entry: ix.entryAt(i), Rank: 1})
		if len(hits) >= limit {
			break
		}
	}
	sortHits(hits)
	return hits
}

// sortHits orders by rank ascending, then path depth ascending, then path.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Rank != hits[j].Rank {
			return hits[i].Rank < hits[j].Rank
		}
		di := strings.Count(hits[i].Entry.Path, string(filepath.Separator))
		dj := strings.Count(hits[j].Entry.Path, string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return hits[i].Entry.Path < hits[j].Entry.Path
	})
}
