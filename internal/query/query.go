// Package query classifies incoming searches and executes a multi-phase
// plan against the in-memory index (while bulk indexing is running) or the
// persistent store. Results are post-filtered through the ignore engine and,
// on the first page of a name search, relevance-ranked.
package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/memindex"
	"github.com/atomicobject/filesearch-core/internal/store"
)

const (
	// probeDeadline bounds the contains-phase selectivity probe.
	probeDeadline = 8 * time.Millisecond
	// fetchDeadline bounds the contains-phase fetch.
	fetchDeadline = 30 * time.Millisecond
	// lastResortTimeout bounds the external platform search.
	lastResortTimeout = 3 * time.Second
	// lastResortMaxResults caps what the external search may return.
	lastResortMaxResults = 300
)

// Options carries the pagination limits from config.
type Options struct {
	ScanRoot        string
	DefaultLimit    int
	ShortQueryLimit int
	MaxLimit        int
}

// Request is one search invocation from the command surface.
type Request struct {
	Query        string
	Limit        int
	Offset       int
	SortBy       string // name | dir | mtime | size
	SortDir      string // asc | desc
	IncludeTotal bool
}

// Response is the answer sent back to the caller.
type Response struct {
	Entries     []entry.Entry
	ModeLabel   string
	TotalCount  int64
	TotalKnown  bool
	Provisional bool // entries came from the platform's own search index
	TimedOut    bool // an external invocation hit its deadline
}

// Engine executes queries. The in-memory index pointer is swapped in by the
// indexer during bulk runs and cleared on completion.
type Engine struct {
	store  *store.Store
	ignore *ignoreengine.Engine
	opts   Options

	memMu sync.RWMutex
	mem   *memindex.Index

	neg *negativeCache

	// LastResort, when set, is the platform-provided search service used
	// while the store is still empty. FindFallback is the slower find-style
	// walk permitted once inside the negative-cache window.
	LastResort   func(ctx context.Context, q string, max int) ([]entry.Entry, error)
	FindFallback func(ctx context.Context, q string) ([]entry.Entry, error)
}

// New builds an engine over the given store and ignore rules.
func New(s *store.Store, ig *ignoreengine.Engine, opts Options) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 300
	}
	if opts.ShortQueryLimit <= 0 {
		opts.ShortQueryLimit = 100
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 1000
	}
	e := &Engine{store: s, ignore: ig, opts: opts, neg: newNegativeCache()}
	e.LastResort = platformLastResort
	e.FindFallback = findFallback(opts.ScanRoot)
	return e
}

// SetMemIndex installs (or clears, with nil) the in-memory index handle.
func (e *Engine) SetMemIndex(ix *memindex.Index) {
	e.memMu.Lock()
	e.mem = ix
	e.memMu.Unlock()
}

func (e *Engine) memIndex() *memindex.Index {
	e.memMu.RLock()
	defer e.memMu.RUnlock()
	return e.mem
}

// InvalidateNegative drops cached zero-result observations; called after any
// write that changes the corpus.
func (e *Engine) InvalidateNegative() {
	e.neg.reset()
}

// Search classifies and executes one query.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	q := strings.TrimSpace(req.Query)
	mode := Classify(q)
	limit := e.effectiveLimit(q, req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}

	var resp Response
	var err error
	switch mode {
	case ModeEmpty:
		resp, err = e.searchEmpty(ctx, req, limit)
	case ModeExt:
		resp, err = e.searchExt(ctx, req, extOf(q), limit)
	case ModeGlob:
		resp, err = e.searchGlob(ctx, req, q, limit)
	case ModePath:
		resp, err = e.searchPath(ctx, req, q, limit)
	default:
		resp, err = e.searchName(ctx, req, q, limit)
	}
	if err != nil {
		return Response{}, err
	}
	resp.ModeLabel = mode.Label()
	return resp, nil
}

// effectiveLimit applies the default, the single-character cap, and the hard
// maximum.
func (e *Engine) effectiveLimit(q string, requested int) int {
	limit := requested
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}
	if len([]rune(q)) == 1 && limit > e.opts.ShortQueryLimit {
		limit = e.opts.ShortQueryLimit
	}
	return limit
}

// orderClause whitelists the sortable columns.
func orderClause(sortBy, sortDir string) string {
	col := "name COLLATE NOCASE"
	switch sortBy {
	case "dir":
		col = "dir COLLATE NOCASE"
	case "mtime":
		col = "mtime"
	case "size":
		col = "size"
	}
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, path ASC", col, dir)
}

// rankFirstPage reports whether relevance ranking applies: sort-by-name
// ascending on the first page.
func rankFirstPage(req Request) bool {
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "name"
	}
	return sortBy == "name" && req.SortDir != "desc" && req.Offset == 0
}

func (e *Engine) searchEmpty(ctx context.Context, req Request, limit int) (Response, error) {
	entries, err := e.store.SelectEntries(ctx,
		orderClause(req.SortBy, req.SortDir)+" LIMIT ? OFFSET ?", limit, req.Offset)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Entries: e.postFilter(entries), TotalKnown: true}
	if req.IncludeTotal {
		total, err := e.store.CountWhere(ctx, "")
		if err != nil {
			return Response{}, err
		}
		resp.TotalCount = total
	}
	return resp, nil
}

func (e *Engine) searchExt(ctx context.Context, req Request, ext string, limit int) (Response, error) {
	if mem := e.memIndex(); mem != nil {
		hits := mem.SearchExt(ext, req.Offset+limit)
		if len(hits) > 0 {
			return e.respondFromHits(hits, req, limit, false), nil
		}
	}
	if resp, ok, err := e.maybeLastResort(ctx, "*."+ext); ok || err != nil {
		return resp, err
	}

	where := `WHERE ext = ?`
	entries, err := e.store.SelectEntries(ctx,
		where+" "+orderClause(req.SortBy, req.SortDir)+" LIMIT ? OFFSET ?",
		ext, limit, req.Offset)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Entries: e.postFilter(entries), TotalKnown: true}
	if req.IncludeTotal {
		total, err := e.store.CountWhere(ctx, where, ext)
		if err != nil {
			return Response{}, err
		}
		resp.TotalCount = total
	}
	return resp, nil
}

func (e *Engine) searchGlob(ctx context.Context, req Request, q string, limit int) (Response, error) {
	if resp, ok, err := e.maybeLastResort(ctx, q); ok || err != nil {
		return resp, err
	}
	pattern := globToLike(q)
	where := `WHERE name LIKE ? ESCAPE '\'`
	entries, err := e.store.SelectEntries(ctx,
		where+" "+orderClause(req.SortBy, req.SortDir)+" LIMIT ? OFFSET ?",
		pattern, limit, req.Offset)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Entries: e.postFilter(entries), TotalKnown: true}
	if req.IncludeTotal {
		total, err := e.store.CountWhere(ctx, where, pattern)
		if err != nil {
			return Response{}, err
		}
		resp.TotalCount = total
	}
	return resp, nil
}

// searchName runs the three-phase plan: exact, prefix, bounded contains.
func (e *Engine) searchName(ctx context.Context, req Request, q string, limit int) (Response, error) {
	folded := memindex.Fold(q)

	if mem := e.memIndex(); mem != nil {
		hits, truncated := mem.SearchName(q, req.Offset+limit)
		if len(hits) > 0 {
			return e.respondFromHits(hits, req, limit, truncated), nil
		}
	}
	if resp, ok, err := e.maybeLastResort(ctx, q); ok || err != nil {
		return resp, err
	}

	switch e.neg.check(folded) {
	case negSuppressed:
		return Response{TotalKnown: true}, nil
	case negTryFallback:
		return e.runFindFallback(ctx, q)
	}

	budget := req.Offset + limit
	seen := make(map[string]struct{}, budget)
	var gathered []entry.Entry
	add := func(es []entry.Entry) {
		for _, en := range es {
			if _, dup := seen[en.Path]; dup {
				continue
			}
			seen[en.Path] = struct{}{}
			gathered = append(gathered, en)
		}
	}

	// Phase 1: exact, index-backed through the NOCASE name index.
	exact, err := e.store.SelectEntries(ctx,
		`WHERE name = ? COLLATE NOCASE LIMIT ?`, q, budget)
	if err != nil {
		return Response{}, err
	}
	add(exact)

	// Phase 2: prefix, also index-backed.
	if len(gathered) < budget {
		prefix, err := e.store.SelectEntries(ctx,
			`WHERE name LIKE ? ESCAPE '\' LIMIT ?`, escapeLike(q)+"%", budget)
		if err != nil {
			return Response{}, err
		}
		add(prefix)
	}

	// Phase 3: contains. A short probe estimates selectivity (and doubles as
	// the total); the fetch itself is wall-clock bounded and may truncate.
	containsPattern := "%" + escapeLike(q) + "%"
	totalKnown := true
	var total int64

	probeCtx, cancelProbe := context.WithTimeout(ctx, probeDeadline)
	total, err = e.store.CountWhere(probeCtx, `WHERE name LIKE ? ESCAPE '\'`, containsPattern)
	cancelProbe()
	if err != nil {
		if !isDeadline(err) {
			return Response{}, err
		}
		totalKnown = false
	}

	if len(gathered) < budget {
		fetchCtx, cancelFetch := context.WithTimeout(ctx, fetchDeadline)
		contains, err := e.store.SelectEntries(fetchCtx,
			`WHERE name LIKE ? ESCAPE '\' LIMIT ?`, containsPattern, budget)
		cancelFetch()
		if err != nil {
			if !isDeadline(err) {
				return Response{}, err
			}
			// Deadline hit mid-fetch: serve the exact+prefix phases only.
			totalKnown = false
		} else {
			add(contains)
		}
	}

	filtered := e.postFilter(gathered)
	if len(filtered) == 0 {
		e.neg.record(folded)
		return Response{TotalKnown: totalKnown, TotalCount: 0}, nil
	}

	resp := e.paginateRanked(filtered, folded, req, limit)
	resp.TotalKnown = totalKnown
	if totalKnown {
		resp.TotalCount = total
	}
	if !req.IncludeTotal && !totalKnown {
		resp.TotalCount = int64(len(filtered))
	}
	return resp, nil
}

// searchPath scopes the query by a directory hint and delegates the tail.
func (e *Engine) searchPath(ctx context.Context, req Request, q string, limit int) (Response, error) {
	hint, tail := splitPathQuery(q)

	if resolved, ok := e.resolveDirHint(ctx, hint); ok {
		return e.searchScopedTail(ctx, req, resolved, tail, limit)
	}

	// Unresolvable hint: dir LIKE under the probe/fetch discipline.
	where := `WHERE dir LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(strings.Trim(hint, `/\`)) + "%"}
	if tail != "" {
		where += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(tail)+"%")
	}

	totalKnown := true
	var total int64
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeDeadline)
	total, err := e.store.CountWhere(probeCtx, where, args...)
	cancelProbe()
	if err != nil {
		if !isDeadline(err) {
			return Response{}, err
		}
		totalKnown = false
	}

	fetchCtx, cancelFetch := context.WithTimeout(ctx, fetchDeadline)
	entries, err := e.store.SelectEntries(fetchCtx,
		where+" "+orderClause(req.SortBy, req.SortDir)+" LIMIT ? OFFSET ?",
		append(args, limit, req.Offset)...)
	cancelFetch()
	if err != nil {
		if !isDeadline(err) {
			return Response{}, err
		}
		return Response{TotalKnown: false}, nil
	}

	resp := Response{Entries: e.postFilter(entries), TotalKnown: totalKnown}
	if totalKnown {
		resp.TotalCount = total
	}
	return resp, nil
}

// searchScopedTail executes the tail sub-mode under a dir = <resolved> scope.
func (e *Engine) searchScopedTail(ctx context.Context, req Request, dir, tail string, limit int) (Response, error) {
	scope := `WHERE dir = ? COLLATE NOCASE`
	args := []any{dir}

	switch {
	case tail == "":
		// Whole directory listing.
	case Classify(tail) == ModeExt:
		scope += ` AND ext = ?`
		args = append(args, extOf(tail))
	case strings.ContainsAny(tail, "*?"):
		scope += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, globToLike(tail))
	default:
		scope += ` AND (name = ? COLLATE NOCASE OR name LIKE ? ESCAPE '\')`
		args = append(args, tail, escapeLike(tail)+"%")
	}

	entries, err := e.store.SelectEntries(ctx,
		scope+" "+orderClause(req.SortBy, req.SortDir)+" LIMIT ? OFFSET ?",
		append(args, limit, req.Offset)...)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Entries: e.postFilter(entries), TotalKnown: true}
	if req.IncludeTotal {
		total, err := e.store.CountWhere(ctx, scope, args...)
		if err != nil {
			return Response{}, err
		}
		resp.TotalCount = total
	}
	return resp, nil
}

// splitPathQuery cuts the query at its last separator into a directory hint
// and a name tail.
func splitPathQuery(q string) (hint, tail string) {
	idx := strings.LastIndexAny(q, `/\`)
	if idx < 0 {
		return "", q
	}
	return q[:idx], q[idx+1:]
}

// resolveDirHint checks whether the hint names an existing indexed
// directory, either absolutely or relative to the scan root.
func (e *Engine) resolveDirHint(ctx context.Context, hint string) (string, bool) {
	if hint == "" {
		return "", false
	}
	candidates := make([]string, 0, 2)
	if filepath.IsAbs(hint) {
		candidates = append(candidates, entry.Canonicalize(hint))
	} else if e.opts.ScanRoot != "" {
		candidates = append(candidates, entry.Canonicalize(filepath.Join(e.opts.ScanRoot, hint)))
	}
	for _, c := range candidates {
		if en, ok, err := e.store.GetByPath(ctx, c); err == nil && ok && en.IsDir {
			return c, true
		}
	}
	return "", false
}

// maybeLastResort serves from the platform's own search index while the
// store has no rows yet. Provisional entries are excluded from pagination
// math.
func (e *Engine) maybeLastResort(ctx context.Context, q string) (Response, bool, error) {
	// The store counts as initialized once any indexing run has completed;
	// an empty corpus after a completed run answers normally.
	if _, ran, err := e.store.GetMeta(ctx, entry.MetaLastRunID); err != nil || ran {
		return Response{}, false, nil
	}
	if n, err := e.store.EntriesCount(ctx); err != nil || n > 0 {
		return Response{}, false, nil
	}
	if e.LastResort == nil {
		return Response{TotalKnown: true}, true, nil
	}
	lrCtx, cancel := context.WithTimeout(ctx, lastResortTimeout)
	defer cancel()
	entries, lrErr := e.LastResort(lrCtx, q, lastResortMaxResults)
	if lrErr != nil {
		// Results after timeout are discarded; never a user-facing error.
		return Response{TimedOut: isDeadline(lrErr)}, true, nil
	}
	return Response{
		Entries:     e.postFilter(entries),
		Provisional: true,
	}, true, nil
}

func (e *Engine) runFindFallback(ctx context.Context, q string) (Response, error) {
	if e.FindFallback == nil {
		return Response{TotalKnown: true}, nil
	}
	fbCtx, cancel := context.WithTimeout(ctx, lastResortTimeout)
	defer cancel()
	entries, err := e.FindFallback(fbCtx, q)
	if err != nil {
		return Response{TotalKnown: true, TimedOut: isDeadline(err)}, nil
	}
	return Response{
		Entries:     e.postFilter(entries),
		Provisional: true,
		TotalKnown:  false,
	}, nil
}

// respondFromHits paginates pre-ranked in-memory hits.
func (e *Engine) respondFromHits(hits []memindex.Hit, req Request, limit int, truncated bool) Response {
	entries := make([]entry.Entry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, h.Entry)
	}
	entries = e.postFilter(entries)
	total := int64(len(entries))
	if req.Offset < len(entries) {
		end := req.Offset + limit
		if end > len(entries) {
			end = len(entries)
		}
		entries = entries[req.Offset:end]
	} else {
		entries = nil
	}
	return Response{Entries: entries, TotalCount: total, TotalKnown: !truncated}
}

// paginateRanked applies first-page relevance ranking (or plain column sort)
// and slices out the requested page.
func (e *Engine) paginateRanked(entries []entry.Entry, folded string, req Request, limit int) Response {
	less := columnLess(req.SortBy, req.SortDir)
	rs := make([]ranked, len(entries))
	for i, en := range entries {
		r := rankNone
		if rankFirstPage(req) {
			r = rankFor(en, folded)
		}
		rs[i] = ranked{e: en, rank: r}
	}
	sortRanked(rs, less)

	out := make([]entry.Entry, 0, limit)
	for i := req.Offset; i < len(rs) && len(out) < limit; i++ {
		out = append(out, rs[i].e)
	}
	return Response{Entries: out}
}

// postFilter suppresses rows the ignore engine excludes at query time.
func (e *Engine) postFilter(entries []entry.Entry) []entry.Entry {
	if e.ignore == nil {
		return entries
	}
	out := entries[:0]
	for _, en := range entries {
		if e.ignore.Evaluate(en.Path, en.IsDir).Skip {
			continue
		}
		out = append(out, en)
	}
	return out
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "deadline")
}
