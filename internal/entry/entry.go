// Package entry defines the single persisted record type shared by the
// Persistent Store, the In-Memory Index, and the Query Engine, along with
// the small supporting types (Meta, RecentOp) that travel alongside it.
package entry

import (
	"path/filepath"
	"strings"
	"time"
)

// Entry is one file or directory under the scan root.
//
// Invariants: Path is absolute, unique, UTF-8, and carries no
// trailing separator or dot segments; Dir+sep+Name == Path unless Dir is
// empty (entry at the scan root); Ext is only ever set for non-directories.
type Entry struct {
	ID        int64
	Path      string
	Name      string
	Dir       string
	IsDir     bool
	Ext       string
	MTime     *int64
	Size      *int64
	IndexedAt int64
	RunID     int64
}

// New builds an Entry from a path and the bits of file metadata the caller
// already has on hand (the walker/MFT reader path, typically). indexedAt and
// runID are stamped by the caller so that a batch of entries shares one
// wall-clock timestamp and one run identity.
func New(path string, isDir bool, mtime *int64, size *int64, indexedAt, runID int64) Entry {
	path = Canonicalize(path)
	dir, name := Split(path)
	e := Entry{
		Path:      path,
		Name:      name,
		Dir:       dir,
		IsDir:     isDir,
		MTime:     mtime,
		IndexedAt: indexedAt,
		RunID:     runID,
	}
	if !isDir {
		e.Size = size
		e.Ext = extOf(name)
	}
	return e
}

// Canonicalize normalizes a path the way every Entry.Path is required to be
// stored: platform separators, no trailing separator, no "." or ".."
// segments.
func Canonicalize(path string) string {
	clean := filepath.Clean(path)
	if len(clean) > 1 {
		clean = strings.TrimRight(clean, string(filepath.Separator))
	}
	return clean
}

// Split returns the (dir, name) pair for an already-canonicalized path, such
// that dir+sep+name == path, or dir == "" when path is the scan root itself.
func Split(path string) (dir, name string) {
	dir = filepath.Dir(path)
	name = filepath.Base(path)
	if dir == "." || dir == name {
		dir = ""
	}
	return dir, name
}

// extOf returns the lowercase extension of name (characters after the final
// '.'), or "" when name has no extension or is a dotfile (leading dot).
func extOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// Meta is the persisted key/value side-table. Recognized keys are declared
// as constants below; unrecognized keys are preserved but ignored.
type Meta map[string]string

const (
	MetaSchemaVersion  = "schema_version"
	MetaLastRunID      = "last_run_id"
	MetaLastEventID    = "last_event_id"
	MetaWinLastUSN     = "win_last_usn"
	MetaWinJournalID   = "win_journal_id"
	MetaIndexComplete  = "index_complete"
	MetaRDCWLastActive = "rdcw_last_active_ts"
)

// OpKind classifies a Recent-Op record or a watcher-observed change.
type OpKind string

const (
	OpRename OpKind = "rename"
	OpDelete OpKind = "delete"
	OpCreate OpKind = "create"
)

// RecentOp is a short-TTL, in-memory-only record of a self-initiated
// operation, used to suppress watcher echo.
type RecentOp struct {
	OldPath string
	NewPath string // optional, set for OpRename
	Kind    OpKind
	Stamp   time.Time
}

// Expired reports whether this record has outlived its TTL as of now.
func (r RecentOp) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Stamp) >= ttl
}

// DTO is the wire shape sent to the GUI collaborator: a trimmed
// projection of Entry without the internal bookkeeping fields.
type DTO struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Dir   string `json:"dir"`
	IsDir bool   `json:"is_dir"`
	Ext   string `json:"ext,omitempty"`
	MTime *int64 `json:"mtime,omitempty"`
	Size  *int64 `json:"size,omitempty"`
}

// ToDTO projects an Entry down to its GUI-facing representation.
func (e Entry) ToDTO() DTO {
	return DTO{
		Path:  e.Path,
		Name:  e.Name,
		Dir:   e.Dir,
		IsDir: e.IsDir,
		Ext:   e.Ext,
		MTime: e.MTime,
		Size:  e.Size,
	}
}
