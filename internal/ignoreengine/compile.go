package ignoreengine

import (
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// compiled is one immutable rule set. It is rebuilt whenever any source
// file's mtime changes and shared read-only between Evaluate callers.
type compiled struct {
	foldCase            bool
	builtinPathPrefixes []string
	userPathPrefixes    []string
	anySegments         []string
	globs               []string
	gitSets             []gitSet
}

// recompileInterval bounds how often Evaluate re-stats the source files. The
// rule set itself is still keyed on (source path, mtime); this only spaces
// out the stat calls so a bulk scan is not dominated by them.
const recompileInterval = time.Second

// compiledSet returns the current rule set, recompiling if any source file's
// mtime changed since the last compile.
func (e *Engine) compiledSet() compiled {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.compiledAt.IsZero() || now.Sub(e.checkedAt) >= recompileInterval {
		e.checkedAt = now
		current := e.statSources()
		if e.compiledAt.IsZero() || !sourcesEqual(e.sources, current) {
			e.cache = e.compile(current)
			e.sources = current
			e.compiledAt = now
		}
	}
	return e.cache
}

// statSources gathers the (path, mtime) list that keys the compile cache:
// every .pathignore file plus every discovered .gitignore.
func (e *Engine) statSources() []Source {
	paths := make([]string, 0, len(e.pathIgnores)+4)
	paths = append(paths, e.pathIgnores...)
	paths = append(paths, discoverGitignores(e.scanRoot, e.gitDiscovery)...)

	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		var mtime time.Time
		if info, err := os.Stat(p); err == nil {
			mtime = info.ModTime()
		}
		// A missing source stays in the key with a zero mtime so that its
		// later appearance invalidates the cache.
		sources = append(sources, Source{Path: p, MTime: mtime})
	}
	return sources
}

func sourcesEqual(a, b []Source) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path || !a[i].MTime.Equal(b[i].MTime) {
			return false
		}
	}
	return true
}

func (e *Engine) compile(sources []Source) compiled {
	c := compiled{foldCase: caseInsensitivePlatform(runtime.GOOS)}

	for _, prefix := range builtinPathPrefixesFor(runtime.GOOS) {
		if c.foldCase {
			prefix = strings.ToLower(prefix)
		}
		c.builtinPathPrefixes = append(c.builtinPathPrefixes, prefix)
	}

	var patternLines []string
	for _, src := range sources {
		if strings.HasSuffix(src.Path, ".gitignore") {
			if set, ok := compileGitignore(src.Path, e.scanRoot); ok {
				c.gitSets = append(c.gitSets, set)
			}
			continue
		}
		for _, line := range loadPathIgnoreLines(src.Path) {
			if strings.ContainsAny(line, "*?[") {
				patternLines = append(patternLines, line)
				continue
			}
			prefix := line
			if c.foldCase {
				prefix = strings.ToLower(prefix)
			}
			c.userPathPrefixes = append(c.userPathPrefixes, prefix)
		}
	}

	anySegments, globs := splitGlobLines(patternLines)
	c.anySegments = anySegments
	for _, g := range globs {
		// Individual pattern errors are logged and dropped; the rest of the
		// set continues.
		if !doublestar.ValidatePattern(g) {
			log.Printf("ignore: dropping unparseable pattern %q", g)
			continue
		}
		c.globs = append(c.globs, g)
	}
	return c
}
