// Package ignoreengine decides whether a path is excluded from the index
// and, for directories, whether the Indexer should descend into it at all.
//
// Rule sources are evaluated in a fixed order: built-in
// name blacklist, built-in suffix blacklist, built-in path blacklist,
// user .pathignore files, glob-any-segment patterns, ordinary glob
// patterns, then lazily-discovered .gitignore rules. First match wins.
package ignoreengine

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Verdict is the result of evaluating a path against the compiled rule set.
type Verdict struct {
	Skip    bool
	Descend bool // only meaningful when Skip && the path is a directory
}

var keep = Verdict{Skip: false, Descend: true}

func skip(descend bool) Verdict { return Verdict{Skip: true, Descend: descend} }

// Source names a ruleset input file whose mtime participates in the cache
// key, so editing an ignore file invalidates the compiled set.
type Source struct {
	Path  string
	MTime time.Time
}

// Engine evaluates paths against the compiled rule set and lazily refreshes
// it when any source file's mtime changes.
type Engine struct {
	scanRoot     string
	pathIgnores  []string // absolute paths to .pathignore files
	gitDiscovery int      // bounded depth for lazy .gitignore discovery

	mu         sync.Mutex
	cache      compiled
	sources    []Source
	checkedAt  time.Time
	compiledAt time.Time
}

// Options configures an Engine. ScanRoot and PathIgnoreFiles are supplied by
// internal/config; GitDiscoveryDepth defaults to 3 when zero.
type Options struct {
	ScanRoot          string
	PathIgnoreFiles   []string
	GitDiscoveryDepth int
}

// New constructs an Engine. It does not touch the filesystem until the
// first Evaluate call compiles the rule set.
func New(opts Options) *Engine {
	depth := opts.GitDiscoveryDepth
	if depth == 0 {
		depth = 3
	}
	return &Engine{
		scanRoot:     opts.ScanRoot,
		pathIgnores:  opts.PathIgnoreFiles,
		gitDiscovery: depth,
	}
}

// Evaluate decides whether path should be excluded. isDir is consulted by the
// repository-ignore rules, whose directory-only patterns depend on it.
func (e *Engine) Evaluate(path string, isDir bool) Verdict {
	c := e.compiledSet()

	rel := e.relToRoot(path)
	relCmp := rel
	if c.foldCase {
		relCmp = strings.ToLower(rel)
	}

	for _, segLower := range strings.Split(strings.ToLower(rel), "/") {
		// 1. Built-in name blacklist (segment equality).
		if _, ok := builtinNames[segLower]; ok {
			return skip(false)
		}
		// 2. Built-in suffix blacklist.
		for _, suf := range builtinSuffixes {
			if strings.HasSuffix(segLower, suf) {
				return skip(false)
			}
		}
	}
	// 3. Built-in path blacklist (platform-scoped subtrees).
	for _, prefix := range c.builtinPathPrefixes {
		if pathHasPrefix(relCmp, prefix) {
			return skip(false)
		}
	}
	// 4. User path-ignore entries (.pathignore), treated as path prefixes.
	for _, prefix := range c.userPathPrefixes {
		if pathHasPrefix(relCmp, prefix) {
			return skip(false)
		}
	}
	// 5. Glob-any-segment patterns: **/x matches any path containing segment x.
	for _, seg := range c.anySegments {
		if hasSegment(rel, seg) {
			return skip(false)
		}
	}
	// 6. Ordinary glob patterns, matched against successive path suffixes.
	for _, g := range c.globs {
		if matchesAnySuffix(g, rel) {
			return skip(false)
		}
	}
	// 7. Repository-ignore (.gitignore) rules, lazily discovered.
	if e.gitignoreMatches(c, path, rel, isDir) {
		return skip(false)
	}

	return keep
}

// relToRoot returns path relative to the scan root using '/' separators, or
// the cleaned absolute path if it falls outside the root (best-effort).
func (e *Engine) relToRoot(path string) string {
	if e.scanRoot != "" {
		if r, err := filepath.Rel(e.scanRoot, path); err == nil && !strings.HasPrefix(r, "..") {
			return filepath.ToSlash(r)
		}
	}
	return filepath.ToSlash(path)
}

func pathHasPrefix(rel, prefix string) bool {
	if rel == prefix {
		return true
	}
	return strings.HasPrefix(rel, prefix+"/")
}

func hasSegment(rel, seg string) bool {
	for _, s := range strings.Split(rel, "/") {
		if strings.EqualFold(s, seg) {
			return true
		}
	}
	return false
}

func matchesAnySuffix(pattern, rel string) bool {
	segs := strings.Split(rel, "/")
	for i := range segs {
		suffix := strings.Join(segs[i:], "/")
		if ok, _ := doublestar.Match(pattern, suffix); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, segs[len(segs)-1]); ok {
			return true
		}
	}
	return false
}

// builtinPathPrefixesFor returns the platform-scoped subtrees excluded by
// default, relative to the scan root. On macOS the list covers the cache and
// TCC-protected subtrees under the home directory; on Windows the system
// subtrees of the volume root plus the noisiest AppData caches.
func builtinPathPrefixesFor(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"Library/Caches",
			"Library/Logs",
			"Library/Developer/CoreSimulator",
			"Library/Developer/Xcode/DerivedData",
			"Library/Developer/Xcode/iOS DeviceSupport",
			"Library/Application Support/CrashReporter",
			"Library/Application Support/MobileSync",
			"Library/Application Support/CallHistoryDB",
			"Library/Application Support/CallHistoryTransactions",
			"Library/Application Support/com.apple.TCC",
			"Library/Application Support/com.apple.avfoundation/Frecents",
			"Library/Application Support/com.apple.sharedfilelist",
			"Library/Application Support/Knowledge",
			"Library/Application Support/FileProvider",
			"Library/Application Support/AddressBook",
			"Library/Autosave Information",
			"Library/Biome",
			"Library/Calendars",
			"Library/Containers",
			"Library/Group Containers",
			"Library/Cookies",
			"Library/CoreFollowUp",
			"Library/Daemon Containers",
			"Library/DuetExpertCenter",
			"Library/HomeKit",
			"Library/IdentityServices",
			"Library/Mail",
			"Library/Messages",
			"Library/Metadata/CoreSpotlight",
			"Library/Metadata/com.apple.IntelligentSuggestions",
			"Library/PersonalizationPortrait",
			"Library/Reminders",
			"Library/Safari",
			"Library/Sharing",
			"Library/Shortcuts",
			"Library/StatusKit",
			"Library/Suggestions",
			"Library/Trial",
			"Library/Weather",
			"Library/com.apple.aiml.instrumentation",
			".Spotlight-V100",
			".fseventsd",
			".DocumentRevisions-V100",
		}
	case "windows":
		return []string{
			"Windows",
			"Program Files",
			"Program Files (x86)",
			"$Recycle.Bin",
			"System Volume Information",
			"Recovery",
			"PerfLogs",
			"ProgramData/Microsoft",
			"ProgramData/Packages",
			"Users/All Users",
			"Users/Default/AppData/Local/Temp",
		}
	default:
		return nil
	}
}

// caseInsensitivePlatform reports whether path comparison should fold case,
// matching the default filesystem semantics of the platform.
func caseInsensitivePlatform(goos string) bool {
	return goos == "darwin" || goos == "windows"
}

var builtinNames = func() map[string]struct{} {
	names := []string{
		".git", "node_modules", ".Trash", ".Trashes", ".npm", ".cache",
		"CMakeFiles", ".qtc_clangd", "__pycache__", ".gradle", "DerivedData",
	}
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = struct{}{}
	}
	return m
}()

var builtinSuffixes = []string{".build"}

// loadPathIgnoreLines reads non-empty, non-comment lines from a .pathignore
// file. A missing file is treated as empty, never fatal.
func loadPathIgnoreLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, filepath.ToSlash(strings.TrimSuffix(line, "/")))
	}
	return lines
}

// splitGlobLines partitions user pattern lines into glob-any-segment form
// (**/x) and ordinary glob form.
func splitGlobLines(lines []string) (anySegments, globs []string) {
	for _, l := range lines {
		if strings.HasPrefix(l, "**/") && !strings.ContainsAny(strings.TrimPrefix(l, "**/"), "*?[") {
			anySegments = append(anySegments, strings.TrimPrefix(l, "**/"))
			continue
		}
		if strings.ContainsAny(l, "*?[") {
			globs = append(globs, l)
		}
	}
	return anySegments, globs
}
