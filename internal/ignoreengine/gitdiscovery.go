package ignoreengine

import (
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// gitSet is one compiled .gitignore, applicable to paths under its base
// directory.
type gitSet struct {
	base    string // absolute directory holding the .gitignore
	matcher *gitignore.GitIgnore
}

// discoverGitignores walks the scan root to a bounded depth and returns the
// absolute paths of every .gitignore found, in a stable order. The walk skips
// the built-in name blacklist so discovery never descends into node_modules
// and friends.
func discoverGitignores(root string, maxDepth int) []string {
	if root == "" {
		return nil
	}
	var found []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(filepath.ToSlash(rel), "/")
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if _, ok := builtinNames[strings.ToLower(d.Name())]; ok {
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".gitignore" {
			found = append(found, path)
		}
		return nil
	})
	sort.Strings(found)
	return found
}

// compileGitignore loads and compiles one .gitignore file. A missing or
// unreadable file is treated as empty.
func compileGitignore(path, root string) (gitSet, bool) {
	matcher, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		log.Printf("ignore: skipping unreadable gitignore %s: %v", path, err)
		return gitSet{}, false
	}
	return gitSet{base: filepath.Dir(path), matcher: matcher}, true
}

// gitignoreMatches evaluates the repository-ignore rule sets whose base
// directory contains path. Matching follows .gitignore semantics against the
// path relative to the .gitignore's own directory.
func (e *Engine) gitignoreMatches(c compiled, path, rel string, isDir bool) bool {
	for _, set := range c.gitSets {
		sub, err := filepath.Rel(set.base, path)
		if err != nil || strings.HasPrefix(sub, "..") {
			continue
		}
		probe := filepath.ToSlash(sub)
		if isDir {
			probe += "/"
		}
		if set.matcher.MatchesPath(probe) {
			return true
		}
	}
	return false
}
