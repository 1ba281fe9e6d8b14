package query

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/atomicobject/filesearch-core/internal/entry"
)

// errNoExternalSearch marks platforms without a usable OS search index.
var errNoExternalSearch = errors.New("query: no external search available")

// platformLastResort runs an external name search while our store has no
// rows yet: Spotlight (mdfind -name) on macOS, and on Windows a recursive
// Get-ChildItem walk of the system drive through PowerShell, which does not
// consult the Windows Search index. Results are provisional.
func platformLastResort(ctx context.Context, q string, max int) ([]entry.Entry, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.CommandContext(ctx, "mdfind", "-name", q).Output()
		if err != nil {
			return nil, wrapCtxErr(ctx, err)
		}
		return entriesFromPathList(out, max), nil
	case "windows":
		script := `Get-ChildItem -Path $env:SystemDrive\ -Recurse -Filter ('*' + $args[0] + '*') -ErrorAction SilentlyContinue | Select-Object -First ` +
			strconv.Itoa(max) + ` | ForEach-Object { $_.FullName }`
		out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script, q).Output()
		if err != nil {
			return nil, wrapCtxErr(ctx, err)
		}
		return entriesFromPathList(out, max), nil
	default:
		return nil, errNoExternalSearch
	}
}

// findFallback returns the bounded find-style walk used once inside the
// negative-cache window: a literal name scan rooted at the scan root.
func findFallback(scanRoot string) func(ctx context.Context, q string) ([]entry.Entry, error) {
	return func(ctx context.Context, q string) ([]entry.Entry, error) {
		if scanRoot == "" {
			return nil, errNoExternalSearch
		}
		var out []byte
		var err error
		switch runtime.GOOS {
		case "windows":
			script := `Get-ChildItem -Path $args[1] -Recurse -Filter ('*' + $args[0] + '*') -ErrorAction SilentlyContinue | ForEach-Object { $_.FullName }`
			out, err = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script, q, scanRoot).Output()
		default:
			out, err = exec.CommandContext(ctx, "find", scanRoot, "-iname", "*"+q+"*").Output()
		}
		if err != nil && len(out) == 0 {
			return nil, wrapCtxErr(ctx, err)
		}
		return entriesFromPathList(out, lastResortMaxResults), nil
	}
}

// entriesFromPathList converts newline-separated absolute paths into
// provisional entries, statting each for the is_dir flag.
func entriesFromPathList(out []byte, max int) []entry.Entry {
	var entries []entry.Entry
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() && len(entries) < max {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var mtime, size *int64
		isDir := false
		if info, err := os.Stat(line); err == nil {
			isDir = info.IsDir()
			mt := info.ModTime().Unix()
			mtime = &mt
			if !isDir {
				sz := info.Size()
				size = &sz
			}
		}
		entries = append(entries, entry.New(line, isDir, mtime, size, 0, 0))
	}
	return entries
}

func wrapCtxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
