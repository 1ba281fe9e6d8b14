//go:build windows

package watcher

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// searchServiceChangedSince asks the Windows Search index for items modified
// since the bound, with a hard ceiling so a slow service never delays
// startup.
func searchServiceChangedSince(ctx context.Context, root string, since time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, searchCatchupTimeout)
	defer cancel()

	query := `
$conn = New-Object -ComObject ADODB.Connection
$conn.Open("Provider=Search.CollatorDSO;Extended Properties='Application=Windows';")
$rs = $conn.Execute("SELECT System.ItemPathDisplay FROM SYSTEMINDEX WHERE System.DateModified >= '" + $args[0] + "' AND SCOPE='file:" + $args[1] + "'")
while (-not $rs.EOF) { $rs.Fields.Item('System.ItemPathDisplay').Value; $rs.MoveNext() }
$conn.Close()`
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", query,
		since.UTC().Format("2006-01-02 15:04:05"), root)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
