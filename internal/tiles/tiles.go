// Package tiles loads the MGRS tile allowlist that gates granule admission.
package tiles

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed allowed_tiles.txt
var defaultAllowlist embed.FS

// Allowlist is the set of MGRS tile codes accepted for download.
type Allowlist map[string]struct{}

// Contains reports whether the tile id is accepted.
func (a Allowlist) Contains(tileID string) bool {
	_, ok := a[tileID]
	return ok
}

// Load reads a newline-delimited allowlist file. An empty path falls back
// to the allowlist shipped with the binary.
func Load(path string) (Allowlist, error) {
	if path == "" {
		f, err := defaultAllowlist.Open("allowed_tiles.txt")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded tile allowlist: %w", err)
		}
		defer f.Close()
		return parse(f)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile allowlist %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (Allowlist, error) {
	allowlist := make(Allowlist)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tile := strings.TrimSpace(scanner.Text())
		if tile == "" {
			continue
		}
		allowlist[tile] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tile allowlist: %w", err)
	}
	return allowlist, nil
}
