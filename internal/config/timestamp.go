package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/errs"
)

const timestampLayout = "2006-01-02_15-04-05.000"

// GetCurrentTimestamp returns the current UTC instant formatted as
// YYYY-MM-DD_HH-MM-SS.mmmZ, the convention every published artifact
// filename embeds.
func GetCurrentTimestamp() string {
	return time.Now().UTC().Format(timestampLayout) + "Z"
}

// GetLatestTimestamp scans dir for entries named prefix_<ts><suffix>.*
// and returns the lexicographically greatest <ts> -- which, given the
// fixed-width zero-padded layout above, is also the chronologically
// latest. Returns ConfigMissing if no entry matches.
func GetLatestTimestamp(dir, prefix, suffix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errs.NewIO(fmt.Errorf("scan %q: %w", dir, err))
	}
	wantPrefix := prefix + "_"
	var best string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, wantPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, wantPrefix)
		if suffix != "" {
			idx := strings.Index(rest, suffix)
			if idx < 0 {
				continue
			}
			rest = rest[:idx]
		} else if idx := strings.LastIndex(rest, "."); idx >= 0 {
			rest = rest[:idx]
		}
		if rest > best {
			best = rest
		}
	}
	if best == "" {
		return "", errs.NewConfigMissing(fmt.Errorf("no %s_<timestamp>%s* entry found under %q", prefix, suffix, dir))
	}
	return best, nil
}

// MakeFilePathWithTimestamp builds dir/prefix_ts.ext.
func MakeFilePathWithTimestamp(dir, prefix, ts, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, ts, ext))
}

// GetFileByTimestamp resolves the concrete filename under dir whose
// name is prefix_ts<suffix>.<anything>.
func GetFileByTimestamp(dir, prefix, ts, suffix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errs.NewIO(fmt.Errorf("scan %q: %w", dir, err))
	}
	want := fmt.Sprintf("%s_%s%s", prefix, ts, suffix)
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), want) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", errs.NewConfigMissing(fmt.Errorf("no file matching %q* under %q", want, dir))
	}
	sort.Strings(matches)
	return filepath.Join(dir, matches[0]), nil
}
