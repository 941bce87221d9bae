// Package publish implements the "find the latest artifact, then
// publish it to the canonical location" step every offline processing
// action performs after it produces a new calibration table. The
// replacement is remove-then-create (config.CopyOrLink), not an atomic
// rename.
package publish

import "github.com/kenichisakai-git/tofcore/internal/config"

// Latest resolves the newest file under dir named prefix_<ts>[suffix]
// to a concrete path.
func Latest(dir, prefix, suffix string) (string, error) {
	ts, err := config.GetLatestTimestamp(dir, prefix, suffix)
	if err != nil {
		return "", err
	}
	return config.GetFileByTimestamp(dir, prefix, ts, suffix)
}

// Publish resolves the latest dir/prefix[...suffix] artifact and
// copies (or symlinks) it to dst. dst is left untouched if no
// matching artifact exists -- the lookup failure happens before any
// destructive step against dst. A failure inside CopyOrLink, after the
// existing dst was removed, can leave dst missing or, when copying,
// partially written.
func Publish(dir, prefix, suffix, dst string, asSymlink bool) (string, error) {
	src, err := Latest(dir, prefix, suffix)
	if err != nil {
		return "", err
	}
	if err := config.CopyOrLink(src, dst, asSymlink); err != nil {
		return "", err
	}
	return src, nil
}
