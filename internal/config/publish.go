package config

import (
	"fmt"
	"io"
	"os"

	"github.com/kenichisakai-git/tofcore/internal/errs"
)

// CopyOrLink publishes src to dst: any existing dst is removed first,
// then either a symlink to src is created (asSymlink) or src's bytes
// are copied to dst. Fails with IO if src does not exist.
func CopyOrLink(src, dst string, asSymlink bool) error {
	if _, err := os.Stat(src); err != nil {
		return errs.NewIO(fmt.Errorf("publish source %q: %w", src, err))
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errs.NewIO(fmt.Errorf("remove existing %q: %w", dst, err))
	}
	if asSymlink {
		if err := os.Symlink(src, dst); err != nil {
			return errs.NewIO(fmt.Errorf("symlink %q -> %q: %w", dst, src, err))
		}
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return errs.NewIO(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errs.NewIO(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errs.NewIO(fmt.Errorf("copy %q -> %q: %w", src, dst, err))
	}
	return nil
}
