package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WorkspaceDir returns the deterministic on-disk workspace directory
// for a task name, under cacheRoot, so reruns reuse the same
// directory instead of accumulating garbage.
func WorkspaceDir(cacheRoot, taskName string) string {
	return filepath.Join(cacheRoot, "workspaces", sanitize(taskName))
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// MaterializeInputs populates workspace with one entry per input path,
// preferring a symlink and falling back to a copy when symlinks are
// unavailable or the input crosses a filesystem device boundary.
func MaterializeInputs(workspace string, inputs []string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", workspace, err)
	}
	for _, in := range inputs {
		dest := filepath.Join(workspace, filepath.Base(in))
		if err := materializeOne(in, dest); err != nil {
			return fmt.Errorf("materialize %s into %s: %w", in, workspace, err)
		}
	}
	return nil
}

func materializeOne(src, dest string) error {
	os.Remove(dest)
	if err := os.Symlink(src, dest); err == nil {
		return nil
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
