package embeddings

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// copyModelDir copies every file under src into dst, keeping the layout and
// file modes. Symlinks are followed, so a hub cache copies as plain files.
// Existing files in dst are overwritten.
func copyModelDir(src, dst string) error {
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if strings.HasPrefix(dst, src+string(filepath.Separator)) {
		return fmt.Errorf("destination %s is inside model directory %s", dst, src)
	}

	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	return copyTree(src, dst, []string{resolved})
}

// copyTree walks src into dst. parents holds the resolved directories being
// copied, to catch symlinks that loop back into them.
func copyTree(src, dst string, parents []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return err
			}
			info, err := os.Stat(resolved)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return copyFile(resolved, target)
			}
			for _, p := range parents {
				if resolved == p || strings.HasPrefix(p, resolved+string(filepath.Separator)) {
					return fmt.Errorf("symlink %s loops back to %s", path, resolved)
				}
			}
			return copyTree(resolved, target, append(parents, resolved))
		case !d.Type().IsRegular():
			return nil
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
