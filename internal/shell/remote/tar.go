package remote

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// skipDirs are never shipped to the target. The repository history is large
// and useless to the remote build, and it may contain the very credentials
// the token kept out of the logs.
var skipDirs = map[string]bool{
	".git": true,
}

// writeTree writes dir's contents as a gzipped tar archive. Entry names are
// slash-separated and relative to dir, so extraction with -C lands the tree
// directly in the remote directory. Regular files, directories, and symlinks
// are included; sockets and devices are skipped.
func writeTree(w io.Writer, dir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(p)
			if err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name = rel + "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return fmt.Errorf("archive %s: %w", rel, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
