// Package archive packs a build directory into a zip file.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

type Archiver struct {
	Fs afero.Fs
}

func NewArchiver(fs afero.Fs) *Archiver {
	return &Archiver{Fs: fs}
}

// ZipDir writes the contents of src to a zip archive at dest, with entries
// relative to src. It returns the size of the written archive.
func (a *Archiver) ZipDir(src, dest string) (int64, error) {
	info, err := a.Fs.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", src)
	}

	if err := a.write(src, dest); err != nil {
		// A truncated archive must never be uploaded
		a.Fs.Remove(dest)
		return 0, err
	}

	written, err := a.Fs.Stat(dest)
	if err != nil {
		return 0, err
	}
	return written.Size(), nil
}

func (a *Archiver) write(src, dest string) error {
	out, err := a.Fs.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	if err := a.addTree(zw, src); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return nil
}

func (a *Archiver) addTree(zw *zip.Writer, src string) error {
	return afero.Walk(a.Fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if fi.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := a.Fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("failed to compress %s: %w", path, err)
		}
		return nil
	})
}
