package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Name is the archive file written at the root of an output directory.
const Name = "results.zip"

// Error reports a failure to build the archive.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Snapshot lists the regular files under dir as slash-separated relative
// paths, sorted. Symlinks and the archive at the root of dir are skipped.
func Snapshot(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == Name {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Build writes results.zip into outputDir holding every file present when the
// call starts. The archive appears atomically; a failed build leaves no
// results.zip behind. The partial archive is written next to outputDir, not
// inside it, so it is never served or archived. Returns the archive's path.
func Build(ctx context.Context, outputDir string) (string, error) {
	files, err := Snapshot(outputDir)
	if err != nil {
		return "", &Error{Op: "snapshot", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(filepath.Clean(outputDir)), partialPrefix+"*")
	if err != nil {
		return "", &Error{Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", &Error{Op: "write", Err: err}
		}
		if err := addFile(zw, outputDir, rel); err != nil {
			return "", &Error{Op: "write " + rel, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return "", &Error{Op: "finalize", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return "", &Error{Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Op: "close", Err: err}
	}

	dest := filepath.Join(outputDir, Name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		committed = true
		return "", &Error{Op: "rename", Err: err}
	}
	committed = true
	return dest, nil
}

func addFile(zw *zip.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header := &zip.FileHeader{
		Name:     rel,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	header.SetMode(info.Mode())

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

const partialPrefix = ".results-"
