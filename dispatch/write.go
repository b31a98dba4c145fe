package dispatch

import (
	"os"
	"path/filepath"
	"strings"

	clerrors "github.com/wippyai/classinject/errors"
)

// writeAtomic replaces path with data through a temporary file in the same
// directory, so readers never see a partial class file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ioError(err, "create "+dir)
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return ioError(err, "create temporary file")
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioError(err, "write "+tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return ioError(err, "close "+tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return ioError(err, "chmod "+tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ioError(err, "rename onto "+path)
	}
	return nil
}

// StagedPath returns where a unit is mirrored under a staging directory:
// staging/<language>/<absolute source path>.
func StagedPath(staging, language, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = strings.TrimPrefix(abs, filepath.VolumeName(abs))
	return filepath.Join(staging, language, abs)
}

func ioError(err error, detail string) error {
	return clerrors.Wrap(clerrors.PhaseDispatch, clerrors.KindIO, err, detail)
}
