package remote

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// LocalTransport runs commands on this machine. File operations use the local filesystem directly.
type LocalTransport struct {
	executor Executor
}

func NewLocalTransport(executor Executor) *LocalTransport {
	return &LocalTransport{executor: executor}
}

func (t *LocalTransport) Host() string {
	return ""
}

func (t *LocalTransport) Run(ctx *uqcontext.Context, cmd *Command) (*Result, error) {
	return t.executor.Run(ctx, cmd)
}

func (t *LocalTransport) CopyTo(_ *uqcontext.Context, localSrc string, dst string) error {
	return copyPath(localSrc, dst)
}

func (t *LocalTransport) CopyFrom(_ *uqcontext.Context, src string, localDst string) error {
	return copyPath(src, localDst)
}

func (t *LocalTransport) MakeDir(_ *uqcontext.Context, dir string) error {
	return errors.WithStack(os.MkdirAll(dir, 0o755))
}

func (t *LocalTransport) FileExists(_ *uqcontext.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errors.WithStack(err)
}

func (t *LocalTransport) ReadFile(_ *uqcontext.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	return data, errors.WithStack(err)
}

func (t *LocalTransport) RemoveFile(_ *uqcontext.Context, path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.WithStack(err)
	}
	return nil
}

// copyPath copies a file or a directory tree. Copying a path onto itself is a no-op.
func copyPath(src string, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return errors.WithStack(err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	if srcAbs == dstAbs {
		return nil
	}
	info, err := os.Stat(srcAbs)
	if err != nil {
		return errors.WithStack(err)
	}
	if !info.IsDir() {
		return copyFile(srcAbs, dstAbs, info.Mode())
	}
	return filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return errors.WithStack(err)
		}
		target := filepath.Join(dstAbs, rel)
		if d.IsDir() {
			return errors.WithStack(os.MkdirAll(target, 0o755))
		}
		fi, err := d.Info()
		if err != nil {
			return errors.WithStack(err)
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src string, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.WithStack(err)
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Close())
}
