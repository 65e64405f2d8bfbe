package main

import (
	"io"
	"os"

	"github.com/inesonic/icontainer"
	"golang.org/x/xerrors"
)

const copyBufferSize = 64 * 1024

// cmdExtract copies the named virtual file's full contents to a new
// host file at dest.
func cmdExtract(engine *icontainer.Engine, name, dest string) error {
	dir, err := engine.Directory()
	if err != nil {
		return xerrors.Errorf("extracting %s: %w", name, err)
	}
	vf, ok := dir[name]
	if !ok {
		return xerrors.Errorf("extracting %s: no such virtual file", name)
	}

	out, err := os.Create(dest)
	if err != nil {
		return xerrors.Errorf("extracting %s: %w", name, err)
	}
	defer out.Close()

	if err := copyVirtualFileToWriter(vf, out); err != nil {
		return xerrors.Errorf("extracting %s: %w", name, err)
	}
	return out.Close()
}

// cmdImport copies the host file at src in as the virtual file name,
// overwriting it from the start if it already exists.
func cmdImport(engine *icontainer.Engine, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("importing %s: %w", src, err)
	}
	defer in.Close()

	vf, err := engine.NewVirtualFile(name)
	if err != nil {
		return xerrors.Errorf("importing %s as %s: %w", src, name, err)
	}
	if err := vf.SetPosition(0); err != nil {
		return xerrors.Errorf("importing %s as %s: %w", src, name, err)
	}

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := vf.Write(buf[:n]); err != nil {
				return xerrors.Errorf("importing %s as %s: %w", src, name, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return xerrors.Errorf("importing %s: %w", src, readErr)
		}
	}
	return vf.Truncate()
}

// cmdRemove erases the named virtual file.
func cmdRemove(engine *icontainer.Engine, name string) error {
	dir, err := engine.Directory()
	if err != nil {
		return xerrors.Errorf("removing %s: %w", name, err)
	}
	vf, ok := dir[name]
	if !ok {
		return xerrors.Errorf("removing %s: no such virtual file", name)
	}
	if err := vf.Erase(); err != nil {
		return xerrors.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// copyVirtualFileToWriter drains vf from its current position to its
// end into w. It does not rely on VirtualFile.Read behaving like
// io.Reader at end of file (a 0, nil return is a legitimate "nothing
// left to read" result here, not a signal to keep looping) so it
// tracks the known size explicitly instead.
func copyVirtualFileToWriter(vf *icontainer.VirtualFile, w io.Writer) error {
	size, err := vf.Size()
	if err != nil {
		return err
	}
	if err := vf.SetPosition(0); err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	var copied int64
	for copied < size {
		want := int64(len(buf))
		if remaining := size - copied; remaining < want {
			want = remaining
		}
		n, err := vf.Read(buf[:want])
		if err != nil {
			return err
		}
		if n == 0 {
			return xerrors.Errorf("short read at offset %d of %d", copied, size)
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		copied += int64(n)
	}
	return nil
}
