package main

import (
	"io"
	"os"
	"sort"

	"github.com/cavaliercoder/go-cpio"
	"github.com/inesonic/icontainer"
	"golang.org/x/xerrors"
)

// importCPIOArchive reads a cpio stream from path and creates or
// overwrites one virtual file per regular-file entry, named after the
// entry's path within the archive. Non-regular entries (directories,
// symlinks, devices) are skipped.
func importCPIOArchive(engine *icontainer.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("import-archive %s: %w", path, err)
	}
	defer f.Close()

	rd := cpio.NewReader(f)
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return xerrors.Errorf("import-archive %s: %w", path, err)
		}
		if !hdr.Mode.IsRegular() {
			continue
		}

		vf, err := engine.NewVirtualFile(hdr.Name)
		if err != nil {
			return xerrors.Errorf("import-archive %s: %s: %w", path, hdr.Name, err)
		}
		if err := vf.SetPosition(0); err != nil {
			return xerrors.Errorf("import-archive %s: %s: %w", path, hdr.Name, err)
		}

		buf := make([]byte, copyBufferSize)
		for {
			n, readErr := rd.Read(buf)
			if n > 0 {
				if _, err := vf.Write(buf[:n]); err != nil {
					return xerrors.Errorf("import-archive %s: %s: %w", path, hdr.Name, err)
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return xerrors.Errorf("import-archive %s: %s: %w", path, hdr.Name, readErr)
			}
		}
		if err := vf.Truncate(); err != nil {
			return xerrors.Errorf("import-archive %s: %s: %w", path, hdr.Name, err)
		}
	}
	return nil
}

// exportCPIOArchive writes every virtual file in the container into a
// single cpio stream at path, one entry per virtual file, sorted by
// name for reproducible output.
func exportCPIOArchive(engine *icontainer.Engine, path string) error {
	dir, err := engine.Directory()
	if err != nil {
		return xerrors.Errorf("export-archive %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("export-archive %s: %w", path, err)
	}
	defer f.Close()

	wr := cpio.NewWriter(f)
	for _, name := range sortedKeys(dir) {
		vf := dir[name]
		size, err := vf.Size()
		if err != nil {
			return xerrors.Errorf("export-archive %s: %s: %w", path, name, err)
		}
		if err := wr.WriteHeader(&cpio.Header{
			Name: name,
			Mode: cpio.FileMode(0o644),
			Size: size,
		}); err != nil {
			return xerrors.Errorf("export-archive %s: %s: %w", path, name, err)
		}
		if err := copyVirtualFileToWriter(vf, wr); err != nil {
			return xerrors.Errorf("export-archive %s: %s: %w", path, name, err)
		}
	}
	if err := wr.Close(); err != nil {
		return xerrors.Errorf("export-archive %s: %w", path, err)
	}
	return f.Close()
}

func sortedKeys(dir map[string]*icontainer.VirtualFile) []string {
	names := make([]string, 0, len(dir))
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
