package main

import (
	"io"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// exportSnapshot copies the container file at src to dest atomically:
// the copy is written to a temporary file in dest's directory and
// renamed into place only once it has been written and synced in
// full, so a reader never observes a partial snapshot.
func exportSnapshot(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("export %s: %w", dest, err)
	}
	defer in.Close()

	out, err := renameio.TempFile("", dest)
	if err != nil {
		return xerrors.Errorf("export %s: %w", dest, err)
	}
	defer out.Cleanup()

	if _, err := io.Copy(out, in); err != nil {
		return xerrors.Errorf("export %s: %w", dest, err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("export %s: %w", dest, err)
	}
	return nil
}
