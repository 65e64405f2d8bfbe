package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/inesonic/icontainer"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"
)

// cmdList prints every virtual file in the container, one per line.
// When stdout is a terminal the name and size are column-aligned;
// piped output gets a plain "name\tsize" so it composes with cut/awk.
func cmdList(engine *icontainer.Engine) error {
	dir, err := engine.Directory()
	if err != nil {
		return xerrors.Errorf("listing container: %w", err)
	}

	names := make([]string, 0, len(dir))
	widest := 0
	for name := range dir {
		names = append(names, name)
		if len(name) > widest {
			widest = len(name)
		}
	}
	sort.Strings(names)

	aligned := isatty.IsTerminal(os.Stdout.Fd())
	for _, name := range names {
		size, err := dir[name].Size()
		if err != nil {
			return xerrors.Errorf("stat %s: %w", name, err)
		}
		if aligned {
			fmt.Printf("%-*s  %10d\n", widest, name, size)
		} else {
			fmt.Printf("%s\t%d\n", name, size)
		}
	}
	return nil
}
