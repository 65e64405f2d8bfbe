// Command icontainer inspects and manipulates single-file container
// archives, the on-disk format implemented by package
// github.com/inesonic/icontainer.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/inesonic/icontainer"
	"github.com/inesonic/icontainer/internal/oninterrupt"
	"golang.org/x/xerrors"
)

const usage = `icontainer [-flags] <container>

Inspect and manipulate a single-file container archive.

Operations run left to right in the order given on the command line,
halting at the first error:

  -list                    list virtual files and their sizes
  -initialize              create an empty container at <container> if it does not exist
  -export <path>           write an atomic snapshot of the container to <path>
  -remove <name>           erase the named virtual file
  -extract <name>=<path>   copy a virtual file's contents out to <path> (also -e)
  -import <path>=<name>    copy a host file in as a new or overwritten virtual file
  -import-archive <cpio>   bulk-import every entry of a cpio stream as a virtual file
  -export-archive <cpio>   bulk-export every virtual file into a single cpio stream

Example:
  % icontainer -initialize -import data.bin=payload.bin archive.ic
  % icontainer -list archive.ic
`

// identifier is the fixed magic string every icontainer CLI archive
// carries in its FileHeader chunk. A library caller embedding package
// icontainer in a larger format would choose its own.
const identifier = "ICNTNR01"

// supportedMajor is the newest FileHeader major version this build
// knows how to read and write.
const supportedMajor = 1

// opKind identifies which operation a command-line flag occurrence
// stands for. Operations are kept in a single ordered slice, populated
// by each flag's Set method in the order flag.Parse encounters them on
// the command line, so that flags of different kinds interleave
// correctly instead of being grouped by kind.
type opKind int

const (
	opList opKind = iota
	opExtract
	opImport
	opRemove
	opImportArchive
	opExportArchive
	opExport
)

type operation struct {
	kind opKind
	arg  string
}

// boolOp is a flag.Value for flags that take no argument (e.g. -list),
// recording an occurrence in ops each time the flag is set.
type boolOp struct {
	ops  *[]operation
	kind opKind
}

func (b *boolOp) String() string   { return "" }
func (b *boolOp) IsBoolFlag() bool { return true }
func (b *boolOp) Set(string) error {
	*b.ops = append(*b.ops, operation{kind: b.kind})
	return nil
}

// valueOp is a flag.Value for flags that take a string argument,
// recording an occurrence with that argument in ops each time the flag
// is set. Flags declared with valueOp are implicitly repeatable.
type valueOp struct {
	ops  *[]operation
	kind opKind
}

func (v *valueOp) String() string { return "" }
func (v *valueOp) Set(arg string) error {
	*v.ops = append(*v.ops, operation{kind: v.kind, arg: arg})
	return nil
}

func run() error {
	var ops []operation

	initialize := flag.Bool("initialize", false, "create an empty container if it does not exist")

	flag.Var(&boolOp{&ops, opList}, "list", "list virtual files")
	flag.Var(&valueOp{&ops, opRemove}, "remove", "erase the named virtual file (repeatable)")
	flag.Var(&valueOp{&ops, opExtract}, "extract", "<name>=<path>: extract one virtual file (repeatable)")
	flag.Var(&valueOp{&ops, opExtract}, "e", "shorthand for -extract")
	flag.Var(&valueOp{&ops, opImport}, "import", "<path>=<name>: import a host file as a virtual file (repeatable)")
	flag.Var(&valueOp{&ops, opImportArchive}, "import-archive", "bulk-import a cpio stream")
	flag.Var(&valueOp{&ops, opExportArchive}, "export-archive", "bulk-export every virtual file into a cpio stream")
	flag.Var(&valueOp{&ops, opExport}, "export", "write an atomic snapshot of the container to path")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	if !*initialize {
		if _, err := os.Stat(path); err != nil {
			return xerrors.Errorf("icontainer: %w", err)
		}
	}

	device, err := icontainer.OpenFileBlockDevice(path)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", path, err)
	}
	defer device.Close()

	engine := icontainer.New(device, identifier, supportedMajor)
	status, err := engine.Open()
	if err != nil {
		return xerrors.Errorf("opening container %s: %w", path, err)
	}
	if status.HasInfo() {
		log.Printf("%s: opened downlevel container (version %d)", path, status.ActualVersion)
	}

	oninterrupt.Register(func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "icontainer: flush on interrupt: %v\n", err)
		}
	})

	for _, op := range ops {
		switch op.kind {
		case opList:
			if err := cmdList(engine); err != nil {
				return err
			}
		case opExtract:
			name, dest, err := splitPair(op.arg)
			if err != nil {
				return xerrors.Errorf("-extract %s: %w", op.arg, err)
			}
			if err := cmdExtract(engine, name, dest); err != nil {
				return err
			}
		case opImport:
			src, name, err := splitPair(op.arg)
			if err != nil {
				return xerrors.Errorf("-import %s: %w", op.arg, err)
			}
			if err := cmdImport(engine, src, name); err != nil {
				return err
			}
		case opRemove:
			if err := cmdRemove(engine, op.arg); err != nil {
				return err
			}
		case opImportArchive:
			if err := importCPIOArchive(engine, op.arg); err != nil {
				return err
			}
		case opExportArchive:
			if err := exportCPIOArchive(engine, op.arg); err != nil {
				return err
			}
		case opExport:
			if err := exportSnapshot(path, op.arg); err != nil {
				return err
			}
		}
	}

	return engine.Close()
}

func splitPair(s string) (a, b string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", xerrors.Errorf("expected a=b, got %q", s)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
