// Package freespace tracks which file-index regions of a container are
// free, reserved, or in need of a flush to the backing device.
package freespace

import (
	"golang.org/x/xerrors"

	"github.com/inesonic/icontainer/internal/chunk"
)

// FileIndex identifies a 32-byte-aligned position within a container.
type FileIndex = chunk.FileIndex

// Area describes a contiguous span of file-index space.
type Area struct {
	Start FileIndex
	Size  FileIndex
}

// End returns the file index immediately past the area.
func (a Area) End() FileIndex { return a.Start + a.Size }

// ReduceFront shrinks the area by amount from its start, advancing
// Start and reducing Size by the same amount.
func (a *Area) ReduceFront(amount FileIndex) error {
	if amount > a.Size {
		return xerrors.New("freespace: reduction exceeds area size")
	}
	a.Start += amount
	a.Size -= amount
	return nil
}

// ReduceBack shrinks the area by amount from its end, leaving Start
// unchanged.
func (a *Area) ReduceBack(amount FileIndex) error {
	if amount > a.Size {
		return xerrors.New("freespace: reduction exceeds area size")
	}
	a.Size -= amount
	return nil
}
