package icontainer

import (
	"bytes"
	"math/rand"
	"testing"
)

const scenarioIdentifier = "Inesonic, LLC.\nAleph"

// S1: opening an empty device synthesizes a minimal, valid FileHeader
// chunk at offset zero.
func TestScenarioEmptyOpen(t *testing.T) {
	device := NewMemoryBlockDevice()
	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	size, err := device.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 32 {
		t.Fatalf("device size = %d, want 32", size)
	}

	raw := make([]byte, 32)
	if err := device.SetPosition(0); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := device.Read(raw); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if typ := raw[0] & 0x03; typ != 0 {
		t.Fatalf("chunk type = %d, want 0 (FileHeader)", typ)
	}
	if p := (raw[0] >> 2) & 0x07; p != 0 {
		t.Fatalf("chunk size class p = %d, want 0 (smallest chunk)", p)
	}
}

// S2: a single stream's contents round-trip exactly through a
// close/reopen cycle.
func TestScenarioSingleStreamRoundTrip(t *testing.T) {
	device := NewMemoryBlockDevice()
	payload := make([]byte, 65536)
	for i := range payload {
		payload[i] = byte(i % 254)
	}

	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	vf, err := e.NewVirtualFile("test.dat")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if _, err := vf.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := New(device, scenarioIdentifier, 1)
	if _, err := e2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dir, err := e2.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(dir) != 1 {
		t.Fatalf("Directory() has %d entries, want 1", len(dir))
	}
	reopened, ok := dir["test.dat"]
	if !ok {
		t.Fatal("test.dat missing from reopened directory")
	}
	size, err := reopened.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("Size() = %d, want %d", size, len(payload))
	}

	readBack := make([]byte, len(payload))
	if _, err := reopened.Read(readBack); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(readBack, payload) {
		t.Fatal("round-tripped payload does not match what was written")
	}
}

// S3: erasing a virtual file that is the only content after the file
// header lets end-of-file truncation shrink the device back down.
func TestScenarioDeleteTruncates(t *testing.T) {
	device := NewMemoryBlockDevice()
	payload := make([]byte, 65536)
	for i := range payload {
		payload[i] = byte(i % 254)
	}

	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	vf, err := e.NewVirtualFile("test.dat")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if _, err := vf.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := vf.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	size, err := device.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 32 {
		t.Fatalf("device size after erase+close = %d, want 32", size)
	}
}

// S4: random read-modify-write against a large file never disturbs
// bytes outside the written window.
func TestScenarioRandomReadModifyWrite(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	device := NewMemoryBlockDevice()
	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	vf, err := e.NewVirtualFile("rmw.dat")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}

	const fileSize = 2 * 65536
	model := bytes.Repeat([]byte{0xFF}, fileSize)
	if _, err := vf.Write(model); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for iter := 0; iter < 25; iter++ {
		off := rng.Intn(fileSize)
		maxLen := fileSize - off
		if maxLen > 65536 {
			maxLen = 65536
		}
		length := 1 + rng.Intn(maxLen)

		chunk := make([]byte, length)
		for i := range chunk {
			chunk[i] = byte(i % 254)
		}
		copy(model[off:off+length], chunk)

		if err := vf.SetPosition(uint64(off)); err != nil {
			t.Fatalf("SetPosition: %v", err)
		}
		if _, err := vf.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}

		if err := vf.SetPosition(0); err != nil {
			t.Fatalf("SetPosition: %v", err)
		}
		readBack := make([]byte, fileSize)
		if _, err := vf.Read(readBack); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(readBack, model) {
			t.Fatalf("iteration %d: content diverged from model after RMW at off=%d len=%d", iter, off, length)
		}
	}
}

// S5: four interleaved streams each end up holding exactly the bytes
// appended to them, independent of how their writes interleaved on
// disk.
func TestScenarioMultiStreamTraversal(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	device := NewMemoryBlockDevice()
	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	const numStreams = 4
	const totalTarget = 128 * 1024 // keep the test fast; property holds at any scale
	names := [numStreams]string{"a.dat", "b.dat", "c.dat", "d.dat"}
	files := make([]*VirtualFile, numStreams)
	expected := make([][]byte, numStreams)
	for i, name := range names {
		vf, err := e.NewVirtualFile(name)
		if err != nil {
			t.Fatalf("NewVirtualFile(%s): %v", name, err)
		}
		files[i] = vf
	}

	total := 0
	for total < totalTarget {
		idx := rng.Intn(numStreams)
		length := 1 + rng.Intn(4096)
		slice := make([]byte, length)
		for i := range slice {
			slice[i] = byte(rng.Intn(256))
		}
		if _, err := files[idx].Append(slice); err != nil {
			t.Fatalf("Append(%s): %v", names[idx], err)
		}
		expected[idx] = append(expected[idx], slice...)
		total += length
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := New(device, scenarioIdentifier, 1)
	if _, err := e2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dir, err := e2.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	for i, name := range names {
		vf, ok := dir[name]
		if !ok {
			t.Fatalf("%s missing from reopened directory", name)
		}
		size, err := vf.Size()
		if err != nil {
			t.Fatalf("Size(%s): %v", name, err)
		}
		if size != int64(len(expected[i])) {
			t.Fatalf("Size(%s) = %d, want %d", name, size, len(expected[i]))
		}
		got := make([]byte, size)
		if _, err := vf.Read(got); err != nil {
			t.Fatalf("Read(%s): %v", name, err)
		}
		if !bytes.Equal(got, expected[i]) {
			t.Fatalf("%s content diverged from the bytes appended to it", name)
		}
	}
}

// S6: corrupting bits within a stream's chunk header is caught by the
// CRC check rather than silently returning wrong data.
func TestScenarioCRCDetection(t *testing.T) {
	device := NewMemoryBlockDevice()
	payload := bytes.Repeat([]byte{0x42}, 4096)

	e := New(device, scenarioIdentifier, 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	vf, err := e.NewVirtualFile("test.dat")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if _, err := vf.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The StreamStart chunk for "test.dat" sits immediately after the
	// 32-byte file header; flip every bit of one byte of its stored CRC field so
	// that on-load validation is guaranteed to fail regardless of
	// which chunk size class was chosen for the write.
	const crcFieldOffset = 32 + 2
	if err := device.SetPosition(crcFieldOffset); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	var b [1]byte
	if _, err := device.Read(b[:]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	b[0] ^= 0xFF
	if err := device.SetPosition(crcFieldOffset); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := device.Write(b[:]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	e2 := New(device, scenarioIdentifier, 1)
	if _, err := e2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e2.Directory(); err == nil {
		t.Fatal("Directory: want CRC validation failure after corrupting the stream start chunk, got nil")
	}
}
