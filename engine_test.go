package icontainer

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openEmpty(t *testing.T) *Engine {
	t.Helper()
	e := New(NewMemoryBlockDevice(), "TESTCTR1", 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestOpenCreatesFileHeaderOnEmptyDevice(t *testing.T) {
	e := openEmpty(t)
	if e.MinorVersion() != 0 {
		t.Fatalf("MinorVersion() = %d, want 0", e.MinorVersion())
	}

	dir, err := e.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(dir) != 0 {
		t.Fatalf("Directory() = %v, want empty", dir)
	}
}

func TestOpenRejectsWrongIdentifier(t *testing.T) {
	device := NewMemoryBlockDevice()
	a := New(device, "CTRONE__", 1)
	if _, err := a.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	b := New(device, "CTRTWO__", 1)
	if _, err := b.Open(); err == nil {
		t.Fatal("Open: want error for mismatched identifier, got nil")
	}
}

func TestOpenRejectsNewerMajorVersion(t *testing.T) {
	device := NewMemoryBlockDevice()
	a := New(device, "TESTCTR1", 2)
	if _, err := a.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	b := New(device, "TESTCTR1", 1)
	if _, err := b.Open(); err == nil {
		t.Fatal("Open: want error for unsupported major version, got nil")
	}
}

func TestOpenReportsVersionDownlevel(t *testing.T) {
	device := NewMemoryBlockDevice()
	a := New(device, "TESTCTR1", 1)
	if _, err := a.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	b := New(device, "TESTCTR1", 2)
	status, err := b.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if status.Kind != StatusVersionDownlevel {
		t.Fatalf("status.Kind = %v, want StatusVersionDownlevel", status.Kind)
	}
	if status.ActualVersion != 1 {
		t.Fatalf("status.ActualVersion = %d, want 1", status.ActualVersion)
	}
}

func TestNewVirtualFileReturnsSameHandleForExistingName(t *testing.T) {
	e := openEmpty(t)

	a, err := e.NewVirtualFile("greeting.txt")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	b, err := e.NewVirtualFile("greeting.txt")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if a != b {
		t.Fatal("NewVirtualFile returned different handles for the same name")
	}
}

func TestDirectoryAfterCloseAndReopen(t *testing.T) {
	device := NewMemoryBlockDevice()
	e := New(device, "TESTCTR1", 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	vf, err := e.NewVirtualFile("a.txt")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if _, err := vf.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e.NewVirtualFile("b.txt"); err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := New(device, "TESTCTR1", 1)
	if _, err := e2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dir, err := e2.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	var names []string
	for name := range dir {
		names = append(names, name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, names); diff != "" {
		t.Fatalf("Directory() names mismatch (-want +got):\n%s", diff)
	}

	reopened, ok := dir["a.txt"]
	if !ok {
		t.Fatal("a.txt missing from reopened directory")
	}
	size, err := reopened.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 5 {
		t.Fatalf("Size() = %d, want 5", size)
	}

	buf := make([]byte, 5)
	if _, err := reopened.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("Read() = %q, want %q", buf, "hello")
	}
}

func TestStreamReadDeliversPayloadToSink(t *testing.T) {
	device := NewMemoryBlockDevice()
	e := New(device, "TESTCTR1", 1)
	if _, err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	vf, err := e.NewVirtualFile("a.txt")
	if err != nil {
		t.Fatalf("NewVirtualFile: %v", err)
	}
	if _, err := vf.Write([]byte("streamed payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := vf.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := New(device, "TESTCTR1", 1)
	if _, err := e2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink := &capturingSink{}
	dir, err := e2.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	dir["a.txt"].SetStreamSink(sink)

	if err := NewStreamingReader(e2).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(sink.data) != "streamed payload" {
		t.Fatalf("sink captured %q, want %q", sink.data, "streamed payload")
	}
	if !sink.ended {
		t.Fatal("sink never received EndOfFile")
	}
}

type capturingSink struct {
	data  []byte
	ended bool
}

func (s *capturingSink) ReceivedData(data []byte) error {
	s.data = append(s.data, data...)
	return nil
}

func (s *capturingSink) EndOfFile() error {
	s.ended = true
	return nil
}
