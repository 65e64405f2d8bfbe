package ringbuffer

import (
	"bytes"
	"testing"
)

func TestInsertExtractRoundTrip(t *testing.T) {
	r := New(8)
	n := r.Insert([]byte("abcdef"))
	if n != 6 {
		t.Fatalf("Insert: got %d, want 6", n)
	}
	if r.Len() != 6 || r.Available() != 2 {
		t.Fatalf("Len/Available: got %d/%d, want 6/2", r.Len(), r.Available())
	}

	dst := make([]byte, 4)
	n = r.Extract(dst)
	if n != 4 || !bytes.Equal(dst, []byte("abcd")) {
		t.Fatalf("Extract: got %q (%d), want \"abcd\" (4)", dst[:n], n)
	}
	if r.Len() != 2 {
		t.Fatalf("Len after extract: got %d, want 2", r.Len())
	}
}

func TestWrapAround(t *testing.T) {
	r := New(4)
	r.Insert([]byte("abcd"))
	out := make([]byte, 2)
	r.Extract(out)
	r.Insert([]byte("ef"))

	dst := make([]byte, 4)
	n := r.Extract(dst)
	if n != 4 || string(dst) != "cdef" {
		t.Fatalf("got %q (%d), want \"cdef\" (4)", dst[:n], n)
	}
}

func TestSnoopInPlaceMutation(t *testing.T) {
	r := New(4)
	r.Insert([]byte("abcd"))
	*r.Snoop(1) = 'X'

	dst := make([]byte, 4)
	r.Extract(dst)
	if string(dst) != "aXcd" {
		t.Fatalf("got %q, want \"aXcd\"", dst)
	}
}

func TestBulkInsertionWraps(t *testing.T) {
	r := New(4)
	r.Insert([]byte("ab"))
	out := make([]byte, 2)
	r.Extract(out)

	first, second := r.BulkInsertionSegments()
	total := copy(first, "cd")
	if len(second) > 0 {
		total += copy(second, "cd"[total:])
	}
	r.FinishInsertion(total)

	if r.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", r.Len())
	}
}

func TestFullBufferRejectsInsert(t *testing.T) {
	r := New(2)
	n := r.Insert([]byte("abc"))
	if n != 2 {
		t.Fatalf("Insert past capacity: got %d, want 2", n)
	}
	if !r.Full() {
		t.Fatal("expected buffer to report full")
	}
}
