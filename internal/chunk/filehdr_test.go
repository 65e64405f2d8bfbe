package chunk

import "testing"

func TestFileHeaderSaveLoadRoundTrip(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(1)

	original := NewFileHeader(0, 1, 2, "Inesonic, LLC.\nAleph")
	if err := original.Save(device, padder); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var common [MinimumHeaderSizeBytes]byte
	copy(common[:], device.buf[:MinimumHeaderSizeBytes])

	loaded := LoadFileHeader(0, common)
	if err := loaded.Load(device); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !loaded.CheckCRC() {
		t.Fatal("CRC check failed after round trip")
	}
	if !loaded.IsValid("Inesonic, LLC.\nAleph", 1, 2) {
		t.Fatalf("IsValid failed: identifier=%q major=%d minor=%d",
			loaded.Identifier(), loaded.MajorVersion(), loaded.MinorVersion())
	}
}

func TestFileHeaderCorruptionDetected(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(7)

	original := NewFileHeader(0, 3, 0, "x")
	if err := original.Save(device, padder); err != nil {
		t.Fatalf("Save: %v", err)
	}

	device.buf[5] ^= 0xFF

	var common [MinimumHeaderSizeBytes]byte
	copy(common[:], device.buf[:MinimumHeaderSizeBytes])
	loaded := LoadFileHeader(0, common)
	if err := loaded.Load(device); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CheckCRC() {
		t.Fatal("expected CRC mismatch after corrupting minor version byte")
	}
}
