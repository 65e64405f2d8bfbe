package chunk

import "testing"

func TestFillBestFitSize(t *testing.T) {
	cases := []struct {
		available uint32
		want      uint
	}{
		{32, 32},
		{33, 32},
		{63, 32},
		{64, 64},
		{1000, 512},
		{10000, 4096},
		{1 << 20, MaximumChunkSize},
	}
	for _, c := range cases {
		f := NewFill(0, c.available)
		if got := f.FillSpaceBytes(); got != c.want {
			t.Errorf("NewFill(%d).FillSpaceBytes() = %d, want %d", c.available, got, c.want)
		}
	}
}

func TestFillSaveLoad(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(42)

	f := NewFill(0, 4096)
	if err := f.Save(device, padder); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var common [MinimumHeaderSizeBytes]byte
	copy(common[:], device.buf[:MinimumHeaderSizeBytes])
	loaded := LoadFill(0, common)
	if loaded.Header.Type() != Fill {
		t.Fatalf("Type() = %v, want Fill", loaded.Header.Type())
	}
	if got := loaded.Header.ChunkSize(); got != 4096 {
		t.Fatalf("ChunkSize() = %d, want 4096", got)
	}
}
