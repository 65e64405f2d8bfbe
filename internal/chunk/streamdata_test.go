package chunk

import (
	"bytes"
	"testing"
)

func TestStreamDataSaveLoadRoundTrip(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(9)

	payload := bytes.Repeat([]byte("abcd"), 50) // 200 bytes
	original := NewStreamData(0, 5, 1000, 512)
	var segments List
	segments.Add(payload)

	if err := original.SavePayload(device, segments, padder, true); err != nil {
		t.Fatalf("SavePayload: %v", err)
	}

	var common [MinimumHeaderSizeBytes]byte
	copy(common[:], device.buf[:MinimumHeaderSizeBytes])
	loaded := LoadStreamData(0, common)
	if err := loaded.LoadHeader(device); err != nil {
		t.Fatalf("LoadHeader: %v", err)
	}

	if got := loaded.StreamIdentifier(); got != 5 {
		t.Errorf("StreamIdentifier() = %d, want 5", got)
	}
	if got := loaded.ChunkOffset(); got != 1000 {
		t.Errorf("ChunkOffset() = %d, want 1000", got)
	}
	if got := loaded.PayloadSize(); got != uint(len(payload)) {
		t.Fatalf("PayloadSize() = %d, want %d", got, len(payload))
	}

	readBuf := make([]byte, len(payload))
	var readSegments List
	readSegments.Add(readBuf)
	n, err := loaded.LoadPayload(device, readSegments)
	if err != nil {
		t.Fatalf("LoadPayload: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("LoadPayload read %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(readBuf, payload) {
		t.Fatal("payload mismatch after round trip")
	}
	if !loaded.CheckCRC(readSegments) {
		t.Fatal("CRC check failed")
	}
}

func TestStreamDataSavePayloadTruncatesToAvailableSpace(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(1)

	c := NewStreamData(0, 1, 0, 32) // chunk size 32, header takes 14, 18 bytes available
	payload := bytes.Repeat([]byte{0xAB}, 100)
	var segments List
	segments.Add(payload)

	if err := c.SavePayload(device, segments, padder, false); err != nil {
		t.Fatalf("SavePayload: %v", err)
	}
	if got := c.PayloadSize(); got != 18 {
		t.Fatalf("PayloadSize() = %d, want 18 (clamped to available space)", got)
	}
}

func TestStreamDataScatterAcrossMultipleSegments(t *testing.T) {
	device := newMemDevice(MaximumChunkSize)
	padder := NewPadder(4)

	c := NewStreamData(0, 2, 0, 256)
	part1 := []byte("hello ")
	part2 := []byte("world")
	var segments List
	segments.Add(part1)
	segments.Add(part2)

	if err := c.SavePayload(device, segments, padder, true); err != nil {
		t.Fatalf("SavePayload: %v", err)
	}

	var common [MinimumHeaderSizeBytes]byte
	copy(common[:], device.buf[:MinimumHeaderSizeBytes])
	loaded := LoadStreamData(0, common)
	if err := loaded.LoadHeader(device); err != nil {
		t.Fatalf("LoadHeader: %v", err)
	}

	total := len(part1) + len(part2)
	buf1 := make([]byte, len(part1))
	buf2 := make([]byte, len(part2))
	var readSegments List
	readSegments.Add(buf1)
	readSegments.Add(buf2)

	n, err := loaded.LoadPayload(device, readSegments)
	if err != nil {
		t.Fatalf("LoadPayload: %v", err)
	}
	if n != total {
		t.Fatalf("LoadPayload read %d bytes, want %d", n, total)
	}
	if string(buf1) != "hello " || string(buf2) != "world" {
		t.Fatalf("scattered payload mismatch: %q %q", buf1, buf2)
	}
}
