package oab

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func TestReadBlockRaw(t *testing.T) {
	payload := []byte("raw OAB block payload")
	var buf bytes.Buffer
	hdr := struct {
		Flags            uint32
		CompressedSize   uint32
		UncompressedSize uint32
		CRC              uint32
	}{
		Flags:            uint32(BlockRaw),
		CompressedSize:   uint32(len(payload)),
		UncompressedSize: uint32(len(payload)),
		CRC:              crc32.ChecksumIEEE(payload),
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write(payload)

	out, err := ReadBlock(&buf, 0)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("got %q, want %q", out, payload)
	}
}

func TestReadBlockCRCMismatch(t *testing.T) {
	payload := []byte("raw OAB block payload")
	var buf bytes.Buffer
	hdr := struct {
		Flags            uint32
		CompressedSize   uint32
		UncompressedSize uint32
		CRC              uint32
	}{
		Flags:            uint32(BlockRaw),
		CompressedSize:   uint32(len(payload)),
		UncompressedSize: uint32(len(payload)),
		CRC:              crc32.ChecksumIEEE(payload) ^ 0xFFFFFFFF,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write(payload)

	if _, err := ReadBlock(&buf, 0); err == nil {
		t.Fatal("expected a CRC mismatch error")
	}
}
