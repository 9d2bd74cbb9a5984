package page

import (
	"encoding/binary"
	"fmt"
)

// Magic is the 8-byte signature stamped at the start of every data file.
var Magic = [8]byte{'B', 'P', 'T', 'R', 'E', 'E', '0', '1'}

// FormatVersion is the on-disk format version written to the metadata page.
const FormatVersion = 1

// Metadata is the decoded content of page id 0, per SPEC_FULL.md §3.1.
type Metadata struct {
	Version      uint8
	Layout       Layout
	RootPage     uint64
	FreelistHead uint64
	PageCount    uint64
}

// EncodeMetadata serializes m into a Layout.PageSize buffer.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, m.Layout.PageSize)
	copy(buf[0:8], Magic[:])
	buf[8] = m.Version
	binary.LittleEndian.PutUint32(buf[9:], m.Layout.PageSize)
	binary.LittleEndian.PutUint32(buf[13:], m.Layout.Order)
	binary.LittleEndian.PutUint32(buf[17:], m.Layout.KeySize)
	binary.LittleEndian.PutUint32(buf[21:], m.Layout.ValueSize)
	binary.LittleEndian.PutUint64(buf[25:], m.RootPage)
	binary.LittleEndian.PutUint64(buf[33:], m.FreelistHead)
	binary.LittleEndian.PutUint64(buf[41:], m.PageCount)
	return buf
}

// DecodeMetadata parses the metadata page. It does not know the page size in
// advance (that's one of the fields being decoded), so buf may be longer
// than MetadataSize; only the first MetadataSize bytes are read.
func DecodeMetadata(buf []byte) (Metadata, error) {
	if len(buf) < MetadataSize {
		return Metadata{}, fmt.Errorf("metadata page too short: %d bytes", len(buf))
	}
	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != Magic {
		return Metadata{}, fmt.Errorf("bad magic %q, not a bptree file", magic)
	}
	version := buf[8]
	if version != FormatVersion {
		return Metadata{}, fmt.Errorf("unsupported format version %d", version)
	}

	pageSize := binary.LittleEndian.Uint32(buf[9:])
	order := binary.LittleEndian.Uint32(buf[13:])
	keySize := binary.LittleEndian.Uint32(buf[17:])
	valueSize := binary.LittleEndian.Uint32(buf[21:])
	rootPage := binary.LittleEndian.Uint64(buf[25:])
	freelistHead := binary.LittleEndian.Uint64(buf[33:])
	pageCount := binary.LittleEndian.Uint64(buf[41:])

	layout, err := NewLayout(pageSize, order, keySize, valueSize)
	if err != nil {
		return Metadata{}, fmt.Errorf("persisted layout is invalid: %w", err)
	}

	return Metadata{
		Version:      version,
		Layout:       layout,
		RootPage:     rootPage,
		FreelistHead: freelistHead,
		PageCount:    pageCount,
	}, nil
}
