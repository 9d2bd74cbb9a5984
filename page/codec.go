package page

import (
	"encoding/binary"
	"fmt"
)

// ErrCorruptPage is returned by Decode when a page's declared kind or entry
// count is inconsistent with the configured Layout. Per spec.md §4.1, this
// is fatal for the engine instance.
type ErrCorruptPage struct {
	PageID uint64
	Reason string
}

func (e *ErrCorruptPage) Error() string {
	return fmt.Sprintf("corrupt page %d: %s", e.PageID, e.Reason)
}

// Encode serializes node into a Layout.PageSize-byte buffer. Unused suffix
// bytes are zero-filled, per spec.md §4.1. Grounded on the teacher's
// encodeNode (bplustree/node_codec.go): fixed header, then length-implied
// fixed-width entries rather than the teacher's length-prefixed variable
// ones, since key_size/value_size are fixed for the file's lifetime here.
func Encode(n *Node, layout Layout) ([]byte, error) {
	buf := make([]byte, layout.PageSize)

	buf[0] = byte(n.Kind)
	// buf[1] reserved

	switch n.Kind {
	case KindLeaf, KindInternal:
		binary.LittleEndian.PutUint16(buf[2:], uint16(len(n.Keys)))
	case KindOverflow:
		binary.LittleEndian.PutUint16(buf[2:], uint16(len(n.Payload)))
	}

	binary.LittleEndian.PutUint64(buf[4:], n.Next)
	binary.LittleEndian.PutUint64(buf[12:], n.Prev)

	offset := HeaderSize

	switch n.Kind {
	case KindLeaf:
		if uint32(len(n.Keys)) > layout.LeafCapacity {
			return nil, fmt.Errorf("leaf page %d: %d entries exceeds capacity %d",
				n.ID, len(n.Keys), layout.LeafCapacity)
		}
		for i, key := range n.Keys {
			if uint32(len(key)) != layout.KeySize {
				return nil, fmt.Errorf("leaf page %d: key %d has length %d, want %d",
					n.ID, i, len(key), layout.KeySize)
			}
			copy(buf[offset:], key)
			offset += int(layout.KeySize)

			val := n.Values[i]
			if len(val) != 3+int(layout.ValueSlot) {
				return nil, fmt.Errorf("leaf page %d: value slot %d has length %d, want %d",
					n.ID, i, len(val), 3+layout.ValueSlot)
			}
			// Values already carry the flag/length header produced by
			// EncodeInlineValue/EncodeOverflowPointer.
			copy(buf[offset:], val)
			offset += 3 + int(layout.ValueSlot)
		}
	case KindInternal:
		if uint32(len(n.Keys)) > layout.InternalCapacity {
			return nil, fmt.Errorf("internal page %d: %d entries exceeds capacity %d",
				n.ID, len(n.Keys), layout.InternalCapacity)
		}
		if len(n.Children) != len(n.Keys)+1 {
			return nil, fmt.Errorf("internal page %d: %d children for %d keys",
				n.ID, len(n.Children), len(n.Keys))
		}
		for i, key := range n.Keys {
			if uint32(len(key)) != layout.KeySize {
				return nil, fmt.Errorf("internal page %d: key %d has length %d, want %d",
					n.ID, i, len(key), layout.KeySize)
			}
			copy(buf[offset:], key)
			offset += int(layout.KeySize)
			binary.LittleEndian.PutUint64(buf[offset:], n.Children[i])
			offset += 8
		}
		// trailing rightmost child
		binary.LittleEndian.PutUint64(buf[offset:], n.Children[len(n.Keys)])
	case KindOverflow:
		if uint32(len(n.Payload)) > layout.OverflowPayload {
			return nil, fmt.Errorf("overflow page %d: payload length %d exceeds capacity %d",
				n.ID, len(n.Payload), layout.OverflowPayload)
		}
		copy(buf[offset:], n.Payload)
	case KindFreelist:
		// header only
	default:
		return nil, fmt.Errorf("cannot encode unknown kind %v for page %d", n.Kind, n.ID)
	}

	return buf, nil
}

// Decode deserializes a Layout.PageSize-byte buffer into a Node.
func Decode(buf []byte, id uint64, layout Layout) (*Node, error) {
	if uint32(len(buf)) != layout.PageSize {
		return nil, &ErrCorruptPage{PageID: id, Reason: fmt.Sprintf(
			"buffer length %d does not match page size %d", len(buf), layout.PageSize)}
	}

	kind := Kind(buf[0])
	count := binary.LittleEndian.Uint16(buf[2:])
	next := binary.LittleEndian.Uint64(buf[4:])
	prev := binary.LittleEndian.Uint64(buf[12:])

	n := &Node{ID: id, Kind: kind, Next: next, Prev: prev}

	offset := HeaderSize

	switch kind {
	case KindLeaf:
		if uint32(count) > layout.LeafCapacity {
			return nil, &ErrCorruptPage{PageID: id, Reason: fmt.Sprintf(
				"leaf entry count %d exceeds capacity %d", count, layout.LeafCapacity)}
		}
		n.Keys = make([][]byte, count)
		n.Values = make([][]byte, count)
		valSlotLen := 3 + int(layout.ValueSlot)
		entrySize := int(layout.KeySize) + valSlotLen
		need := HeaderSize + int(count)*entrySize
		if need > len(buf) {
			return nil, &ErrCorruptPage{PageID: id, Reason: "leaf entries overflow page bounds"}
		}
		for i := 0; i < int(count); i++ {
			key := make([]byte, layout.KeySize)
			copy(key, buf[offset:offset+int(layout.KeySize)])
			offset += int(layout.KeySize)

			val := make([]byte, valSlotLen)
			copy(val, buf[offset:offset+valSlotLen])
			offset += valSlotLen

			n.Keys[i] = key
			n.Values[i] = val
		}
	case KindInternal:
		if uint32(count) > layout.InternalCapacity {
			return nil, &ErrCorruptPage{PageID: id, Reason: fmt.Sprintf(
				"internal entry count %d exceeds capacity %d", count, layout.InternalCapacity)}
		}
		n.Keys = make([][]byte, count)
		n.Children = make([]uint64, count+1)
		entrySize := int(layout.KeySize) + 8
		need := HeaderSize + int(count)*entrySize + 8
		if need > len(buf) {
			return nil, &ErrCorruptPage{PageID: id, Reason: "internal entries overflow page bounds"}
		}
		for i := 0; i < int(count); i++ {
			key := make([]byte, layout.KeySize)
			copy(key, buf[offset:offset+int(layout.KeySize)])
			offset += int(layout.KeySize)
			n.Children[i] = binary.LittleEndian.Uint64(buf[offset:])
			offset += 8
			n.Keys[i] = key
		}
		n.Children[count] = binary.LittleEndian.Uint64(buf[offset:])
	case KindOverflow:
		if uint32(count) > layout.OverflowPayload {
			return nil, &ErrCorruptPage{PageID: id, Reason: fmt.Sprintf(
				"overflow payload length %d exceeds capacity %d", count, layout.OverflowPayload)}
		}
		n.Payload = make([]byte, count)
		copy(n.Payload, buf[offset:offset+int(count)])
	case KindFreelist:
		// header only
	case KindMeta:
		return nil, &ErrCorruptPage{PageID: id, Reason: "metadata page decoded as a node"}
	default:
		return nil, &ErrCorruptPage{PageID: id, Reason: fmt.Sprintf("unknown kind byte %d", buf[0])}
	}

	return n, nil
}

// Leaf value slot format, written by EncodeInlineValue/EncodeOverflowPointer
// and read by IsOverflow/DecodeInlineValue/DecodeOverflowPointer:
//
//	byte 0       flag: 0 = inline, 1 = overflow
//	bytes 1-2    uint16 length (inline: value length; overflow: unused)
//	bytes 3..    ValueSlot bytes of payload

// EncodeInlineValue builds a leaf value slot for a value stored inline.
func EncodeInlineValue(value []byte, layout Layout) []byte {
	slot := make([]byte, 3+layout.ValueSlot)
	slot[0] = 0
	binary.LittleEndian.PutUint16(slot[1:], uint16(len(value)))
	copy(slot[3:], value)
	return slot
}

// EncodeOverflowPointer builds a leaf value slot pointing at an overflow
// chain: flag byte 1, 8-byte head page id, 8-byte total length.
func EncodeOverflowPointer(head uint64, length uint64, layout Layout) []byte {
	slot := make([]byte, 3+layout.ValueSlot)
	slot[0] = 1
	binary.LittleEndian.PutUint64(slot[3:], head)
	binary.LittleEndian.PutUint64(slot[11:], length)
	return slot
}

// IsOverflow reports whether a leaf value slot (as produced by
// EncodeInlineValue/EncodeOverflowPointer) stores an overflow pointer.
func IsOverflow(slot []byte) bool {
	return len(slot) > 0 && slot[0] == 1
}

// DecodeInlineValue returns a copy of the inline value bytes from a slot.
func DecodeInlineValue(slot []byte) []byte {
	length := binary.LittleEndian.Uint16(slot[1:])
	out := make([]byte, length)
	copy(out, slot[3:3+int(length)])
	return out
}

// DecodeOverflowPointer extracts the head page id and total length from an
// overflow-flagged slot.
func DecodeOverflowPointer(slot []byte) (head uint64, length uint64) {
	head = binary.LittleEndian.Uint64(slot[3:])
	length = binary.LittleEndian.Uint64(slot[11:])
	return head, length
}
