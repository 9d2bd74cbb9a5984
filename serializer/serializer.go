// Package serializer converts Go values into the fixed-width key encodings
// the tree compares with a plain byte-lexicographic comparator (spec.md
// §9, option (a)). Grounded on original_source/bplustree/serializer.py's
// Serializer/IntSerializer/StrSerializer, translated from an
// object-pickling scheme (Python ints/strs compared after deserializing)
// to fixed-width byte encodings compared directly as bytes.Compare.
//
// This is the one place this repository deliberately departs from the
// original: original_source encodes integers little-endian, because its
// comparator deserializes keys before ordering them. A byte-lexicographic
// comparator needs big-endian integers (most significant byte first) for
// unsigned numeric order to coincide with byte order, so every fixed-width
// integer serializer here is big-endian.
package serializer

import (
	"encoding/binary"
	"fmt"
)

// Serializer converts between a Go value and its fixed-width, order-
// preserving byte encoding of exactly Size() bytes.
type Serializer interface {
	// Size is the fixed width of this serializer's encoded keys.
	Size() int
	// Encode returns the Size()-byte encoding of v.
	Encode(v interface{}) ([]byte, error)
	// Decode is the inverse of Encode.
	Decode(data []byte) (interface{}, error)
}

// Uint64Serializer encodes a uint64 as 8 big-endian bytes.
type Uint64Serializer struct{}

func (Uint64Serializer) Size() int { return 8 }

func (Uint64Serializer) Encode(v interface{}) ([]byte, error) {
	n, ok := v.(uint64)
	if !ok {
		return nil, fmt.Errorf("serializer: Uint64Serializer.Encode: want uint64, got %T", v)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf, nil
}

func (Uint64Serializer) Decode(data []byte) (interface{}, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("serializer: Uint64Serializer.Decode: want 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// IntSerializer encodes a non-negative int within a fixed byte width,
// matching the original's IntSerializer(key_size) constructor argument.
type IntSerializer struct {
	KeySize int
}

func (s IntSerializer) Size() int { return s.KeySize }

func (s IntSerializer) Encode(v interface{}) ([]byte, error) {
	n, ok := v.(int)
	if !ok {
		return nil, fmt.Errorf("serializer: IntSerializer.Encode: want int, got %T", v)
	}
	if n < 0 {
		return nil, fmt.Errorf("serializer: IntSerializer.Encode: negative values are not order-preserving, got %d", n)
	}
	buf := make([]byte, s.KeySize)
	u := uint64(n)
	for i := s.KeySize - 1; i >= 0 && u > 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	if u > 0 {
		return nil, fmt.Errorf("serializer: IntSerializer.Encode: %d does not fit in %d bytes", n, s.KeySize)
	}
	return buf, nil
}

func (s IntSerializer) Decode(data []byte) (interface{}, error) {
	if len(data) != s.KeySize {
		return nil, fmt.Errorf("serializer: IntSerializer.Decode: want %d bytes, got %d", s.KeySize, len(data))
	}
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	return int(u), nil
}

// StringSerializer pads or rejects a string to a fixed key width, matching
// the original's StrSerializer(key_size) assertion that the UTF-8 encoding
// fits within key_size bytes; shorter strings are zero-padded on the right
// so two strings compare the same way under byte-lexicographic order as
// they would under Go's native string ordering, as long as neither string
// contains an embedded NUL byte.
type StringSerializer struct {
	KeySize int
}

func (s StringSerializer) Size() int { return s.KeySize }

func (s StringSerializer) Encode(v interface{}) ([]byte, error) {
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("serializer: StringSerializer.Encode: want string, got %T", v)
	}
	b := []byte(str)
	if len(b) > s.KeySize {
		return nil, fmt.Errorf("serializer: StringSerializer.Encode: %q is %d bytes, exceeds key size %d", str, len(b), s.KeySize)
	}
	buf := make([]byte, s.KeySize)
	copy(buf, b)
	return buf, nil
}

func (s StringSerializer) Decode(data []byte) (interface{}, error) {
	if len(data) != s.KeySize {
		return nil, fmt.Errorf("serializer: StringSerializer.Decode: want %d bytes, got %d", s.KeySize, len(data))
	}
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end]), nil
}

// BytesSerializer passes a fixed-width byte key through unchanged,
// validating its length.
type BytesSerializer struct {
	KeySize int
}

func (s BytesSerializer) Size() int { return s.KeySize }

func (s BytesSerializer) Encode(v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("serializer: BytesSerializer.Encode: want []byte, got %T", v)
	}
	if len(b) != s.KeySize {
		return nil, fmt.Errorf("serializer: BytesSerializer.Encode: got %d bytes, want %d", len(b), s.KeySize)
	}
	out := make([]byte, s.KeySize)
	copy(out, b)
	return out, nil
}

func (s BytesSerializer) Decode(data []byte) (interface{}, error) {
	if len(data) != s.KeySize {
		return nil, fmt.Errorf("serializer: BytesSerializer.Decode: got %d bytes, want %d", len(data), s.KeySize)
	}
	out := make([]byte, s.KeySize)
	copy(out, data)
	return out, nil
}
