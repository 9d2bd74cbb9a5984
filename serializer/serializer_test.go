package serializer

import (
	"bytes"
	"sort"
	"testing"
)

func TestUint64SerializerRoundTrip(t *testing.T) {
	s := Uint64Serializer{}
	for _, v := range []uint64{0, 1, 255, 256, 1 << 40, ^uint64(0)} {
		enc, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		if len(enc) != s.Size() {
			t.Fatalf("Encode(%d) len = %d, want %d", v, len(enc), s.Size())
		}
		dec, err := s.Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if dec.(uint64) != v {
			t.Fatalf("round trip got %d, want %d", dec, v)
		}
	}
}

func TestUint64SerializerPreservesOrder(t *testing.T) {
	s := Uint64Serializer{}
	values := []uint64{0, 1, 2, 255, 256, 65535, 65536, 1 << 32, ^uint64(0)}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		enc, err := s.Encode(v)
		if err != nil {
			t.Fatal(err)
		}
		encoded[i] = enc
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}) {
		t.Fatal("big-endian encoding did not preserve ascending numeric order under byte comparison")
	}
}

func TestIntSerializerPreservesOrder(t *testing.T) {
	s := IntSerializer{KeySize: 4}
	values := []int{0, 1, 127, 128, 255, 256, 1<<24 - 1}
	var encoded [][]byte
	for _, v := range values {
		enc, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		encoded = append(encoded, enc)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("encoding of %d did not sort before encoding of %d", values[i-1], values[i])
		}
	}
}

func TestIntSerializerRejectsOverflow(t *testing.T) {
	s := IntSerializer{KeySize: 1}
	if _, err := s.Encode(256); err == nil {
		t.Fatal("expected error encoding 256 into a 1-byte key")
	}
}

func TestIntSerializerRejectsNegative(t *testing.T) {
	s := IntSerializer{KeySize: 4}
	if _, err := s.Encode(-1); err == nil {
		t.Fatal("expected error encoding a negative int")
	}
}

func TestStringSerializerRoundTrip(t *testing.T) {
	s := StringSerializer{KeySize: 16}
	for _, v := range []string{"", "a", "hello world"} {
		enc, err := s.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%q): %v", v, err)
		}
		if len(enc) != s.Size() {
			t.Fatalf("Encode(%q) len = %d, want %d", v, len(enc), s.Size())
		}
		dec, err := s.Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if dec.(string) != v {
			t.Fatalf("round trip got %q, want %q", dec, v)
		}
	}
}

func TestStringSerializerRejectsOverlong(t *testing.T) {
	s := StringSerializer{KeySize: 4}
	if _, err := s.Encode("too long"); err == nil {
		t.Fatal("expected error encoding an overlong string")
	}
}

func TestStringSerializerPreservesLexicalOrder(t *testing.T) {
	s := StringSerializer{KeySize: 8}
	values := []string{"ant", "bee", "cat", "catalog", "dog"}
	var encoded [][]byte
	for _, v := range values {
		enc, err := s.Encode(v)
		if err != nil {
			t.Fatal(err)
		}
		encoded = append(encoded, enc)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("encoding of %q did not sort before encoding of %q", values[i-1], values[i])
		}
	}
}

func TestBytesSerializerRoundTrip(t *testing.T) {
	s := BytesSerializer{KeySize: 4}
	v := []byte{1, 2, 3, 4}
	enc, err := s.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := s.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec.([]byte), v) {
		t.Fatalf("round trip got %v, want %v", dec, v)
	}
}

func TestBytesSerializerRejectsWrongLength(t *testing.T) {
	s := BytesSerializer{KeySize: 4}
	if _, err := s.Encode([]byte{1, 2}); err == nil {
		t.Fatal("expected error encoding a short key")
	}
}
