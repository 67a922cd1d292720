package page

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTripLeaf(t *testing.T) {
	n := NewLeaf()
	n.Keys = [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	n.Values = [][]byte{[]byte("1"), []byte("2"), []byte("3")}

	buf, err := Encode(n, 4096)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != 4096 {
		t.Fatalf("encoded page size = %d, want 4096", len(buf))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Leaf {
		t.Fatal("decoded node should be a leaf")
	}
	if got.KeyCount() != 3 {
		t.Fatalf("KeyCount() = %d, want 3", got.KeyCount())
	}
	for i := range n.Keys {
		if !bytes.Equal(got.Keys[i], n.Keys[i]) {
			t.Errorf("key %d = %q, want %q", i, got.Keys[i], n.Keys[i])
		}
		if !bytes.Equal(got.Values[i], n.Values[i]) {
			t.Errorf("value %d = %q, want %q", i, got.Values[i], n.Values[i])
		}
	}
}

func TestEncodeDecodeRoundTripInternal(t *testing.T) {
	n := NewInternal()
	n.Keys = [][]byte{[]byte("m")}
	n.Children = []uint64{4096, 8192}

	buf, err := Encode(n, 4096)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Leaf {
		t.Fatal("decoded node should not be a leaf")
	}
	if len(got.Children) != 2 || got.Children[0] != 4096 || got.Children[1] != 8192 {
		t.Fatalf("Children = %v, want [4096 8192]", got.Children)
	}
	if !bytes.Equal(got.Keys[0], []byte("m")) {
		t.Fatalf("Keys[0] = %q, want %q", got.Keys[0], "m")
	}
}

func TestEncodeEmptyLeaf(t *testing.T) {
	n := NewLeaf()
	buf, err := Encode(n, 4096)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.KeyCount() != 0 {
		t.Fatalf("KeyCount() = %d, want 0", got.KeyCount())
	}
}

func TestEncodeNeedsSplit(t *testing.T) {
	n := NewLeaf()
	bigValue := bytes.Repeat([]byte("x"), 3000)
	for i := 0; i < 5; i++ {
		n.Keys = append(n.Keys, []byte{byte(i)})
		n.Values = append(n.Values, bigValue)
	}
	_, err := Encode(n, 4096)
	if err == nil {
		t.Fatal("expected ErrNeedsSplit, got nil")
	}
	if err != ErrNeedsSplit {
		t.Fatalf("err = %v, want ErrNeedsSplit", err)
	}
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	_, err := Decode([]byte{1})
	if err == nil {
		t.Fatal("expected an error decoding a truncated buffer")
	}
}

func TestDecodeInvalidKind(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 7
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("expected an error decoding an invalid kind tag")
	}
}

func TestEncodedSizeMatchesActualPayload(t *testing.T) {
	n := NewLeaf()
	n.Keys = [][]byte{[]byte("k1"), []byte("k2")}
	n.Values = [][]byte{[]byte("v1"), []byte("v2")}

	size := EncodedSize(n)
	buf, err := Encode(n, 4096)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Trailing bytes beyond size must be the zero fill, confirming size is
	// the true occupied prefix.
	for i := size; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d beyond EncodedSize=%d is non-zero", i, size)
		}
	}
}
