package hamt

import (
	"bytes"
	"testing"
)

func TestLeafCodecRoundTrip(t *testing.T) {
	codec := DefaultLeafCodec{}
	encoded := codec.Encode([]byte("hello"), []byte("world"))

	key, value, err := codec.Decode(encoded[leafRecordLengthSize:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(key, []byte("hello")) {
		t.Fatalf("expected key 'hello', got %q", key)
	}
	if !bytes.Equal(value, []byte("world")) {
		t.Fatalf("expected value 'world', got %q", value)
	}
}

func TestReadWriteLeaf(t *testing.T) {
	db := newMemDatabase()
	codec := DefaultLeafCodec{}

	addr, err := writeLeaf(db, codec, []byte("k"), []byte("v"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key, value, err := readLeaf(db, codec, addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(key, []byte("k")) || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("expected (k,v), got (%q,%q)", key, value)
	}
}

func TestHeaderBlockEncodeDecode(t *testing.T) {
	hb := &HeaderBlock{Size: 7, Root: refFromBranchAddress(256)}
	buf := encodeHeaderBlock(hb)

	decoded, err := decodeHeaderBlock(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Size != 7 {
		t.Fatalf("expected size 7, got %d", decoded.Size)
	}
	if decoded.Root != hb.Root {
		t.Fatalf("expected root %v, got %v", hb.Root, decoded.Root)
	}
}

func TestHeaderBlockRejectsBadSignature(t *testing.T) {
	buf := encodeHeaderBlock(&HeaderBlock{Size: 1, Root: refFromAddress(8)})
	buf[0] = 'X'

	if _, err := decodeHeaderBlock(buf); err == nil {
		t.Fatalf("expected signature mismatch error")
	}
}
