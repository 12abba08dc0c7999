package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(PoolPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(PoolPrefix)) {
		t.Fatalf("encoded address missing prefix: %s", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), raw)
	}
	if decoded.Prefix() != PoolPrefix {
		t.Fatalf("unexpected prefix %s", decoded.Prefix())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatal("expected error for invalid encoding")
	}
}

func TestIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatal("empty address must be zero")
	}
	if !NewAddress(PoolPrefix, make([]byte, 20)).IsZero() {
		t.Fatal("all-zero address must be zero")
	}
	raw := make([]byte, 20)
	raw[19] = 1
	if NewAddress(PoolPrefix, raw).IsZero() {
		t.Fatal("non-zero address must not be zero")
	}
}

func TestKeyDerivesPoolAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != PoolPrefix {
		t.Fatalf("unexpected prefix %s", addr.Prefix())
	}
	if addr.IsZero() {
		t.Fatal("derived address must not be zero")
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.PubKey().Address().Equal(addr) {
		t.Fatal("restored key must derive the same address")
	}
}
