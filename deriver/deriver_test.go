package deriver

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"
)

// buildExtendedKey assembles a valid base58check BIP32 extended-key string
// from its raw fields, for use as test fixtures. It mirrors the encoding
// Base58CheckDecode expects to reverse.
func buildExtendedKey(t *testing.T, version uint32, depth byte, chainCode, keyData [32]byte) string {
	t.Helper()

	payload := make([]byte, 0, 78)
	versionBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(versionBytes, version)
	payload = append(payload, versionBytes...)
	payload = append(payload, depth)
	payload = append(payload, 0, 0, 0, 0) // parent fingerprint
	payload = append(payload, 0, 0, 0, 0) // child number
	payload = append(payload, chainCode[:]...)
	payload = append(payload, 0x00)
	payload = append(payload, keyData[:]...)

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(payload, second[:4]...)

	return Base58Encode(full)
}

func fixedBytes32(seed byte) [32]byte {
	var b [32]byte
	for i := range b {
		b[i] = seed + byte(i)
	}
	// Keep the scalar well below curve order.
	b[0] = 0x01
	return b
}

func TestDeriveDeterministic(t *testing.T) {
	chainCode := fixedBytes32(0x10)
	keyData := fixedBytes32(0x20)
	key := buildExtendedKey(t, versionZprv, 0, chainCode, keyData)

	addr1, err := Derive(key, 0, Mainnet)
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	addr2, err := Derive(key, 0, Mainnet)
	if err != nil {
		t.Fatalf("Derive returned error on second call: %v", err)
	}
	if addr1 != addr2 {
		t.Fatalf("Derive is not deterministic: %q != %q", addr1, addr2)
	}
	if !strings.HasPrefix(addr1, "bc1") {
		t.Fatalf("mainnet address missing bc1 prefix: %q", addr1)
	}
}

func TestDeriveDistinctIndices(t *testing.T) {
	chainCode := fixedBytes32(0x11)
	keyData := fixedBytes32(0x21)
	key := buildExtendedKey(t, versionZprv, 0, chainCode, keyData)

	seen := make(map[string]bool)
	for i := uint32(0); i < 20; i++ {
		addr, err := Derive(key, i, Mainnet)
		if err != nil {
			t.Fatalf("Derive(%d) failed: %v", i, err)
		}
		if seen[addr] {
			t.Fatalf("index %d produced a duplicate address %q", i, addr)
		}
		seen[addr] = true
	}
}

func TestDeriveTestnetHRP(t *testing.T) {
	chainCode := fixedBytes32(0x12)
	keyData := fixedBytes32(0x22)
	key := buildExtendedKey(t, versionVprv, 0, chainCode, keyData)

	addr, err := Derive(key, 0, Testnet)
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if !strings.HasPrefix(addr, "tb1") {
		t.Fatalf("testnet address missing tb1 prefix: %q", addr)
	}
}

func TestDeriveWrongNetworkVersion(t *testing.T) {
	chainCode := fixedBytes32(0x13)
	keyData := fixedBytes32(0x23)
	key := buildExtendedKey(t, versionVprv, 0, chainCode, keyData)

	if _, err := Derive(key, 0, Mainnet); err == nil {
		t.Fatal("expected error deriving mainnet address from a vprv key")
	}
}

func TestDeriveInvalidDepth(t *testing.T) {
	chainCode := fixedBytes32(0x14)
	keyData := fixedBytes32(0x24)
	key := buildExtendedKey(t, versionZprv, 7, chainCode, keyData)

	if _, err := Derive(key, 0, Mainnet); err == nil {
		t.Fatal("expected error deriving from a depth-7 key")
	}
}

func TestDeriveDepthVariants(t *testing.T) {
	chainCode := fixedBytes32(0x15)
	keyData := fixedBytes32(0x25)

	for depth := byte(0); depth <= 3; depth++ {
		key := buildExtendedKey(t, versionZprv, depth, chainCode, keyData)
		addr, err := Derive(key, 0, Mainnet)
		if err != nil {
			t.Fatalf("depth %d: Derive failed: %v", depth, err)
		}
		if !strings.HasPrefix(addr, "bc1") {
			t.Fatalf("depth %d: address missing bc1 prefix: %q", depth, addr)
		}
	}
}

func TestDeriveMalformedKey(t *testing.T) {
	if _, err := Derive("not-a-valid-key", 0, Mainnet); err == nil {
		t.Fatal("expected error for malformed extended key")
	}
}

func TestDeriveBadChecksum(t *testing.T) {
	chainCode := fixedBytes32(0x16)
	keyData := fixedBytes32(0x26)
	key := buildExtendedKey(t, versionZprv, 0, chainCode, keyData)
	// Flip the final character to corrupt the checksum.
	corrupted := key[:len(key)-1] + "9"
	if corrupted == key {
		corrupted = key[:len(key)-1] + "8"
	}

	if _, err := Derive(corrupted, 0, Mainnet); err == nil {
		t.Fatal("expected checksum validation to reject a corrupted key")
	}
}
