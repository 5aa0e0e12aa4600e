// Package deriver implements BIP84 hierarchical-deterministic derivation of
// native SegWit (P2WPKH) Bitcoin addresses from a BIP84 extended private key.
package deriver

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

// base58Alphabet defines the characters used in Bitcoin's base58 encoding scheme,
// excluding similar-looking characters (0OIl) to prevent visual ambiguity.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Base58Encode converts a byte slice into a base58-encoded string using Bitcoin's alphabet.
func Base58Encode(input []byte) string {
	x := new(big.Int)
	x.SetBytes(input)

	base := big.NewInt(58)
	zero := big.NewInt(0)
	mod := new(big.Int)
	var result []byte

	for x.Cmp(zero) > 0 {
		x.DivMod(x, base, mod)
		result = append(result, base58Alphabet[mod.Int64()])
	}

	for _, b := range input {
		if b != 0 {
			break
		}
		result = append(result, base58Alphabet[0])
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return string(result)
}

// Base58Decode converts a base58-encoded string back into bytes. It does not
// verify a checksum; use Base58CheckDecode for extended-key payloads.
func Base58Decode(input string) ([]byte, error) {
	result := big.NewInt(0)
	for _, r := range input {
		pos := strings.IndexRune(base58Alphabet, r)
		if pos == -1 {
			return nil, errors.New("invalid base58 character")
		}
		result.Mul(result, big.NewInt(58))
		result.Add(result, big.NewInt(int64(pos)))
	}

	decoded := result.Bytes()

	for i := 0; i < len(input); i++ {
		if input[i] != '1' {
			break
		}
		decoded = append([]byte{0}, decoded...)
	}

	return decoded, nil
}

// Base58CheckDecode decodes a base58check string and verifies its trailing
// 4-byte double-SHA256 checksum, returning the payload with the checksum
// stripped off. Extended keys (zprv/vprv) use this encoding.
func Base58CheckDecode(input string) ([]byte, error) {
	full, err := Base58Decode(input)
	if err != nil {
		return nil, err
	}
	if len(full) < 5 {
		return nil, errors.New("base58check input too short")
	}

	payload := full[:len(full)-4]
	checksum := full[len(full)-4:]

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	if !bytes.Equal(checksum, second[:4]) {
		return nil, errors.New("base58check checksum mismatch")
	}

	return payload, nil
}
