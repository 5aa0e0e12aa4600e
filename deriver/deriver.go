package deriver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/ripemd160"
)

// Network selects which BIP84 version bytes and bech32 HRP apply.
type Network int

const (
	Mainnet Network = iota
	Testnet
)

const hardenedOffset = 0x80000000

// zprv/vprv version bytes, BIP84.
const (
	versionZprv uint32 = 0x04B2430C
	versionVprv uint32 = 0x045F18BC
)

var (
	// ErrInvalidKeyFormat is returned when the extended key cannot be
	// decoded, is the wrong length, or carries a version byte that does
	// not match the requested network.
	ErrInvalidKeyFormat = errors.New("deriver: invalid extended key format")

	// ErrInvalidKeyDepth is returned when the extended key's depth byte
	// is outside the set this system knows how to derive from ({0,1,2,3}).
	ErrInvalidKeyDepth = errors.New("deriver: invalid extended key depth")

	// ErrDerivationFailure indicates a child derivation produced an
	// invalid scalar. Astronomically rare; callers should retry with
	// index+1.
	ErrDerivationFailure = errors.New("deriver: child derivation failed")
)

// extendedKey is the parsed form of a BIP32 extended private key payload
// (after base58check decoding and checksum verification).
type extendedKey struct {
	version   uint32
	depth     byte
	chainCode []byte
	keyData   []byte // 32-byte raw private key, 0x00 prefix stripped
}

func parseExtendedKey(encoded string) (*extendedKey, error) {
	payload, err := Base58CheckDecode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if len(payload) != 78 {
		return nil, fmt.Errorf("%w: expected 78-byte payload, got %d", ErrInvalidKeyFormat, len(payload))
	}

	version := binary.BigEndian.Uint32(payload[0:4])
	depth := payload[4]
	// bytes 5:9 parent fingerprint, 9:13 child number — not needed beyond parsing.
	chainCode := payload[13:45]
	keyPrefix := payload[45]
	keyData := payload[46:78]

	if keyPrefix != 0x00 {
		return nil, fmt.Errorf("%w: key data missing 0x00 prefix", ErrInvalidKeyFormat)
	}

	return &extendedKey{
		version:   version,
		depth:     depth,
		chainCode: chainCode,
		keyData:   keyData,
	}, nil
}

// Derive produces the bech32 P2WPKH receive address for the given BIP84
// extended private key at the given index, under m/84'/0'/0'/0/{index}
// (or the appropriate suffix thereof, depending on the key's depth).
//
// extKey must be a zprv (mainnet) or vprv (testnet) string matching
// network. Derive is pure: it performs no I/O and holds no state between
// calls.
func Derive(extKey string, index uint32, network Network) (string, error) {
	parsed, err := parseExtendedKey(extKey)
	if err != nil {
		return "", err
	}

	switch network {
	case Mainnet:
		if parsed.version != versionZprv {
			return "", fmt.Errorf("%w: version byte does not match mainnet zprv", ErrInvalidKeyFormat)
		}
	case Testnet:
		if parsed.version != versionVprv {
			return "", fmt.Errorf("%w: version byte does not match testnet vprv", ErrInvalidKeyFormat)
		}
	default:
		return "", fmt.Errorf("%w: unknown network", ErrInvalidKeyFormat)
	}

	key, chainCode := parsed.keyData, parsed.chainCode

	var accountPath []uint32
	switch parsed.depth {
	case 0:
		accountPath = []uint32{84 | hardenedOffset, 0 | hardenedOffset, 0 | hardenedOffset}
	case 1:
		// Electrum quirk: a depth-1 key is already positioned at the
		// account level, so no further hardened derivation is applied.
		accountPath = nil
	case 2:
		accountPath = []uint32{0 | hardenedOffset}
	case 3:
		accountPath = nil
	default:
		return "", fmt.Errorf("%w: depth %d", ErrInvalidKeyDepth, parsed.depth)
	}

	var derivErr error
	for _, segment := range accountPath {
		key, chainCode, derivErr = ckdPriv(key, chainCode, segment)
		if derivErr != nil {
			return "", fmt.Errorf("%w: %v", ErrDerivationFailure, derivErr)
		}
	}

	// external chain (receiving), then the requested address index.
	key, chainCode, derivErr = ckdPriv(key, chainCode, 0)
	if derivErr != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, derivErr)
	}
	key, chainCode, derivErr = ckdPriv(key, chainCode, index)
	if derivErr != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, derivErr)
	}

	privKey, _ := btcec.PrivKeyFromBytes(key)
	pubKey := privKey.PubKey().SerializeCompressed()

	witnessProgram := hash160(pubKey)

	hrp := chaincfg.MainNetParams.Bech32HRPSegwit
	if network == Testnet {
		hrp = chaincfg.TestNet3Params.Bech32HRPSegwit
	}

	return encodeP2WPKH(hrp, witnessProgram)
}

// ckdPriv implements BIP32 CKDpriv: derive a child private key and chain
// code from a parent private key, chain code, and child index. Indices at
// or above hardenedOffset use hardened derivation.
func ckdPriv(key, chainCode []byte, index uint32) ([]byte, []byte, error) {
	var data []byte
	if index >= hardenedOffset {
		data = append([]byte{0x00}, key...)
	} else {
		privKey, _ := btcec.PrivKeyFromBytes(key)
		data = privKey.PubKey().SerializeCompressed()
	}

	indexBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(indexBytes, index)
	data = append(data, indexBytes...)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	childKey := sum[:32]
	childChainCode := sum[32:]

	parentInt := new(big.Int).SetBytes(key)
	childInt := new(big.Int).SetBytes(childKey)
	curveOrder := btcec.S256().N

	childInt.Add(childInt, parentInt)
	childInt.Mod(childInt, curveOrder)

	if childInt.Sign() == 0 {
		return nil, nil, errors.New("derived scalar is zero")
	}

	childKeyBytes := make([]byte, 32)
	childIntBytes := childInt.Bytes()
	copy(childKeyBytes[32-len(childIntBytes):], childIntBytes)

	return childKeyBytes, childChainCode, nil
}

func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}

// encodeP2WPKH bech32-encodes a witness version 0 program (HASH160 of a
// compressed public key) per BIP173.
func encodeP2WPKH(hrp string, program []byte) (string, error) {
	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	data := append([]byte{0x00}, converted...)
	addr, err := bech32.Encode(hrp, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return addr, nil
}
