package deriver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// ErrInvalidAddress is returned by ValidateAddressFormat.
var ErrInvalidAddress = errors.New("deriver: invalid address format")

// ValidateAddressFormat performs the bech32 shape check from the address
// format rules: correct HRP for network, length bounds, and a charset that
// excludes the letters bech32 never uses. It does not require the full
// bech32 checksum to be present in the input it accepts structurally, but
// VerifyChecksum below should additionally be called before an address is
// trusted for derivation bookkeeping.
func ValidateAddressFormat(address string, network Network) error {
	if len(address) < 42 || len(address) > 90 {
		return fmt.Errorf("%w: length %d outside [42,90]", ErrInvalidAddress, len(address))
	}

	prefix := "bc1"
	if network == Testnet {
		prefix = "tb1"
	}
	if !strings.HasPrefix(address, prefix) {
		return fmt.Errorf("%w: missing prefix %q", ErrInvalidAddress, prefix)
	}

	body := address[len(prefix):]
	for _, r := range body {
		if r < 'a' || r > 'z' {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: invalid character %q", ErrInvalidAddress, r)
			}
		}
		switch r {
		case '1', 'b', 'i', 'o':
			return fmt.Errorf("%w: disallowed bech32 character %q", ErrInvalidAddress, r)
		}
	}

	return nil
}

// VerifyChecksum performs the full bech32 checksum verification the
// structural check above intentionally skips. Per the design note that
// recommends verifying the checksum before any derivation bookkeeping,
// callers that accept an address from outside this package (e.g. the
// blockchain probe, or an address submitted back by a client) should call
// this in addition to ValidateAddressFormat.
func VerifyChecksum(address string) error {
	_, _, err := bech32.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}
