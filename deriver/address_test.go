package deriver

import "testing"

func TestValidateAddressFormat(t *testing.T) {
	tests := []struct {
		name    string
		address string
		network Network
		wantErr bool
	}{
		{"valid mainnet", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Mainnet, false},
		{"valid testnet", "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Testnet, false},
		{"wrong prefix for network", "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Mainnet, true},
		{"too short", "bc1qar0", Mainnet, true},
		{"disallowed char b", "bc1qbr0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", Mainnet, true},
		{"disallowed char 1 in body", "bc1qa10srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", Mainnet, true},
		{"uppercase rejected", "BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4", Mainnet, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddressFormat(tt.address, tt.network)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAddressFormat(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func TestVerifyChecksumRejectsTypo(t *testing.T) {
	valid := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	if err := VerifyChecksum(valid); err != nil {
		t.Fatalf("expected valid checksum, got %v", err)
	}

	typo := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t5"
	if err := VerifyChecksum(typo); err == nil {
		t.Fatal("expected checksum verification to reject a typo'd address")
	}
}
