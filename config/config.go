// Package config loads the process-wide configuration the payment core
// needs at startup: network selection, the master extended private key,
// and the site URL (carried on Config; no package in this module reads
// it). Loaded once and
// passed into constructors as an immutable value, per the source
// material's design note against global mutable config.
package config

import (
	"fmt"
	"os"

	"github.com/opd-ai/btcdonate/probe"
)

// Config is the validated, process-wide configuration for one run of the
// payment core.
type Config struct {
	Network  probe.Network
	MasterKey secretString
	SiteURL  string
}

// secretString formats as "[redacted]" under both %v/%s and %#v so a
// stray log.Info("config", "cfg", cfg) or fmt.Printf("%#v", cfg) never
// leaks the master key into logs or crash dumps.
type secretString string

func (s secretString) String() string  { return "[redacted]" }
func (s secretString) GoString() string { return "[redacted]" }

// Value returns the underlying secret. Callers must not log or persist
// the result.
func (s secretString) Value() string { return string(s) }

// Load reads BITCOIN_NETWORK, BITCOIN_MASTER_ZPRV/BITCOIN_MASTER_VPRV, and
// SITE_URL from the environment and validates their shape.
func Load() (*Config, error) {
	networkName := os.Getenv("BITCOIN_NETWORK")

	var network probe.Network
	var keyEnvVar string
	switch networkName {
	case "mainnet":
		network = probe.Mainnet
		keyEnvVar = "BITCOIN_MASTER_ZPRV"
	case "testnet":
		network = probe.Testnet
		keyEnvVar = "BITCOIN_MASTER_VPRV"
	case "":
		return nil, fmt.Errorf("config: BITCOIN_NETWORK is required (mainnet or testnet)")
	default:
		return nil, fmt.Errorf("config: BITCOIN_NETWORK must be mainnet or testnet, got %q", networkName)
	}

	key, ok := os.LookupEnv(keyEnvVar)
	if !ok || key == "" {
		return nil, fmt.Errorf("config: %s is required when BITCOIN_NETWORK=%s", keyEnvVar, networkName)
	}

	siteURL := os.Getenv("SITE_URL")

	return &Config{
		Network:   network,
		MasterKey: secretString(key),
		SiteURL:   siteURL,
	}, nil
}
