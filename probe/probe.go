// Package probe queries public blockchain explorers for inbound payments to
// a given address and normalizes the result into a ProbeResult.
package probe

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// ResultKind discriminates the ProbeResult tagged union.
type ResultKind int

const (
	// ApiFailed means all explorers were unreachable or returned malformed data.
	ApiFailed ResultKind = iota
	// NoPayment means an explorer responded but no tx credits this address.
	NoPayment
	// Pending means a transaction is seen in the mempool only (0 confirmations).
	Pending
	// Confirmed means the transaction is included in a block.
	Confirmed
)

// ProbeResult is the outcome of a single Probe call. Kind discriminates
// which of TxID/AmountBTC/Confirmations are meaningful; callers must not
// read the payload fields without checking Kind first.
type ProbeResult struct {
	Kind          ResultKind
	TxID          string
	AmountBTC     float64
	Confirmations int64
}

// Network selects which explorer endpoints and confirmation thresholds apply.
type Network int

const (
	Mainnet Network = iota
	Testnet
)

// RequiredConfirmations returns the confirmation count that promotes a
// Confirmed result to spendable/donation-eligible: 3 for mainnet, 6 for
// testnet (testnet blocks are cheap to produce, so the bar is set higher).
func RequiredConfirmations(network Network) int64 {
	if network == Testnet {
		return 6
	}
	return 3
}

const requestTimeout = 8 * time.Second

// Prober queries explorers for payment state at an address.
type Prober struct {
	network  Network
	primary  explorerClient
	fallback explorerClient // nil on testnet: blockstream.info is mainnet-only
	logger   *log.Logger
}

// New builds a Prober wired to mempool.space (primary) and, on mainnet,
// blockstream.info (fallback).
func New(network Network, logger *log.Logger) *Prober {
	if logger == nil {
		logger = log.Default()
	}

	var primaryBase string
	if network == Testnet {
		primaryBase = "https://mempool.space/testnet4/api"
	} else {
		primaryBase = "https://mempool.space/api"
	}

	p := &Prober{
		network: network,
		primary: newMempoolClient(primaryBase),
		logger:  logger,
	}
	if network == Mainnet {
		p.fallback = newBlockstreamClient("https://blockstream.info/api")
	}
	return p
}

// Probe queries the configured explorers for address, primary first, then
// the mainnet-only fallback if the primary reports ApiFailed.
func (p *Prober) Probe(ctx context.Context, address string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result := p.probeWith(ctx, p.primary, address)
	if result.Kind != ApiFailed || p.fallback == nil {
		return result
	}

	p.logger.Warn("primary explorer failed, trying fallback", "address", address)
	return p.probeWith(ctx, p.fallback, address)
}

// probeWith fetches address info and the most recent transactions from a
// single explorer client and normalizes them into a ProbeResult.
func (p *Prober) probeWith(ctx context.Context, client explorerClient, address string) ProbeResult {
	info, infoErr := client.addressInfo(ctx, address)
	txs, txErr := client.addressTxs(ctx, address)

	if infoErr != nil && txErr != nil {
		return ProbeResult{Kind: ApiFailed}
	}

	// Partial response: address endpoint ok, tx endpoint failed. Downgrade
	// to Pending if a positive funded balance is reported so the caller
	// keeps polling rather than treating this as no payment at all.
	if txErr != nil {
		if info != nil && info.fundedSats > 0 {
			return ProbeResult{Kind: Pending, Confirmations: 0}
		}
		return ProbeResult{Kind: ApiFailed}
	}

	if len(txs) == 0 {
		if errors.Is(infoErr, errNotFound) || infoErr == nil {
			return ProbeResult{Kind: NoPayment}
		}
		return ProbeResult{Kind: ApiFailed}
	}

	// Multiple inbound txs to the same address is anomalous (addresses are
	// single-use by design); return the most recent, log the rest.
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].seenAt() > txs[j].seenAt()
	})
	latest := txs[0]
	if len(txs) > 1 {
		p.logger.Warn("multiple transactions observed for address",
			"address", address, "count", len(txs), "using_txid", latest.TxID)
	}

	amount := latest.creditedAmountBTC(address)

	if !latest.Confirmed {
		return ProbeResult{Kind: Pending, TxID: latest.TxID, AmountBTC: amount, Confirmations: 0}
	}

	height, err := client.blockHeight(ctx)
	if err != nil {
		return ProbeResult{Kind: Pending, TxID: latest.TxID, AmountBTC: amount, Confirmations: 0}
	}

	confirmations := height - latest.BlockHeight + 1
	if confirmations < 0 {
		confirmations = 0
	}

	return ProbeResult{
		Kind:          Confirmed,
		TxID:          latest.TxID,
		AmountBTC:     amount,
		Confirmations: confirmations,
	}
}

var errNotFound = errors.New("probe: address not found")

func satsToBTC(sats int64) float64 {
	return float64(sats) / 1e8
}
