// Package monitor implements the self-rescheduling job that watches a
// single donation address until it reaches a terminal state, grounded on
// the teacher's CryptoChainMonitor polling loop but restructured as one
// self-rescheduling task per address, re-enqueued through
// scheduler.RunAfter after every non-terminal check, instead of one sweep
// over every row.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/opd-ai/btcdonate/probe"
	"github.com/opd-ai/btcdonate/scheduler"
	"github.com/opd-ai/btcdonate/store"
)

const (
	recheckInterval = 10 * time.Second
	amountTolerance = 1e-5 // BTC
)

// Monitor watches pending payments and drives them to confirmed or
// expired. It holds no per-address state of its own; every invocation
// re-reads the row, which is what makes concurrent access from
// CheckPayment safe (see package store's idempotent CreateDonation).
type Monitor struct {
	store   store.Store
	prober  *probe.Prober
	sched   scheduler.Scheduler
	logger  *log.Logger
	network probe.Network
	minUSD  float64
	maxUSD  float64
}

// New returns a Monitor wired to the given dependencies. minUSD/maxUSD
// bound the donation amount accepted when a confirmed payment is about
// to be recorded, mirroring the GenerateAddress validation bounds so a
// price swing between quote and confirmation cannot smuggle an
// out-of-policy amount into the ledger.
func New(st store.Store, prober *probe.Prober, sched scheduler.Scheduler, network probe.Network, minUSD, maxUSD float64, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		store:   st,
		prober:  prober,
		sched:   sched,
		logger:  logger,
		network: network,
		minUSD:  minUSD,
		maxUSD:  maxUSD,
	}
}

// Schedule enqueues the first check for address, recheckInterval from
// now. GenerateAddress calls this immediately before CreatePending so the
// returned job id can be stored on the new row.
func (m *Monitor) Schedule(address string) scheduler.JobID {
	return m.sched.RunAfter(recheckInterval, func() { m.runOnce(address) })
}

func (m *Monitor) reschedule(address string) {
	m.sched.RunAfter(recheckInterval, func() { m.runOnce(address) })
}

// runOnce executes one pass of the algorithm: load, check terminal/expiry,
// probe, dispatch. It reschedules itself for every non-terminal outcome
// and returns without rescheduling once the row reaches confirmed or
// expired, or once an unexpected error makes further retries unsafe.
func (m *Monitor) runOnce(address string) {
	p, err := m.store.GetByAddress(address)
	if err != nil {
		m.logger.Error("monitor: failed to load pending payment", "address", address, "err", err)
		return
	}
	if p == nil {
		return
	}
	if p.IsTerminal() {
		return
	}

	now := time.Now()
	if now.After(p.ExpiresAt) {
		if err := m.store.SetStatus(address, store.StatusExpired); err != nil {
			m.logger.Error("monitor: failed to expire payment", "address", address, "err", err)
		}
		return
	}

	result := m.prober.Probe(context.Background(), address)

	switch result.Kind {
	case probe.ApiFailed, probe.NoPayment:
		m.reschedule(address)

	case probe.Pending:
		m.attachIfNew(address, p, result)
		m.reschedule(address)

	case probe.Confirmed:
		required := probe.RequiredConfirmations(m.network)
		if result.Confirmations < required {
			m.attachIfNew(address, p, result)
			m.reschedule(address)
			return
		}
		m.handleConfirmed(address, p, result)

	default:
		m.logger.Error("monitor: unexpected probe result kind", "address", address, "kind", result.Kind)
	}
}

func (m *Monitor) attachIfNew(address string, p *store.PendingPayment, result probe.ProbeResult) {
	if p.TxID == result.TxID {
		return
	}
	if err := m.store.AttachTx(address, result.TxID, time.Now()); err != nil {
		m.logger.Error("monitor: failed to attach tx", "address", address, "err", err)
	}
}

func (m *Monitor) handleConfirmed(address string, p *store.PendingPayment, result probe.ProbeResult) {
	diff := result.AmountBTC - p.ExpectedAmountBTC
	if diff < -amountTolerance {
		m.logger.Warn("monitor: underpayment detected, expiring without donation",
			"address", address, "expected_btc", p.ExpectedAmountBTC, "received_btc", result.AmountBTC)
		if err := m.store.SetStatus(address, store.StatusExpired); err != nil {
			m.logger.Error("monitor: failed to expire underpaid payment", "address", address, "err", err)
		}
		return
	}
	if diff > amountTolerance {
		m.logger.Info("monitor: overpayment accepted", "address", address,
			"expected_btc", p.ExpectedAmountBTC, "received_btc", result.AmountBTC)
	}

	amountUSD := result.AmountBTC * p.ExchangeRate
	if amountUSD < m.minUSD || amountUSD > m.maxUSD {
		m.logger.Error("monitor: confirmed amount outside donation bounds, not recording",
			"address", address, "amount_usd", amountUSD)
		return
	}

	displayName := "Anonymous"
	if p.Metadata.UsePlayerName && p.Metadata.PlayerName != "" {
		displayName = p.Metadata.PlayerName
	}

	donation := &store.Donation{
		ID:            uuid.NewString(),
		AmountUSD:     amountUSD,
		DisplayName:   displayName,
		PaymentID:     address,
		PaymentMethod: store.PaymentMethodBitcoin,
		Message:       p.Metadata.Message,
		CreatedAt:     time.Now(),
	}
	if _, err := m.store.CreateDonation(donation); err != nil {
		m.logger.Error("monitor: failed to create donation", "address", address, "err", err)
		return
	}
	if err := m.store.SetStatus(address, store.StatusConfirmed); err != nil {
		m.logger.Error("monitor: failed to mark payment confirmed", "address", address, "err", err)
	}
}
