// Package orchestrator wires together the deriver, oracle, probe, store,
// monitor, and scheduler packages behind the four entry points a donation
// frontend calls: GenerateAddress, CheckPayment, MarkExpired, and the
// hourly CleanupExpired sweep.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/opd-ai/btcdonate/deriver"
	"github.com/opd-ai/btcdonate/monitor"
	"github.com/opd-ai/btcdonate/oracle"
	"github.com/opd-ai/btcdonate/probe"
	"github.com/opd-ai/btcdonate/scheduler"
	"github.com/opd-ai/btcdonate/store"
)

const (
	minDonationUSD = 1.0
	maxDonationUSD = 100000.0

	maxPlayerNameLen = 50
	maxMessageLen    = 500

	amountTolerance = 1e-5 // BTC, mirrors monitor's tolerance
)

// Orchestrator is the payment core's public surface.
type Orchestrator struct {
	store     store.Store
	oracle    *oracle.Oracle
	prober    *probe.Prober
	sched     scheduler.Scheduler
	monitor   *monitor.Monitor
	limits    *limiters
	masterKey string
	network   probe.Network
	logger    *log.Logger
}

// Deps bundles the constructor's dependencies so New's signature stays
// readable as the wiring grows.
type Deps struct {
	Store     store.Store
	Oracle    *oracle.Oracle
	Prober    *probe.Prober
	Scheduler scheduler.Scheduler
	MasterKey string
	Network   probe.Network
	Logger    *log.Logger
}

// New builds an Orchestrator and its internal Monitor, and allocates the
// named rate limiters.
func New(d Deps) (*Orchestrator, error) {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	lim, err := newLimiters()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create rate limiters: %w", err)
	}
	m := monitor.New(d.Store, d.Prober, d.Scheduler, d.Network, minDonationUSD, maxDonationUSD, d.Logger)

	return &Orchestrator{
		store:     d.Store,
		oracle:    d.Oracle,
		prober:    d.Prober,
		sched:     d.Scheduler,
		monitor:   m,
		limits:    lim,
		masterKey: d.MasterKey,
		network:   d.Network,
		logger:    d.Logger,
	}, nil
}

// GenerateAddressResult is the successful return value of GenerateAddress.
type GenerateAddressResult struct {
	Address         string
	AmountBTC       float64
	AmountUSD       float64
	ExchangeRate    float64
	DerivationIndex uint32
}

func validateMetadata(m store.Metadata) error {
	if m.PlayerName != "" {
		if len(strings.TrimSpace(m.PlayerName)) == 0 {
			return newError(CodeValidation, "player_name must not be blank if present", nil)
		}
		if len(m.PlayerName) > maxPlayerNameLen {
			return newError(CodeValidation, fmt.Sprintf("player_name exceeds %d characters", maxPlayerNameLen), nil)
		}
	}
	if m.Message != "" {
		if len(strings.TrimSpace(m.Message)) == 0 {
			return newError(CodeValidation, "message must not be blank if present", nil)
		}
		if len(m.Message) > maxMessageLen {
			return newError(CodeValidation, fmt.Sprintf("message exceeds %d characters", maxMessageLen), nil)
		}
	}
	return nil
}

// GenerateAddress derives a fresh receiving address for a donation of
// amountUSD, or returns the still-open address from an earlier identical
// call within its expiry window.
func (o *Orchestrator) GenerateAddress(ctx context.Context, amountUSD float64, sessionID string, metadata store.Metadata) (*GenerateAddressResult, error) {
	if amountUSD < minDonationUSD || amountUSD > maxDonationUSD {
		return nil, newError(CodeValidation, fmt.Sprintf("amount_usd must be between %.2f and %.2f", minDonationUSD, maxDonationUSD), nil)
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, err
	}

	// Idempotency check happens before the rate limit is consumed, so a
	// client retrying its own still-valid request never burns its budget.
	existing, err := o.store.CheckExistingSession(sessionID, amountUSD)
	if err != nil {
		return nil, newError(CodeTransient, "failed to check for an existing session", err)
	}
	if existing != nil {
		price, err := o.oracle.Price(ctx)
		if err != nil {
			return nil, newError(CodeOracleUnavailable, "no exchange rate source is currently available", err)
		}
		return &GenerateAddressResult{
			Address:         existing.Address,
			AmountBTC:       amountUSD / price,
			AmountUSD:       amountUSD,
			ExchangeRate:    price,
			DerivationIndex: existing.DerivationIndex,
		}, nil
	}

	ok, err := take(ctx, o.limits.generateAddress, sessionID)
	if err != nil {
		return nil, newError(CodeTransient, "rate limiter unavailable", err)
	}
	if !ok {
		return nil, newError(CodeRateLimited, "too many address requests; please wait before trying again", nil)
	}

	price, err := o.oracle.Price(ctx)
	if err != nil {
		return nil, newError(CodeOracleUnavailable, "no exchange rate source is currently available", err)
	}
	amountBTC := amountUSD / price

	index, err := o.store.GetNextDerivationIndex()
	if err != nil {
		return nil, newError(CodeTransient, "failed to allocate a derivation index", err)
	}

	address, err := deriver.Derive(o.masterKey, index, deriverNetwork(o.network))
	if err != nil {
		return nil, newError(CodeTransient, "failed to derive a receiving address", err)
	}

	now := time.Now()
	pending := &store.PendingPayment{
		SessionID:         sessionID,
		Address:           address,
		ExpectedAmountBTC: amountBTC,
		ExpectedAmountUSD: amountUSD,
		ExchangeRate:      price,
		DerivationIndex:   index,
		Metadata:          metadata,
		Status:            store.StatusInitialized,
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
	// Scheduling before the row is written lets the job id be persisted as
	// part of the initial insert, rather than requiring a second mutation.
	jobID := o.monitor.Schedule(address)
	pending.ScheduledJobID = string(jobID)

	if err := o.store.CreatePending(pending); err != nil {
		return nil, newError(CodeTransient, "failed to persist the new pending payment", err)
	}

	return &GenerateAddressResult{
		Address:         address,
		AmountBTC:       amountBTC,
		AmountUSD:       amountUSD,
		ExchangeRate:    price,
		DerivationIndex: index,
	}, nil
}

// CheckResult is the result of a client-initiated CheckPayment poll.
type CheckResult struct {
	Paid                 bool
	TxID                 string
	AmountBTC            float64
	Confirmations        int64
	RequiredConfirmations int64
	Donation             *store.DonationView
}

// CheckPayment lets a client poll for confirmation of its own payment.
func (o *Orchestrator) CheckPayment(ctx context.Context, address, sessionID string) (*CheckResult, error) {
	if err := deriver.ValidateAddressFormat(address, deriverNetwork(o.network)); err != nil {
		return nil, newError(CodeValidation, "malformed address", err)
	}

	p, err := o.store.ValidateSessionOwns(sessionID, address)
	if err != nil {
		switch err {
		case store.ErrNotOwned:
			return nil, newError(CodeNotOwned, "this session does not own that address", nil)
		case store.ErrExpired:
			return nil, newError(CodeExpired, "this payment window has expired", nil)
		case store.ErrNotFound:
			return nil, newError(CodeValidation, "no such pending payment", nil)
		default:
			return nil, newError(CodeTransient, "failed to validate session ownership", err)
		}
	}

	ok, err := take(ctx, o.limits.checkPayment, sessionID)
	if err != nil {
		return nil, newError(CodeTransient, "rate limiter unavailable", err)
	}
	if !ok {
		return nil, newError(CodeRateLimited, "too many status checks; please wait before trying again", nil)
	}

	result := o.prober.Probe(ctx, address)
	required := probe.RequiredConfirmations(o.network)

	switch result.Kind {
	case probe.ApiFailed, probe.NoPayment:
		return &CheckResult{Paid: false}, nil

	case probe.Pending:
		return &CheckResult{
			Paid:                  true,
			TxID:                  result.TxID,
			AmountBTC:             result.AmountBTC,
			Confirmations:         result.Confirmations,
			RequiredConfirmations: required,
		}, nil

	case probe.Confirmed:
		if result.Confirmations < required {
			return &CheckResult{
				Paid:                  true,
				TxID:                  result.TxID,
				AmountBTC:             result.AmountBTC,
				Confirmations:         result.Confirmations,
				RequiredConfirmations: required,
			}, nil
		}

		if result.AmountBTC-p.ExpectedAmountBTC < -amountTolerance {
			o.logger.Warn("underpayment observed via CheckPayment", "address", address,
				"expected_btc", p.ExpectedAmountBTC, "received_btc", result.AmountBTC)
			return nil, newError(CodeUnderpayment, "the confirmed payment is below the expected amount", nil)
		}

		// Recompute USD at the current price, not the stored rate: this is
		// the user-facing receipt, intentionally current (documented
		// divergence from the Monitor path — see DESIGN.md).
		price, err := o.oracle.Price(ctx)
		if err != nil {
			price = p.ExchangeRate
		}
		amountUSD := result.AmountBTC * price
		if amountUSD < minDonationUSD || amountUSD > maxDonationUSD {
			return nil, newError(CodeValidation, "confirmed amount falls outside donation bounds", nil)
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
		if _, err := o.store.CreateDonation(donation); err != nil {
			return nil, newError(CodeTransient, "failed to record donation", err)
		}
		if err := o.store.SetStatus(address, store.StatusConfirmed); err != nil {
			return nil, newError(CodeTransient, "failed to mark payment confirmed", err)
		}

		view := donation.View()
		return &CheckResult{
			Paid:                  true,
			TxID:                  result.TxID,
			AmountBTC:             result.AmountBTC,
			Confirmations:         result.Confirmations,
			RequiredConfirmations: required,
			Donation:              &view,
		}, nil

	default:
		return &CheckResult{Paid: false}, nil
	}
}

// MarkExpired lets a client voluntarily abandon an address it owns.
func (o *Orchestrator) MarkExpired(address, sessionID string) error {
	if err := o.store.MarkExpired(address, sessionID); err != nil {
		return newError(CodeTransient, "failed to mark payment expired", err)
	}
	return nil
}

// CleanupExpiredResult reports how many rows CleanupExpired touched.
type CleanupExpiredResult struct {
	ExpiredInitialized int
	ExpiredPending     int
	DeletedConfirmed   int
	DeletedExpired     int
}

// CleanupExpired runs the hourly sweep: expire stale initialized/pending
// rows, delete confirmed rows (the donation ledger is authoritative), and
// delete expired rows older than a week.
func (o *Orchestrator) CleanupExpired() (*CleanupExpiredResult, error) {
	now := time.Now()
	expiring, err := o.store.ListExpiring(now)
	if err != nil {
		return nil, newError(CodeTransient, "failed to list expiring payments", err)
	}

	result := &CleanupExpiredResult{}
	for _, p := range expiring {
		if err := o.store.SetStatus(p.Address, store.StatusExpired); err != nil {
			o.logger.Error("cleanup: failed to expire row", "address", p.Address, "err", err)
			continue
		}
		if p.Status == store.StatusPending {
			result.ExpiredPending++
		} else {
			result.ExpiredInitialized++
		}
	}

	deletedConfirmed, err := o.store.DeleteConfirmed()
	if err != nil {
		return result, newError(CodeTransient, "failed to delete confirmed rows", err)
	}
	result.DeletedConfirmed = deletedConfirmed

	deletedExpired, err := o.store.DeleteExpiredBefore(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		return result, newError(CodeTransient, "failed to delete old expired rows", err)
	}
	result.DeletedExpired = deletedExpired

	return result, nil
}

func deriverNetwork(n probe.Network) deriver.Network {
	if n == probe.Testnet {
		return deriver.Testnet
	}
	return deriver.Mainnet
}
