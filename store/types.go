// Package store holds the pending-payment and donation ledger: the source
// of truth for in-flight Bitcoin payment attempts and confirmed donations.
package store

import (
	"errors"
	"time"
)

// Status is a PendingPayment's position in its lifecycle state machine.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusExpired     Status = "expired"
)

// Errors returned by Store operations. The orchestrator package maps
// ErrNotOwned, ErrExpired and ErrNotFound to its own error codes without
// wrapping them.
var (
	ErrNotOwned       = errors.New("store: session does not own this address")
	ErrExpired        = errors.New("store: pending payment window has closed")
	ErrAddressExists  = errors.New("store: a pending payment already exists for this address")
	ErrNotFound       = errors.New("store: no such row")
)

// Metadata is the optional donor-supplied context on a PendingPayment.
type Metadata struct {
	PlayerName    string `json:"player_name,omitempty"`
	UsePlayerName bool   `json:"use_player_name,omitempty"`
	Message       string `json:"message,omitempty"`
}

// PendingPayment is an in-flight attempt to receive a Bitcoin donation at a
// derived address.
type PendingPayment struct {
	SessionID         string     `json:"session_id"`
	Address           string     `json:"address"`
	ExpectedAmountBTC float64    `json:"expected_amount_btc"`
	ExpectedAmountUSD float64    `json:"expected_amount_usd"`
	ExchangeRate      float64    `json:"exchange_rate"`
	DerivationIndex   uint32     `json:"derivation_index"`
	Metadata          Metadata   `json:"metadata"`
	Status            Status     `json:"status"`
	TxID              string     `json:"txid,omitempty"`
	DetectedAt        *time.Time `json:"detected_at,omitempty"`
	ScheduledJobID    string     `json:"scheduled_job_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
}

// IsTerminal reports whether status will never change again.
func (p *PendingPayment) IsTerminal() bool {
	return p.Status == StatusConfirmed || p.Status == StatusExpired
}

// Donation is a terminal ledger record: a Bitcoin payment that completed.
// Never updated or deleted once inserted.
type Donation struct {
	ID            string    `json:"id"`
	AmountUSD     float64   `json:"amount_usd"`
	DisplayName   string    `json:"display_name"`
	PaymentID     string    `json:"payment_id"` // == address, for Bitcoin
	PaymentMethod string    `json:"payment_method"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DonationView is the wire-facing projection of Donation: payment_id,
// payment_method, and created_at are never exposed to browsers.
type DonationView struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Amount      float64 `json:"amount"`
}

// View projects a Donation to its public wire shape.
func (d *Donation) View() DonationView {
	return DonationView{ID: d.ID, DisplayName: d.DisplayName, Amount: d.AmountUSD}
}

const PaymentMethodBitcoin = "bitcoin"

// Store is the Pending Payment Store + Donation ledger contract. All
// mutations are atomic with respect to the preconditions documented on
// each method.
type Store interface {
	// GetNextDerivationIndex atomically reads and increments the
	// singleton derivation counter, returning the prior value.
	GetNextDerivationIndex() (uint32, error)

	// CreatePending inserts a new row with the Status it carries (the
	// store does not set or check it; GenerateAddress passes initialized).
	// Fails with ErrAddressExists if a row with the same address exists.
	CreatePending(p *PendingPayment) error

	// CheckExistingSession returns the unexpired row matching
	// (sessionID, amountUSD), or nil if none exists. Used for
	// GenerateAddress idempotency.
	CheckExistingSession(sessionID string, amountUSD float64) (*PendingPayment, error)

	// ValidateSessionOwns returns the row if it exists, belongs to
	// sessionID, and (when still initialized) has not expired.
	// Otherwise returns ErrNotFound, ErrNotOwned or ErrExpired.
	ValidateSessionOwns(sessionID, address string) (*PendingPayment, error)

	// GetByAddress returns the row for address, or nil if none exists.
	GetByAddress(address string) (*PendingPayment, error)

	// AttachTx sets txid and detectedAt, upgrading initialized to
	// pending. No-op if the row is already pending with the same txid.
	AttachTx(address, txid string, detectedAt time.Time) error

	// SetStatus unconditionally updates status, used for terminal
	// transitions.
	SetStatus(address string, status Status) error

	// MarkExpired transitions an initialized row owned by sessionID to
	// expired. No-op otherwise.
	MarkExpired(address, sessionID string) error

	// CreateDonation inserts a donation if none exists with
	// payment_id == address, returning true on insert and false if one
	// already existed (idempotent no-op).
	CreateDonation(d *Donation) (bool, error)

	// ListExpiring returns initialized/pending rows whose expiresAt is
	// at or before cutoff, for hourly cleanup.
	ListExpiring(cutoff time.Time) ([]*PendingPayment, error)

	// DeleteConfirmed removes every confirmed row (the Donation is the
	// authoritative record once a row reaches that state).
	DeleteConfirmed() (int, error)

	// DeleteExpiredBefore removes every expired row whose CreatedAt
	// predates cutoff (the 7-day retention window).
	DeleteExpiredBefore(cutoff time.Time) (int, error)
}
