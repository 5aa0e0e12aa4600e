package store

import (
	"sync"
	"time"
)

// MemStore is an in-process Store backed by mutex-guarded maps. Suitable
// for tests and single-process deployments; state does not survive a
// restart.
type MemStore struct {
	mu sync.Mutex

	nextIndex uint32
	pending   map[string]*PendingPayment // by address
	donations map[string]*Donation       // by payment_id
}

// NewMemStore returns an empty, ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		pending:   make(map[string]*PendingPayment),
		donations: make(map[string]*Donation),
	}
}

func (m *MemStore) GetNextDerivationIndex() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior := m.nextIndex
	m.nextIndex++
	return prior, nil
}

func (m *MemStore) CreatePending(p *PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[p.Address]; exists {
		return ErrAddressExists
	}
	cp := *p
	m.pending[p.Address] = &cp
	return nil
}

func (m *MemStore) CheckExistingSession(sessionID string, amountUSD float64) (*PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, p := range m.pending {
		if p.SessionID != sessionID || p.ExpectedAmountUSD != amountUSD {
			continue
		}
		if p.Status == StatusInitialized && now.After(p.ExpiresAt) {
			continue
		}
		if p.IsTerminal() {
			continue
		}
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MemStore) ValidateSessionOwns(sessionID, address string) (*PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[address]
	if !ok {
		return nil, ErrNotFound
	}
	if p.SessionID != sessionID {
		return nil, ErrNotOwned
	}
	if p.Status == StatusInitialized && time.Now().After(p.ExpiresAt) {
		return nil, ErrExpired
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) GetByAddress(address string) (*PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[address]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) AttachTx(address, txid string, detectedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[address]
	if !ok {
		return ErrNotFound
	}
	if p.Status == StatusPending && p.TxID == txid {
		return nil
	}
	p.TxID = txid
	dt := detectedAt
	p.DetectedAt = &dt
	if p.Status == StatusInitialized {
		p.Status = StatusPending
	}
	return nil
}

func (m *MemStore) SetStatus(address string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[address]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *MemStore) MarkExpired(address, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[address]
	if !ok || p.SessionID != sessionID || p.Status != StatusInitialized {
		return nil
	}
	p.Status = StatusExpired
	return nil
}

func (m *MemStore) CreateDonation(d *Donation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.donations[d.PaymentID]; exists {
		return false, nil
	}
	cp := *d
	m.donations[d.PaymentID] = &cp
	return true, nil
}

func (m *MemStore) ListExpiring(cutoff time.Time) ([]*PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []*PendingPayment
	for _, p := range m.pending {
		if p.IsTerminal() {
			continue
		}
		if !p.ExpiresAt.After(cutoff) {
			cp := *p
			rows = append(rows, &cp)
		}
	}
	return rows, nil
}

func (m *MemStore) DeleteConfirmed() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for addr, p := range m.pending {
		if p.Status == StatusConfirmed {
			delete(m.pending, addr)
			count++
		}
	}
	return count, nil
}

func (m *MemStore) DeleteExpiredBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for addr, p := range m.pending {
		if p.Status == StatusExpired && p.CreatedAt.Before(cutoff) {
			delete(m.pending, addr)
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemStore)(nil)
