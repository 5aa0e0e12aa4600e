package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// FileStore implements Store as one JSON file per row under baseDir, with a
// counter file for the derivation index and a donations subdirectory for
// the ledger. Thread-safety is a single mutex guarding all file operations,
// the same granularity the teacher's filestore used for its payment files.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	logger  *log.Logger

	// readFile/writeFile are the row (de)serialization boundary.
	// EncryptedFileStore overrides these to wrap them with AES-GCM;
	// plain FileStore uses os.ReadFile/os.WriteFile directly.
	readFile  func(name string) ([]byte, error)
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewFileStore creates a filesystem-based Store rooted at base (created
// with 0700 permissions if missing). An empty base defaults to
// "./pending-payments".
func NewFileStore(base string, logger *log.Logger) (*FileStore, error) {
	if base == "" {
		base = "./pending-payments"
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Join(base, "donations"), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{
		baseDir:   base,
		logger:    logger,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
	}, nil
}

func (f *FileStore) pendingPath(address string) string {
	return filepath.Join(f.baseDir, address+".json")
}

func (f *FileStore) donationPath(paymentID string) string {
	return filepath.Join(f.baseDir, "donations", paymentID+".json")
}

func (f *FileStore) counterPath() string {
	return filepath.Join(f.baseDir, "counter.json")
}

func (f *FileStore) readPending(address string) (*PendingPayment, error) {
	data, err := f.readFile(f.pendingPath(address))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var p PendingPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending payment %s: %w", address, err)
	}
	return &p, nil
}

func (f *FileStore) writePending(p *PendingPayment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending payment: %w", err)
	}
	return f.writeFile(f.pendingPath(p.Address), data, 0o600)
}

func (f *FileStore) GetNextDerivationIndex() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var counter struct {
		Next uint32 `json:"next_derivation_index"`
	}
	data, err := f.readFile(f.counterPath())
	if err == nil {
		if err := json.Unmarshal(data, &counter); err != nil {
			return 0, fmt.Errorf("unmarshal counter: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	prior := counter.Next
	counter.Next++

	out, err := json.Marshal(counter)
	if err != nil {
		return 0, err
	}
	if err := f.writeFile(f.counterPath(), out, 0o600); err != nil {
		return 0, fmt.Errorf("persist counter: %w", err)
	}
	return prior, nil
}

func (f *FileStore) CreatePending(p *PendingPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.readPending(p.Address)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAddressExists
	}
	return f.writePending(p)
}

func (f *FileStore) CheckExistingSession(sessionID string, amountUSD float64) (*PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows, err := f.allPending()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, p := range rows {
		if p.SessionID != sessionID || p.ExpectedAmountUSD != amountUSD {
			continue
		}
		if p.IsTerminal() {
			continue
		}
		if p.Status == StatusInitialized && now.After(p.ExpiresAt) {
			continue
		}
		return p, nil
	}
	return nil, nil
}

func (f *FileStore) ValidateSessionOwns(sessionID, address string) (*PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.readPending(address)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.SessionID != sessionID {
		return nil, ErrNotOwned
	}
	if p.Status == StatusInitialized && time.Now().After(p.ExpiresAt) {
		return nil, ErrExpired
	}
	return p, nil
}

func (f *FileStore) GetByAddress(address string) (*PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readPending(address)
}

func (f *FileStore) AttachTx(address, txid string, detectedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.readPending(address)
	if err != nil {
		return err
	}
	if p == nil {
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
	return f.writePending(p)
}

func (f *FileStore) SetStatus(address string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.readPending(address)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	p.Status = status
	return f.writePending(p)
}

func (f *FileStore) MarkExpired(address, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.readPending(address)
	if err != nil {
		return err
	}
	if p == nil || p.SessionID != sessionID || p.Status != StatusInitialized {
		return nil
	}
	p.Status = StatusExpired
	return f.writePending(p)
}

func (f *FileStore) CreateDonation(d *Donation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.donationPath(d.PaymentID)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("marshal donation: %w", err)
	}
	if err := f.writeFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write donation: %w", err)
	}
	return true, nil
}

func (f *FileStore) ListExpiring(cutoff time.Time) ([]*PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows, err := f.allPending()
	if err != nil {
		return nil, err
	}

	var out []*PendingPayment
	for _, p := range rows {
		if p.IsTerminal() {
			continue
		}
		if !p.ExpiresAt.After(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FileStore) DeleteConfirmed() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows, err := f.allPending()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range rows {
		if p.Status == StatusConfirmed {
			if err := os.Remove(f.pendingPath(p.Address)); err != nil && !os.IsNotExist(err) {
				f.logger.Warn("failed to delete confirmed row", "address", p.Address, "err", err)
				continue
			}
			count++
		}
	}
	return count, nil
}

func (f *FileStore) DeleteExpiredBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rows, err := f.allPending()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range rows {
		if p.Status == StatusExpired && p.CreatedAt.Before(cutoff) {
			if err := os.Remove(f.pendingPath(p.Address)); err != nil && !os.IsNotExist(err) {
				f.logger.Warn("failed to delete expired row", "address", p.Address, "err", err)
				continue
			}
			count++
		}
	}
	return count, nil
}

// allPending scans baseDir for pending-payment JSON files. Caller must
// already hold f.mu.
func (f *FileStore) allPending() ([]*PendingPayment, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, err
	}

	var rows []*PendingPayment
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if entry.Name() == "counter.json" {
			continue
		}
		data, err := f.readFile(filepath.Join(f.baseDir, entry.Name()))
		if err != nil {
			f.logger.Warn("skipping unreadable pending payment file", "file", entry.Name(), "err", err)
			continue
		}
		var p PendingPayment
		if err := json.Unmarshal(data, &p); err != nil {
			f.logger.Warn("skipping malformed pending payment file", "file", entry.Name(), "err", err)
			continue
		}
		rows = append(rows, &p)
	}
	return rows, nil
}

var _ Store = (*FileStore)(nil)
