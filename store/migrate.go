package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MigrateToEncrypted re-persists every row in a plaintext FileStore through
// an EncryptedFileStore, then removes the plaintext originals. Intended as
// a one-time operator task when turning encryption on for an existing
// deployment.
func MigrateToEncrypted(plain *FileStore, encrypted *EncryptedFileStore) (int, error) {
	plain.mu.Lock()
	rows, err := plain.allPending()
	plain.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read plaintext rows: %w", err)
	}

	migrated := 0
	for _, p := range rows {
		if err := encrypted.CreatePending(p); err != nil {
			if err == ErrAddressExists {
				continue
			}
			return migrated, fmt.Errorf("migrate %s: %w", p.Address, err)
		}
		if err := os.Remove(plain.pendingPath(p.Address)); err != nil && !os.IsNotExist(err) {
			return migrated, fmt.Errorf("remove plaintext row %s: %w", p.Address, err)
		}
		migrated++
	}

	donationsDir := filepath.Join(plain.baseDir, "donations")
	entries, err := os.ReadDir(donationsDir)
	if err != nil {
		return migrated, fmt.Errorf("read plaintext donations: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(donationsDir, entry.Name()))
		if err != nil {
			return migrated, fmt.Errorf("read donation %s: %w", entry.Name(), err)
		}
		var d Donation
		if err := json.Unmarshal(data, &d); err != nil {
			return migrated, fmt.Errorf("unmarshal donation %s: %w", entry.Name(), err)
		}
		if _, err := encrypted.CreateDonation(&d); err != nil {
			return migrated, fmt.Errorf("migrate donation %s: %w", d.PaymentID, err)
		}
		if err := os.Remove(filepath.Join(donationsDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return migrated, fmt.Errorf("remove plaintext donation %s: %w", entry.Name(), err)
		}
	}

	return migrated, nil
}
