package withdraw

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/Fantasim/payflow/internal/db"
)

// Store records withdrawals so a failed transfer can be resumed.
type Store interface {
	CreateWithdrawal(w db.WithdrawalRow) error
	UpdateWithdrawal(id string, u db.WithdrawalUpdate) error
	GetWithdrawal(id string) (*db.WithdrawalRow, error)
}

// memStore is the Store used when no database is configured.
type memStore struct {
	mu   sync.Mutex
	rows map[string]db.WithdrawalRow
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]db.WithdrawalRow)}
}

func (m *memStore) CreateWithdrawal(w db.WithdrawalRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[w.ID]; ok {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	if w.Status == "" {
		w.Status = db.WithdrawalPending
	}
	m.rows[w.ID] = w
	return nil
}

func (m *memStore) UpdateWithdrawal(id string, u db.WithdrawalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("update withdrawal %s: %w", id, sql.ErrNoRows)
	}
	w.Status = u.Status
	w.Error = u.Error
	if u.DestinationToken != "" {
		w.DestinationToken = u.DestinationToken
	}
	if u.Delivered > 0 {
		w.Delivered = u.Delivered
	}
	if u.SwapInput > 0 {
		w.SwapInput = u.SwapInput
	}
	if u.SetupSignature != "" {
		w.SetupSignature = u.SetupSignature
	}
	if u.TransferSignature != "" {
		w.TransferSignature = u.TransferSignature
	}
	m.rows[id] = w
	return nil
}

func (m *memStore) GetWithdrawal(id string) (*db.WithdrawalRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}
