package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Withdrawal statuses.
const (
	WithdrawalPending   = "pending"
	WithdrawalSetupDone = "setup_confirmed"
	WithdrawalPartial   = "partial"
	WithdrawalCompleted = "completed"
	WithdrawalFailed    = "failed"
)

// WithdrawalRow is a row in the withdrawals table. Amounts are in token
// minor units.
type WithdrawalRow struct {
	ID                string
	Owner             string
	Destination       string
	DestinationToken  string
	Amount            uint64
	Delivered         uint64
	SwapInput         uint64
	SetupSignature    string
	TransferSignature string
	Status            string
	Error             string
	CreatedAt         string
	UpdatedAt         string
}

// CreateWithdrawal inserts a new withdrawal record.
func (d *DB) CreateWithdrawal(w WithdrawalRow) error {
	if w.Status == "" {
		w.Status = WithdrawalPending
	}

	_, err := d.conn.Exec(
		`INSERT INTO withdrawals (id, owner, destination, destination_token, amount, delivered, swap_input, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Owner, w.Destination, w.DestinationToken,
		int64(w.Amount), int64(w.Delivered), int64(w.SwapInput), w.Status,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal %s: %w", w.ID, err)
	}

	slog.Info("withdrawal recorded",
		"id", w.ID,
		"owner", w.Owner,
		"destination", w.Destination,
		"amount", w.Amount,
	)
	return nil
}

// WithdrawalUpdate carries the fields changed by a status transition. Empty
// signatures keep their stored value.
type WithdrawalUpdate struct {
	Status            string
	DestinationToken  string
	Delivered         uint64
	SwapInput         uint64
	SetupSignature    string
	TransferSignature string
	Error             string
}

// UpdateWithdrawal applies u to the withdrawal with the given id.
func (d *DB) UpdateWithdrawal(id string, u WithdrawalUpdate) error {
	result, err := d.conn.Exec(
		`UPDATE withdrawals SET
		    status = ?,
		    destination_token = COALESCE(NULLIF(?, ''), destination_token),
		    delivered = CASE WHEN ? > 0 THEN ? ELSE delivered END,
		    swap_input = CASE WHEN ? > 0 THEN ? ELSE swap_input END,
		    setup_signature = COALESCE(NULLIF(?, ''), setup_signature),
		    transfer_signature = COALESCE(NULLIF(?, ''), transfer_signature),
		    error = ?,
		    updated_at = datetime('now')
		 WHERE id = ?`,
		u.Status,
		u.DestinationToken,
		int64(u.Delivered), int64(u.Delivered),
		int64(u.SwapInput), int64(u.SwapInput),
		u.SetupSignature,
		u.TransferSignature,
		u.Error,
		id,
	)
	if err != nil {
		return fmt.Errorf("update withdrawal %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update withdrawal %s: %w", id, sql.ErrNoRows)
	}

	slog.Info("withdrawal status updated",
		"id", id,
		"status", u.Status,
	)
	return nil
}

// GetWithdrawal returns the withdrawal with the given id, or nil if absent.
func (d *DB) GetWithdrawal(id string) (*WithdrawalRow, error) {
	row := d.conn.QueryRow(
		`SELECT id, owner, destination, destination_token, amount, delivered, swap_input,
		        setup_signature, transfer_signature, status, error, created_at, updated_at
		 FROM withdrawals WHERE id = ?`,
		id,
	)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query withdrawal %s: %w", id, err)
	}
	return w, nil
}

// GetPartialWithdrawals returns owner's withdrawals whose setup landed but
// whose transfer did not, oldest first.
func (d *DB) GetPartialWithdrawals(owner string) ([]WithdrawalRow, error) {
	rows, err := d.conn.Query(
		`SELECT id, owner, destination, destination_token, amount, delivered, swap_input,
		        setup_signature, transfer_signature, status, error, created_at, updated_at
		 FROM withdrawals
		 WHERE owner = ? AND status IN (?, ?)
		 ORDER BY created_at ASC, rowid ASC`,
		owner, WithdrawalSetupDone, WithdrawalPartial,
	)
	if err != nil {
		return nil, fmt.Errorf("query partial withdrawals for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []WithdrawalRow
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal row: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(r rowScanner) (*WithdrawalRow, error) {
	var (
		w                            WithdrawalRow
		amount, delivered, swapInput int64
	)
	if err := r.Scan(
		&w.ID, &w.Owner, &w.Destination, &w.DestinationToken,
		&amount, &delivered, &swapInput,
		&w.SetupSignature, &w.TransferSignature, &w.Status, &w.Error,
		&w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	w.Amount, w.Delivered, w.SwapInput = uint64(amount), uint64(delivered), uint64(swapInput)
	return &w, nil
}
