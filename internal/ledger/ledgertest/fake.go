// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/ledger"
)

// Fake is a stateful in-memory ledger. Submitted transactions are recorded and
// their create-ATA, transfer and close instructions are applied to Accounts.
// The Fn fields override individual calls.
type Fake struct {
	mu sync.Mutex

	Accounts  map[solana.PublicKey]*ledger.TokenAccount
	Blockhash solana.Hash
	Rent      uint64
	Fee       uint64
	Sent      []*solana.Transaction
	Calls     map[string]int

	// LastValidBlockHeight is returned with Blockhash; BlockHeight stays
	// below it unless a test moves it.
	LastValidBlockHeight uint64
	BlockHeight          uint64

	BalanceFn func(account solana.PublicKey, call int) (uint64, error)
	SendFn    func(tx *solana.Transaction) (solana.Signature, error)
	StatusFn  func(sig solana.Signature) (*ledger.SignatureStatus, error)
	RentFn    func() (uint64, error)
	FeeFn     func(msg *solana.Message) (uint64, error)
	InfoFn    func(account solana.PublicKey) (*ledger.TokenAccount, error)
}

// New returns an empty fake with a random blockhash valid until height 300, a
// block height of 150, a rent of 2039280 lamports and a fee of 5000 lamports.
func New() *Fake {
	return &Fake{
		Accounts:  make(map[solana.PublicKey]*ledger.TokenAccount),
		Blockhash: solana.Hash(solana.NewWallet().PublicKey()),
		Rent:      2_039_280,
		Fee:       5_000,
		Calls:     make(map[string]int),

		LastValidBlockHeight: 300,
		BlockHeight:          150,
	}
}

// AddTokenAccount registers the associated token account of owner for mint.
func (f *Fake) AddTokenAccount(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	ata, err := ledger.DeriveATA(owner, mint)
	if err != nil {
		panic(err)
	}
	f.PutAccount(ata, owner, mint, amount)
	return ata
}

// PutAccount registers a token account at an explicit address.
func (f *Fake) PutAccount(address, owner, mint solana.PublicKey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts[address] = &ledger.TokenAccount{Address: address, Mint: mint, Owner: owner, Amount: amount}
}

// Account returns a copy of the account at address, if any.
func (f *Fake) Account(address solana.PublicKey) (ledger.TokenAccount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[address]
	if !ok {
		return ledger.TokenAccount{}, false
	}
	return *a, true
}

// CallCount returns how often method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// SentTransactions returns the transactions submitted so far.
func (f *Fake) SentTransactions() []*solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*solana.Transaction(nil), f.Sent...)
}

func (f *Fake) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	return f.Calls[method]
}

func (f *Fake) DeriveAccountAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	f.count("deriveAccountAddress")
	return ledger.DeriveATA(owner, mint)
}

func (f *Fake) GetTokenAccountInfo(ctx context.Context, account solana.PublicKey) (*ledger.TokenAccount, error) {
	f.count("getTokenAccountInfo")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.InfoFn != nil {
		return f.InfoFn(account)
	}
	a, ok := f.Account(account)
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *Fake) GetLatestBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	n := f.count("getLatestBalance")
	if f.BalanceFn != nil {
		return f.BalanceFn(account, n)
	}
	a, ok := f.Account(account)
	if !ok {
		return 0, fmt.Errorf("account %s not found", account)
	}
	return a.Amount, nil
}

func (f *Fake) GetRecentBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	f.count("getRecentBlockhash")
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.Blockhash{Hash: f.Blockhash, LastValidBlockHeight: f.LastValidBlockHeight}, ctx.Err()
}

func (f *Fake) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.count("getBlockHeight")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BlockHeight, ctx.Err()
}

// SetBlockHeight moves the chain to height.
func (f *Fake) SetBlockHeight(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BlockHeight = height
}

func (f *Fake) SendTransaction(ctx context.Context, tx *solana.Transaction, opts ledger.SendOptions) (solana.Signature, error) {
	f.count("sendTransaction")
	if f.SendFn != nil {
		sig, err := f.SendFn(tx)
		if err != nil {
			return sig, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, tx)
	if err := f.apply(tx); err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{}, nil
}

func (f *Fake) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.SignatureStatus, error) {
	f.count("getSignatureStatus")
	if f.StatusFn != nil {
		return f.StatusFn(sig)
	}
	return &ledger.SignatureStatus{Slot: 1, Confirmed: true}, nil
}

func (f *Fake) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	f.count("getMinimumBalanceForRentExemption")
	if f.RentFn != nil {
		return f.RentFn()
	}
	return f.Rent, nil
}

func (f *Fake) GetFeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error) {
	f.count("getFeeForMessage")
	if f.FeeFn != nil {
		return f.FeeFn(msg)
	}
	return f.Fee, nil
}

// apply mutates Accounts for the token instructions in tx. Caller holds mu.
func (f *Fake) apply(tx *solana.Transaction) error {
	keys := tx.Message.AccountKeys
	for _, ci := range tx.Message.Instructions {
		program := keys[ci.ProgramIDIndex]
		acct := func(i int) solana.PublicKey { return keys[ci.Accounts[i]] }

		switch {
		case program.Equals(solana.SPLAssociatedTokenAccountProgramID):
			ata, owner, mint := acct(1), acct(2), acct(3)
			if _, exists := f.Accounts[ata]; exists {
				if len(ci.Data) == 0 || ci.Data[0] == 0 {
					return fmt.Errorf("create: account %s already in use", ata)
				}
				continue
			}
			f.Accounts[ata] = &ledger.TokenAccount{Address: ata, Mint: mint, Owner: owner}

		case program.Equals(solana.TokenProgramID) && len(ci.Data) > 0:
			switch ci.Data[0] {
			case 3: // Transfer
				src, dst := f.Accounts[acct(0)], f.Accounts[acct(1)]
				amount := binary.LittleEndian.Uint64(ci.Data[1:9])
				if src == nil || dst == nil {
					return fmt.Errorf("transfer: unknown account")
				}
				if src.Amount < amount {
					return fmt.Errorf("transfer: insufficient funds")
				}
				src.Amount -= amount
				dst.Amount += amount
			case 9: // CloseAccount
				delete(f.Accounts, acct(0))
			}
		}
	}
	return nil
}
