// Package withdraw moves USDC out of a user bank to an external address,
// creating the destination's token account when needed.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/payflow/internal/account"
	"github.com/Fantasim/payflow/internal/compose"
	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/confirm"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/events"
	"github.com/Fantasim/payflow/internal/ledger"
	"github.com/Fantasim/payflow/internal/metrics"
	"github.com/Fantasim/payflow/internal/models"
	"github.com/Fantasim/payflow/internal/remoteconfig"
	"github.com/Fantasim/payflow/internal/report"
	"github.com/Fantasim/payflow/internal/submit"
)

// Steps named in a PartialError.
const (
	StepSetup    = "setup"
	StepTransfer = "transfer"
)

// Request is a withdrawal of Amount USDC minor units from Owner's bank.
type Request struct {
	Owner       solana.PublicKey
	Destination string
	Amount      uint64
	// FeePayer overrides the controller's default fee payer.
	FeePayer solana.PublicKey
}

// Result describes a completed withdrawal.
type Result struct {
	ID                string `json:"id"`
	Source            string `json:"source"`
	Destination       string `json:"destination"`
	DestinationKind   string `json:"destinationKind"`
	DestinationToken  string `json:"destinationToken"`
	Amount            uint64 `json:"amount"`
	Delivered         uint64 `json:"delivered"`
	SwapInput         uint64 `json:"swapInput"`
	AccountCreated    bool   `json:"accountCreated"`
	SetupSignature    string `json:"setupSignature,omitempty"`
	TransferSignature string `json:"transferSignature"`
}

// PartialError reports a withdrawal that stopped after composing a setup
// step. AccountCreated tells whether the destination account now exists, in
// which case ResumeTransfer can finish the job.
type PartialError struct {
	ID             string
	Step           string
	AccountCreated bool
	Err            error
}

func (e *PartialError) Error() string {
	if e.AccountCreated {
		return fmt.Sprintf("withdrawal %s: destination created, %s failed: %v", e.ID, e.Step, e.Err)
	}
	return fmt.Sprintf("withdrawal %s: %s failed, destination not created: %v", e.ID, e.Step, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Resolver looks up user banks without creating them.
type Resolver interface {
	Lookup(ctx context.Context, owner solana.PublicKey, mint models.Mint) (models.TokenAccountRef, error)
	MintKey(mint models.Mint) (solana.PublicKey, error)
}

// Composer builds withdrawal instruction sets.
type Composer interface {
	Withdrawal(ctx context.Context, p compose.WithdrawalParams) (*compose.Withdrawal, error)
}

// Submitter lands instruction sets.
type Submitter interface {
	Submit(ctx context.Context, set compose.InstructionSet, opts submit.Options) (submit.Result, error)
}

// Deps are the controller's collaborators. Store, Bus, Reporter and Config
// are optional.
type Deps struct {
	Ledger    ledger.Client
	Resolver  Resolver
	Composer  Composer
	Submitter Submitter
	Engine    *confirm.Engine
	Store     Store
	Bus       events.Bus
	Reporter  report.Reporter
	Config    remoteconfig.Getter
	FeePayer  solana.PublicKey
}

// Controller runs withdrawals, one at a time per owner.
type Controller struct {
	deps Deps
}

// NewController creates a controller.
func NewController(deps Deps) *Controller {
	if deps.Store == nil {
		deps.Store = newMemStore()
	}
	if deps.Bus == nil {
		deps.Bus = events.Discard
	}
	if deps.Reporter == nil {
		deps.Reporter = report.Discard
	}
	return &Controller{deps: deps}
}

// plan is a validated, composed withdrawal ready for submission.
type plan struct {
	id       string
	req      Request
	feePayer solana.PublicKey
	kind     account.AddressKind
	source   solana.PublicKey
	destTok  solana.PublicKey
	w        *compose.Withdrawal
}

// Withdraw validates req, composes the instruction sets and submits them.
// Validation failures are returned before any ledger call. Once a transaction
// has been sent the flow no longer honours ctx cancellation.
func (c *Controller) Withdraw(ctx context.Context, req Request) (*Result, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", config.ErrInvalidAmount)
	}
	if req.Owner.IsZero() {
		return nil, fmt.Errorf("%w: owner is required", config.ErrInvalidRequest)
	}
	dest, kind, err := account.ClassifyAddress(req.Destination)
	if err != nil {
		return nil, err
	}

	res, err := confirm.Await(ctx, c.deps.Engine, "withdraw:"+req.Owner.String(),
		func(ctx context.Context) (*Result, error) {
			p, err := c.prepare(ctx, req, dest, kind)
			if err != nil {
				return nil, err
			}
			return c.execute(context.WithoutCancel(ctx), p)
		},
		confirm.WithTimeout(config.WithdrawalTimeout),
	)
	if err != nil {
		return nil, unwrapFailure(err)
	}
	return res, nil
}

// unwrapFailure returns the perform error behind a non-timeout confirm
// failure so callers can match PartialError and sentinels directly.
func unwrapFailure(err error) error {
	var f *confirm.Failure
	if errors.As(err, &f) && !f.Timeout && f.Err != nil {
		return f.Err
	}
	return err
}

func (c *Controller) prepare(ctx context.Context, req Request, dest solana.PublicKey, kind account.AddressKind) (*plan, error) {
	p := &plan{id: uuid.NewString(), req: req, feePayer: c.deps.FeePayer, kind: kind}
	if !req.FeePayer.IsZero() {
		p.feePayer = req.FeePayer
	}

	mint, err := c.deps.Resolver.MintKey(models.MintUSDC)
	if err != nil {
		return nil, err
	}

	src, err := c.deps.Resolver.Lookup(ctx, req.Owner, models.MintUSDC)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	if !src.Exists {
		return nil, fmt.Errorf("%w: owner has no USDC account", config.ErrInsufficientFunds)
	}
	p.source, err = solana.PublicKeyFromBase58(src.Account)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}

	balance, err := c.deps.Ledger.GetLatestBalance(ctx, p.source)
	if err != nil {
		return nil, fmt.Errorf("read source balance: %w", err)
	}
	if balance < req.Amount {
		return nil, fmt.Errorf("%w: balance %d, requested %d", config.ErrInsufficientFunds, balance, req.Amount)
	}

	params := compose.WithdrawalParams{
		FeePayer:    p.feePayer,
		Source:      p.source,
		SourceOwner: req.Owner,
		Mint:        mint,
		Amount:      req.Amount,
		SlippageBps: c.slippage(),
	}

	switch kind {
	case account.KindWallet:
		if err := c.prepareWallet(ctx, p, dest, mint, &params); err != nil {
			return nil, err
		}
	default:
		info, err := c.deps.Ledger.GetTokenAccountInfo(ctx, dest)
		if errors.Is(err, config.ErrNotTokenAccount) {
			return nil, fmt.Errorf("%w: %w", config.ErrDestinationDoesNotExist, err)
		}
		if err != nil {
			return nil, fmt.Errorf("look up destination: %w", err)
		}
		if info == nil {
			return nil, fmt.Errorf("%w: %s", config.ErrDestinationDoesNotExist, dest)
		}
		if !info.Mint.Equals(mint) {
			return nil, fmt.Errorf("%w: %w: %s holds %s", config.ErrDestinationDoesNotExist, config.ErrWrongMint, dest, info.Mint)
		}
		p.destTok = dest
	}
	params.Destination = p.destTok

	p.w, err = c.deps.Composer.Withdrawal(ctx, params)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// prepareWallet targets dest's associated account and, when it is missing,
// prices its creation: rent for a token account plus the fee of the transfer
// that follows, both read from the ledger.
func (c *Controller) prepareWallet(ctx context.Context, p *plan, dest, mint solana.PublicKey, params *compose.WithdrawalParams) error {
	ata, err := c.deps.Ledger.DeriveAccountAddress(dest, mint)
	if err != nil {
		return fmt.Errorf("derive destination account: %w", err)
	}
	p.destTok = ata

	info, err := c.deps.Ledger.GetTokenAccountInfo(ctx, ata)
	if err != nil {
		return fmt.Errorf("look up destination account: %w", err)
	}
	if info != nil {
		return nil
	}

	temp, err := c.deps.Ledger.DeriveAccountAddress(p.feePayer, solana.WrappedSol)
	if err != nil {
		return fmt.Errorf("derive temporary account: %w", err)
	}

	var (
		rent, fee  uint64
		tempExists bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rent, err = c.deps.Ledger.GetMinimumBalanceForRentExemption(gctx, config.TokenAccountSize)
		if err != nil {
			return fmt.Errorf("query rent: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		fee, err = c.transferFee(gctx, p, ata)
		return err
	})
	g.Go(func() error {
		info, err := c.deps.Ledger.GetTokenAccountInfo(gctx, temp)
		if err != nil {
			return fmt.Errorf("look up temporary account: %w", err)
		}
		tempExists = info != nil
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("destination account missing, funding creation",
		"withdrawalID", p.id,
		"destination", dest.String(),
		"account", ata.String(),
		"rent", rent,
		"fee", fee,
	)

	params.CreateDestination = true
	params.DestinationOwner = dest
	params.FundingLamports = rent + fee
	params.TempAccountExists = tempExists
	return nil
}

// transferFee prices the final transfer against a current blockhash.
func (c *Controller) transferFee(ctx context.Context, p *plan, dest solana.PublicKey) (uint64, error) {
	set, err := compose.TransferSet(p.feePayer, compose.TransferParams{
		Source:      p.source,
		Destination: dest,
		Owner:       p.req.Owner,
		Amount:      p.req.Amount,
	})
	if err != nil {
		return 0, err
	}
	bh, err := c.deps.Ledger.GetRecentBlockhash(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch blockhash for fee: %w", err)
	}
	tx, err := solana.NewTransaction(set.Instructions(), bh.Hash, solana.TransactionPayer(p.feePayer))
	if err != nil {
		return 0, fmt.Errorf("build fee message: %w", err)
	}
	fee, err := c.deps.Ledger.GetFeeForMessage(ctx, &tx.Message)
	if err != nil {
		return 0, fmt.Errorf("query transfer fee: %w", err)
	}
	return fee, nil
}

func (c *Controller) execute(ctx context.Context, p *plan) (*Result, error) {
	res := &Result{
		ID:               p.id,
		Source:           p.source.String(),
		Destination:      p.req.Destination,
		DestinationKind:  p.kind.String(),
		DestinationToken: p.destTok.String(),
		Amount:           p.req.Amount,
		Delivered:        p.w.Delivered,
		SwapInput:        p.w.SwapInput,
	}

	if err := c.deps.Store.CreateWithdrawal(db.WithdrawalRow{
		ID:               p.id,
		Owner:            p.req.Owner.String(),
		Destination:      p.req.Destination,
		DestinationToken: res.DestinationToken,
		Amount:           res.Amount,
		Delivered:        res.Delivered,
		SwapInput:        res.SwapInput,
		Status:           db.WithdrawalPending,
	}); err != nil {
		slog.Error("failed to record withdrawal", "withdrawalID", p.id, "error", err)
	}

	slog.Info("withdrawal started",
		"withdrawalID", p.id,
		"owner", p.req.Owner.String(),
		"destination", p.req.Destination,
		"kind", res.DestinationKind,
		"amount", res.Amount,
		"delivered", res.Delivered,
		"swapInput", res.SwapInput,
	)
	c.emit(events.WithdrawalStarted, p, res)

	opts := submit.Options{}
	if !p.req.FeePayer.IsZero() {
		opts.FeePayerOverride = p.req.FeePayer
	}

	if p.w.Setup != nil {
		setup, err := c.deps.Submitter.Submit(ctx, *p.w.Setup, opts)
		if err != nil {
			perr := &PartialError{ID: p.id, Step: StepSetup, Err: err}
			c.fail(p, res, perr, events.WithdrawalFailed, db.WithdrawalFailed)
			return nil, perr
		}
		res.AccountCreated = true
		res.SetupSignature = setup.Signature.String()
		c.update(p.id, db.WithdrawalUpdate{Status: db.WithdrawalSetupDone, SetupSignature: res.SetupSignature})
	}

	transfer, err := c.deps.Submitter.Submit(ctx, p.w.Transfer, opts)
	if err != nil {
		if res.AccountCreated {
			perr := &PartialError{ID: p.id, Step: StepTransfer, AccountCreated: true, Err: err}
			c.fail(p, res, perr, events.WithdrawalPartial, db.WithdrawalPartial)
			return nil, perr
		}
		err = fmt.Errorf("withdrawal %s: transfer: %w", p.id, err)
		c.fail(p, res, err, events.WithdrawalFailed, db.WithdrawalFailed)
		return nil, err
	}
	res.TransferSignature = transfer.Signature.String()

	c.update(p.id, db.WithdrawalUpdate{Status: db.WithdrawalCompleted, TransferSignature: res.TransferSignature})
	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	slog.Info("withdrawal completed",
		"withdrawalID", p.id,
		"delivered", res.Delivered,
		"signature", res.TransferSignature,
	)
	c.emit(events.WithdrawalSucceeded, p, res)
	return res, nil
}

func (c *Controller) fail(p *plan, res *Result, err error, event, status string) {
	c.update(p.id, db.WithdrawalUpdate{Status: status, Error: err.Error()})
	metrics.WithdrawalsTotal.WithLabelValues(status).Inc()

	slog.Error("withdrawal failed",
		"withdrawalID", p.id,
		"owner", p.req.Owner.String(),
		"status", status,
		"accountCreated", res.AccountCreated,
		"error", err,
	)
	c.deps.Bus.Emit(events.New(event, events.FlowWithdrawal, p.id, p.req.Owner.String(), map[string]any{
		"accountCreated": res.AccountCreated,
		"error":          err.Error(),
	}))
	c.deps.Reporter.Report(report.Report{
		Level: report.LevelError,
		Err:   err,
		Context: map[string]any{
			"flow":             events.FlowWithdrawal,
			"withdrawalID":     p.id,
			"owner":            p.req.Owner.String(),
			"source":           res.Source,
			"destinationToken": res.DestinationToken,
			"amount":           res.Amount,
		},
	})
}

func (c *Controller) update(id string, u db.WithdrawalUpdate) {
	if err := c.deps.Store.UpdateWithdrawal(id, u); err != nil {
		slog.Error("failed to update withdrawal record", "withdrawalID", id, "status", u.Status, "error", err)
	}
}

func (c *Controller) emit(typ string, p *plan, res *Result) {
	c.deps.Bus.Emit(events.New(typ, events.FlowWithdrawal, p.id, p.req.Owner.String(), *res))
}

func (c *Controller) slippage() int {
	if bps, ok := remoteconfig.Int(c.deps.Config, config.VarSlippageBps); ok && bps > 0 && bps <= config.MaxSlippageBps {
		return bps
	}
	return config.DefaultSlippageBps
}

// ResumeTransfer finishes a withdrawal whose destination account was created
// but whose transfer did not land. It composes a fresh transfer of the
// recorded delivered amount.
func (c *Controller) ResumeTransfer(ctx context.Context, owner solana.PublicKey, id string) (*Result, error) {
	row, err := c.deps.Store.GetWithdrawal(id)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal %s: %w", id, err)
	}
	if row == nil || row.Owner != owner.String() {
		return nil, fmt.Errorf("%w: withdrawal %s", config.ErrNothingToResume, id)
	}
	switch row.Status {
	case db.WithdrawalPending:
		return nil, fmt.Errorf("%w: withdrawal %s", config.ErrWithdrawInProgress, id)
	case db.WithdrawalSetupDone, db.WithdrawalPartial:
	default:
		return nil, fmt.Errorf("%w: withdrawal %s is %s", config.ErrNothingToResume, id, row.Status)
	}

	res, err := confirm.Await(ctx, c.deps.Engine, "withdraw:"+owner.String(),
		func(ctx context.Context) (*Result, error) {
			return c.resume(context.WithoutCancel(ctx), owner, row)
		},
		confirm.WithTimeout(config.WithdrawalTimeout),
	)
	if err != nil {
		return nil, unwrapFailure(err)
	}
	return res, nil
}

func (c *Controller) resume(ctx context.Context, owner solana.PublicKey, row *db.WithdrawalRow) (*Result, error) {
	dest, err := solana.PublicKeyFromBase58(row.DestinationToken)
	if err != nil {
		return nil, fmt.Errorf("parse destination account: %w", err)
	}
	src, err := c.deps.Resolver.Lookup(ctx, owner, models.MintUSDC)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	if !src.Exists {
		return nil, fmt.Errorf("%w: owner has no USDC account", config.ErrInsufficientFunds)
	}
	source, err := solana.PublicKeyFromBase58(src.Account)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	balance, err := c.deps.Ledger.GetLatestBalance(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("read source balance: %w", err)
	}
	if balance < row.Delivered {
		return nil, fmt.Errorf("%w: balance %d, owed %d", config.ErrInsufficientFunds, balance, row.Delivered)
	}

	set, err := compose.TransferSet(c.deps.FeePayer, compose.TransferParams{
		Source:      source,
		Destination: dest,
		Owner:       owner,
		Amount:      row.Delivered,
	})
	if err != nil {
		return nil, err
	}

	p := &plan{id: row.ID, req: Request{Owner: owner, Destination: row.Destination, Amount: row.Amount}, source: source, destTok: dest}
	res := &Result{
		ID:               row.ID,
		Source:           source.String(),
		Destination:      row.Destination,
		DestinationToken: row.DestinationToken,
		Amount:           row.Amount,
		Delivered:        row.Delivered,
		SwapInput:        row.SwapInput,
		AccountCreated:   row.SetupSignature != "",
		SetupSignature:   row.SetupSignature,
	}
	if _, kind, err := account.ClassifyAddress(row.Destination); err == nil {
		res.DestinationKind = kind.String()
	}

	slog.Info("resuming withdrawal transfer", "withdrawalID", row.ID, "delivered", row.Delivered)

	out, err := c.deps.Submitter.Submit(ctx, set, submit.Options{})
	if err != nil {
		perr := &PartialError{ID: row.ID, Step: StepTransfer, AccountCreated: true, Err: err}
		c.fail(p, res, perr, events.WithdrawalPartial, db.WithdrawalPartial)
		return nil, perr
	}
	res.TransferSignature = out.Signature.String()

	c.update(row.ID, db.WithdrawalUpdate{Status: db.WithdrawalCompleted, TransferSignature: res.TransferSignature})
	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	slog.Info("withdrawal completed", "withdrawalID", row.ID, "delivered", row.Delivered, "signature", res.TransferSignature)
	c.emit(events.WithdrawalSucceeded, p, res)
	return res, nil
}
