// Package purchase drives a fiat on-ramp purchase from the moment the user
// opens it until the credited balance is observed on the ledger.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/confirm"
	"github.com/Fantasim/payflow/internal/events"
	"github.com/Fantasim/payflow/internal/metrics"
	"github.com/Fantasim/payflow/internal/models"
	"github.com/Fantasim/payflow/internal/optimistic"
	"github.com/Fantasim/payflow/internal/poll"
	"github.com/Fantasim/payflow/internal/remoteconfig"
	"github.com/Fantasim/payflow/internal/report"
)

// Signal is an external on-ramp outcome.
type Signal string

const (
	SignalSucceeded Signal = "on-ramp-succeeded"
	SignalCanceled  Signal = "on-ramp-canceled"
)

// ParseSignal maps a webhook value to a Signal.
func ParseSignal(s string) (Signal, bool) {
	switch Signal(s) {
	case SignalSucceeded, SignalCanceled:
		return Signal(s), true
	default:
		return "", false
	}
}

// OutcomeStatus is how a purchase ended.
type OutcomeStatus string

const (
	OutcomeFinished    OutcomeStatus = "finished"
	OutcomeCanceled    OutcomeStatus = "canceled"
	OutcomeUnconfirmed OutcomeStatus = "unconfirmed"
	OutcomeFailed      OutcomeStatus = "failed"
)

// Outcome is the result of Await.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Balance   uint64        `json:"balance"`
	Purchased uint64        `json:"purchased"`
	Mismatch  bool          `json:"mismatch"`
	Attempts  int           `json:"attempts"`
}

// Resolver resolves the user bank receiving the purchase.
type Resolver interface {
	ResolveUserBank(ctx context.Context, owner solana.PublicKey, mint models.Mint) (models.TokenAccountRef, error)
}

// BalanceReader reads the current balance of a token account.
type BalanceReader interface {
	GetLatestBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Poller watches a token account for a credit.
type Poller interface {
	Poll(ctx context.Context, account solana.PublicKey, initial uint64, settings poll.Settings) (poll.Result, error)
}

// Deps are the collaborators shared by every purchase controller.
type Deps struct {
	Resolver Resolver
	Ledger   BalanceReader
	Poller   Poller
	Engine   *confirm.Engine
	Bus      events.Bus
	Reporter report.Reporter
	Config   remoteconfig.Getter
	Cache    *optimistic.Cache
}

// OpenRequest starts a purchase.
type OpenRequest struct {
	Provider      models.Provider
	DesiredAmount uint64
}

// Controller owns the PurchaseIntent of one user. Open and Await are driven
// by a single owner goroutine; Deliver and the read accessors are safe to
// call from anywhere.
type Controller struct {
	deps  Deps
	owner solana.PublicKey

	mu          sync.Mutex
	intent      models.PurchaseIntent
	history     []models.StageChange
	account     solana.PublicKey
	initial     uint64
	outcome     *Outcome
	opening     bool
	signaled    bool
	unconfirmed bool
	signals     chan Signal
}

// NewController creates a controller for owner in stage START.
func NewController(deps Deps, owner solana.PublicKey) *Controller {
	if deps.Bus == nil {
		deps.Bus = events.Discard
	}
	if deps.Cache == nil {
		deps.Cache = optimistic.NewCache()
	}
	if deps.Reporter == nil {
		deps.Reporter = report.Discard
	}
	return &Controller{
		deps:    deps,
		owner:   owner,
		intent:  models.PurchaseIntent{Stage: models.StageStart},
		signals: make(chan Signal, 1),
	}
}

// Open resolves the user bank (creating it if absent), captures the baseline
// balance and moves the purchase to PURCHASING.
func (c *Controller) Open(ctx context.Context, req OpenRequest) error {
	if req.DesiredAmount == 0 {
		return fmt.Errorf("%w: desired amount must be greater than zero", config.ErrInvalidAmount)
	}

	if !c.reserve() {
		return fmt.Errorf("%w: open from %s", config.ErrInvalidTransition, c.Intent().Stage)
	}
	return c.openReserved(ctx, req)
}

// reserve claims the controller for an Open. It fails unless the purchase is
// in START and no other Open is running.
func (c *Controller) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent.Stage != models.StageStart || c.opening {
		return false
	}
	c.opening = true
	return true
}

func (c *Controller) openReserved(ctx context.Context, req OpenRequest) error {
	c.mu.Lock()
	c.intent = models.PurchaseIntent{
		ID:            uuid.NewString(),
		Provider:      req.Provider,
		DesiredAmount: req.DesiredAmount,
		Stage:         models.StageStart,
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.opening = false
		c.mu.Unlock()
	}()

	ref, err := c.deps.Resolver.ResolveUserBank(ctx, c.owner, models.MintUSDC)
	if err != nil {
		return c.failOpen(err, "resolve user bank")
	}
	account, err := solana.PublicKeyFromBase58(ref.Account)
	if err != nil {
		return c.failOpen(err, "parse user bank")
	}
	initial, err := c.deps.Ledger.GetLatestBalance(ctx, account)
	if err != nil {
		return c.failOpen(err, "read initial balance")
	}
	c.deps.Cache.SetCanonical(account.String(), initial)

	c.mu.Lock()
	c.account = account
	c.initial = initial
	c.intent.Err = nil
	c.advance(models.StagePurchasing)
	intent := c.intent
	c.mu.Unlock()

	slog.Info("purchase opened",
		"purchaseID", intent.ID,
		"owner", c.owner.String(),
		"provider", intent.Provider,
		"desiredAmount", intent.DesiredAmount,
		"account", account.String(),
		"initialBalance", initial,
	)
	c.emit(events.PurchaseOpened, map[string]any{
		"provider":       intent.Provider,
		"desiredAmount":  intent.DesiredAmount,
		"account":        account.String(),
		"initialBalance": initial,
	})
	return nil
}

func (c *Controller) failOpen(err error, step string) error {
	err = fmt.Errorf("%s: %w", step, err)

	c.mu.Lock()
	c.intent.Err = err
	id := c.intent.ID
	c.mu.Unlock()

	slog.Error("purchase open failed", "purchaseID", id, "owner", c.owner.String(), "error", err)
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	c.emit(events.PurchaseFailed, map[string]any{"step": step, "error": err.Error()})
	c.deps.Reporter.Report(report.Report{
		Level: report.LevelError,
		Err:   err,
		Context: map[string]any{
			"flow":       events.FlowPurchase,
			"purchaseID": id,
			"owner":      c.owner.String(),
			"step":       step,
		},
	})
	return err
}

// Deliver hands an on-ramp signal to the flow. The first signal received
// while PURCHASING wins; signals arriving in any other stage, or after the
// first, are logged and discarded. It reports whether the signal was accepted.
func (c *Controller) Deliver(sig Signal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.intent.Stage != models.StagePurchasing {
		slog.Warn("late on-ramp signal discarded",
			"purchaseID", c.intent.ID,
			"signal", sig,
			"stage", c.intent.Stage,
		)
		return false
	}

	if c.signaled {
		slog.Warn("duplicate on-ramp signal discarded", "purchaseID", c.intent.ID, "signal", sig)
		return false
	}
	c.signaled = true
	c.signals <- sig

	slog.Info("on-ramp signal received", "purchaseID", c.intent.ID, "signal", sig)
	return true
}

// Cancel is Deliver(SignalCanceled).
func (c *Controller) Cancel() bool {
	return c.Deliver(SignalCanceled)
}

// Await suspends until the on-ramp reports, then either cancels or confirms
// the purchase by polling the user bank. Cancelling ctx is only observed while
// waiting for the signal; once polling has started it runs to completion.
func (c *Controller) Await(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.intent.Stage != models.StagePurchasing {
		stage := c.intent.Stage
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: await from %s", config.ErrInvalidTransition, stage)
	}
	c.mu.Unlock()

	var sig Signal
	select {
	case sig = <-c.signals:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	if sig == SignalCanceled {
		return c.canceled(), nil
	}
	return c.confirm(context.WithoutCancel(ctx))
}

func (c *Controller) canceled() Outcome {
	c.mu.Lock()
	c.advance(models.StageCanceled)
	c.intent.Err = config.ErrPurchaseCanceled
	out := Outcome{Status: OutcomeCanceled, Balance: c.initial}
	c.outcome = &out
	id := c.intent.ID
	c.mu.Unlock()

	slog.Info("purchase canceled by provider", "purchaseID", id, "owner", c.owner.String())
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeCanceled)).Inc()
	c.emit(events.PurchaseCanceled, map[string]any{"error": config.ErrPurchaseCanceled.Error()})
	return out
}

func (c *Controller) confirm(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	c.advance(models.StageConfirmingPurchase)
	account, initial, desired, id := c.account, c.initial, c.intent.DesiredAmount, c.intent.ID
	c.mu.Unlock()

	key := account.String()
	c.deps.Cache.Override(key, initial+desired)

	settings := poll.SettingsFromRemote(c.deps.Config)
	budget := time.Duration(settings.MaxRetries()) * (settings.RetryDelay() + config.LedgerCallTimeout)

	var (
		out     Outcome
		failure error
	)
	done := c.deps.Engine.RequestConfirmation(ctx, "purchase:"+key,
		func(ctx context.Context) (any, error) {
			return c.deps.Poller.Poll(ctx, account, initial, settings)
		},
		func(v any) {
			res, _ := v.(poll.Result)
			if res.Exhausted {
				c.deps.Cache.Rollback(key)
				out = c.unconfirmedOutcome(res)
				return
			}
			c.deps.Cache.Commit(key, res.Balance)
			out = c.finish(res)
		},
		func(f *confirm.Failure) {
			c.deps.Cache.Rollback(key)
			failure = f
			out = c.failConfirm(f)
		},
		confirm.WithTimeout(budget),
	)
	<-done

	slog.Debug("purchase confirmation settled", "purchaseID", id, "status", out.Status)
	return out, failure
}

func (c *Controller) finish(res poll.Result) Outcome {
	c.mu.Lock()
	c.advance(models.StageFinish)
	desired, initial, id := c.intent.DesiredAmount, c.initial, c.intent.ID
	c.mu.Unlock()

	out := Outcome{
		Status:    OutcomeFinished,
		Balance:   res.Balance,
		Purchased: res.Balance - initial,
		Attempts:  res.Attempts,
	}
	out.Mismatch = out.Purchased != desired

	if out.Mismatch {
		c.reportMismatch(id, desired, out)
	}

	c.mu.Lock()
	c.outcome = &out
	c.mu.Unlock()

	slog.Info("purchase finished",
		"purchaseID", id,
		"owner", c.owner.String(),
		"purchased", out.Purchased,
		"balance", out.Balance,
		"attempts", out.Attempts,
	)
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeFinished)).Inc()
	c.emit(events.PurchaseSucceeded, out)
	return out
}

// reportMismatch logs a purchased/desired difference. Providers may deduct
// fees, so it is never fatal; the report policy also forwards it.
func (c *Controller) reportMismatch(id string, desired uint64, out Outcome) {
	slog.Warn("purchase amount mismatch",
		"purchaseID", id,
		"owner", c.owner.String(),
		"desired", desired,
		"purchased", out.Purchased,
	)

	policy := remoteconfig.String(c.deps.Config, config.VarMismatchPolicy, config.MismatchPolicyWarn)
	if policy != config.MismatchPolicyReport {
		return
	}
	c.deps.Reporter.Report(report.Report{
		Level: report.LevelWarn,
		Err:   fmt.Errorf("purchased %d, desired %d", out.Purchased, desired),
		Context: map[string]any{
			"flow":       events.FlowPurchase,
			"purchaseID": id,
			"owner":      c.owner.String(),
			"account":    c.account.String(),
		},
	})
}

// unconfirmedOutcome leaves the stage at CONFIRMING_PURCHASE. The user is told
// to check back later; this is not an error.
func (c *Controller) unconfirmedOutcome(res poll.Result) Outcome {
	c.mu.Lock()
	c.unconfirmed = true
	c.intent.Err = config.ErrPollExhausted
	out := Outcome{Status: OutcomeUnconfirmed, Balance: c.initial, Attempts: res.Attempts}
	c.outcome = &out
	id := c.intent.ID
	c.mu.Unlock()

	slog.Info("purchase unconfirmed, balance poll exhausted",
		"purchaseID", id,
		"owner", c.owner.String(),
		"attempts", res.Attempts,
	)
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeUnconfirmed)).Inc()
	c.emit(events.PurchaseUnconfirmed, out)
	return out
}

func (c *Controller) failConfirm(f *confirm.Failure) Outcome {
	c.mu.Lock()
	c.unconfirmed = true
	c.intent.Err = f
	out := Outcome{Status: OutcomeFailed, Balance: c.initial}
	c.outcome = &out
	id := c.intent.ID
	c.mu.Unlock()

	slog.Error("purchase confirmation failed",
		"purchaseID", id,
		"owner", c.owner.String(),
		"timeout", f.Timeout,
		"error", f.Message,
	)
	metrics.PurchasesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	c.emit(events.PurchaseFailed, map[string]any{"timeout": f.Timeout, "error": f.Message})
	c.deps.Reporter.Report(report.Report{
		Level: report.LevelError,
		Err:   f,
		Context: map[string]any{
			"flow":       events.FlowPurchase,
			"purchaseID": id,
			"owner":      c.owner.String(),
			"account":    c.account.String(),
		},
	})
	return out
}

// Reset returns a settled purchase to START so a new one can be opened.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opening || !(c.intent.Stage.Terminal() || c.unconfirmed || c.intent.Stage == models.StageStart) {
		return fmt.Errorf("%w: reset from %s", config.ErrInvalidTransition, c.intent.Stage)
	}

	c.intent = models.PurchaseIntent{Stage: models.StageStart}
	c.history = nil
	c.account = solana.PublicKey{}
	c.initial = 0
	c.outcome = nil
	c.unconfirmed = false
	c.signaled = false
	select {
	case <-c.signals:
	default:
	}
	return nil
}

// Busy reports whether the purchase blocks a new one: it is PURCHASING or
// still confirming.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opening || (c.intent.Stage.Active() && !c.unconfirmed)
}

// Intent returns a copy of the current intent.
func (c *Controller) Intent() models.PurchaseIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intent
}

// History returns the stage transitions taken since the last reset.
func (c *Controller) History() []models.StageChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StageChange(nil), c.history...)
}

// View is a read-only snapshot for observers.
type View struct {
	ID             string               `json:"id,omitempty"`
	Owner          string               `json:"owner"`
	Provider       models.Provider      `json:"provider,omitempty"`
	DesiredAmount  uint64               `json:"desiredAmount"`
	Stage          models.Stage         `json:"stage"`
	Error          string               `json:"error,omitempty"`
	Account        string               `json:"account,omitempty"`
	InitialBalance uint64               `json:"initialBalance"`
	Balance        uint64               `json:"balance"`
	Pending        bool                 `json:"pending"`
	Outcome        *Outcome             `json:"outcome,omitempty"`
	History        []models.StageChange `json:"history"`
}

// View returns a snapshot, with the balance merged against any optimistic
// override.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		ID:             c.intent.ID,
		Owner:          c.owner.String(),
		Provider:       c.intent.Provider,
		DesiredAmount:  c.intent.DesiredAmount,
		Stage:          c.intent.Stage,
		Error:          c.intent.ErrorMessage(),
		InitialBalance: c.initial,
		History:        append([]models.StageChange(nil), c.history...),
	}
	if !c.account.IsZero() {
		v.Account = c.account.String()
	}
	if c.outcome != nil {
		o := *c.outcome
		v.Outcome = &o
	}
	c.mu.Unlock()

	if v.Account != "" {
		v.Balance, _ = c.deps.Cache.Get(v.Account)
		v.Pending = c.deps.Cache.Pending(v.Account)
	}
	return v
}

// advance applies a stage transition. Invalid edges are logged no-ops.
// Caller holds mu.
func (c *Controller) advance(next models.Stage) bool {
	from := c.intent.Stage
	if !from.CanTransition(next) {
		slog.Warn("invalid purchase transition ignored",
			"purchaseID", c.intent.ID,
			"from", from,
			"to", next,
		)
		return false
	}
	c.intent.Stage = next
	change := models.StageChange{From: from, To: next, At: time.Now().UTC()}
	c.history = append(c.history, change)

	slog.Debug("purchase stage changed", "purchaseID", c.intent.ID, "from", from, "to", next)
	c.deps.Bus.Emit(events.New(events.PurchaseStage, events.FlowPurchase, c.intent.ID, c.owner.String(), change))
	return true
}

func (c *Controller) emit(typ string, data any) {
	c.mu.Lock()
	id := c.intent.ID
	c.mu.Unlock()
	c.deps.Bus.Emit(events.New(typ, events.FlowPurchase, id, c.owner.String(), data))
}

// IsUserFacing reports whether err should be shown to the user verbatim.
func IsUserFacing(err error) bool {
	return errors.Is(err, config.ErrPurchaseCanceled) || errors.Is(err, config.ErrPollExhausted) || config.IsValidation(err)
}
