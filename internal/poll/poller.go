// Package poll watches a token account until its balance rises above a
// baseline.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/metrics"
	"github.com/Fantasim/payflow/internal/remoteconfig"
)

// BalanceSource fetches the current balance of a token account.
type BalanceSource interface {
	GetLatestBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Settings tunes one poll. Nil fields are undefined and fall back to
// config.DefaultPollRetryDelay and config.DefaultPollMaxRetries.
type Settings struct {
	RetryDelayMs  *int
	MaxRetryCount *int
}

// RetryDelay returns the effective wait before each attempt.
func (s Settings) RetryDelay() time.Duration {
	if s.RetryDelayMs == nil || *s.RetryDelayMs < 0 {
		return config.DefaultPollRetryDelay
	}
	return time.Duration(*s.RetryDelayMs) * time.Millisecond
}

// MaxRetries returns the effective attempt budget.
func (s Settings) MaxRetries() int {
	if s.MaxRetryCount == nil || *s.MaxRetryCount <= 0 {
		return config.DefaultPollMaxRetries
	}
	return *s.MaxRetryCount
}

// SettingsFromRemote reads the poll tunables; unset or malformed values stay nil.
func SettingsFromRemote(g remoteconfig.Getter) Settings {
	var s Settings
	if v, ok := remoteconfig.Int(g, config.VarPollRetryDelayMs); ok {
		s.RetryDelayMs = &v
	}
	if v, ok := remoteconfig.Int(g, config.VarPollMaxRetries); ok {
		s.MaxRetryCount = &v
	}
	return s
}

// State is the per-poll bookkeeping, created fresh for each call to Poll.
type State struct {
	Account        solana.PublicKey
	InitialBalance uint64
	RetryDelay     time.Duration
	MaxRetryCount  int
	AttemptsUsed   int
}

// Result is the outcome of a poll. Exhausted is a normal outcome, not an error.
type Result struct {
	Balance   uint64
	Exhausted bool
	Attempts  int
}

// Poller polls a balance source.
type Poller struct {
	source BalanceSource
}

// New creates a poller over source.
func New(source BalanceSource) *Poller {
	return &Poller{source: source}
}

// Poll waits, fetches and compares up to MaxRetries times, succeeding the
// first time the balance is strictly greater than initial. A failed fetch
// uses up an attempt. The only error returned is ctx's.
func (p *Poller) Poll(ctx context.Context, account solana.PublicKey, initial uint64, settings Settings) (Result, error) {
	st := State{
		Account:        account,
		InitialBalance: initial,
		RetryDelay:     settings.RetryDelay(),
		MaxRetryCount:  settings.MaxRetries(),
	}

	slog.Info("balance poll started",
		"account", account.String(),
		"initialBalance", initial,
		"retryDelay", st.RetryDelay,
		"maxRetries", st.MaxRetryCount,
	)

	timer := time.NewTimer(st.RetryDelay)
	defer timer.Stop()

	for st.AttemptsUsed < st.MaxRetryCount {
		if st.AttemptsUsed > 0 {
			timer.Reset(st.RetryDelay)
		}
		select {
		case <-ctx.Done():
			return Result{Attempts: st.AttemptsUsed}, ctx.Err()
		case <-timer.C:
		}

		st.AttemptsUsed++

		balance, err := p.source.GetLatestBalance(ctx, account)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Attempts: st.AttemptsUsed}, ctx.Err()
			}
			slog.Warn("balance fetch failed, counting attempt",
				"account", account.String(),
				"attempt", st.AttemptsUsed,
				"error", err,
			)
			continue
		}

		if balance > initial {
			slog.Info("balance increase detected",
				"account", account.String(),
				"initialBalance", initial,
				"balance", balance,
				"attempts", st.AttemptsUsed,
			)
			metrics.PollAttempts.Observe(float64(st.AttemptsUsed))
			return Result{Balance: balance, Attempts: st.AttemptsUsed}, nil
		}

		slog.Debug("balance unchanged",
			"account", account.String(),
			"attempt", st.AttemptsUsed,
			"balance", balance,
		)
	}

	slog.Info("balance poll exhausted",
		"account", account.String(),
		"attempts", st.AttemptsUsed,
	)
	metrics.PollAttempts.Observe(float64(st.AttemptsUsed))
	return Result{Balance: initial, Exhausted: true, Attempts: st.AttemptsUsed}, nil
}
