package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/config"
)

// Sessions keeps one controller per user and refuses to open a second
// purchase while the first is still in flight.
type Sessions struct {
	deps Deps
	base context.Context

	mu          sync.Mutex
	controllers map[solana.PublicKey]*Controller
	wg          sync.WaitGroup
}

// NewSessions creates a registry. base bounds the background signal waits;
// cancelling it abandons purchases still waiting for their on-ramp.
func NewSessions(base context.Context, deps Deps) *Sessions {
	return &Sessions{
		deps:        deps,
		base:        base,
		controllers: make(map[solana.PublicKey]*Controller),
	}
}

// Start opens a purchase for owner and drives it in the background until it
// settles. It fails with config.ErrPurchaseInProgress if one is active.
func (s *Sessions) Start(ctx context.Context, owner solana.PublicKey, req OpenRequest) (*Controller, error) {
	if req.DesiredAmount == 0 {
		return nil, fmt.Errorf("%w: desired amount must be greater than zero", config.ErrInvalidAmount)
	}

	s.mu.Lock()
	c, ok := s.controllers[owner]
	if ok && c.Busy() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: owner %s", config.ErrPurchaseInProgress, owner)
	}
	if !ok {
		c = NewController(s.deps, owner)
		s.controllers[owner] = c
	} else if err := c.Reset(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !c.reserve() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: owner %s", config.ErrPurchaseInProgress, owner)
	}
	s.mu.Unlock()

	if err := c.openReserved(ctx, req); err != nil {
		return c, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := c.Await(s.base)
		if err != nil {
			slog.Warn("purchase ended with error", "owner", owner.String(), "status", out.Status, "error", err)
			return
		}
		slog.Debug("purchase settled", "owner", owner.String(), "status", out.Status)
	}()
	return c, nil
}

// Get returns owner's controller, if any.
func (s *Sessions) Get(owner solana.PublicKey) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[owner]
	return c, ok
}

// Deliver routes an on-ramp signal to owner's purchase.
func (s *Sessions) Deliver(owner solana.PublicKey, sig Signal) (bool, error) {
	c, ok := s.Get(owner)
	if !ok {
		return false, fmt.Errorf("no purchase for owner %s", owner)
	}
	return c.Deliver(sig), nil
}

// Wait blocks until every background purchase has settled.
func (s *Sessions) Wait() {
	s.wg.Wait()
}
