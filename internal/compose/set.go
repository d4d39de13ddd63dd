package compose

import (
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/config"
)

// StepKind tags an instruction with its place in the dependency order.
// Kinds must appear in non-decreasing order within a set.
type StepKind int

const (
	StepCreate StepKind = iota + 1
	StepFund
	StepSwap
	StepClose
	StepTransfer
)

func (k StepKind) String() string {
	switch k {
	case StepCreate:
		return "create"
	case StepFund:
		return "fund"
	case StepSwap:
		return "swap"
	case StepClose:
		return "close"
	case StepTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Step is one tagged ledger instruction.
type Step struct {
	Kind        StepKind
	Label       string
	Instruction solana.Instruction
}

// InstructionSet is an ordered, immutable group of instructions submitted as one
// transaction. A set built by a Plan carries no blockhash; the submitter attaches
// a fresh one for every attempt. Sets signed elsewhere carry both.
type InstructionSet struct {
	steps      []Step
	feePayer   solana.PublicKey
	blockhash  solana.Hash
	signatures []solana.Signature
}

func (s InstructionSet) Steps() []Step { return append([]Step(nil), s.steps...) }

func (s InstructionSet) FeePayer() solana.PublicKey { return s.feePayer }

func (s InstructionSet) RecentBlockhash() solana.Hash { return s.blockhash }

func (s InstructionSet) Signatures() []solana.Signature {
	return append([]solana.Signature(nil), s.signatures...)
}

func (s InstructionSet) Len() int { return len(s.steps) }

// Presigned reports whether the set was signed against its own blockhash.
func (s InstructionSet) Presigned() bool {
	return s.blockhash != (solana.Hash{}) && len(s.signatures) > 0
}

// Instructions returns the raw instructions in order.
func (s InstructionSet) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.Instruction
	}
	return out
}

// Kinds returns the step kinds in order.
func (s InstructionSet) Kinds() []StepKind {
	out := make([]StepKind, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.Kind
	}
	return out
}

// WithSignatures returns a copy bound to blockhash and externally produced signatures.
func (s InstructionSet) WithSignatures(blockhash solana.Hash, sigs []solana.Signature) InstructionSet {
	s.steps = append([]Step(nil), s.steps...)
	s.blockhash = blockhash
	s.signatures = append([]solana.Signature(nil), sigs...)
	return s
}

// Plan accumulates steps for one InstructionSet and rejects out-of-order appends.
type Plan struct {
	feePayer solana.PublicKey
	steps    []Step
	err      error
}

// NewPlan starts a plan paid for by feePayer.
func NewPlan(feePayer solana.PublicKey) *Plan {
	return &Plan{feePayer: feePayer}
}

// Add appends instructions of kind. Once an append is out of order the plan is
// poisoned and Build returns config.ErrInstructionOrder.
func (p *Plan) Add(kind StepKind, label string, ixs ...solana.Instruction) *Plan {
	if p.err != nil {
		return p
	}
	if n := len(p.steps); n > 0 && kind < p.steps[n-1].Kind {
		p.err = fmt.Errorf("%w: %s %q after %s %q",
			config.ErrInstructionOrder, kind, label, p.steps[n-1].Kind, p.steps[n-1].Label)
		return p
	}
	for _, ix := range ixs {
		p.steps = append(p.steps, Step{Kind: kind, Label: label, Instruction: ix})
	}
	return p
}

// Build validates and freezes the plan.
func (p *Plan) Build() (InstructionSet, error) {
	if p.err != nil {
		return InstructionSet{}, p.err
	}
	if len(p.steps) == 0 {
		return InstructionSet{}, config.ErrEmptyInstructionSet
	}
	if len(p.steps) > config.MaxInstructionsPerSet {
		return InstructionSet{}, fmt.Errorf("%w: %d > %d", config.ErrTooManyInstructions, len(p.steps), config.MaxInstructionsPerSet)
	}
	if p.feePayer.IsZero() {
		return InstructionSet{}, fmt.Errorf("instruction set has no fee payer")
	}

	slog.Debug("instruction set built",
		"feePayer", p.feePayer.String(),
		"instructions", len(p.steps),
	)

	return InstructionSet{
		steps:    append([]Step(nil), p.steps...),
		feePayer: p.feePayer,
	}, nil
}
