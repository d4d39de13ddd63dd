package account

import (
	"fmt"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Fantasim/payflow/internal/config"
)

// AddressKind is what a destination address points at.
type AddressKind int

const (
	// KindWallet is an ed25519 public key; funds go to its associated account.
	KindWallet AddressKind = iota + 1
	// KindTokenAccount is an off-curve address, assumed to be a token account.
	KindTokenAccount
)

func (k AddressKind) String() string {
	switch k {
	case KindWallet:
		return "wallet"
	case KindTokenAccount:
		return "token-account"
	default:
		return "unknown"
	}
}

// base58Regex matches Solana base58 addresses (32-44 chars, no 0OIl).
var base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ParseAddress decodes a base58 address into a public key.
func ParseAddress(address string) (solana.PublicKey, error) {
	if !base58Regex.MatchString(address) {
		return solana.PublicKey{}, fmt.Errorf("%w: %q is not base58 encoded (32-44 chars)", config.ErrInvalidDestination, address)
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", config.ErrInvalidDestination, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: decodes to %d bytes, want %d", config.ErrInvalidDestination, len(raw), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// ClassifyAddress parses address and decides whether it is a direct wallet
// (on the ed25519 curve) or a token account (off curve, e.g. a PDA).
func ClassifyAddress(address string) (solana.PublicKey, AddressKind, error) {
	pub, err := ParseAddress(address)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	if solana.IsOnCurve(pub[:]) {
		return pub, KindWallet, nil
	}
	return pub, KindTokenAccount, nil
}
