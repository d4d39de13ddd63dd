package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	slip10Curve    = "ed25519 seed"
	hardenedOffset = uint32(0x80000000)
)

// slip10Key is a SLIP-10 ed25519 node: 32-byte private seed and chain code.
type slip10Key struct {
	key       []byte
	chainCode []byte
}

func slip10Master(seed []byte) slip10Key {
	mac := hmac.New(sha512.New, []byte(slip10Curve))
	mac.Write(seed)
	I := mac.Sum(nil)
	return slip10Key{key: I[:32], chainCode: I[32:]}
}

// slip10Child performs hardened child derivation:
// HMAC-SHA512(chainCode, 0x00 || key || index).
func slip10Child(parent slip10Key, index uint32) slip10Key {
	data := make([]byte, 0, 37)
	data = append(data, 0x00)
	data = append(data, parent.key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, parent.chainCode)
	mac.Write(data)
	I := mac.Sum(nil)
	return slip10Key{key: I[:32], chainCode: I[32:]}
}

// DerivationPath returns the wallet path for account index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/501'/%d'/0'", index)
}

// DeriveKey derives the Solana key pair at m/44'/501'/index'/0'.
func DeriveKey(seed []byte, index uint32) (solana.PrivateKey, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("derive %s: seed too short (%d bytes)", DerivationPath(index), len(seed))
	}

	node := slip10Master(seed)
	for _, seg := range []uint32{44, 501, index, 0} {
		node = slip10Child(node, seg+hardenedOffset)
	}

	return solana.PrivateKey(ed25519.NewKeyFromSeed(node.key)), nil
}
