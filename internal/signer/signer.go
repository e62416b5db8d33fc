// Package signer holds the allocator's key and produces EIP-2098 compact
// signatures over a digest. The Signer interface lets a remote KMS-backed
// implementation stand in for the in-process key without touching the
// allocation engine, mirroring this codebase's split between a
// PrivateKeySigningStrategy and a remote key-management service.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the interface the allocation engine depends on.
type Signer interface {
	Sign(ctx context.Context, digest [32]byte) ([]byte, error) // 64-byte EIP-2098 compact signature
	Address() common.Address
}

// PrivateKeySigner holds a secp256k1 key loaded from the environment. The
// configured address must match the key-derived address unless
// skipVerification is set.
type PrivateKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewPrivateKeySigner loads the key from the named environment variable
// and fatally errors on a configured-address mismatch unless
// skipVerification is true.
func NewPrivateKeySigner(envVar, configuredAddress string, skipVerification bool) (*PrivateKeySigner, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", envVar)
	}
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key in %s: %w", envVar, err)
	}
	derived := crypto.PubkeyToAddress(key.PublicKey)

	if configuredAddress != "" && !skipVerification {
		if !common.IsHexAddress(configuredAddress) {
			return nil, fmt.Errorf("ALLOCATOR_ADDRESS is not a valid address: %s", configuredAddress)
		}
		if common.HexToAddress(configuredAddress) != derived {
			return nil, fmt.Errorf("configured allocator address %s does not match key-derived address %s", configuredAddress, derived.Hex())
		}
	}

	return &PrivateKeySigner{key: key, addr: derived}, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (s *PrivateKeySigner) Address() common.Address { return s.addr }

// Sign produces a 64-byte EIP-2098 compact signature: r (32 bytes)
// followed by (v<<255 | s) packed into the top bit of the second word.
func (s *PrivateKeySigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return ToCompact(sig)
}

// ToCompact converts a standard 65-byte (r || s || v) signature into the
// 64-byte EIP-2098 compact form.
func ToCompact(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("expected 65-byte signature, got %d", len(sig))
	}
	r := sig[0:32]
	sWord := make([]byte, 32)
	copy(sWord, sig[32:64])
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v != 0 && v != 1 {
		return nil, fmt.Errorf("unexpected recovery id %d", v)
	}
	if v == 1 {
		sWord[0] |= 0x80
	}
	out := make([]byte, 64)
	copy(out[0:32], r)
	copy(out[32:64], sWord)
	return out, nil
}

// FromCompactOrLong normalizes either a 64-byte EIP-2098 compact
// signature or a 65-byte (r||s||v) signature into the standard 65-byte
// form go-ethereum's recovery functions expect.
func FromCompactOrLong(sig []byte) ([]byte, error) {
	switch len(sig) {
	case 65:
		out := make([]byte, 65)
		copy(out, sig)
		if out[64] >= 27 {
			out[64] -= 27
		}
		return out, nil
	case 64:
		r := sig[0:32]
		vs := sig[32:64]
		v := byte(0)
		sWord := make([]byte, 32)
		copy(sWord, vs)
		if sWord[0]&0x80 != 0 {
			v = 1
			sWord[0] &^= 0x80
		}
		out := make([]byte, 65)
		copy(out[0:32], r)
		copy(out[32:64], sWord)
		out[64] = v
		return out, nil
	default:
		return nil, fmt.Errorf("signature must be 64 or 65 bytes, got %d", len(sig))
	}
}
