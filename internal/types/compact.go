// Package types holds the core value types for compact submissions,
// independent of both the JSON wire shapes (the handlers' DTOs) and how
// they end up persisted.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CommitmentInput is one resource-lock reservation as submitted by a
// client, before any persistence identifiers are assigned.
type CommitmentInput struct {
	LockTag string // 12-byte hex, 0x-prefixed
	Token   string // 20-byte hex address
	Amount  *big.Int
}

// LockID computes the 32-byte composite (lockTag << 160) | token.
func (c CommitmentInput) LockID() (common.Hash, error) {
	tagBytes := common.FromHex(c.LockTag)
	if len(tagBytes) != 12 {
		return common.Hash{}, errWidth("lockTag", 12, len(tagBytes))
	}
	tokenBytes := common.FromHex(c.Token)
	if len(tokenBytes) != 20 {
		return common.Hash{}, errWidth("token", 20, len(tokenBytes))
	}
	var out [32]byte
	copy(out[0:12], tagBytes)
	copy(out[12:32], tokenBytes)
	return common.Hash(out), nil
}

// AllocatorID extracts (lockTag >> 4) & (2^92 - 1) from the 12-byte tag.
func (c CommitmentInput) AllocatorID() (*big.Int, error) {
	tagBytes := common.FromHex(c.LockTag)
	if len(tagBytes) != 12 {
		return nil, errWidth("lockTag", 12, len(tagBytes))
	}
	tag := new(big.Int).SetBytes(tagBytes)
	shifted := new(big.Int).Rsh(tag, 4)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 92), big.NewInt(1))
	return shifted.And(shifted, mask), nil
}

// ElementInput is one element of a compact (a lock location plus its
// commitments), as submitted by a client.
type ElementInput struct {
	Arbiter     string
	ChainID     uint64
	MandateHash string // optional, 32-byte hex
	WitnessHash string // 32-byte hex; every element for multichain, element 0 for a witnessed single/batch
	Commitments []CommitmentInput
}

// CompactInput is the full client-submitted payload for any of the three
// compact shapes; Kind determines which fields are meaningful.
type CompactInput struct {
	Kind              CompactKind
	Sponsor           string
	Nonce             string // 32-byte hex
	Expires           int64
	Elements          []ElementInput
	WitnessTypeString string // present for witnessed single/batch and always for multichain
	SponsorSignature  string // 65-byte or 64-byte (EIP-2098) hex signature, optional if on-chain registered
}

// CompactKind mirrors models.CompactKind without importing the persistence
// package, keeping the wire layer decoupled from storage.
type CompactKind int

const (
	KindSingle CompactKind = iota
	KindBatch
	KindMultichain
)

type widthError struct {
	field string
	want  int
	got   int
}

func (e *widthError) Error() string {
	return "width error: " + e.field
}

func errWidth(field string, want, got int) error {
	return &widthError{field, want, got}
}
