// Package balance computes allocatable and outstanding balances for a
// (sponsor, chainId, lockId) triple, per §4.6.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/the-compact/allocator/internal/indexer"
)

// LockMissingError: the indexer has no resource lock for this triple.
type LockMissingError struct{ LockID string }

func (e *LockMissingError) Error() string { return fmt.Sprintf("resource lock missing: %s", e.LockID) }

// ForcedWithdrawalError: the lock is mid-withdrawal and cannot allocate.
type ForcedWithdrawalError struct{ LockID string }

func (e *ForcedWithdrawalError) Error() string {
	return fmt.Sprintf("forced withdrawal in progress: %s", e.LockID)
}

// WrongAllocatorError: the lockTag's allocatorId doesn't match this
// chain's configured allocator.
type WrongAllocatorError struct {
	Got, Want string
}

func (e *WrongAllocatorError) Error() string {
	return fmt.Sprintf("wrong allocator: got %s, want %s", e.Got, e.Want)
}

// Store is the subset of persistence this engine needs: the sum of
// unsettled outstanding commitments for a lock.
type Store interface {
	SumOutstanding(ctx context.Context, sponsor string, chainID uint64, lockID string, now time.Time, settledClaimHashes map[string]bool) (*big.Int, error)
}

type Engine struct {
	indexer indexer.Client
	store   Store
}

func NewEngine(idx indexer.Client, store Store) *Engine {
	return &Engine{indexer: idx, store: store}
}

// Balances is the (allocatable, outstanding) pair §4.6 returns.
type Balances struct {
	Allocatable *big.Int
	Outstanding *big.Int
}

// Capacity is allocatable - outstanding, the sponsor's uncommitted room.
func (b Balances) Capacity() *big.Int {
	return new(big.Int).Sub(b.Allocatable, b.Outstanding)
}

// Compute implements §4.6 steps 1-7 for a single (sponsor, chainId,
// lockId) triple.
func (e *Engine) Compute(ctx context.Context, allocator, sponsor string, chainID uint64, lockID string, configuredAllocatorID string) (Balances, error) {
	snap, err := e.Inspect(ctx, allocator, sponsor, chainID, lockID)
	if err != nil {
		return Balances{}, err
	}
	if snap.WithdrawalStatus != 0 {
		return Balances{}, &ForcedWithdrawalError{LockID: lockID}
	}
	if configuredAllocatorID != "" {
		gotAllocatorID, err := allocatorIDFromLockID(lockID)
		if err != nil {
			return Balances{}, err
		}
		if gotAllocatorID.String() != configuredAllocatorID {
			return Balances{}, &WrongAllocatorError{Got: gotAllocatorID.String(), Want: configuredAllocatorID}
		}
	}
	return snap.Balances, nil
}

// Snapshot is the full read-only view of a lock, including withdrawal
// status, for the status routes that report it rather than reject on it.
type Snapshot struct {
	Balances
	WithdrawalStatus int
}

// Inspect fetches and computes balances for a lock without the
// ForcedWithdrawal/WrongAllocator short-circuits Compute applies; used by
// GET /balance and GET /balances which surface withdrawalStatus as data.
func (e *Engine) Inspect(ctx context.Context, allocator, sponsor string, chainID uint64, lockID string) (Snapshot, error) {
	details, err := e.indexer.GetCompactDetails(ctx, allocator, sponsor, lockID, chainID)
	if err != nil {
		return Snapshot{}, err
	}
	if details.ResourceLock == nil {
		return Snapshot{}, &LockMissingError{LockID: lockID}
	}

	balanceOnChain, ok := new(big.Int).SetString(details.ResourceLock.Balance, 10)
	if !ok {
		return Snapshot{}, fmt.Errorf("indexer returned non-decimal balance: %s", details.ResourceLock.Balance)
	}

	pending := new(big.Int)
	for _, d := range details.AccountDeltas {
		delta, ok := new(big.Int).SetString(d.Delta, 10)
		if !ok {
			return Snapshot{}, fmt.Errorf("indexer returned non-decimal delta: %s", d.Delta)
		}
		pending.Add(pending, delta)
	}

	allocatable := new(big.Int).Sub(balanceOnChain, pending)
	if allocatable.Sign() < 0 {
		allocatable = big.NewInt(0)
	}

	settled := make(map[string]bool, len(details.Claims))
	for _, c := range details.Claims {
		settled[c.ClaimHash] = true
	}

	outstanding, err := e.store.SumOutstanding(ctx, sponsor, chainID, lockID, time.Now(), settled)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Balances:         Balances{Allocatable: allocatable, Outstanding: outstanding},
		WithdrawalStatus: details.ResourceLock.WithdrawalStatus,
	}, nil
}

// allocatorIDFromLockID extracts (lockTag >> 4) & (2^92 - 1) from the
// 32-byte lockId's top 12 bytes.
func allocatorIDFromLockID(lockID string) (*big.Int, error) {
	b := common.FromHex(lockID)
	if len(b) != 32 {
		return nil, fmt.Errorf("lockId must be 32 bytes, got %d", len(b))
	}
	tag := new(big.Int).SetBytes(b[0:12])
	shifted := new(big.Int).Rsh(tag, 4)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 92), big.NewInt(1))
	return shifted.And(shifted, mask), nil
}
