package balance

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-compact/allocator/internal/indexer"
)

var testLockID = "0x" + strings.Repeat("00", 31) + "01"

type fakeIndexer struct {
	details *indexer.CompactDetails
	err     error
}

func (f *fakeIndexer) GetCompactDetails(ctx context.Context, allocator, sponsor, lockID string, chainID uint64) (*indexer.CompactDetails, error) {
	return f.details, f.err
}
func (f *fakeIndexer) GetAllResourceLocks(ctx context.Context, sponsor string) ([]indexer.ResourceLockRef, error) {
	return nil, nil
}
func (f *fakeIndexer) GetSupportedChains(ctx context.Context, allocator string) ([]indexer.SupportedChain, error) {
	return nil, nil
}
func (f *fakeIndexer) GetRegisteredCompact(ctx context.Context, allocator, sponsor, claimHash string, chainID uint64) (*indexer.RegisteredCompact, error) {
	return nil, nil
}
func (f *fakeIndexer) IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, nonceVal *big.Int) (bool, error) {
	return false, nil
}

type fakeStore struct {
	outstanding *big.Int
	err         error
}

func (f *fakeStore) SumOutstanding(ctx context.Context, sponsor string, chainID uint64, lockID string, now time.Time, settled map[string]bool) (*big.Int, error) {
	return f.outstanding, f.err
}

func TestComputeReturnsAllocatableLessOutstanding(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock: &indexer.ResourceLock{WithdrawalStatus: 0, Balance: "1000"},
	}}
	store := &fakeStore{outstanding: big.NewInt(200)}
	engine := NewEngine(idx, store)

	balances, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), balances.Allocatable)
	assert.Equal(t, big.NewInt(200), balances.Outstanding)
	assert.Equal(t, big.NewInt(800), balances.Capacity())
}

func TestComputeSubtractsPendingDeltas(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock:  &indexer.ResourceLock{WithdrawalStatus: 0, Balance: "1000"},
		AccountDeltas: []indexer.AccountDelta{{Delta: "300"}, {Delta: "100"}},
	}}
	store := &fakeStore{outstanding: big.NewInt(0)}
	engine := NewEngine(idx, store)

	balances, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(600), balances.Allocatable)
}

func TestComputeFloorsAllocatableAtZero(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock:  &indexer.ResourceLock{WithdrawalStatus: 0, Balance: "100"},
		AccountDeltas: []indexer.AccountDelta{{Delta: "-500"}},
	}}
	store := &fakeStore{outstanding: big.NewInt(0)}
	engine := NewEngine(idx, store)

	balances, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), balances.Allocatable)
}

func TestComputeMissingLock(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{}}
	engine := NewEngine(idx, &fakeStore{outstanding: big.NewInt(0)})

	_, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "")
	require.Error(t, err)
	var missing *LockMissingError
	assert.ErrorAs(t, err, &missing)
}

func TestComputeForcedWithdrawal(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock: &indexer.ResourceLock{WithdrawalStatus: 1, Balance: "1000"},
	}}
	engine := NewEngine(idx, &fakeStore{outstanding: big.NewInt(0)})

	_, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "")
	require.Error(t, err)
	var forced *ForcedWithdrawalError
	assert.ErrorAs(t, err, &forced)
}

func TestComputeWrongAllocator(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock: &indexer.ResourceLock{WithdrawalStatus: 0, Balance: "1000"},
	}}
	engine := NewEngine(idx, &fakeStore{outstanding: big.NewInt(0)})

	_, err := engine.Compute(context.Background(), "0xallocator", "0xsponsor", 10, testLockID, "999")
	require.Error(t, err)
	var wrong *WrongAllocatorError
	assert.ErrorAs(t, err, &wrong)
}

func TestInspectExcludesSettledClaimsFromOutstanding(t *testing.T) {
	idx := &fakeIndexer{details: &indexer.CompactDetails{
		ResourceLock: &indexer.ResourceLock{WithdrawalStatus: 0, Balance: "1000"},
		Claims:       []indexer.Claim{{ClaimHash: "0xsettled"}},
	}}
	var capturedSettled map[string]bool
	store := &recordingStore{fakeStore: fakeStore{outstanding: big.NewInt(0)}, captured: &capturedSettled}
	engine := NewEngine(idx, store)

	_, err := engine.Inspect(context.Background(), "0xallocator", "0xsponsor", 10, testLockID)
	require.NoError(t, err)
	assert.True(t, capturedSettled["0xsettled"])
}

type recordingStore struct {
	fakeStore
	captured *map[string]bool
}

func (r *recordingStore) SumOutstanding(ctx context.Context, sponsor string, chainID uint64, lockID string, now time.Time, settled map[string]bool) (*big.Int, error) {
	*r.captured = settled
	return r.fakeStore.outstanding, r.fakeStore.err
}

func TestAllocatorIDFromLockIDMatchesLockTagShift(t *testing.T) {
	lockID := "0x" + strings.Repeat("00", 11) + "10" + strings.Repeat("00", 20)
	allocatorID, err := allocatorIDFromLockID(lockID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), allocatorID)
}
