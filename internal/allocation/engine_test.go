package allocation

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-compact/allocator/internal/balance"
	"github.com/the-compact/allocator/internal/hashbuilder"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/models"
	"github.com/the-compact/allocator/internal/nonce"
	"github.com/the-compact/allocator/internal/signer"
	"github.com/the-compact/allocator/internal/sponsorauth"
	"github.com/the-compact/allocator/internal/types"
)

// fakeIndexer is shared across the balance, chain-cache, and authorization
// dependencies an Engine wires together (the nonce service runs without an
// on-chain checker); every test configures only the fields that submission
// path actually reads.
type fakeIndexer struct {
	balance string
}

func (f *fakeIndexer) GetCompactDetails(ctx context.Context, allocator, sponsor, lockID string, chainID uint64) (*indexer.CompactDetails, error) {
	return &indexer.CompactDetails{ResourceLock: &indexer.ResourceLock{WithdrawalStatus: 0, Balance: f.balance}}, nil
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

// fakeStore backs balance.Store, nonce.Store, and allocation.Store with a
// single mutex-protected outstanding sum and consumed-nonce set, so a
// commitment persisted by one Submit call is immediately visible to the
// next one, the way a shared database would be.
type fakeStore struct {
	mu          sync.Mutex
	outstanding *big.Int
	consumed    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{outstanding: big.NewInt(0), consumed: make(map[string]bool)}
}

func (s *fakeStore) SumOutstanding(ctx context.Context, sponsor string, chainID uint64, lockID string, now time.Time, settled map[string]bool) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.outstanding), nil
}

func (s *fakeStore) IsConsumedLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[nonceKey(sponsor, high, low)], nil
}

func (s *fakeStore) ConsumeLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := nonceKey(sponsor, high, low)
	if s.consumed[k] {
		return assert.AnError
	}
	s.consumed[k] = true
	return nil
}

func (s *fakeStore) InsertCompactAndConsumeNonce(ctx context.Context, compact *models.Compact, chainID uint64, sponsor string, nonceHigh string, nonceLow uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range compact.Elements {
		for _, c := range el.Commitments {
			amount, _ := new(big.Int).SetString(c.Amount, 10)
			s.outstanding.Add(s.outstanding, amount)
		}
	}
	s.consumed[nonceKey(sponsor, nonceHigh, nonceLow)] = true
	return nil
}

func nonceKey(sponsor, high string, low uint64) string {
	return sponsor + "|" + high + "|" + new(big.Int).SetUint64(low).String()
}

// fakeSigner is a deterministic, fixed-key Signer so tests can both drive
// Submit and independently recompute the expected signature.
type fakeSigner struct{ key *ecdsa.PrivateKey }

func newFakeSigner(t *testing.T) *fakeSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeSigner{key: key}
}

func (s *fakeSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	rawSig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, err
	}
	return signer.ToCompact(rawSig)
}

func (s *fakeSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func buildEngine(t *testing.T, store *fakeStore, idx *fakeIndexer) (*Engine, *fakeSigner) {
	sig := newFakeSigner(t)
	balanceEngine := balance.NewEngine(idx, store)
	nonceSvc := nonce.NewService(store, nil)
	authorizer := sponsorauth.NewAuthorizer(idx)
	chains := indexer.NewChainCache(idx, sig.Address().Hex())
	return NewEngine(balanceEngine, nonceSvc, authorizer, sig, store, chains), sig
}

func lockTag(b byte) string {
	return "0x" + strings.Repeat("00", 11) + byteHex(b)
}

func byteHex(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}

func singleCompactInput(sponsor common.Address, fragment uint64, amount int64) types.CompactInput {
	n := new(big.Int).Lsh(new(big.Int).SetBytes(sponsor[:]), 96)
	n.Or(n, new(big.Int).SetUint64(fragment))
	return types.CompactInput{
		Kind:    types.KindSingle,
		Sponsor: sponsor.Hex(),
		Nonce:   "0x" + n.Text(16),
		Expires: time.Now().Add(time.Hour).Unix(),
		Elements: []types.ElementInput{{
			Arbiter: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			ChainID: 10,
			Commitments: []types.CommitmentInput{{
				LockTag: lockTag(0x01),
				Token:   "0x0000000000000000000000000000000000000001",
				Amount:  big.NewInt(amount),
			}},
		}},
	}
}

// signSponsor computes the claim hash and digest for this exact input,
// signs it with key, and returns the input with SponsorSignature set.
func signSponsor(t *testing.T, in types.CompactInput, key *ecdsa.PrivateKey, notarizedChainID uint64) types.CompactInput {
	claimHash, err := hashbuilder.ClaimHash(in)
	require.NoError(t, err)
	digest, err := hashbuilder.Digest(notarizedChainID, hashbuilder.DefaultVerifyingContract, claimHash)
	require.NoError(t, err)
	rawSig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	compactSig, err := signer.ToCompact(rawSig)
	require.NoError(t, err)
	in.SponsorSignature = "0x" + common.Bytes2Hex(compactSig)
	return in
}

func TestSubmitHappyPath(t *testing.T) {
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(sponsorKey.PublicKey)

	store := newFakeStore()
	engine, _ := buildEngine(t, store, &fakeIndexer{balance: "1000"})

	in := singleCompactInput(sponsor, 0, 100)
	in = signSponsor(t, in, sponsorKey, 10)

	compact, err := engine.Submit(context.Background(), in, 10)
	require.NoError(t, err)
	assert.Len(t, compact.Signature, 130) // "0x" + 128 hex chars (64-byte compact signature)
	assert.NotEmpty(t, compact.ClaimHash)
}

func TestSubmitReplayRejected(t *testing.T) {
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(sponsorKey.PublicKey)

	store := newFakeStore()
	engine, _ := buildEngine(t, store, &fakeIndexer{balance: "1000"})

	in := signSponsor(t, singleCompactInput(sponsor, 0, 100), sponsorKey, 10)
	_, err = engine.Submit(context.Background(), in, 10)
	require.NoError(t, err)

	_, err = engine.Submit(context.Background(), in, 10)
	require.Error(t, err)
	var replay *nonce.ReplayError
	assert.ErrorAs(t, err, &replay)
}

func TestSubmitInsufficientBalance(t *testing.T) {
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(sponsorKey.PublicKey)

	store := newFakeStore()
	engine, _ := buildEngine(t, store, &fakeIndexer{balance: "50"})

	in := signSponsor(t, singleCompactInput(sponsor, 0, 100), sponsorKey, 10)
	_, err = engine.Submit(context.Background(), in, 10)
	require.Error(t, err)
	var insufficient *InsufficientBalanceError
	assert.ErrorAs(t, err, &insufficient)
}

func TestSubmitRejectsUnrecognizedSponsor(t *testing.T) {
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(sponsorKey.PublicKey)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := newFakeStore()
	engine, _ := buildEngine(t, store, &fakeIndexer{balance: "1000"})

	in := signSponsor(t, singleCompactInput(sponsor, 0, 100), otherKey, 10)
	_, err = engine.Submit(context.Background(), in, 10)
	require.Error(t, err)
	var invalid *sponsorauth.InvalidSponsorError
	assert.ErrorAs(t, err, &invalid)
}

// TestSubmitConcurrentOverallocationSerializes exercises the per-sponsor
// critical section: two concurrent submissions against a lock whose
// capacity fits only one of them must yield exactly one success.
func TestSubmitConcurrentOverallocationSerializes(t *testing.T) {
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(sponsorKey.PublicKey)

	store := newFakeStore()
	engine, _ := buildEngine(t, store, &fakeIndexer{balance: "150"})

	first := signSponsor(t, singleCompactInput(sponsor, 0, 100), sponsorKey, 10)
	second := signSponsor(t, singleCompactInput(sponsor, 1, 100), sponsorKey, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = engine.Submit(context.Background(), first, 10)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = engine.Submit(context.Background(), second, 10)
	}()
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var insufficient *InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		failures++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
}
