package sponsorauth

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/signer"
)

type fakeIndexer struct {
	registered *indexer.RegisteredCompact
	err        error
}

func (f *fakeIndexer) GetCompactDetails(ctx context.Context, allocator, sponsor, lockID string, chainID uint64) (*indexer.CompactDetails, error) {
	return nil, nil
}
func (f *fakeIndexer) GetAllResourceLocks(ctx context.Context, sponsor string) ([]indexer.ResourceLockRef, error) {
	return nil, nil
}
func (f *fakeIndexer) GetSupportedChains(ctx context.Context, allocator string) ([]indexer.SupportedChain, error) {
	return nil, nil
}
func (f *fakeIndexer) GetRegisteredCompact(ctx context.Context, allocator, sponsor, claimHash string, chainID uint64) (*indexer.RegisteredCompact, error) {
	return f.registered, f.err
}
func (f *fakeIndexer) IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, nonceVal *big.Int) (bool, error) {
	return false, nil
}

func TestAuthorizeAcceptsRecoverableSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(key.PublicKey)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("claim")))

	rawSig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	compactSig, err := signer.ToCompact(rawSig)
	require.NoError(t, err)

	auth := NewAuthorizer(&fakeIndexer{})
	err = auth.Authorize(context.Background(), digest, sponsor, "0x"+common.Bytes2Hex(compactSig), common.HexToAddress("0xallocator"), common.Hash{}, 10, 2_000_000_000)
	assert.NoError(t, err)
}

func TestAuthorizeRejectsWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("claim")))

	rawSig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	compactSig, err := signer.ToCompact(rawSig)
	require.NoError(t, err)

	auth := NewAuthorizer(&fakeIndexer{})
	err = auth.Authorize(context.Background(), digest, sponsor, "0x"+common.Bytes2Hex(compactSig), common.HexToAddress("0xallocator"), common.Hash{}, 10, 2_000_000_000)
	require.Error(t, err)
	var invalid *InvalidSponsorError
	assert.ErrorAs(t, err, &invalid)
}

func TestAuthorizeFallsBackToOnChainRegistration(t *testing.T) {
	sponsor := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("claim")))

	auth := NewAuthorizer(&fakeIndexer{registered: &indexer.RegisteredCompact{
		Expires: 3_000_000_000,
		Sponsor: sponsor.Hex(),
	}})
	err := auth.Authorize(context.Background(), digest, sponsor, "", common.HexToAddress("0xallocator"), common.Hash{}, 10, 2_000_000_000)
	assert.NoError(t, err)
}

func TestAuthorizeRejectsExpiredRegistration(t *testing.T) {
	sponsor := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("claim")))

	auth := NewAuthorizer(&fakeIndexer{registered: &indexer.RegisteredCompact{
		Expires: 1_000_000_000,
		Sponsor: sponsor.Hex(),
	}})
	err := auth.Authorize(context.Background(), digest, sponsor, "", common.HexToAddress("0xallocator"), common.Hash{}, 10, 2_000_000_000)
	require.Error(t, err)
	var invalid *InvalidSponsorError
	assert.ErrorAs(t, err, &invalid)
}

func TestAuthorizeRejectsWhenNeitherPathSucceeds(t *testing.T) {
	sponsor := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("claim")))

	auth := NewAuthorizer(&fakeIndexer{})
	err := auth.Authorize(context.Background(), digest, sponsor, "", common.HexToAddress("0xallocator"), common.Hash{}, 10, 2_000_000_000)
	require.Error(t, err)
	var invalid *InvalidSponsorError
	assert.ErrorAs(t, err, &invalid)
}
