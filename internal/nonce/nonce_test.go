package nonce

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	consumed map[string]bool
}

func newMemStore() *memStore { return &memStore{consumed: make(map[string]bool)} }

func (m *memStore) IsConsumedLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed[sponsor+"|"+high+"|"+bigLow(low)], nil
}

func (m *memStore) ConsumeLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sponsor + "|" + high + "|" + bigLow(low)
	if m.consumed[k] {
		return assert.AnError
	}
	m.consumed[k] = true
	return nil
}

func bigLow(low uint64) string {
	return new(big.Int).SetUint64(low).String()
}

type fakeOnChain struct {
	consumed map[string]bool
}

func (f *fakeOnChain) IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, n *big.Int) (bool, error) {
	return f.consumed[n.String()], nil
}

var sponsor = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestSuggestReturnsNonceThatValidates(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	suggested, err := svc.Suggest(context.Background(), sponsor, 10)
	require.NoError(t, err)
	assert.NoError(t, svc.Validate(context.Background(), suggested, sponsor, 10))
}

func TestConsumeThenValidateFails(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	n, err := svc.Suggest(context.Background(), sponsor, 10)
	require.NoError(t, err)

	require.NoError(t, svc.Consume(context.Background(), n, sponsor, 10))

	err = svc.Validate(context.Background(), n, sponsor, 10)
	require.Error(t, err)
	var replay *ReplayError
	assert.ErrorAs(t, err, &replay)
}

func TestValidateRejectsWrongSponsorBinding(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	n := compose(sponsor, 0)

	err := svc.Validate(context.Background(), n, other, 10)
	require.Error(t, err)
	var mismatch *SponsorMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestValidateConsultsOnChainChecker(t *testing.T) {
	n := compose(sponsor, 0)
	onChain := &fakeOnChain{consumed: map[string]bool{n.String(): true}}
	svc := NewService(newMemStore(), onChain)

	err := svc.Validate(context.Background(), n, sponsor, 10)
	require.Error(t, err)
	var replay *ReplayError
	assert.ErrorAs(t, err, &replay)
}

func TestSplitAndComposeRoundTrip(t *testing.T) {
	n := compose(sponsor, 42)
	high, low := Split(n)
	assert.Equal(t, uint64(42), low)

	highBig, ok := new(big.Int).SetString(high, 10)
	require.True(t, ok)
	reconstructed := new(big.Int).Lsh(highBig, 64)
	reconstructed.Or(reconstructed, new(big.Int).SetUint64(low))
	assert.Equal(t, n, reconstructed)
}

func TestSuggestExhaustionWhenAllFragmentsConsumed(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	for f := uint64(0); f < MaxSuggestAttempts; f++ {
		n := compose(sponsor, f)
		require.NoError(t, svc.Consume(context.Background(), n, sponsor, 10))
	}

	_, err := svc.Suggest(context.Background(), sponsor, 10)
	require.Error(t, err)
	var exhausted *ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}
