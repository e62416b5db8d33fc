// Package nonce implements the 256-bit nonce lifecycle: suggestion,
// validation against both the local store and the on-chain indexer, and
// atomic consumption.
package nonce

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxSuggestAttempts bounds the fragment scan in Suggest.
const MaxSuggestAttempts = 1024

// ExhaustedError is returned when no free fragment is found within
// MaxSuggestAttempts.
type ExhaustedError struct{ Sponsor string }

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("nonce space exhausted for sponsor %s", e.Sponsor)
}

// ReplayError is returned by Consume on a duplicate insert.
type ReplayError struct{ Nonce string }

func (e *ReplayError) Error() string { return fmt.Sprintf("nonce already consumed: %s", e.Nonce) }

// SponsorMismatchError is returned by Validate when the nonce's top 20
// bytes don't equal the submitting sponsor.
type SponsorMismatchError struct{}

func (e *SponsorMismatchError) Error() string { return "nonce is not bound to this sponsor" }

// Store is the persistence boundary this service needs: local
// consumed-nonce bookkeeping, split at the storage layer's 192/64-bit
// byte boundary (independent of the sponsor/fragment 160-bit boundary the
// nonce value itself carries).
type Store interface {
	IsConsumedLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) (bool, error)
	ConsumeLocally(ctx context.Context, chainID uint64, sponsor string, high string, low uint64) error
}

// OnChainChecker reports whether the indexer has observed a nonce as
// already consumed on-chain.
type OnChainChecker interface {
	IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, nonce *big.Int) (bool, error)
}

// Service implements suggest/validate/consume over a Store and an
// optional OnChainChecker (nil disables the on-chain check, e.g. in unit
// tests against a mocked store only).
type Service struct {
	store   Store
	onChain OnChainChecker
}

func NewService(store Store, onChain OnChainChecker) *Service {
	return &Service{store: store, onChain: onChain}
}

// Split exposes the storage-layer (high, low) split for callers that
// need to persist a nonce alongside other writes in the same
// transaction (the allocation engine's combined compact+nonce insert).
func Split(nonce *big.Int) (string, uint64) {
	return split(nonce)
}

// split divides a 256-bit nonce into the storage layer's (high, low)
// pair: nonceHigh is the top 192 bits as a decimal string, nonceLow is the
// bottom 64 bits.
func split(nonce *big.Int) (high string, low uint64) {
	lowMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	lowBig := new(big.Int).And(nonce, lowMask)
	highBig := new(big.Int).Rsh(nonce, 64)
	return highBig.String(), lowBig.Uint64()
}

// compose reassembles a nonce from its sponsor (top 20 bytes) and a
// 12-byte fragment (bottom 96 bits), per §4.4's layout.
func compose(sponsor common.Address, fragment uint64) *big.Int {
	sponsorBig := new(big.Int).SetBytes(sponsor[:])
	n := new(big.Int).Lsh(sponsorBig, 96)
	return n.Or(n, new(big.Int).SetUint64(fragment))
}

// sponsorOf extracts the top 20 bytes of a 256-bit nonce.
func sponsorOf(nonce *big.Int) common.Address {
	shifted := new(big.Int).Rsh(nonce, 96)
	var addr common.Address
	b := shifted.Bytes()
	if len(b) > 20 {
		b = b[len(b)-20:]
	}
	copy(addr[20-len(b):], b)
	return addr
}

// Suggest picks the smallest fragment f >= 0 such that the composed
// nonce is neither locally consumed nor reported consumed on-chain.
func (s *Service) Suggest(ctx context.Context, sponsor common.Address, chainID uint64) (*big.Int, error) {
	for f := uint64(0); f < MaxSuggestAttempts; f++ {
		candidate := compose(sponsor, f)
		if err := s.Validate(ctx, candidate, sponsor, chainID); err == nil {
			return candidate, nil
		}
	}
	return nil, &ExhaustedError{Sponsor: sponsor.Hex()}
}

// Validate confirms the nonce is sponsor-bound, not locally consumed, and
// not reported consumed by the indexer.
func (s *Service) Validate(ctx context.Context, nonceVal *big.Int, sponsor common.Address, chainID uint64) error {
	if sponsorOf(nonceVal) != sponsor {
		return &SponsorMismatchError{}
	}
	high, low := split(nonceVal)
	consumed, err := s.store.IsConsumedLocally(ctx, chainID, sponsor.Hex(), high, low)
	if err != nil {
		return fmt.Errorf("nonce store check: %w", err)
	}
	if consumed {
		return &ReplayError{Nonce: nonceVal.String()}
	}
	if s.onChain != nil {
		onChainConsumed, err := s.onChain.IsNonceConsumedOnChain(ctx, chainID, sponsor.Hex(), nonceVal)
		if err != nil {
			return fmt.Errorf("indexer nonce check: %w", err)
		}
		if onChainConsumed {
			return &ReplayError{Nonce: nonceVal.String()}
		}
	}
	return nil
}

// Consume atomically records the nonce as spent. Callers must have
// already validated it within the same critical section.
func (s *Service) Consume(ctx context.Context, nonceVal *big.Int, sponsor common.Address, chainID uint64) error {
	high, low := split(nonceVal)
	if err := s.store.ConsumeLocally(ctx, chainID, sponsor.Hex(), high, low); err != nil {
		return &ReplayError{Nonce: nonceVal.String()}
	}
	return nil
}
