// Package allocation implements the AllocationEngine: the per-sponsor
// critical section that revalidates balances, checks and consumes the
// nonce, builds the claim hash and digest, authorizes the sponsor, signs,
// and persists — all as one atomic unit, grounded on this codebase's
// tx.Begin()/tx.Commit() handler pattern.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/the-compact/allocator/internal/balance"
	"github.com/the-compact/allocator/internal/events"
	"github.com/the-compact/allocator/internal/hashbuilder"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/models"
	"github.com/the-compact/allocator/internal/nonce"
	"github.com/the-compact/allocator/internal/signer"
	"github.com/the-compact/allocator/internal/sponsorauth"
	"github.com/the-compact/allocator/internal/types"
	"github.com/the-compact/allocator/internal/validator"
)

// InsufficientBalanceError names the commitment that overruns the
// sponsor's available capacity.
type InsufficientBalanceError struct {
	LockID      string
	ChainID     uint64
	Allocatable string
	Outstanding string
	Requested   string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for lock %s on chain %d: allocatable=%s outstanding=%s requested=%s",
		e.LockID, e.ChainID, e.Allocatable, e.Outstanding, e.Requested)
}

// Store is the persistence dependency this engine needs beyond what
// nonce.Store and balance.Store already require.
type Store interface {
	InsertCompactAndConsumeNonce(ctx context.Context, compact *models.Compact, chainID uint64, sponsor string, nonceHigh string, nonceLow uint64) error
}

// Engine ties together every component in the submission data flow:
// Validator has already run by the time Submit is called; this is
// BalanceEngine -> NonceService -> HashBuilder -> sponsor authorization
// -> Signer -> Store.
type Engine struct {
	balanceEngine *balance.Engine
	nonceSvc      *nonce.Service
	authorizer    *sponsorauth.Authorizer
	signer        signer.Signer
	store         Store
	chains        *indexer.ChainCache
	locks         *sponsorLocks
	allocator     common.Address
}

func NewEngine(balanceEngine *balance.Engine, nonceSvc *nonce.Service, authorizer *sponsorauth.Authorizer, sig signer.Signer, store Store, chains *indexer.ChainCache) *Engine {
	return &Engine{
		balanceEngine: balanceEngine,
		nonceSvc:      nonceSvc,
		authorizer:    authorizer,
		signer:        sig,
		store:         store,
		chains:        chains,
		locks:         newSponsorLocks(),
		allocator:     sig.Address(),
	}
}

// Submit runs the full critical section for one already-validated
// submission and returns the persisted compact.
func (e *Engine) Submit(ctx context.Context, in types.CompactInput, notarizedChainID uint64) (*models.Compact, error) {
	sponsor := common.HexToAddress(in.Sponsor)

	lock := e.locks.lockFor(sponsor.Hex())
	lock.Lock()
	defer lock.Unlock()

	chainCfg, ok := e.chains.Get(notarizedChainID)
	verifyingContract := hashbuilder.DefaultVerifyingContract
	allocatorID := ""
	if ok {
		allocatorID = chainCfg.AllocatorID
	}

	for _, el := range in.Elements {
		for _, c := range el.Commitments {
			lockID, err := c.LockID()
			if err != nil {
				return nil, err
			}
			balances, err := e.balanceEngine.Compute(ctx, e.allocator.Hex(), sponsor.Hex(), el.ChainID, lockID.Hex(), allocatorID)
			if err != nil {
				return nil, err
			}
			capacity := balances.Capacity()
			if capacity.Cmp(c.Amount) < 0 {
				return nil, &InsufficientBalanceError{
					LockID:      lockID.Hex(),
					ChainID:     el.ChainID,
					Allocatable: balances.Allocatable.String(),
					Outstanding: balances.Outstanding.String(),
					Requested:   c.Amount.String(),
				}
			}
		}
	}

	nonceVal, err := validator.ParseUint256(in.Nonce)
	if err != nil {
		return nil, err
	}
	if err := e.nonceSvc.Validate(ctx, nonceVal, sponsor, notarizedChainID); err != nil {
		return nil, err
	}

	claimHash, err := hashbuilder.ClaimHash(in)
	if err != nil {
		return nil, err
	}
	digest, err := hashbuilder.Digest(notarizedChainID, verifyingContract, claimHash)
	if err != nil {
		return nil, err
	}

	if err := e.authorizer.Authorize(ctx, digest, sponsor, in.SponsorSignature, e.allocator, common.Hash(claimHash), notarizedChainID, in.Expires); err != nil {
		return nil, err
	}

	signature, err := e.signer.Sign(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	compact := toModel(in, claimHash, signature, notarizedChainID)
	nonceHigh, nonceLow := nonce.Split(nonceVal)
	if err := e.store.InsertCompactAndConsumeNonce(ctx, compact, notarizedChainID, sponsor.Hex(), nonceHigh, nonceLow); err != nil {
		return nil, err
	}

	events.PublishAllocationCreated(events.AllocationCreated{
		ChainID:   notarizedChainID,
		ClaimHash: compact.ClaimHash,
		Sponsor:   compact.Sponsor,
		Kind:      string(compact.Kind),
		CreatedAt: compact.CreatedAt,
	})
	events.PublishNonceConsumed(events.NonceConsumed{
		ChainID: notarizedChainID,
		Sponsor: compact.Sponsor,
		Nonce:   compact.Nonce,
	})

	return compact, nil
}

// CheckAllocatable runs the same balance check Submit does, without
// touching the nonce service, signer, or store, for clients that want to
// know whether a submission would succeed before sending it.
func (e *Engine) CheckAllocatable(ctx context.Context, in types.CompactInput, notarizedChainID uint64) (bool, error) {
	sponsor := common.HexToAddress(in.Sponsor)

	chainCfg, ok := e.chains.Get(notarizedChainID)
	allocatorID := ""
	if ok {
		allocatorID = chainCfg.AllocatorID
	}

	for _, el := range in.Elements {
		for _, c := range el.Commitments {
			lockID, err := c.LockID()
			if err != nil {
				return false, err
			}
			balances, err := e.balanceEngine.Compute(ctx, e.allocator.Hex(), sponsor.Hex(), el.ChainID, lockID.Hex(), allocatorID)
			if err != nil {
				return false, err
			}
			if balances.Capacity().Cmp(c.Amount) < 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

func toModel(in types.CompactInput, claimHash [32]byte, signature []byte, chainID uint64) *models.Compact {
	compact := &models.Compact{
		Kind:              models.CompactKind(in.Kind),
		ChainID:           chainID,
		ClaimHash:         common.Hash(claimHash).Hex(),
		Sponsor:           in.Sponsor,
		Nonce:             in.Nonce,
		Expires:           in.Expires,
		Signature:         "0x" + common.Bytes2Hex(signature),
		WitnessTypeString: in.WitnessTypeString,
		CreatedAt:         time.Now(),
	}
	if len(in.Elements) > 0 {
		compact.WitnessHash = in.Elements[0].WitnessHash
	}
	for _, el := range in.Elements {
		element := models.Element{
			Arbiter:     el.Arbiter,
			ChainID:     el.ChainID,
			MandateHash: el.MandateHash,
			WitnessHash: el.WitnessHash,
		}
		for _, c := range el.Commitments {
			lockID, _ := c.LockID()
			element.Commitments = append(element.Commitments, models.Commitment{
				LockTag: c.LockTag,
				Token:   c.Token,
				Amount:  c.Amount.String(),
				LockID:  lockID.Hex(),
			})
		}
		compact.Elements = append(compact.Elements, element)
	}
	return compact
}
