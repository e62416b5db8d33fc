// Package sponsorauth decides whether a submission is authorized by its
// sponsor, per §4.8: either a recoverable signature over the digest, or
// an on-chain registration record the indexer reports.
package sponsorauth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/signer"
)

// InvalidSponsorError is returned when neither the signature nor the
// on-chain registration path authorizes the submission.
type InvalidSponsorError struct{ Reason string }

func (e *InvalidSponsorError) Error() string { return fmt.Sprintf("invalid sponsor: %s", e.Reason) }

// Authorizer checks sponsor authorization against a digest.
type Authorizer struct {
	indexer indexer.Client
}

func NewAuthorizer(idx indexer.Client) *Authorizer {
	return &Authorizer{indexer: idx}
}

// Authorize implements both paths of §4.8. allocator is this service's
// own address (used to scope the on-chain registration lookup).
func (a *Authorizer) Authorize(ctx context.Context, digest [32]byte, sponsor common.Address, sponsorSignature string, allocator common.Address, claimHash common.Hash, chainID uint64, expires int64) error {
	if sponsorSignature != "" {
		recovered, err := recoverSigner(digest, sponsorSignature)
		if err == nil && recovered == sponsor {
			return nil
		}
	}

	registered, err := a.indexer.GetRegisteredCompact(ctx, allocator.Hex(), sponsor.Hex(), claimHash.Hex(), chainID)
	if err != nil {
		return err
	}
	if registered == nil {
		return &InvalidSponsorError{Reason: "no signature recovered and no on-chain registration found"}
	}
	if registered.Expires < expires {
		return &InvalidSponsorError{Reason: "on-chain registration expires before the submitted compact"}
	}
	if !common.IsHexAddress(registered.Sponsor) || common.HexToAddress(registered.Sponsor) != sponsor {
		return &InvalidSponsorError{Reason: "on-chain registration sponsor mismatch"}
	}
	return nil
}

// recoverSigner normalizes a 64- or 65-byte signature and recovers the
// signing address from the digest.
func recoverSigner(digest [32]byte, sigHex string) (common.Address, error) {
	raw := common.FromHex(sigHex)
	normalized, err := signer.FromCompactOrLong(raw)
	if err != nil {
		return common.Address{}, err
	}
	pubKey, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
