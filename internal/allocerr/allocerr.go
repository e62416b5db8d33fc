// Package allocerr classifies errors raised anywhere in the allocation
// pipeline into the HTTP status families §7 defines. Classification
// happens only at the handler boundary; core packages never know about
// HTTP status codes.
package allocerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/the-compact/allocator/internal/allocation"
	"github.com/the-compact/allocator/internal/balance"
	"github.com/the-compact/allocator/internal/hashbuilder"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/nonce"
	"github.com/the-compact/allocator/internal/sponsorauth"
	"github.com/the-compact/allocator/internal/validator"
)

// Class names the error family, used for metrics labels and response bodies.
type Class string

const (
	ClassValidation Class = "validation"
	ClassNonce      Class = "nonce"
	ClassAuth       Class = "auth"
	ClassBalance    Class = "balance"
	ClassStore      Class = "store"
	ClassIndexer    Class = "indexer"
	ClassInternal   Class = "internal"
)

// DuplicateError marks a claim hash already recorded for this chain.
type DuplicateError struct{ ClaimHash string }

func (e *DuplicateError) Error() string { return fmt.Sprintf("duplicate claim hash: %s", e.ClaimHash) }

// Classify maps an error produced anywhere in the pipeline to the class
// and HTTP status §7 assigns it.
func Classify(err error) (Class, int) {
	if err == nil {
		return "", http.StatusOK
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return ClassValidation, http.StatusBadRequest
	}
	var nonceMissing *validator.NonceMissingError
	if errors.As(err, &nonceMissing) {
		return ClassNonce, http.StatusBadRequest
	}
	var dupLock *hashbuilder.DuplicateLockError
	if errors.As(err, &dupLock) {
		return ClassValidation, http.StatusBadRequest
	}
	var exhausted *nonce.ExhaustedError
	if errors.As(err, &exhausted) {
		return ClassNonce, http.StatusConflict
	}
	var replay *nonce.ReplayError
	if errors.As(err, &replay) {
		return ClassNonce, http.StatusBadRequest
	}
	var mismatch *nonce.SponsorMismatchError
	if errors.As(err, &mismatch) {
		return ClassNonce, http.StatusBadRequest
	}

	var invalidSponsor *sponsorauth.InvalidSponsorError
	if errors.As(err, &invalidSponsor) {
		return ClassAuth, http.StatusForbidden
	}

	var lockMissing *balance.LockMissingError
	if errors.As(err, &lockMissing) {
		return ClassBalance, http.StatusBadRequest
	}
	var forcedWithdrawal *balance.ForcedWithdrawalError
	if errors.As(err, &forcedWithdrawal) {
		return ClassBalance, http.StatusBadRequest
	}
	var wrongAllocator *balance.WrongAllocatorError
	if errors.As(err, &wrongAllocator) {
		return ClassBalance, http.StatusBadRequest
	}
	var insufficient *allocation.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return ClassBalance, http.StatusBadRequest
	}

	var dup *DuplicateError
	if errors.As(err, &dup) {
		return ClassStore, http.StatusConflict
	}

	var idxErr *indexer.Error
	if errors.As(err, &idxErr) {
		return ClassIndexer, http.StatusBadGateway
	}

	return ClassInternal, http.StatusInternalServerError
}
