// Package validator performs the stateless, ordered checks every compact
// submission must pass before the allocation engine ever touches the
// store or the indexer. Checks run cheapest-first.
package validator

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/the-compact/allocator/internal/types"
)

// MaxExpirationWindow is the two-hour look-ahead cap on `expires`.
const MaxExpirationWindow = 7200 * time.Second

// ValidationError is the error type for every failed check except a
// missing nonce (NonceMissingError); Class lets the HTTP adapter
// distinguish sub-cases without string matching.
type ValidationError struct {
	Class   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Class, e.Message) }

func fail(class, format string, args ...interface{}) error {
	return &ValidationError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// Result is the outcome of validating a submission.
type Result struct {
	IsValid bool
	Error   error
}

// Validate runs every check in spec order and stops at the first failure.
func Validate(in types.CompactInput, notarizedChainID uint64, now time.Time) Result {
	if err := validateChainIDSyntax(notarizedChainID); err != nil {
		return Result{Error: err}
	}
	if err := validateAddresses(in); err != nil {
		return Result{Error: err}
	}
	if err := validateWidths(in); err != nil {
		return Result{Error: err}
	}
	if err := validatePresence(in); err != nil {
		return Result{Error: err}
	}
	if err := validateWitnessConsistency(in); err != nil {
		return Result{Error: err}
	}
	if err := validateExpirationWindow(in, now); err != nil {
		return Result{Error: err}
	}
	if in.Kind == types.KindMultichain {
		if err := validateMultichainMembership(in, notarizedChainID); err != nil {
			return Result{Error: err}
		}
	} else {
		if err := validateParentChainID(in, notarizedChainID); err != nil {
			return Result{Error: err}
		}
	}
	return Result{IsValid: true}
}

func validateChainIDSyntax(chainID uint64) error {
	// chainID arrives as uint64 from routing; this check exists for the
	// string form accepted at the HTTP boundary, see ParseChainID.
	if chainID == 0 {
		return fail("ValidationError", "chainId must be a positive integer")
	}
	return nil
}

// ParseChainID validates the decimal chain-ID string accepted at the HTTP
// boundary and round-trips it through string form, per §4.3 rule 1.
func ParseChainID(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fail("ValidationError", "invalid chainId: %s", s)
	}
	if strconv.FormatUint(n, 10) != strings.TrimSpace(s) {
		return 0, fail("ValidationError", "chainId does not round-trip: %s", s)
	}
	return n, nil
}

func validateAddresses(in types.CompactInput) error {
	if !common.IsHexAddress(in.Sponsor) {
		return fail("ValidationError", "invalid sponsor address: %s", in.Sponsor)
	}
	for i, el := range in.Elements {
		if !common.IsHexAddress(el.Arbiter) {
			return fail("ValidationError", "invalid arbiter address at element %d: %s", i, el.Arbiter)
		}
		for j, c := range el.Commitments {
			if !common.IsHexAddress(c.Token) {
				return fail("ValidationError", "invalid token address at element %d commitment %d: %s", i, j, c.Token)
			}
		}
	}
	return nil
}

func validateWidths(in types.CompactInput) error {
	for i, el := range in.Elements {
		for j, c := range el.Commitments {
			tag := common.FromHex(c.LockTag)
			if len(tag) != 12 {
				return fail("ValidationError", "lockTag at element %d commitment %d must be 12 bytes, got %d", i, j, len(tag))
			}
			if c.Amount == nil || c.Amount.Sign() <= 0 {
				return fail("ValidationError", "amount at element %d commitment %d must be a positive uint256", i, j)
			}
			if _, overflow := uint256.FromBig(c.Amount); overflow {
				return fail("ValidationError", "amount at element %d commitment %d exceeds uint256", i, j)
			}
		}
	}
	if _, err := parsePositiveUint256(in.Nonce); in.Nonce != "" && err != nil {
		return fail("ValidationError", "nonce is not a valid uint256: %s", in.Nonce)
	}
	if in.Expires <= 0 {
		return fail("ValidationError", "expires must be a positive unix timestamp")
	}
	return nil
}

// ParseUint256 parses a hex (0x-prefixed) or decimal uint256 string, the
// same way the width check above does. Exported for callers outside this
// package that need to turn a submitted nonce/amount string into a
// *big.Int using identical parsing rules.
func ParseUint256(s string) (*big.Int, error) {
	return parsePositiveUint256(s)
}

func parsePositiveUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid uint256: %s", s)
	}
	if _, overflow := uint256.FromBig(n); overflow {
		return nil, fmt.Errorf("invalid uint256: %s", s)
	}
	return n, nil
}

// NonceMissingError distinguishes absent-nonce from a malformed one so the
// HTTP adapter can steer clients to /suggested-nonce.
type NonceMissingError struct{}

func (e *NonceMissingError) Error() string { return "nonce is required" }

func validatePresence(in types.CompactInput) error {
	if in.Nonce == "" {
		return &NonceMissingError{}
	}
	if len(in.Elements) == 0 {
		return fail("ValidationError", "at least one element is required")
	}
	for i, el := range in.Elements {
		if len(el.Commitments) == 0 {
			return fail("ValidationError", "element %d requires at least one commitment", i)
		}
	}
	return nil
}

func validateWitnessConsistency(in types.CompactInput) error {
	switch in.Kind {
	case types.KindSingle, types.KindBatch:
		hasTypeString := in.WitnessTypeString != ""
		hasHash := false
		if len(in.Elements) > 0 {
			hasHash = in.Elements[0].WitnessHash != ""
		}
		if hasTypeString != hasHash {
			return fail("ValidationError", "witnessTypeString and witnessHash must both be present or both absent")
		}
	case types.KindMultichain:
		if in.WitnessTypeString == "" {
			return fail("ValidationError", "multichain compact requires a witnessTypeString")
		}
		for i, el := range in.Elements {
			if el.WitnessHash == "" {
				return fail("ValidationError", "element %d is missing a witnessHash", i)
			}
		}
	}
	return nil
}

func validateExpirationWindow(in types.CompactInput, now time.Time) error {
	nowUnix := now.Unix()
	if in.Expires <= nowUnix {
		return fail("ValidationError", "expires has already passed")
	}
	if in.Expires > nowUnix+int64(MaxExpirationWindow.Seconds()) {
		return fail("ValidationError", "expires exceeds the two-hour look-ahead cap")
	}
	return nil
}

// validateParentChainID enforces that a single or batch compact's one
// element carries the same chainId as the route it was notarized under;
// a batch has exactly one element sharing that chainId by construction,
// so checking every element here is equivalent and simpler.
func validateParentChainID(in types.CompactInput, notarizedChainID uint64) error {
	for i, el := range in.Elements {
		if el.ChainID != notarizedChainID {
			return fail("ValidationError", "element %d chainId %d does not match notarized chainId %d", i, el.ChainID, notarizedChainID)
		}
	}
	return nil
}

func validateMultichainMembership(in types.CompactInput, notarizedChainID uint64) error {
	for _, el := range in.Elements {
		if el.ChainID == notarizedChainID {
			return nil
		}
	}
	return fail("ValidationError", "No elements found for chain %d", notarizedChainID)
}
