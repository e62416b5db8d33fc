// Package hashbuilder assembles the three compact-shape claim hashes and
// the universal EIP-191/EIP-712 digest from validated compact inputs. Its
// functions are pure: no I/O, no mutable state.
package hashbuilder

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/the-compact/allocator/internal/codec"
	"github.com/the-compact/allocator/internal/types"
)

const (
	domainName    = "The Compact"
	domainVersion = "1"
	// DefaultVerifyingContract is the protocol's fixed verifying contract
	// address; the allocation engine uses it for every digest.
	DefaultVerifyingContract = "0x00000000000000171ede64904551eeDF3C6C9788"
)

// DuplicateLockError is returned when a batch or element carries two
// commitments against the same lockId.
type DuplicateLockError struct {
	LockID string
}

func (e *DuplicateLockError) Error() string {
	return fmt.Sprintf("duplicate lock in batch: %s", e.LockID)
}

func singleTypeString(witnessed bool, witnessTypeString string) string {
	if !witnessed {
		return "Compact(address arbiter,address sponsor,uint256 nonce,uint256 expires,uint256 id,uint256 amount)"
	}
	return fmt.Sprintf(
		"Compact(address arbiter,address sponsor,uint256 nonce,uint256 expires,uint256 id,uint256 amount,Mandate mandate)Mandate(%s)",
		witnessTypeString,
	)
}

func batchTypeString(witnessed bool, witnessTypeString string) string {
	base := "BatchCompact(address arbiter,address sponsor,uint256 nonce,uint256 expires,Lock[] commitments)Lock(bytes12 lockTag,address token,uint256 amount)"
	if !witnessed {
		return base
	}
	return fmt.Sprintf(
		"BatchCompact(address arbiter,address sponsor,uint256 nonce,uint256 expires,Lock[] commitments,Mandate mandate)Lock(bytes12 lockTag,address token,uint256 amount)Mandate(%s)",
		witnessTypeString,
	)
}

func elementTypeString(witnessTypeString string) string {
	return fmt.Sprintf(
		"Element(address arbiter,uint256 chainId,Lock[] commitments,Mandate mandate)Lock(bytes12 lockTag,address token,uint256 amount)Mandate(%s)",
		witnessTypeString,
	)
}

func multichainTypeString(witnessTypeString string) string {
	return fmt.Sprintf(
		"MultichainCompact(address sponsor,uint256 nonce,uint256 expires,Element[] elements)Element(address arbiter,uint256 chainId,Lock[] commitments,Mandate mandate)Lock(bytes12 lockTag,address token,uint256 amount)Mandate(%s)",
		witnessTypeString,
	)
}

// encodeWords ABI-encodes a flat list of (type string, value) pairs as a
// tuple, used for every non-Lock tuple this package hashes.
func encodeWords(typeStrings []string, values ...interface{}) ([]byte, error) {
	args := make(abi.Arguments, len(typeStrings))
	for i, ts := range typeStrings {
		t, err := abi.NewType(ts, "", nil)
		if err != nil {
			return nil, fmt.Errorf("bad abi type %q: %w", ts, err)
		}
		args[i] = abi.Argument{Type: t}
	}
	return args.Pack(values...)
}

func parseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid uint256 literal: %s", s)
	}
	return n, nil
}

// canonicalCommitments sorts a single element's commitments ascending by
// lockId and fails if two share a lockId.
func canonicalCommitments(commitments []types.CommitmentInput) ([]codec.LockTuple, error) {
	type keyed struct {
		lockID common.Hash
		tuple  codec.LockTuple
	}
	keyedList := make([]keyed, 0, len(commitments))
	for _, c := range commitments {
		lockID, err := c.LockID()
		if err != nil {
			return nil, err
		}
		tagBytes := common.FromHex(c.LockTag)
		var tag [12]byte
		copy(tag[:], tagBytes)
		keyedList = append(keyedList, keyed{
			lockID: lockID,
			tuple:  codec.LockTuple{LockTag: tag, Token: common.HexToAddress(c.Token), Amount: c.Amount},
		})
	}
	sort.Slice(keyedList, func(i, j int) bool {
		return keyedList[i].lockID.Big().Cmp(keyedList[j].lockID.Big()) < 0
	})
	for i := 1; i < len(keyedList); i++ {
		if keyedList[i].lockID == keyedList[i-1].lockID {
			return nil, &DuplicateLockError{LockID: keyedList[i].lockID.Hex()}
		}
	}
	out := make([]codec.LockTuple, len(keyedList))
	for i, k := range keyedList {
		out[i] = k.tuple
	}
	return out, nil
}

func commitmentsHash(commitments []types.CommitmentInput) ([32]byte, error) {
	locks, err := canonicalCommitments(commitments)
	if err != nil {
		return [32]byte{}, err
	}
	encoded, err := codec.EncodeLockArray(locks)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(codec.Keccak256(encoded)), nil
}

// ClaimHashSingle computes the single-compact claim hash (variant 0).
func ClaimHashSingle(in types.CompactInput) ([32]byte, error) {
	if len(in.Elements) != 1 || len(in.Elements[0].Commitments) != 1 {
		return [32]byte{}, fmt.Errorf("single compact requires exactly one element with one commitment")
	}
	el := in.Elements[0]
	comm := el.Commitments[0]

	sponsor, err := codec.ParseAddress(in.Sponsor)
	if err != nil {
		return [32]byte{}, err
	}
	arbiter, err := codec.ParseAddress(el.Arbiter)
	if err != nil {
		return [32]byte{}, err
	}
	lockID, err := comm.LockID()
	if err != nil {
		return [32]byte{}, err
	}
	nonce, err := parseUint256(in.Nonce)
	if err != nil {
		return [32]byte{}, err
	}
	expires := big.NewInt(in.Expires)

	witnessed := in.WitnessTypeString != ""
	typeHash := codec.TypeHash(singleTypeString(witnessed, in.WitnessTypeString))

	var encoded []byte
	if witnessed {
		wh := common.HexToHash(el.WitnessHash)
		encoded, err = codec.EncodeCompactTupleWithWitness(typeHash, arbiter, sponsor, nonce, expires, lockID.Big(), comm.Amount, [32]byte(wh))
	} else {
		encoded, err = codec.EncodeCompactTuple(typeHash, arbiter, sponsor, nonce, expires, lockID.Big(), comm.Amount)
	}
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(codec.Keccak256(encoded)), nil
}

// ClaimHashBatch computes the batch-compact claim hash (variant 1). Its
// commitments are canonicalized (sorted by lockId) before hashing, so
// submission order of commitments within a single element never changes
// the result.
func ClaimHashBatch(in types.CompactInput) ([32]byte, error) {
	if len(in.Elements) != 1 {
		return [32]byte{}, fmt.Errorf("batch compact requires exactly one element")
	}
	el := in.Elements[0]

	sponsor, err := codec.ParseAddress(in.Sponsor)
	if err != nil {
		return [32]byte{}, err
	}
	arbiter, err := codec.ParseAddress(el.Arbiter)
	if err != nil {
		return [32]byte{}, err
	}
	commHash, err := commitmentsHash(el.Commitments)
	if err != nil {
		return [32]byte{}, err
	}
	nonce, err := parseUint256(in.Nonce)
	if err != nil {
		return [32]byte{}, err
	}
	expires := big.NewInt(in.Expires)

	witnessed := in.WitnessTypeString != ""
	typeHash := codec.TypeHash(batchTypeString(witnessed, in.WitnessTypeString))

	var encoded []byte
	if witnessed {
		wh := common.HexToHash(el.WitnessHash)
		encoded, err = encodeWords(
			[]string{"bytes32", "address", "address", "uint256", "uint256", "bytes32", "bytes32"},
			typeHash, arbiter, sponsor, nonce, expires, commHash, [32]byte(wh),
		)
	} else {
		encoded, err = encodeWords(
			[]string{"bytes32", "address", "address", "uint256", "uint256", "bytes32"},
			typeHash, arbiter, sponsor, nonce, expires, commHash,
		)
	}
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(codec.Keccak256(encoded)), nil
}

// ClaimHashMultichain computes the multichain-compact claim hash (variant
// 2). Element order is preserved as submitted: multichain semantics are
// order-sensitive because each element carries a distinct witness hash.
func ClaimHashMultichain(in types.CompactInput) ([32]byte, error) {
	if in.WitnessTypeString == "" {
		return [32]byte{}, fmt.Errorf("multichain compact requires a witness type string")
	}
	if len(in.Elements) == 0 {
		return [32]byte{}, fmt.Errorf("multichain compact requires at least one element")
	}

	sponsor, err := codec.ParseAddress(in.Sponsor)
	if err != nil {
		return [32]byte{}, err
	}
	nonce, err := parseUint256(in.Nonce)
	if err != nil {
		return [32]byte{}, err
	}
	expires := big.NewInt(in.Expires)

	elementTypeHash := codec.TypeHash(elementTypeString(in.WitnessTypeString))

	elementHashes := make([][32]byte, len(in.Elements))
	for i, el := range in.Elements {
		if el.WitnessHash == "" {
			return [32]byte{}, fmt.Errorf("element %d missing witness hash", i)
		}
		arbiter, err := codec.ParseAddress(el.Arbiter)
		if err != nil {
			return [32]byte{}, err
		}
		commHash, err := commitmentsHash(el.Commitments)
		if err != nil {
			return [32]byte{}, err
		}
		wh := common.HexToHash(el.WitnessHash)
		encoded, err := encodeWords(
			[]string{"bytes32", "address", "uint256", "bytes32", "bytes32"},
			elementTypeHash, arbiter, new(big.Int).SetUint64(el.ChainID), commHash, [32]byte(wh),
		)
		if err != nil {
			return [32]byte{}, err
		}
		elementHashes[i] = [32]byte(codec.Keccak256(encoded))
	}

	elementsHash := [32]byte(codec.Keccak256(codec.EncodeBytes32Array(elementHashes)))
	rootTypeHash := codec.TypeHash(multichainTypeString(in.WitnessTypeString))

	encoded, err := encodeWords(
		[]string{"bytes32", "address", "uint256", "uint256", "bytes32"},
		rootTypeHash, sponsor, nonce, expires, elementsHash,
	)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(codec.Keccak256(encoded)), nil
}

// ClaimHash dispatches to the appropriate shape-specific hash function.
func ClaimHash(in types.CompactInput) ([32]byte, error) {
	switch in.Kind {
	case types.KindSingle:
		return ClaimHashSingle(in)
	case types.KindBatch:
		return ClaimHashBatch(in)
	case types.KindMultichain:
		return ClaimHashMultichain(in)
	default:
		return [32]byte{}, fmt.Errorf("unknown compact kind %d", in.Kind)
	}
}

// domainSeparatorTypeHash is keccak256 of the EIP-712 domain type string.
var domainSeparatorTypeHash = codec.TypeHash("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")

// DomainSeparator computes the EIP-712 domain separator for a given
// notarization chain and verifying contract.
func DomainSeparator(chainID uint64, verifyingContract string) ([32]byte, error) {
	vc, err := codec.ParseAddress(verifyingContract)
	if err != nil {
		return [32]byte{}, err
	}
	nameHash := codec.TypeHash(domainName)
	versionHash := codec.TypeHash(domainVersion)
	encoded, err := encodeWords(
		[]string{"bytes32", "bytes32", "bytes32", "uint256", "address"},
		domainSeparatorTypeHash, nameHash, versionHash, new(big.Int).SetUint64(chainID), vc,
	)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(codec.Keccak256(encoded)), nil
}

// Digest computes keccak256(0x1901 || domainSeparator || claimHash), the
// universal EIP-191/EIP-712 signing digest.
func Digest(chainID uint64, verifyingContract string, claimHash [32]byte) ([32]byte, error) {
	domainSep, err := DomainSeparator(chainID, verifyingContract)
	if err != nil {
		return [32]byte{}, err
	}
	prefix := []byte{0x19, 0x01}
	return [32]byte(codec.Keccak256(prefix, domainSep[:], claimHash[:])), nil
}
