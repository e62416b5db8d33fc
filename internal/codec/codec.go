// Package codec implements the byte-level encodings the EIP-712 typed-data
// hash is built from: packed concatenation for type strings, and ABI tuple
// encoding for struct members, mirroring the on-chain verifier bit-for-bit.
package codec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// WidthError is returned when an argument doesn't fit its typed-data width.
type WidthError struct {
	Field string
	Want  int
	Got   int
}

func (e *WidthError) Error() string {
	return fmt.Sprintf("encoding width error: field %s wants %d bytes, got %d", e.Field, e.Want, e.Got)
}

// Keccak256 hashes the concatenation of its arguments.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// EncodePacked concatenates raw bytes with no padding, mirroring Solidity's
// abi.encodePacked for the fixed-width argument types this codec deals in
// (the typed-data type-string hash never involves dynamic types beyond the
// string itself).
func EncodePacked(chunks ...[]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// TypeHash returns keccak256 of the raw type-string bytes.
func TypeHash(typeString string) [32]byte {
	return [32]byte(crypto.Keccak256([]byte(typeString)))
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

// ParseAddress validates and returns a 20-byte address, requiring an exact
// width match (no truncation, no padding acceptance).
func ParseAddress(hexAddr string) (common.Address, error) {
	if !common.IsHexAddress(hexAddr) {
		return common.Address{}, &WidthError{Field: "address", Want: 20, Got: len(common.FromHex(hexAddr))}
	}
	return common.HexToAddress(hexAddr), nil
}

// EncodeCompactTuple ABI-encodes the no-witness single-compact tuple:
// (typeHash, arbiter, sponsor, nonce, expires, id, amount).
func EncodeCompactTuple(typeHash [32]byte, arbiter, sponsor common.Address, nonce, expires, id, amount *big.Int) ([]byte, error) {
	args := abi.Arguments{
		{Type: bytes32Type}, {Type: addressType}, {Type: addressType},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
	}
	return args.Pack(typeHash, arbiter, sponsor, nonce, expires, id, amount)
}

// EncodeCompactTupleWithWitness appends the witness hash as an eighth word.
func EncodeCompactTupleWithWitness(typeHash [32]byte, arbiter, sponsor common.Address, nonce, expires, id, amount *big.Int, witnessHash [32]byte) ([]byte, error) {
	args := abi.Arguments{
		{Type: bytes32Type}, {Type: addressType}, {Type: addressType},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: bytes32Type},
	}
	return args.Pack(typeHash, arbiter, sponsor, nonce, expires, id, amount, witnessHash)
}

// LockTuple is the (bytes12 lockTag, address token, uint256 amount) member
// of a batch's Lock[] array.
type LockTuple struct {
	LockTag [12]byte
	Token   common.Address
	Amount  *big.Int
}

var lockTupleType = mustTupleType(
	[]abi.ArgumentMarshaling{
		{Name: "lockTag", Type: "bytes12"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
)

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	return t
}

// EncodeLockArray ABI-encodes a Lock[] array the way a dynamic tuple array
// is encoded for typed-data hashing: each element encoded, then
// concatenated and keccak'd by the caller (HashBuilder), not padded as a
// top-level ABI array.
func EncodeLockArray(locks []LockTuple) ([]byte, error) {
	args := abi.Arguments{{Type: lockTupleType}}
	var out []byte
	for _, l := range locks {
		packed, err := args.Pack(struct {
			LockTag [12]byte
			Token   common.Address
			Amount  *big.Int
		}{l.LockTag, l.Token, l.Amount})
		if err != nil {
			return nil, err
		}
		out = append(out, packed...)
	}
	return out, nil
}

// EncodeBytes32Array ABI-encodes a sequence of bytes32 elements for the
// multichain elementsHash, concatenating each 32-byte word.
func EncodeBytes32Array(words [][32]byte) []byte {
	out := make([]byte, 0, 32*len(words))
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

// BigIntToUint256Bytes renders x as a 32-byte big-endian word, the packed
// encoding of a uint256 field. Uses uint256.Int rather than raw *big.Int
// arithmetic so overflow is a reported condition, not a silent truncation.
func BigIntToUint256Bytes(x *big.Int) ([32]byte, error) {
	var out [32]byte
	if x.Sign() < 0 {
		return out, fmt.Errorf("negative value not representable as uint256")
	}
	word, overflow := uint256.FromBig(x)
	if overflow {
		return out, &WidthError{Field: "uint256", Want: 32, Got: (x.BitLen() + 7) / 8}
	}
	return word.Bytes32(), nil
}
