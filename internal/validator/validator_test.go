package validator

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-compact/allocator/internal/types"
)

const (
	sponsorAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	arbiterAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func baseInput(now time.Time) types.CompactInput {
	return types.CompactInput{
		Kind:    types.KindSingle,
		Sponsor: sponsorAddr,
		Nonce:   "0x1",
		Expires: now.Add(time.Hour).Unix(),
		Elements: []types.ElementInput{{
			Arbiter: arbiterAddr,
			ChainID: 10,
			Commitments: []types.CommitmentInput{{
				LockTag: "0x" + strings.Repeat("00", 12),
				Token:   "0x0000000000000000000000000000000000000001",
				Amount:  big.NewInt(100),
			}},
		}},
	}
}

func TestValidateHappyPath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	result := Validate(baseInput(now), 10, now)
	assert.True(t, result.IsValid)
	assert.NoError(t, result.Error)
}

func TestValidateRejectsBadSponsorAddress(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Sponsor = "not-an-address"
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid)
	require.Error(t, result.Error)
}

func TestValidateRejectsShortLockTag(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Elements[0].Commitments[0].LockTag = "0x0001"
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid)
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Elements[0].Commitments[0].Amount = big.NewInt(0)
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid)
}

func TestValidateRejectsOverflowingAmount(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	in.Elements[0].Commitments[0].Amount = overflow
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid)
}

func TestValidateMissingNonceIsDistinctError(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Nonce = ""
	result := Validate(in, 10, now)
	require.Error(t, result.Error)
	var missing *NonceMissingError
	assert.ErrorAs(t, result.Error, &missing)
}

func TestValidateWitnessPairingBothOrNeither(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.WitnessTypeString = "Mandate(uint256 amount)"
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid, "witness type string with no hash must fail")

	in.Elements[0].WitnessHash = "0x" + strings.Repeat("ab", 32)
	result = Validate(in, 10, now)
	assert.True(t, result.IsValid)
}

func TestValidateMultichainRequiresWitnessAndPerElementHash(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Kind = types.KindMultichain
	result := Validate(in, 10, now)
	assert.False(t, result.IsValid, "multichain without witnessTypeString must fail")

	in.WitnessTypeString = "Mandate(uint256 amount)"
	result = Validate(in, 10, now)
	assert.False(t, result.IsValid, "multichain element missing witnessHash must fail")
}

func TestValidateExpirationWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	expired := baseInput(now)
	expired.Expires = now.Unix()
	assert.False(t, Validate(expired, 10, now).IsValid)

	tooFar := baseInput(now)
	tooFar.Expires = now.Unix() + int64(MaxExpirationWindow.Seconds()) + 1
	assert.False(t, Validate(tooFar, 10, now).IsValid)

	atCap := baseInput(now)
	atCap.Expires = now.Unix() + int64(MaxExpirationWindow.Seconds())
	assert.True(t, Validate(atCap, 10, now).IsValid)
}

func TestValidateRejectsChainIDMismatchForSingle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Elements[0].ChainID = 1

	result := Validate(in, 10, now)
	assert.False(t, result.IsValid, "element chainId diverging from the notarized route chainId must fail")
}

func TestValidateRejectsChainIDMismatchForBatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Kind = types.KindBatch
	in.Elements[0].Commitments = append(in.Elements[0].Commitments, types.CommitmentInput{
		LockTag: "0x" + strings.Repeat("00", 11) + "01",
		Token:   "0x0000000000000000000000000000000000000002",
		Amount:  big.NewInt(50),
	})
	in.Elements[0].ChainID = 137

	result := Validate(in, 10, now)
	assert.False(t, result.IsValid, "batch element chainId diverging from the notarized route chainId must fail")
}

func TestValidateMultichainMembershipRequiresNotarizedChain(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := baseInput(now)
	in.Kind = types.KindMultichain
	in.WitnessTypeString = "Mandate(uint256 amount)"
	in.Elements[0].WitnessHash = "0x" + strings.Repeat("ab", 32)
	in.Elements[0].ChainID = 137

	result := Validate(in, 10, now)
	assert.False(t, result.IsValid)
}

func TestParseChainIDRoundTrip(t *testing.T) {
	id, err := ParseChainID("10")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), id)

	_, err = ParseChainID("010")
	assert.Error(t, err, "leading zero must not round-trip")

	_, err = ParseChainID("0")
	assert.Error(t, err)

	_, err = ParseChainID("not-a-number")
	assert.Error(t, err)
}

func TestParseUint256AcceptsHexAndDecimal(t *testing.T) {
	hex, err := ParseUint256("0x10")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(16), hex)

	dec, err := ParseUint256("16")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(16), dec)

	_, err = ParseUint256("-1")
	assert.Error(t, err)
}
