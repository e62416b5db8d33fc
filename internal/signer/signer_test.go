package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCompactAndFromCompactRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("round trip")))

	rawSig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)

	compact, err := ToCompact(rawSig)
	require.NoError(t, err)
	assert.Len(t, compact, 64)

	restored, err := FromCompactOrLong(compact)
	require.NoError(t, err)
	assert.Equal(t, rawSig, restored)
}

func TestFromCompactOrLongAcceptsLongForm(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("long form")))

	rawSig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)

	restored, err := FromCompactOrLong(rawSig)
	require.NoError(t, err)
	assert.Equal(t, rawSig, restored)
}

func TestSignRecoversToSignerAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s := &PrivateKeySigner{key: key, addr: addr}

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("sign me")))

	sig, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)

	long, err := FromCompactOrLong(sig)
	require.NoError(t, err)
	pubKey, err := crypto.SigToPub(digest[:], long)
	require.NoError(t, err)
	recovered := crypto.PubkeyToAddress(*pubKey)
	assert.Equal(t, addr, recovered)
}

func TestToCompactRejectsWrongLength(t *testing.T) {
	_, err := ToCompact([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFromCompactOrLongRejectsWrongLength(t *testing.T) {
	_, err := FromCompactOrLong([]byte{1, 2, 3})
	assert.Error(t, err)
}
