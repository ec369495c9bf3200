package multisig

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedivault/guardian/internal/types"
)

func testGuardianKeys(t *testing.T, n int) ([]*btcec.PrivateKey, []*btcec.PublicKey) {
	t.Helper()

	sks := make([]*btcec.PrivateKey, 0, n)
	pks := make([]*btcec.PublicKey, 0, n)
	for i := 0; i < n; i++ {
		seed := sha256.Sum256([]byte{byte(i)})
		sk, pk := btcec.PrivKeyFromBytes(seed[:])
		sks = append(sks, sk)
		pks = append(pks, pk)
	}

	return sks, pks
}

func TestTweakKeyPairConsistency(t *testing.T) {
	sks, pks := testGuardianKeys(t, 4)
	tweak := sha256.Sum256([]byte("custody epoch 1"))

	for i := range sks {
		tweakedSk := TweakPrivateKey(sks[i], tweak[:])
		tweakedPk := TweakPublicKey(pks[i], tweak[:])

		assert.True(t, tweakedSk.PubKey().IsEqual(tweakedPk))
		assert.False(t, tweakedPk.IsEqual(pks[i]))
	}
}

func TestTweakPublicKeyDeterministic(t *testing.T) {
	_, pks := testGuardianKeys(t, 4)
	tweak := sha256.Sum256([]byte("custody epoch 1"))

	a := TweakPublicKey(pks[0], tweak[:])
	b := TweakPublicKey(pks[0], tweak[:])
	assert.Equal(t, a.SerializeCompressed(), b.SerializeCompressed())

	other := sha256.Sum256([]byte("custody epoch 2"))
	c := TweakPublicKey(pks[0], other[:])
	assert.NotEqual(t, a.SerializeCompressed(), c.SerializeCompressed())
}

func TestRedeemScriptIgnoresPeerOrder(t *testing.T) {
	_, pks := testGuardianKeys(t, 4)
	tweak := sha256.Sum256([]byte("custody epoch 1"))

	script, err := RedeemScript(pks, tweak[:])
	require.NoError(t, err)

	shuffled := []*btcec.PublicKey{pks[2], pks[0], pks[3], pks[1]}
	script2, err := RedeemScript(shuffled, tweak[:])
	require.NoError(t, err)

	assert.Equal(t, script, script2)
	assert.Len(t, script, redeemScriptSize(4))
	assert.Equal(t, byte(txscript.OP_CHECKMULTISIG), script[len(script)-1])
}

func TestScriptPubKeyIsP2WSH(t *testing.T) {
	_, pks := testGuardianKeys(t, 4)
	tweak := sha256.Sum256([]byte("custody epoch 1"))

	spk, err := ScriptPubKey(pks, tweak[:])
	require.NoError(t, err)

	require.Len(t, spk, 34)
	assert.Equal(t, byte(txscript.OP_0), spk[0])
	assert.Equal(t, byte(32), spk[1])

	redeem, err := RedeemScript(pks, tweak[:])
	require.NoError(t, err)
	witnessProg := sha256.Sum256(redeem)
	assert.Equal(t, witnessProg[:], spk[2:])
}

func TestPubKeysHashDependsOnPeerOrder(t *testing.T) {
	_, pks := testGuardianKeys(t, 4)

	hash := PubKeysHash(pks)
	assert.Len(t, hash, 32)
	assert.Equal(t, hash, PubKeysHash(pks))

	swapped := []*btcec.PublicKey{pks[1], pks[0], pks[2], pks[3]}
	assert.NotEqual(t, hash, PubKeysHash(swapped))
}

func TestIsPotentialReceive(t *testing.T) {
	_, pks := testGuardianKeys(t, 4)
	pksHash := PubKeysHash(pks)

	// Grind arbitrary P2WSH scripts and count filter hits. The pass rate is
	// 1/65536, so a million candidates yield roughly 16 matches; a count far
	// outside that would mean the filter is broken.
	var match []byte
	matches := 0
	for i := 0; i < 1<<20; i++ {
		prog := sha256.Sum256([]byte{byte(i), byte(i >> 8), byte(i >> 16)})
		spk := append([]byte{txscript.OP_0, 32}, prog[:]...)
		if IsPotentialReceive(spk, pksHash) {
			match = spk
			matches++
		}
	}

	require.NotNil(t, match)
	assert.Less(t, matches, 64)

	// The filter is deterministic for a given key set.
	assert.True(t, IsPotentialReceive(match, pksHash))
}

func TestTxVBytes(t *testing.T) {
	assert.Equal(t, 3, types.Threshold(4))
	assert.Equal(t, uint64(228), SendTxVBytes(4))
	assert.Equal(t, uint64(316), ReceiveTxVBytes(4))
	assert.Less(t, SweepTxVBytes(4), ReceiveTxVBytes(4))
}
