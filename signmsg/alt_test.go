package signmsg

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestAltChildKeyDerivation checks that both parties derive matching child
// keys from their halves of the shared secret.
func TestAltChildKeyDerivation(t *testing.T) {
	t.Parallel()

	invoice := invoiceNumber(bytes.Repeat([]byte{7}, keyIDSize))

	child := deriveChildPrivKey(testPrivKey, testOtherKey.PubKey(), invoice)
	childPub := deriveChildPubKey(testPubKey, testOtherKey, invoice)
	require.True(t, child.PubKey().IsEqual(childPub))

	// A different invoice yields a different child.
	otherChild := deriveChildPrivKey(
		testPrivKey, testOtherKey.PubKey(), invoice+"x",
	)
	require.False(t, otherChild.PubKey().IsEqual(childPub))
}

// TestAltSignVerifyAnyone checks unrestricted ALT signatures.
func TestAltSignVerifyAnyone(t *testing.T) {
	t.Parallel()

	scheme := NewAltScheme(&chaincfg.MainNetParams)
	sig, err := scheme.Sign(testMsg, testPrivKey, fn.None[*btcec.PublicKey]())
	require.NoError(t, err)
	require.Equal(t, AlgoAlt, sig.Algorithm)
	require.True(t, sig.RecoveryID.IsNone())
	require.Equal(t, altVersion[:], sig.Sig[:4])

	valid, err := scheme.Verify(
		testMsg, sig.Address, sig.Sig, fn.None[*btcec.PrivateKey](),
	)
	require.NoError(t, err)
	require.True(t, valid)

	// A recipient key is not needed but doesn't hurt either.
	valid, err = scheme.Verify(
		testMsg, sig.Address, sig.Sig, fn.Some(testOtherKey),
	)
	require.NoError(t, err)
	require.True(t, valid)

	// Tampering with the message, the address or the DER signature fails.
	valid, err = scheme.Verify(
		[]byte("other"), sig.Address, sig.Sig, fn.None[*btcec.PrivateKey](),
	)
	require.NoError(t, err)
	require.False(t, valid)

	otherAddr, err := AddressFromPubKey(
		testOtherKey.PubKey(), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	valid, err = scheme.Verify(
		testMsg, otherAddr, sig.Sig, fn.None[*btcec.PrivateKey](),
	)
	require.NoError(t, err)
	require.False(t, valid)

	mutated := bytes.Clone(sig.Sig)
	mutated[len(mutated)-1] ^= 0x01
	valid, err = scheme.Verify(
		testMsg, sig.Address, mutated, fn.None[*btcec.PrivateKey](),
	)
	require.NoError(t, err)
	require.False(t, valid)

	valid, err = scheme.Verify(
		testMsg, sig.Address, sig.Sig[:20], fn.None[*btcec.PrivateKey](),
	)
	require.NoError(t, err)
	require.False(t, valid)
}

// TestAltSignVerifyRecipient checks recipient restricted ALT signatures.
func TestAltSignVerifyRecipient(t *testing.T) {
	t.Parallel()

	scheme := NewAltScheme(&chaincfg.MainNetParams)
	sig, err := scheme.Sign(
		testMsg, testPrivKey, fn.Some(testOtherKey.PubKey()),
	)
	require.NoError(t, err)

	valid, err := scheme.Verify(
		testMsg, sig.Address, sig.Sig, fn.Some(testOtherKey),
	)
	require.NoError(t, err)
	require.True(t, valid)

	_, err = scheme.Verify(
		testMsg, sig.Address, sig.Sig, fn.None[*btcec.PrivateKey](),
	)
	require.ErrorIs(t, err, ErrRecipientRequired)

	_, err = scheme.Verify(
		testMsg, sig.Address, sig.Sig, fn.Some(testPrivKey),
	)
	require.ErrorIs(t, err, ErrRecipientMismatch)
}

// TestAltDeterministicKeyID shows that the key id source is pluggable, which
// makes blobs reproducible.
func TestAltDeterministicKeyID(t *testing.T) {
	t.Parallel()

	newScheme := func() *AltScheme {
		scheme := NewAltScheme(&chaincfg.MainNetParams)
		scheme.Rand = bytes.NewReader(bytes.Repeat([]byte{1}, keyIDSize))

		return scheme
	}

	sig1, err := newScheme().Sign(
		testMsg, testPrivKey, fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	sig2, err := newScheme().Sign(
		testMsg, testPrivKey, fn.None[*btcec.PublicKey](),
	)
	require.NoError(t, err)
	require.Equal(t, sig1.Sig, sig2.Sig)

	exhausted := NewAltScheme(&chaincfg.MainNetParams)
	exhausted.Rand = bytes.NewReader(nil)
	_, err = exhausted.Sign(testMsg, testPrivKey, fn.None[*btcec.PublicKey]())
	require.Error(t, err)
}
