package signmsg

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestRecoverSigner asserts that the brute force search finds the recovery id
// written by the signer and that the header byte has to agree with it.
func TestRecoverSigner(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	digest := MagicHash(testMsg)

	compressedAddr, err := AddressFromPubKey(testPubKey, params)
	require.NoError(t, err)

	sig := ecdsa.SignCompact(testPrivKey, digest, true)
	wantID, err := RecoveryIDFromCompact(sig)
	require.NoError(t, err)

	rec, err := RecoverSigner(sig, digest, compressedAddr, params)
	require.NoError(t, err)
	require.Equal(t, wantID, rec.ID)
	require.True(t, rec.Compressed)
	require.True(t, rec.PubKey.IsEqual(testPubKey))

	// A header disagreeing with the recovered id or key encoding, or one
	// outside the valid range, is rejected.
	for _, header := range []byte{0x00, 0x1b, 0x1e, 0x22, 0xff} {
		if header == sig[0] {
			continue
		}

		lying := append([]byte{header}, sig[1:]...)
		_, err = RecoverSigner(lying, digest, compressedAddr, params)
		require.Error(t, err, "header %d", header)
	}

	// Flipping the compressed flag alone is caught as well.
	flipped := append([]byte{sig[0] - 4}, sig[1:]...)
	_, err = RecoverSigner(flipped, digest, compressedAddr, params)
	require.ErrorIs(t, err, ErrNoValidRecovery)

	// A bare r || s signature works as well.
	rec, err = RecoverSigner(sig[1:], digest, compressedAddr, params)
	require.NoError(t, err)
	require.Equal(t, wantID, rec.ID)

	// The uncompressed address of the same key matches a signature made
	// for the uncompressed encoding.
	uncompressedAddr, err := addressFromSerialized(
		testPubKey.SerializeUncompressed(), params,
	)
	require.NoError(t, err)
	uncompressedSig := ecdsa.SignCompact(testPrivKey, digest, false)
	rec, err = RecoverSigner(
		uncompressedSig, digest, uncompressedAddr, params,
	)
	require.NoError(t, err)
	require.False(t, rec.Compressed)

	// The compressed header of sig contradicts that address.
	_, err = RecoverSigner(sig, digest, uncompressedAddr, params)
	require.ErrorIs(t, err, ErrNoValidRecovery)

	// Any other address has no valid recovery.
	otherAddr, err := AddressFromPubKey(testOtherKey.PubKey(), params)
	require.NoError(t, err)
	_, err = RecoverSigner(sig, digest, otherAddr, params)
	require.ErrorIs(t, err, ErrNoValidRecovery)

	// Malformed lengths and zero scalars are reported as such.
	_, err = RecoverSigner(sig[:40], digest, compressedAddr, params)
	require.ErrorIs(t, err, ErrMalformedSignature)

	_, err = RecoverSigner(
		make([]byte, CompactSigSize), digest, compressedAddr, params,
	)
	require.ErrorIs(t, err, ErrMalformedSignature)
}
