package sigma

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/sigmaproto/sigma/sigscript"
	"github.com/stretchr/testify/require"
)

// TestSignP2PKH signs a plain P2PKH output and checks the resulting script,
// the record and that a fresh context reads the same signature back.
func TestSignP2PKH(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	original := bytes.Clone(tx.TxOut[0].PkScript)

	s := newSigma(t, tx, 0, 0, 0)
	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Zero(t, count)

	res, err := s.Sign(testKey1)
	require.NoError(t, err)

	// The caller's transaction is left alone.
	require.Equal(t, original, tx.TxOut[0].PkScript)
	require.Same(t, res.Tx, s.Transaction())

	script := res.Tx.TxOut[0].PkScript
	require.Equal(
		t, bytes.Join([][]byte{
			original, {txscript.OP_RETURN}, res.Fragment,
		}, nil), script,
	)

	asm, err := sigscript.ASM(script)
	require.NoError(t, err)
	require.Contains(t, asm, "OP_RETURN 5349474d41 4543445341")

	require.Equal(t, addressOf(t, testKey1), res.Sig.Address)
	require.Equal(t, signmsg.AlgoECDSA, res.Sig.Algorithm)
	require.Len(t, res.Sig.Signature, signmsg.CompactSigSize)
	require.Zero(t, res.Sig.Vin)
	require.Zero(t, res.Sig.TargetVout)
	require.Equal(t, fn.Some(res.Sig), s.Sig())

	count, err = s.SigInstanceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pos, err := s.SigInstancePosition()
	require.NoError(t, err)
	require.Equal(t, 6, pos)

	valid, err := s.Verify()
	require.NoError(t, err)
	require.True(t, valid)

	fresh := newSigma(t, res.Tx, 0, 0, 0)
	sig, err := fresh.Sig().UnwrapOrErr(ErrNoSignature)
	require.NoError(t, err)
	require.Equal(t, addressOf(t, testKey1), sig.Address)
	require.Equal(t, res.Sig.Base64(), sig.Base64())

	valid, err = fresh.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

// TestSignRoundTrip makes sure a context over the deserialized signed
// transaction derives exactly what the signing context holds.
func TestSignRoundTrip(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, SelfRefVin)
	res, err := s.Sign(testKey1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.Tx.Serialize(&buf))

	var decoded wire.MsgTx
	require.NoError(t, decoded.Deserialize(&buf))

	fresh := newSigma(t, &decoded, 0, 0, SelfRefVin)

	for _, get := range []func(*Sigma) (any, error){
		func(s *Sigma) (any, error) { return s.InputHash() },
		func(s *Sigma) (any, error) { return s.DataHash() },
		func(s *Sigma) (any, error) { return s.MessageHash() },
		func(s *Sigma) (any, error) { return s.SigInstanceCount() },
		func(s *Sigma) (any, error) { return s.SigInstancePosition() },
	} {
		exp, err := get(s)
		require.NoError(t, err)
		got, err := get(fresh)
		require.NoError(t, err)
		require.Equal(t, exp, got)
	}

	require.Equal(t, s.Sig(), fresh.Sig())
}

// tamper replaces the first instance of the signed output with one built
// from the mutated record.
func tamper(t *testing.T, tx *wire.MsgTx,
	mutate func(*sigscript.Sig)) *Sigma {

	t.Helper()

	tampered := tx.Copy()
	script := tampered.TxOut[0].PkScript

	sigs := sigscript.Sigs(script, 0)
	require.NotEmpty(t, sigs)

	sig := sigs[0]
	mutate(&sig)

	fragment, err := sigscript.EncodeInstance(
		sig.Algorithm, sig.Address, sig.Signature, sig.Vin,
	)
	require.NoError(t, err)

	tampered.TxOut[0].PkScript, err = sigscript.ReplaceInstanceAt(
		script, 0, fragment,
	)
	require.NoError(t, err)

	return newSigma(t, tampered, 0, 0, 0)
}

func TestVerifyTampered(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	res, err := s.Sign(testKey1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*sigscript.Sig)
	}{
		{
			name: "signature byte",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[10] ^= 0x01
			},
		},
		{
			name: "last signature byte",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[len(sig.Signature)-1] ^= 0x80
			},
		},
		{
			name: "address",
			mutate: func(sig *sigscript.Sig) {
				sig.Address = addressOf(t, testKey2)
			},
		},
		{
			name: "header byte out of range",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[0] = 0x00
			},
		},
		{
			name: "header byte other recovery id",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[0] ^= 0x01
			},
		},
		{
			name: "header byte uncompressed",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[0] -= 4
			},
		},
		{
			name: "header byte max",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = bytes.Clone(sig.Signature)
				sig.Signature[0] = 0xff
			},
		},
		{
			name: "truncated signature",
			mutate: func(sig *sigscript.Sig) {
				sig.Signature = sig.Signature[:40]
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			valid, err := tamper(t, res.Tx, tc.mutate).Verify()
			require.NoError(t, err)
			require.False(t, valid)
		})
	}
}

// TestDataBinding changes script content in front of the instance and
// expects the signature to no longer verify.
func TestDataBinding(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	res, err := s.Sign(testKey1)
	require.NoError(t, err)

	data, err := s.DataHash()
	require.NoError(t, err)

	modified := res.Tx.Copy()
	modified.TxOut[0].PkScript[3] ^= 0xff

	fresh := newSigma(t, modified, 0, 0, 0)
	count, err := fresh.SigInstanceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	freshData, err := fresh.DataHash()
	require.NoError(t, err)
	require.NotEqual(t, data, freshData)

	valid, err := fresh.Verify()
	require.NoError(t, err)
	require.False(t, valid)
}

// TestMultipleInstances signs two slots of the same output with different
// keys and checks both remain independently valid.
func TestMultipleInstances(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	_, err := s.Sign(testKey1)
	require.NoError(t, err)

	require.NoError(t, s.SetSigmaInstance(1))
	res, err := s.Sign(testKey2)
	require.NoError(t, err)

	script := res.Tx.TxOut[0].PkScript
	require.Equal(t, 2, sigscript.CountInstances(script))

	for i, key := range []*btcec.PrivateKey{testKey1, testKey2} {
		fresh := newSigma(t, res.Tx, 0, uint32(i), 0)

		count, err := fresh.SigInstanceCount()
		require.NoError(t, err)
		require.Equal(t, 2, count)

		sig, err := fresh.Sig().UnwrapOrErr(ErrNoSignature)
		require.NoError(t, err)
		require.Equal(t, addressOf(t, key), sig.Address)

		valid, err := fresh.Verify()
		require.NoError(t, err)
		require.True(t, valid, "instance %d", i)
	}

	// The second instance sits behind a pipe separator.
	sigs, err := s.Sigs()
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	require.Contains(t, mustASM(t, script), "7c 5349474d41")
}

func mustASM(t *testing.T, script []byte) string {
	t.Helper()

	asm, err := sigscript.ASM(script)
	require.NoError(t, err)

	return asm
}

// TestResignSlot re-signs an occupied slot which replaces its content.
func TestResignSlot(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	first, err := s.Sign(testKey1)
	require.NoError(t, err)

	second, err := s.Sign(testKey2)
	require.NoError(t, err)

	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, addressOf(t, testKey2), second.Sig.Address)
	require.NotEqual(
		t, first.Tx.TxOut[0].PkScript, second.Tx.TxOut[0].PkScript,
	)

	valid, err := s.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

// TestLastSlotPolicy re-signs the first of two slots, which under this
// policy appends a third instance instead.
func TestLastSlotPolicy(t *testing.T) {
	t.Parallel()

	s := newSigma(
		t, testTx(t), 0, 0, 0, WithSlotPolicy(LastSlotPolicy),
	)
	_, err := s.Sign(testKey1)
	require.NoError(t, err)

	// Slot 0 is the last one, so it is replaced.
	_, err = s.Sign(testKey1)
	require.NoError(t, err)
	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, s.SetSigmaInstance(1))
	_, err = s.Sign(testKey2)
	require.NoError(t, err)

	require.NoError(t, s.SetSigmaInstance(0))
	res, err := s.Sign(testKey2)
	require.NoError(t, err)

	count, err = s.SigInstanceCount()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, uint32(2), s.SigmaInstance())

	for i := uint32(0); i < 3; i++ {
		valid, err := newSigma(t, res.Tx, 0, i, 0).Verify()
		require.NoError(t, err)
		require.True(t, valid, "instance %d", i)
	}
}

// TestSignPastLastInstance selects a slot beyond the existing instances; the
// signature is appended and the context follows it.
func TestSignPastLastInstance(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 3, 0)
	res, err := s.Sign(testKey1)
	require.NoError(t, err)

	require.Zero(t, s.SigmaInstance())
	require.Equal(t, fn.Some(res.Sig), s.Sig())

	valid, err := s.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

func TestSignAlt(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	res, err := s.Sign(testKey1, WithAlgorithm(signmsg.AlgoAlt))
	require.NoError(t, err)
	require.Equal(t, signmsg.AlgoAlt, res.Sig.Algorithm)
	require.Equal(t, addressOf(t, testKey1), res.Sig.Address)

	valid, err := s.Verify()
	require.NoError(t, err)
	require.True(t, valid)

	// Restrict the next signature to the owner of testKey2.
	res, err = s.Sign(
		testKey1, WithAlgorithm(signmsg.AlgoAlt),
		WithVerifier(testKey2.PubKey()),
	)
	require.NoError(t, err)

	fresh := newSigma(t, res.Tx, 0, 0, 0)

	_, err = fresh.Verify()
	require.ErrorIs(t, err, signmsg.ErrRecipientRequired)

	_, err = fresh.Verify(WithRecipientKey(testKey1))
	require.ErrorIs(t, err, signmsg.ErrRecipientMismatch)

	valid, err = fresh.Verify(WithRecipientKey(testKey2))
	require.NoError(t, err)
	require.True(t, valid)
}

func TestSignUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	_, err := s.Sign(testKey1, WithAlgorithm("BIP322"))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	// Nothing was committed.
	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestSignMalformedScript signs an output whose script ends in a truncated
// push. The instance could not be read back, so signing fails and the context
// keeps the unsigned transaction.
func TestSignMalformedScript(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	tx.TxOut[0].PkScript = append(
		tx.TxOut[0].PkScript, txscript.OP_PUSHDATA1,
	)
	original := bytes.Clone(tx.TxOut[0].PkScript)

	s := newSigma(t, tx, 0, 0, 0)
	_, err := s.Sign(testKey1)
	require.ErrorIs(t, err, sigscript.ErrMalformedScript)

	require.Equal(t, original, s.Transaction().TxOut[0].PkScript)
	require.True(t, s.Sig().IsNone())

	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

// fakeScheme records the messages it signs and accepts its own signatures.
type fakeScheme struct {
	algo         signmsg.Algorithm
	withRecovery bool
	signed       [][]byte
}

func (f *fakeScheme) Algorithm() signmsg.Algorithm {
	return f.algo
}

func (f *fakeScheme) Sign(msg []byte, _ *btcec.PrivateKey,
	_ fn.Option[*btcec.PublicKey]) (*signmsg.Signature, error) {

	f.signed = append(f.signed, bytes.Clone(msg))

	sig := &signmsg.Signature{
		Algorithm: f.algo,
		Address:   "fake",
		Sig:       append([]byte("sig:"), msg[:8]...),
	}
	if f.withRecovery {
		sig.RecoveryID = fn.Some(byte(0))
	}

	return sig, nil
}

func (f *fakeScheme) Verify(msg []byte, address string, sig []byte,
	_ fn.Option[*btcec.PrivateKey]) (bool, error) {

	return address == "fake" &&
		bytes.Equal(sig, append([]byte("sig:"), msg[:8]...)), nil
}

// TestInjectedScheme signs through a fake scheme to check the orchestration
// independently of any real cryptography.
func TestInjectedScheme(t *testing.T) {
	t.Parallel()

	fake := &fakeScheme{algo: signmsg.AlgoAlt}
	noRecovery := &fakeScheme{algo: signmsg.AlgoECDSA}
	registry := signmsg.Registry{
		signmsg.AlgoAlt:   fake,
		signmsg.AlgoECDSA: noRecovery,
	}

	s := newSigma(t, testTx(t), 0, 0, 0, WithRegistry(registry))
	digest, err := s.MessageHash()
	require.NoError(t, err)

	_, err = s.Sign(testKey1)
	require.ErrorIs(t, err, ErrRecoveryMissing)

	res, err := s.Sign(testKey1, WithAlgorithm(signmsg.AlgoAlt))
	require.NoError(t, err)
	require.Len(t, fake.signed, 1)
	require.Equal(t, digest[:], fake.signed[0])
	require.Equal(t, "fake", res.Sig.Address)

	valid, err := s.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

// fakeRemote signs with a local key the way a remote signer would.
type fakeRemote struct {
	key *btcec.PrivateKey
	err error
}

func (f *fakeRemote) SignMessage(_ context.Context,
	msg []byte) (*signmsg.Signature, error) {

	if f.err != nil {
		return nil, f.err
	}

	scheme := signmsg.NewECDSAScheme(&chaincfg.MainNetParams)
	return scheme.Sign(msg, f.key, fn.None[*btcec.PublicKey]())
}

func TestRemoteSign(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSigma(t, testTx(t), 0, 0, 0)

	errDown := errors.New("signer down")
	_, err := s.RemoteSign(ctx, &fakeRemote{err: errDown})
	require.ErrorIs(t, err, errDown)

	res, err := s.RemoteSign(ctx, &fakeRemote{key: testKey2})
	require.NoError(t, err)
	require.Equal(t, addressOf(t, testKey2), res.Sig.Address)

	valid, err := newSigma(t, res.Tx, 0, 0, 0).Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

// lyingRemote claims an address the signature was not made for.
type lyingRemote struct {
	fakeRemote
	address string
}

func (l *lyingRemote) SignMessage(ctx context.Context,
	msg []byte) (*signmsg.Signature, error) {

	sig, err := l.fakeRemote.SignMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	sig.Address = l.address

	return sig, nil
}

func TestRemoteSignInvalid(t *testing.T) {
	t.Parallel()

	s := newSigma(t, testTx(t), 0, 0, 0)
	_, err := s.RemoteSign(context.Background(), &lyingRemote{
		fakeRemote: fakeRemote{key: testKey1},
		address:    addressOf(t, testKey2),
	})
	require.ErrorIs(t, err, ErrRemoteSignatureInvalid)

	count, err := s.SigInstanceCount()
	require.NoError(t, err)
	require.Zero(t, count)
}
