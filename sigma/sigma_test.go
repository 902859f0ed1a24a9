package sigma

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/stretchr/testify/require"
)

var (
	testKey1, _ = btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x01}, 32))
	testKey2, _ = btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x02}, 32))

	testPrevHashA = chainhash.Hash{0xaa, 0x01}
	testPrevHashB = chainhash.Hash{0xbb, 0x02}
)

// addressOf returns the mainnet address a key signs as.
func addressOf(t *testing.T, key *btcec.PrivateKey) string {
	t.Helper()

	addr, err := signmsg.AddressFromPubKey(
		key.PubKey(), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	return addr
}

// p2pkhScript returns a pay-to-pubkey-hash script to the given key.
func p2pkhScript(t *testing.T, key *btcec.PrivateKey) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()),
		&chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// testTx returns a transaction spending one outpoint of testPrevHashA into a
// single P2PKH output.
func testTx(t *testing.T) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&testPrevHashA, 3), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, p2pkhScript(t, testKey2)))

	return tx
}

func newSigma(t *testing.T, tx *wire.MsgTx, vout, instance uint32,
	refVin int32, opts ...Option) *Sigma {

	t.Helper()

	s, err := New(tx, vout, instance, refVin, opts...)
	require.NoError(t, err)

	return s
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(testTx(t), 1, 0, 0)
	require.ErrorIs(t, err, ErrTargetOutOfRange)

	_, err = New(testTx(t), 0, 0, -2)
	require.ErrorIs(t, err, ErrInvalidRefVin)

	s := newSigma(t, nil, 0, 0, 0)
	_, err = s.InputHash()
	require.ErrorIs(t, err, ErrNoTransaction)
	_, err = s.DataHash()
	require.ErrorIs(t, err, ErrNoTransaction)
	_, err = s.MessageHash()
	require.ErrorIs(t, err, ErrMissingState)
	_, err = s.SigInstanceCount()
	require.ErrorIs(t, err, ErrNoTransaction)
	_, err = s.Verify()
	require.ErrorIs(t, err, ErrNoSignature)
	_, err = s.Sign(testKey1)
	require.ErrorIs(t, err, ErrNoTransaction)
}

func TestSetters(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_TRUE}))

	s := newSigma(t, tx, 0, 0, 0)
	data0, err := s.DataHash()
	require.NoError(t, err)

	require.NoError(t, s.SetTargetVout(1))
	data1, err := s.DataHash()
	require.NoError(t, err)
	require.NotEqual(t, data0, data1)
	require.Equal(t, chainhash.HashH([]byte{txscript.OP_TRUE}), data1)

	// An invalid selection keeps the previous one.
	err = s.SetTargetVout(5)
	require.ErrorIs(t, err, ErrTargetOutOfRange)
	require.Equal(t, uint32(1), s.TargetVout())
	data, err := s.DataHash()
	require.NoError(t, err)
	require.Equal(t, data1, data)

	require.ErrorIs(t, s.SetRefVin(-7), ErrInvalidRefVin)
	require.NoError(t, s.SetRefVin(SelfRefVin))
	require.Equal(t, SelfRefVin, s.RefVin())

	require.NoError(t, s.SetSigmaInstance(4))
	require.Equal(t, uint32(4), s.SigmaInstance())
	require.True(t, s.Sig().IsNone())

	pos, err := s.SigInstancePosition()
	require.NoError(t, err)
	require.Equal(t, -1, pos)
}

// TestSlotPolicies pins the decisions of the two shipped slot policies.
func TestSlotPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		instance uint32
		count    int
		occupied SlotAction
		lastSlot SlotAction
	}{
		{0, 0, SlotActionAppend, SlotActionAppend},
		{0, 1, SlotActionReplace, SlotActionReplace},
		{1, 1, SlotActionAppend, SlotActionAppend},
		{0, 2, SlotActionReplace, SlotActionAppend},
		{1, 2, SlotActionReplace, SlotActionReplace},
		{5, 2, SlotActionAppend, SlotActionAppend},
	}

	for _, tc := range tests {
		require.Equal(
			t, tc.occupied, OccupiedSlotPolicy(tc.instance, tc.count),
			"occupied(%d, %d)", tc.instance, tc.count,
		)
		require.Equal(
			t, tc.lastSlot, LastSlotPolicy(tc.instance, tc.count),
			"last slot(%d, %d)", tc.instance, tc.count,
		)
	}
}
