package signmsg

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// messageMagic is the domain separation prefix of signed messages.
	messageMagic = "Bitcoin Signed Message:\n"

	// CompactSigSize is the size of a compact signature: one header byte
	// followed by r and s.
	CompactSigSize = 65

	// compactHeaderBase is the header value of a recovery id 0 signature
	// for an uncompressed key. Compressed keys add compactCompressedFlag.
	compactHeaderBase     = 27
	compactCompressedFlag = 4
)

// MagicHash returns the double SHA-256 of the varint length prefixed magic
// string followed by the varint length prefixed message.
func MagicHash(msg []byte) []byte {
	var b bytes.Buffer

	// Writes to a bytes.Buffer never fail.
	_ = wire.WriteVarString(&b, 0, messageMagic)
	_ = wire.WriteVarBytes(&b, 0, msg)

	return chainhash.DoubleHashB(b.Bytes())
}

// RecoveryIDFromCompact extracts the recovery id from the header byte of a
// compact signature.
func RecoveryIDFromCompact(sig []byte) (byte, error) {
	if len(sig) != CompactSigSize {
		return 0, fmt.Errorf("%w: compact signature has %d bytes",
			ErrNoRecoveryID, len(sig))
	}

	header := sig[0]
	if header < compactHeaderBase ||
		header >= compactHeaderBase+2*compactCompressedFlag {

		return 0, fmt.Errorf("%w: invalid header byte %d",
			ErrNoRecoveryID, header)
	}

	return (header - compactHeaderBase) % compactCompressedFlag, nil
}

// CompactFromRecovery builds a compact signature for a compressed key from a
// 64 byte r || s signature and its recovery id.
func CompactFromRecovery(rs []byte, recoveryID byte) ([]byte, error) {
	if len(rs) != CompactSigSize-1 {
		return nil, fmt.Errorf("%w: expected %d signature bytes, got %d",
			ErrMalformedSignature, CompactSigSize-1, len(rs))
	}
	if recoveryID > 3 {
		return nil, fmt.Errorf("%w: recovery id %d out of range",
			ErrNoRecoveryID, recoveryID)
	}

	sig := make([]byte, CompactSigSize)
	sig[0] = compactHeaderBase + compactCompressedFlag + recoveryID
	copy(sig[1:], rs)

	return sig, nil
}

// ECDSAScheme signs the magic hash of a message with a compact recoverable
// ECDSA signature.
type ECDSAScheme struct {
	params *chaincfg.Params
}

// A compile time check to ensure ECDSAScheme implements the Scheme interface.
var _ Scheme = (*ECDSAScheme)(nil)

// NewECDSAScheme returns an ECDSA scheme deriving addresses for params.
func NewECDSAScheme(params *chaincfg.Params) *ECDSAScheme {
	return &ECDSAScheme{params: params}
}

// Algorithm returns AlgoECDSA.
func (e *ECDSAScheme) Algorithm() Algorithm {
	return AlgoECDSA
}

// Sign produces a compact signature over the magic hash of msg. The verifier
// is ignored, ECDSA signatures can be checked by anyone.
func (e *ECDSAScheme) Sign(msg []byte, key *btcec.PrivateKey,
	_ fn.Option[*btcec.PublicKey]) (*Signature, error) {

	sig := ecdsa.SignCompact(key, MagicHash(msg), true)

	recoveryID, err := RecoveryIDFromCompact(sig)
	if err != nil {
		return nil, err
	}

	address, err := AddressFromPubKey(key.PubKey(), e.params)
	if err != nil {
		return nil, fmt.Errorf("unable to derive address: %w", err)
	}

	return &Signature{
		Algorithm:  AlgoECDSA,
		Address:    address,
		Sig:        sig,
		RecoveryID: fn.Some(recoveryID),
	}, nil
}

// Verify recovers the signer of sig and checks it matches address. The
// recovery id stored in the signature header is not used for the search, but
// a header that disagrees with the recovered key fails verification.
func (e *ECDSAScheme) Verify(msg []byte, address string, sig []byte,
	_ fn.Option[*btcec.PrivateKey]) (bool, error) {

	_, err := RecoverSigner(sig, MagicHash(msg), address, e.params)
	switch {
	case errors.Is(err, ErrNoValidRecovery),
		errors.Is(err, ErrMalformedSignature):

		log.Debugf("ECDSA signature for %v rejected: %v", address, err)

		return false, nil

	case err != nil:
		return false, err
	}

	return true, nil
}
