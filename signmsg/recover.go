package signmsg

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNoValidRecovery is returned when none of the four recovery ids yields a
// public key that both validates the signature and matches the claimed
// address.
var ErrNoValidRecovery = errors.New("no valid public key recovery")

// maxRecoveryID is the largest recovery id of a secp256k1 signature.
const maxRecoveryID = 3

// Recovery describes the public key recovered from a signature.
type Recovery struct {
	// ID is the recovery id that produced PubKey.
	ID byte

	// PubKey is the recovered public key.
	PubKey *btcec.PublicKey

	// Compressed is true when the address matched the compressed encoding
	// of PubKey.
	Compressed bool
}

// RecoverSigner searches recovery ids 0 through 3 for a public key that
// verifies sig over digest and whose P2PKH address equals address. Both the
// compressed and the uncompressed key encoding are tried. sig is either a 65
// byte compact signature or a bare 64 byte r || s. The search does not rely
// on the header of a compact signature, but the header must be well formed
// and agree with the recovery found.
func RecoverSigner(sig, digest []byte, address string,
	params *chaincfg.Params) (*Recovery, error) {

	var (
		rs     []byte
		header fn.Option[byte]
	)
	switch len(sig) {
	case CompactSigSize:
		if _, err := RecoveryIDFromCompact(sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSignature,
				err)
		}
		rs = sig[1:]
		header = fn.Some(sig[0])

	case CompactSigSize - 1:
		rs = sig
	default:
		return nil, fmt.Errorf("%w: signature has %d bytes",
			ErrMalformedSignature, len(sig))
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(rs[:32]); overflow || r.IsZero() {
		return nil, fmt.Errorf("%w: invalid r", ErrMalformedSignature)
	}
	if overflow := s.SetByteSlice(rs[32:]); overflow || s.IsZero() {
		return nil, fmt.Errorf("%w: invalid s", ErrMalformedSignature)
	}
	parsed := ecdsa.NewSignature(&r, &s)

	for id := byte(0); id <= maxRecoveryID; id++ {
		candidate, err := CompactFromRecovery(rs, id)
		if err != nil {
			return nil, err
		}

		pub, _, err := ecdsa.RecoverCompact(candidate, digest)
		if err != nil {
			log.Tracef("Recovery id %d yields no key: %v", id, err)
			continue
		}

		if !parsed.Verify(digest, pub) {
			continue
		}

		compressed, err := addressFromSerialized(
			pub.SerializeCompressed(), params,
		)
		if err != nil {
			return nil, err
		}
		if compressed == address {
			return checkHeader(header, &Recovery{
				ID:         id,
				PubKey:     pub,
				Compressed: true,
			})
		}

		uncompressed, err := addressFromSerialized(
			pub.SerializeUncompressed(), params,
		)
		if err != nil {
			return nil, err
		}
		if uncompressed == address {
			return checkHeader(header, &Recovery{ID: id, PubKey: pub})
		}
	}

	return nil, ErrNoValidRecovery
}

// checkHeader makes sure the header of a compact signature, if there is one,
// encodes the recovery id and key encoding of rec.
func checkHeader(header fn.Option[byte], rec *Recovery) (*Recovery, error) {
	want := compactHeaderBase + rec.ID
	if rec.Compressed {
		want += compactCompressedFlag
	}

	got := header.UnwrapOr(want)
	if got != want {
		return nil, fmt.Errorf("%w: header byte %d, recovered %d",
			ErrNoValidRecovery, got, want)
	}

	return rec, nil
}
