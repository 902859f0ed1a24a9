// Package signmsg implements the message signature schemes that can back a
// signature instance: a recoverable ECDSA signed-message scheme and an
// alternate self-describing scheme that may be restricted to one recipient.
package signmsg

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Algorithm is the tag written into a signature instance that names the
// scheme used to produce its signature.
type Algorithm string

const (
	// AlgoECDSA is the recoverable ECDSA signed-message scheme.
	AlgoECDSA Algorithm = "ECDSA"

	// AlgoAlt is the alternate signed-message scheme with optional
	// recipient restriction.
	AlgoAlt Algorithm = "ALT"
)

var (
	// ErrUnknownAlgorithm is returned when an algorithm tag has no
	// registered scheme.
	ErrUnknownAlgorithm = errors.New("unknown signature algorithm")

	// ErrMalformedSignature is returned when a signature cannot be decoded
	// for the scheme it claims to belong to.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrNoRecoveryID is returned when a compact signature carries no
	// usable recovery identifier.
	ErrNoRecoveryID = errors.New("no recovery identifier")
)

// ParseAlgorithm maps an algorithm tag to a known Algorithm.
func ParseAlgorithm(tag string) (Algorithm, error) {
	switch Algorithm(tag) {
	case AlgoECDSA, AlgoAlt:
		return Algorithm(tag), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, tag)
}

// Signature is the output of a signing scheme.
type Signature struct {
	// Algorithm is the scheme that produced the signature.
	Algorithm Algorithm

	// Address is the P2PKH address of the signing key.
	Address string

	// Sig is the raw signature as embedded into a script.
	Sig []byte

	// RecoveryID is set by schemes whose signatures allow public key
	// recovery.
	RecoveryID fn.Option[byte]
}

// Scheme is a message signature scheme.
type Scheme interface {
	// Algorithm returns the tag identifying the scheme.
	Algorithm() Algorithm

	// Sign signs msg with key. Schemes that support recipient restriction
	// only allow verifier to check the result when it is set.
	Sign(msg []byte, key *btcec.PrivateKey,
		verifier fn.Option[*btcec.PublicKey]) (*Signature, error)

	// Verify reports whether sig is a valid signature over msg created by
	// the owner of address. Recipient restricted signatures need the
	// recipient's private key.
	Verify(msg []byte, address string, sig []byte,
		recipient fn.Option[*btcec.PrivateKey]) (bool, error)
}

// Registry maps algorithm tags to the scheme implementing them.
type Registry map[Algorithm]Scheme

// DefaultRegistry returns a registry holding the ECDSA and ALT schemes,
// deriving addresses for the given network.
func DefaultRegistry(params *chaincfg.Params) Registry {
	return Registry{
		AlgoECDSA: NewECDSAScheme(params),
		AlgoAlt:   NewAltScheme(params),
	}
}

// Lookup returns the scheme registered for algo.
func (r Registry) Lookup(algo Algorithm) (Scheme, error) {
	scheme, ok := r[algo]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}

	return scheme, nil
}

// AddressFromPubKey returns the P2PKH address of the compressed encoding of
// pub.
func AddressFromPubKey(pub *btcec.PublicKey,
	params *chaincfg.Params) (string, error) {

	return addressFromSerialized(pub.SerializeCompressed(), params)
}

func addressFromSerialized(serialized []byte,
	params *chaincfg.Params) (string, error) {

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(serialized), params,
	)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}
