package sigma

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
)

type verifyOptions struct {
	recipient fn.Option[*btcec.PrivateKey]
}

// VerifyOption modifies a verify operation.
type VerifyOption func(*verifyOptions)

// WithRecipientKey supplies the private key a recipient restricted signature
// was made for.
func WithRecipientKey(key *btcec.PrivateKey) VerifyOption {
	return func(o *verifyOptions) {
		o.recipient = fn.Some(key)
	}
}

// Verify checks the signature at the selected slot against the cached
// message hash and the address it claims.
func (s *Sigma) Verify(opts ...VerifyOption) (bool, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	sig, err := s.sig.UnwrapOrErr(ErrNoSignature)
	if err != nil {
		return false, err
	}

	digest, err := s.MessageHash()
	if err != nil {
		return false, err
	}

	scheme, err := s.cfg.Registry.Lookup(sig.Algorithm)
	if err != nil {
		return false, err
	}

	ok, err := scheme.Verify(digest[:], sig.Address, sig.Signature,
		o.recipient)
	if err != nil {
		return false, err
	}

	log.Debugf("Verified %v: valid=%v", sig, ok)

	return ok, nil
}
