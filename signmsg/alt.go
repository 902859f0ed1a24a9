package signmsg

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/lnutils"
)

const (
	// keyIDSize is the size of the random key id that, together with the
	// ECDH secret, selects the child key a message is signed with.
	keyIDSize = 32

	// anyoneRecipient marks a signature that anyone may verify.
	anyoneRecipient = 0x00

	// invoicePrefix is prepended to the base64 key id to form the invoice
	// string used for child key derivation.
	invoicePrefix = "2-message signing-"

	// minAltSigSize is the size of the smallest well formed blob: version,
	// sender key, anyone marker, key id and a minimal DER signature.
	minAltSigSize = 4 + btcec.PubKeyBytesLenCompressed + 1 + keyIDSize + 8
)

// altVersion prefixes every blob produced by the ALT scheme.
var altVersion = [4]byte{0x42, 0x42, 0x33, 0x01}

var (
	// ErrRecipientRequired is returned when verifying a recipient
	// restricted signature without the recipient's private key.
	ErrRecipientRequired = errors.New("signature is restricted to a " +
		"recipient, recipient private key required")

	// ErrRecipientMismatch is returned when the supplied recipient key is
	// not the one the signature was restricted to.
	ErrRecipientMismatch = errors.New("signature is restricted to a " +
		"different recipient")
)

// AltScheme is a self-describing signed-message scheme. The signer derives a
// child key from an ECDH secret shared with the recipient (or with the public
// "anyone" key) and a random key id, and signs the SHA-256 of the message with
// it. The blob carries everything but the recipient's private key needed to
// re-derive the child public key.
type AltScheme struct {
	params *chaincfg.Params

	// Rand is the source of key ids. It defaults to crypto/rand.
	Rand io.Reader
}

// A compile time check to ensure AltScheme implements the Scheme interface.
var _ Scheme = (*AltScheme)(nil)

// NewAltScheme returns an ALT scheme deriving addresses for params.
func NewAltScheme(params *chaincfg.Params) *AltScheme {
	return &AltScheme{
		params: params,
		Rand:   rand.Reader,
	}
}

// Algorithm returns AlgoAlt.
func (a *AltScheme) Algorithm() Algorithm {
	return AlgoAlt
}

// Sign signs msg with a child key of key. If verifier is set, only the owner
// of its private key is able to verify the result.
func (a *AltScheme) Sign(msg []byte, key *btcec.PrivateKey,
	verifier fn.Option[*btcec.PublicKey]) (*Signature, error) {

	var keyID [keyIDSize]byte
	if _, err := io.ReadFull(a.Rand, keyID[:]); err != nil {
		return nil, fmt.Errorf("unable to read key id: %w", err)
	}

	recipient := verifier.UnwrapOrFunc(func() *btcec.PublicKey {
		return anyoneKey().PubKey()
	})

	child := deriveChildPrivKey(key, recipient, invoiceNumber(keyID[:]))
	sig := ecdsa.Sign(child, chainhash.HashB(msg))

	var b bytes.Buffer
	b.Write(altVersion[:])
	b.Write(key.PubKey().SerializeCompressed())
	verifier.WhenSome(func(pub *btcec.PublicKey) {
		b.Write(pub.SerializeCompressed())
	})
	if verifier.IsNone() {
		b.WriteByte(anyoneRecipient)
	}
	b.Write(keyID[:])
	b.Write(sig.Serialize())

	address, err := AddressFromPubKey(key.PubKey(), a.params)
	if err != nil {
		return nil, fmt.Errorf("unable to derive address: %w", err)
	}

	return &Signature{
		Algorithm: AlgoAlt,
		Address:   address,
		Sig:       b.Bytes(),
	}, nil
}

// Verify checks sig over msg and that the embedded sender key belongs to
// address.
func (a *AltScheme) Verify(msg []byte, address string, sig []byte,
	recipient fn.Option[*btcec.PrivateKey]) (bool, error) {

	if len(sig) < minAltSigSize {
		log.Debugf("ALT signature too short: %d bytes", len(sig))
		return false, nil
	}
	if !bytes.Equal(sig[:4], altVersion[:]) {
		log.Debugf("ALT signature has unknown version %x", sig[:4])
		return false, nil
	}
	rest := sig[4:]

	sender, err := btcec.ParsePubKey(rest[:btcec.PubKeyBytesLenCompressed])
	if err != nil {
		log.Debugf("ALT signature has invalid sender key: %v", err)
		return false, nil
	}
	rest = rest[btcec.PubKeyBytesLenCompressed:]

	var recipientKey *btcec.PrivateKey
	if rest[0] == anyoneRecipient {
		recipientKey = anyoneKey()
		rest = rest[1:]
	} else {
		if len(rest) < btcec.PubKeyBytesLenCompressed+keyIDSize {
			return false, nil
		}
		wantRecipient := rest[:btcec.PubKeyBytesLenCompressed]
		rest = rest[btcec.PubKeyBytesLenCompressed:]

		key, err := recipient.UnwrapOrErr(ErrRecipientRequired)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(
			key.PubKey().SerializeCompressed(), wantRecipient,
		) {

			return false, fmt.Errorf("%w: expected %x",
				ErrRecipientMismatch, wantRecipient)
		}
		recipientKey = key
	}

	if len(rest) <= keyIDSize {
		return false, nil
	}
	keyID, der := rest[:keyIDSize], rest[keyIDSize:]

	parsed, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		log.Debugf("ALT signature has invalid DER encoding: %v", err)
		return false, nil
	}

	child := deriveChildPubKey(sender, recipientKey, invoiceNumber(keyID))
	if !parsed.Verify(chainhash.HashB(msg), child) {
		log.DebugS(context.Background(), "ALT signature does not verify",
			lnutils.LogPubKey("sender", sender),
			lnutils.LogPubKey("child", child))

		return false, nil
	}

	senderAddr, err := AddressFromPubKey(sender, a.params)
	if err != nil {
		return false, err
	}

	return senderAddr == address, nil
}

// invoiceNumber returns the derivation invoice string for a key id.
func invoiceNumber(keyID []byte) string {
	return invoicePrefix + base64.StdEncoding.EncodeToString(keyID)
}

// anyoneKey returns the private key with scalar one, whose public key is the
// generator point. It is used in place of a recipient when a signature must
// be verifiable by everyone.
func anyoneKey() *btcec.PrivateKey {
	var one secp256k1.ModNScalar
	one.SetInt(1)

	return secp256k1.NewPrivateKey(&one)
}

// sharedSecret returns the compressed encoding of priv * pub.
func sharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
}

// derivationTweak returns HMAC-SHA256(secret, invoice) reduced mod N.
func derivationTweak(secret []byte, invoice string) secp256k1.ModNScalar {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(invoice))

	var tweak secp256k1.ModNScalar
	tweak.SetByteSlice(mac.Sum(nil))

	return tweak
}

// deriveChildPrivKey returns priv + tweak where the tweak is derived from the
// secret shared with counterparty.
func deriveChildPrivKey(priv *btcec.PrivateKey, counterparty *btcec.PublicKey,
	invoice string) *btcec.PrivateKey {

	tweak := derivationTweak(sharedSecret(priv, counterparty), invoice)
	tweak.Add(&priv.Key)

	return secp256k1.NewPrivateKey(&tweak)
}

// deriveChildPubKey returns pub + tweak*G, the public counterpart of
// deriveChildPrivKey as computed by the counterparty.
func deriveChildPubKey(pub *btcec.PublicKey, counterparty *btcec.PrivateKey,
	invoice string) *btcec.PublicKey {

	tweak := derivationTweak(sharedSecret(counterparty, pub), invoice)

	var tweakPoint, pubPoint, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&tweak, &tweakPoint)
	pub.AsJacobian(&pubPoint)
	secp256k1.AddNonConst(&pubPoint, &tweakPoint, &sum)
	sum.ToAffine()

	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}
