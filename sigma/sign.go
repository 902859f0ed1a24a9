package sigma

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/lnutils"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/sigmaproto/sigma/sigscript"
)

// SignResult is the outcome of a sign operation.
type SignResult struct {
	// Fragment is the encoded instance, without separator.
	Fragment []byte

	// Tx is the new transaction carrying the instance. It is also the
	// context's transaction from now on.
	Tx *wire.MsgTx

	// Sig is the record of the new signature.
	Sig sigscript.Sig
}

type signOptions struct {
	algorithm signmsg.Algorithm
	verifier  fn.Option[*btcec.PublicKey]
}

func defaultSignOptions() *signOptions {
	return &signOptions{
		algorithm: signmsg.AlgoECDSA,
	}
}

// SignOption modifies a single sign operation.
type SignOption func(*signOptions)

// WithAlgorithm selects the signature scheme. The default is ECDSA.
func WithAlgorithm(algo signmsg.Algorithm) SignOption {
	return func(o *signOptions) {
		o.algorithm = algo
	}
}

// WithVerifier restricts verification of the signature to the owner of the
// given key. Only schemes supporting recipient restriction honor it.
func WithVerifier(pub *btcec.PublicKey) SignOption {
	return func(o *signOptions) {
		o.verifier = fn.Some(pub)
	}
}

// RemoteSigner signs a message digest with a key held elsewhere.
type RemoteSigner interface {
	// SignMessage returns a signature over msg together with the signer's
	// address.
	SignMessage(ctx context.Context, msg []byte) (*signmsg.Signature,
		error)
}

// slotPlan is where a new signature goes and the digest it must sign.
type slotPlan struct {
	action SlotAction
	index  uint32
	digest chainhash.Hash
}

// planSlot applies the slot policy to the current script. Appended instances
// commit to the whole current script, so when the new instance does not land
// on the selected slot its digest is derived from the script rather than
// from the cached data hash.
func (s *Sigma) planSlot() (*slotPlan, error) {
	script, err := s.targetScript()
	if err != nil {
		return nil, err
	}

	input, err := s.inputHash.UnwrapOrErr(ErrMissingState)
	if err != nil {
		return nil, err
	}
	data, err := s.dataHash.UnwrapOrErr(ErrMissingState)
	if err != nil {
		return nil, err
	}

	count := sigscript.CountInstances(script)
	plan := &slotPlan{
		action: s.cfg.SlotPolicy(s.sigmaInstance, count),
		index:  s.sigmaInstance,
	}

	if plan.action == SlotActionReplace &&
		int64(s.sigmaInstance) >= int64(count) {

		log.Debugf("Slot %d not present in %d instances, appending",
			s.sigmaInstance, count)

		plan.action = SlotActionAppend
	}

	if plan.action == SlotActionAppend {
		plan.index = uint32(count)
	}
	if plan.index != s.sigmaInstance {
		data = chainhash.HashH(script)
	}

	plan.digest = messageHash(input, data)

	log.Debugf("Signing vout %d: %v slot %d (selected %d, %d present)",
		s.targetVout, plan.action, plan.index, s.sigmaInstance, count)

	return plan, nil
}

// needsRecoveryID reports whether signatures of algo must come with a
// recovery id.
func needsRecoveryID(algo signmsg.Algorithm) bool {
	return algo == signmsg.AlgoECDSA
}

// Sign signs the selected slot with key and embeds the signature into a copy
// of the transaction, which becomes the context's transaction. Depending on
// the slot policy the instance at the slot is replaced or a new one is
// appended; in the latter case the context selects the appended instance.
func (s *Sigma) Sign(key *btcec.PrivateKey,
	opts ...SignOption) (*SignResult, error) {

	o := defaultSignOptions()
	for _, opt := range opts {
		opt(o)
	}

	scheme, err := s.cfg.Registry.Lookup(o.algorithm)
	if err != nil {
		return nil, err
	}

	plan, err := s.planSlot()
	if err != nil {
		return nil, err
	}

	sig, err := scheme.Sign(plan.digest[:], key, o.verifier)
	if err != nil {
		return nil, fmt.Errorf("unable to sign with %v: %w",
			o.algorithm, err)
	}
	if needsRecoveryID(sig.Algorithm) && sig.RecoveryID.IsNone() {
		return nil, ErrRecoveryMissing
	}

	return s.commit(plan, sig)
}

// RemoteSign works like Sign, but has signer produce the signature over the
// message hash. The returned signature is checked against the address the
// signer claims before it is embedded.
func (s *Sigma) RemoteSign(ctx context.Context,
	signer RemoteSigner) (*SignResult, error) {

	plan, err := s.planSlot()
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignMessage(ctx, plan.digest[:])
	if err != nil {
		log.ErrorS(ctx, "Remote signing failed", err,
			lnutils.LogHash("digest", plan.digest))

		return nil, fmt.Errorf("remote signing failed: %w", err)
	}
	if needsRecoveryID(sig.Algorithm) && sig.RecoveryID.IsNone() {
		return nil, ErrRecoveryMissing
	}

	scheme, err := s.cfg.Registry.Lookup(sig.Algorithm)
	if err != nil {
		return nil, err
	}
	ok, err := scheme.Verify(
		plan.digest[:], sig.Address, sig.Sig,
		fn.None[*btcec.PrivateKey](),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to check remote signature: %w",
			err)
	}
	if !ok {
		log.WarnS(ctx, "Remote signer returned invalid signature",
			ErrRemoteSignatureInvalid, "address", sig.Address)

		return nil, fmt.Errorf("%w for address %v",
			ErrRemoteSignatureInvalid, sig.Address)
	}

	return s.commit(plan, sig)
}

// commit embeds sig according to plan into a copy of the transaction and
// makes the copy the context's transaction.
func (s *Sigma) commit(plan *slotPlan,
	sig *signmsg.Signature) (*SignResult, error) {

	script, err := s.targetScript()
	if err != nil {
		return nil, err
	}

	vin := s.vin()
	fragment, err := sigscript.EncodeInstance(
		sig.Algorithm, sig.Address, sig.Sig, vin,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to encode instance: %w", err)
	}

	var newScript []byte
	switch plan.action {
	case SlotActionReplace:
		newScript, err = sigscript.ReplaceInstanceAt(
			script, int(plan.index), fragment,
		)

	default:
		newScript, err = sigscript.AppendInstance(script, fragment)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to %v instance %d: %w",
			plan.action, plan.index, err)
	}

	record := sigscript.Sig{
		Address:    sig.Address,
		Signature:  sig.Sig,
		Algorithm:  sig.Algorithm,
		Vin:        vin,
		TargetVout: s.targetVout,
	}

	// The new script has to yield the written instance at its slot, or the
	// signature would be lost on the next parse.
	embedded := fn.MapOptionZ(
		sigscript.InstanceAt(newScript, int(plan.index)),
		func(i sigscript.Instance) bool {
			return i.Sig(s.targetVout).Equal(record)
		},
	)
	if !embedded {
		return nil, fmt.Errorf("%w: vout %d instance %d",
			ErrInstanceNotEmbedded, s.targetVout, plan.index)
	}

	tx := s.tx.Copy()
	tx.TxOut[s.targetVout].PkScript = newScript

	s.tx = tx
	s.sigmaInstance = plan.index
	if err := s.Refresh(); err != nil {
		return nil, err
	}

	log.Infof("Signed vout %d instance %d of tx %v: %v", s.targetVout,
		plan.index, tx.TxHash(), record)

	return &SignResult{
		Fragment: fragment,
		Tx:       tx,
		Sig:      record,
	}, nil
}
