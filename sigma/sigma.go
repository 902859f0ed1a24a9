// Package sigma signs transaction outputs by embedding signature instances
// into their locking scripts.
//
// Each signature commits to the outpoint of a reference input and to the
// script bytes in front of the instance:
//
//	inputHash   = SHA256(txid || LE32(index))
//	dataHash    = SHA256(script content preceding the instance)
//	messageHash = SHA256(inputHash || dataHash)
//
// A Sigma context wraps a transaction together with the output, the instance
// slot and the reference input it works on. It is not safe for concurrent
// use, and two contexts must not sign the same transaction concurrently.
package sigma

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/lnutils"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/sigmaproto/sigma/sigscript"
)

// SelfRefVin makes a context bind its signatures to the input with the same
// index as the target output.
const SelfRefVin int32 = -1

// Sigma is a signing context.
type Sigma struct {
	cfg Config

	tx            *wire.MsgTx
	targetVout    uint32
	refVin        int32
	sigmaInstance uint32

	inputHash fn.Option[chainhash.Hash]
	dataHash  fn.Option[chainhash.Hash]
	sig       fn.Option[sigscript.Sig]
}

// New creates a signing context for instance sigmaInstance of output
// targetVout of tx, binding signatures to input refVin. A nil tx yields a
// context whose hash getters fail with ErrNoTransaction.
func New(tx *wire.MsgTx, targetVout, sigmaInstance uint32, refVin int32,
	opts ...Option) (*Sigma, error) {

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = signmsg.DefaultRegistry(cfg.ChainParams)
	}
	if cfg.SlotPolicy == nil {
		cfg.SlotPolicy = OccupiedSlotPolicy
	}

	if refVin < SelfRefVin {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRefVin, refVin)
	}

	s := &Sigma{
		cfg:           cfg,
		tx:            tx,
		targetVout:    targetVout,
		refVin:        refVin,
		sigmaInstance: sigmaInstance,
	}

	if tx == nil {
		return s, nil
	}

	if err := s.Refresh(); err != nil {
		return nil, err
	}

	return s, nil
}

// Transaction returns the transaction of the context. After a sign this is
// the newly created transaction carrying the signature.
func (s *Sigma) Transaction() *wire.MsgTx {
	return s.tx
}

// TargetVout returns the index of the output the context works on.
func (s *Sigma) TargetVout() uint32 {
	return s.targetVout
}

// SigmaInstance returns the selected instance slot.
func (s *Sigma) SigmaInstance() uint32 {
	return s.sigmaInstance
}

// RefVin returns the reference input, SelfRefVin included.
func (s *Sigma) RefVin() int32 {
	return s.refVin
}

// Sig returns the signature record at the selected slot, if any.
func (s *Sigma) Sig() fn.Option[sigscript.Sig] {
	return s.sig
}

// SetTargetVout selects another output and recomputes the cached hashes.
func (s *Sigma) SetTargetVout(targetVout uint32) error {
	return s.update(func() {
		s.targetVout = targetVout
	})
}

// SetSigmaInstance selects another instance slot and recomputes the cached
// hashes.
func (s *Sigma) SetSigmaInstance(sigmaInstance uint32) error {
	return s.update(func() {
		s.sigmaInstance = sigmaInstance
	})
}

// SetRefVin selects another reference input and recomputes the cached
// hashes.
func (s *Sigma) SetRefVin(refVin int32) error {
	if refVin < SelfRefVin {
		return fmt.Errorf("%w: %d", ErrInvalidRefVin, refVin)
	}

	return s.update(func() {
		s.refVin = refVin
	})
}

// update applies a selection change and refreshes the context. If the new
// selection is invalid, the previous one is restored.
func (s *Sigma) update(change func()) error {
	prevVout, prevInstance, prevRefVin := s.targetVout, s.sigmaInstance,
		s.refVin

	change()

	err := s.Refresh()
	if err == nil {
		return nil
	}

	s.targetVout, s.sigmaInstance, s.refVin = prevVout, prevInstance,
		prevRefVin
	if s.tx != nil {
		if rerr := s.Refresh(); rerr != nil {
			log.Errorf("Unable to restore context: %v", rerr)
		}
	}

	return err
}

// Refresh recomputes the cached hashes and the selected record from the
// current transaction. Mutations of the transaction made by the caller are
// not picked up until Refresh is called.
func (s *Sigma) Refresh() error {
	s.inputHash = fn.None[chainhash.Hash]()
	s.dataHash = fn.None[chainhash.Hash]()
	s.sig = fn.None[sigscript.Sig]()

	script, err := s.targetScript()
	if err != nil {
		return err
	}

	s.inputHash = fn.Some(inputHash(s.tx, s.vin()))
	s.dataHash = fn.Some(dataHash(script, s.sigmaInstance))

	inst := sigscript.InstanceAt(script, int(s.sigmaInstance))
	s.sig = fn.MapOption(func(i sigscript.Instance) sigscript.Sig {
		return i.Sig(s.targetVout)
	})(inst)

	log.Tracef("Refreshed context: vout=%d, instance=%d, vin=%d, sig=%v",
		s.targetVout, s.sigmaInstance, s.vin(),
		lnutils.SpewLogClosure(s.sig))

	return nil
}

// vin resolves the reference input index.
func (s *Sigma) vin() uint32 {
	if s.refVin == SelfRefVin {
		return s.targetVout
	}

	return uint32(s.refVin)
}

// targetScript returns the locking script of the target output.
func (s *Sigma) targetScript() ([]byte, error) {
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	if int(s.targetVout) >= len(s.tx.TxOut) {
		return nil, fmt.Errorf("%w: vout %d of %d outputs",
			ErrTargetOutOfRange, s.targetVout, len(s.tx.TxOut))
	}

	return s.tx.TxOut[s.targetVout].PkScript, nil
}

// Sigs returns the records of all instances on the target output.
func (s *Sigma) Sigs() ([]sigscript.Sig, error) {
	script, err := s.targetScript()
	if err != nil {
		return nil, err
	}

	return sigscript.Sigs(script, s.targetVout), nil
}

// SigInstanceCount returns the number of instances on the target output.
func (s *Sigma) SigInstanceCount() (int, error) {
	script, err := s.targetScript()
	if err != nil {
		return 0, err
	}

	return sigscript.CountInstances(script), nil
}

// SigInstancePosition returns the token offset of the selected instance
// within the target output's script, or -1 if the slot is empty.
func (s *Sigma) SigInstancePosition() (int, error) {
	script, err := s.targetScript()
	if err != nil {
		return 0, err
	}

	return sigscript.FindInstancePosition(
		script, int(s.sigmaInstance),
	), nil
}
